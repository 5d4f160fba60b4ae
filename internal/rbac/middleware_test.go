package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, actor string) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor != "" {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddlewareChecksGrants(t *testing.T) {
	grants, err := ParseGrants("alice:requisition.view, requisition.edit; bob:quotation.view; root:*")
	require.NoError(t, err)
	m := Middleware{Service: grants}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll("requisition.view", "requisition.edit"), "alice"))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll("requisition.approve"), "alice"))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny("requisition.approve", "REQUISITION.VIEW"), "alice"))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny("requisition.view"), "bob"))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll("quotation.award", "contract.view"), "root"))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny("requisition.view"), ""))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(), ""))
}

func TestParseGrantsRejectsMalformed(t *testing.T) {
	_, err := ParseGrants("alice")
	require.Error(t, err)

	grants, err := ParseGrants("")
	require.NoError(t, err)
	require.Empty(t, grants)
}
