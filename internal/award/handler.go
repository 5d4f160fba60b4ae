package award

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sourcing/internal/rbac"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// Handler exposes the award endpoint under /quotations.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers the select route on the quotations router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAll("quotation.award")).Post("/{id}/responses/{responseID}/select", h.selectResponse)
}

func (h *Handler) selectResponse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	responseID, err := httpx.IDParam(r, "responseID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	res, err := h.service.SelectResponse(r.Context(), id, responseID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
