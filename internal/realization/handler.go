package realization

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sourcing/internal/rbac"
)

// Handler exposes contract realization endpoints.
type Handler struct {
	logger     *slog.Logger
	calculator *Calculator
	rbac       rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, calculator *Calculator, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, calculator: calculator, rbac: rbac}
}

// MountRoutes registers routes under /contracts.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny("contract.view")).Get("/{id}/realization", h.realization)
	r.With(h.rbac.RequireAll("invoice.notify")).Post("/{id}/invoices/changed", h.invoicesChanged)
}

func (h *Handler) realization(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	snap, err := h.calculator.Realization(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) invoicesChanged(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.calculator.Invalidate(r.Context(), id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
