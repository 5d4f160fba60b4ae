package quotation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sourcing/internal/rbac"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// Handler exposes quotation endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("quotation.view", "quotation.edit", "quotation.award"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/best", h.best)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("quotation.edit"))
		r.Post("/", h.open)
		r.Post("/{id}/responses", h.addResponse)
		r.Put("/{id}/responses/{responseID}", h.recordResponse)
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	requisitionID, _ := httpx.QueryID(r, "requisition_id")
	filters := ListFilters{
		Status:        Status(r.URL.Query().Get("status")),
		RequisitionID: requisitionID,
		Limit:         httpx.QueryInt(r, "limit"),
		Offset:        httpx.QueryInt(r, "offset"),
	}
	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) best(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	resp, ok, err := h.service.BestResponse(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if !ok {
		httpx.JSON(w, http.StatusOK, map[string]any{"best": nil})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"best": resp, "total": resp.Total().StringFixed(2)})
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var input OpenInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q, err := h.service.Open(r.Context(), shared.ActorFromContext(r.Context()), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) addResponse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var supplier Supplier
	if err := httpx.DecodeJSON(r, &supplier); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	resp, replayed, err := h.service.AddSupplierResponseOnce(r.Context(), id, r.Header.Get(shared.IdempotencyHeader), shared.ActorFromContext(r.Context()), supplier)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if replayed {
		httpx.JSON(w, http.StatusOK, resp)
		return
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) recordResponse(w http.ResponseWriter, r *http.Request) {
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
	var payload ResponsePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	resp, err := h.service.RecordResponse(r.Context(), id, responseID, shared.ActorFromContext(r.Context()), payload)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}
