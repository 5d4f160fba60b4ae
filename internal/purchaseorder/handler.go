package purchaseorder

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sourcing/internal/rbac"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// Handler exposes purchase order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("purchase_order.view", "purchase_order.edit"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("purchase_order.edit"))
		r.Post("/", h.create)
		r.Post("/{id}/advance", h.advance)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	contractID, _ := httpx.QueryID(r, "contract_id")
	quotationID, _ := httpx.QueryID(r, "quotation_id")
	filters := ListFilters{
		Status:      Status(r.URL.Query().Get("status")),
		ContractID:  contractID,
		QuotationID: quotationID,
		Limit:       httpx.QueryInt(r, "limit"),
		Offset:      httpx.QueryInt(r, "offset"),
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
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, replayed, err := h.service.CreateOnce(r.Context(), r.Header.Get(shared.IdempotencyHeader), shared.ActorFromContext(r.Context()), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if replayed {
		httpx.JSON(w, http.StatusOK, po)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

type advanceRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req advanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, err := h.service.Advance(r.Context(), id, req.Status, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}
