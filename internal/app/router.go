package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-sourcing/internal/award"
	"github.com/odyssey-erp/odyssey-sourcing/internal/observability"
	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sourcing/internal/purchaseorder"
	"github.com/odyssey-erp/odyssey-sourcing/internal/quotation"
	"github.com/odyssey-erp/odyssey-sourcing/internal/realization"
	"github.com/odyssey-erp/odyssey-sourcing/internal/requisition"
	"github.com/odyssey-erp/odyssey-sourcing/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	RequisitionHandler   *requisition.Handler
	QuotationHandler     *quotation.Handler
	AwardHandler         *award.Handler
	PurchaseOrderHandler *purchaseorder.Handler
	RealizationHandler   *realization.Handler
	JobHandler           *jobs.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with sourcing defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.RequisitionHandler != nil {
		r.Route("/requisitions", params.RequisitionHandler.MountRoutes)
	}
	if params.QuotationHandler != nil || params.AwardHandler != nil {
		r.Route("/quotations", func(r chi.Router) {
			if params.QuotationHandler != nil {
				params.QuotationHandler.MountRoutes(r)
			}
			if params.AwardHandler != nil {
				params.AwardHandler.MountRoutes(r)
			}
		})
	}
	if params.PurchaseOrderHandler != nil {
		r.Route("/purchase-orders", params.PurchaseOrderHandler.MountRoutes)
	}
	if params.RealizationHandler != nil {
		r.Route("/contracts", params.RealizationHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
