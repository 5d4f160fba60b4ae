package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-sourcing/internal/award"
	"github.com/odyssey-erp/odyssey-sourcing/internal/observability"
	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/purchaseorder"
	"github.com/odyssey-erp/odyssey-sourcing/internal/quotation"
	"github.com/odyssey-erp/odyssey-sourcing/internal/rbac"
	"github.com/odyssey-erp/odyssey-sourcing/internal/realization"
	"github.com/odyssey-erp/odyssey-sourcing/internal/requisition"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// Services is the wired domain layer.
type Services struct {
	Requisitions *requisition.Service
	Quotations   *quotation.Service
	Orders       *purchaseorder.Service
	Awards       *award.Service
	Realization  *realization.Calculator
	Permissions  rbac.PermissionSource
	Idempotency  IdempotencyCleaner
	// Contracts is the in-process invoice collaborator; nil with Postgres.
	Contracts    *realization.MemorySource
}

// IdempotencyCleaner prunes retry keys past their retention.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Backends carries the external connections a storage driver needs.
type Backends struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// NewServices wires every component on the configured storage driver.
func NewServices(cfg *Config, logger *slog.Logger, metrics *observability.Sourcing, backends Backends) (*Services, error) {
	var (
		tx           db.Transactor
		requisitions requisition.Repository
		quotations   quotation.Repository
		orders       purchaseorder.Repository
		approvals    requisition.ApprovalPort
		audit        requisition.AuditPort
		idem         shared.Idempotency
		contracts    realization.ContractSource
		invoices     realization.InvoiceSource
		out          Services
	)
	switch cfg.StorageDriver {
	case StorageMemory:
		mem := db.NewMemoryTransactor()
		tx = mem
		requisitions = requisition.NewMemoryRepository(mem)
		quotations = quotation.NewMemoryRepository(mem)
		orders = purchaseorder.NewMemoryRepository(mem)
		approvals = shared.NewMemoryApprovals()
		audit = shared.NewMemoryAuditLog()
		memIdem := shared.NewMemoryIdempotency(mem)
		idem, out.Idempotency = memIdem, memIdem
		source := realization.NewMemorySource()
		contracts, invoices, out.Contracts = source, source, source
	case StoragePostgres:
		if backends.Pool == nil {
			return nil, errors.New("app: postgres storage driver requires a pool")
		}
		pool := backends.Pool
		tx = db.NewTransactor(pool)
		requisitions = requisition.NewPgRepository(pool)
		quotations = quotation.NewPgRepository(pool)
		orders = purchaseorder.NewPgRepository(pool)
		approvals = shared.NewApprovalRecorder(pool, logger)
		audit = shared.NewAuditLogger(pool)
		pgIdem := shared.NewIdempotencyStore(pool)
		idem, out.Idempotency = pgIdem, pgIdem
		source := realization.NewPgSource(pool)
		contracts, invoices = source, source
	default:
		return nil, errors.New("app: unknown storage driver " + cfg.StorageDriver)
	}

	permissions, err := permissionSource(cfg, logger, backends.Pool)
	if err != nil {
		return nil, err
	}

	out.Requisitions = requisition.NewService(requisitions, tx, approvals, audit, metrics)
	out.Quotations = quotation.NewService(quotations, out.Requisitions, tx, audit, metrics).WithIdempotency(idem)
	out.Orders = purchaseorder.NewService(orders, tx, audit, metrics, cfg.PONumberPrefix).WithIdempotency(idem)
	out.Awards = award.NewService(tx, out.Quotations, out.Orders, out.Requisitions, approvals, audit, metrics)
	out.Realization = realization.NewCalculator(contracts, invoices, realization.NewCache(backends.Redis, cfg.RealizationCacheTTL), metrics, logger)
	out.Permissions = permissions
	return &out, nil
}

func permissionSource(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool) (rbac.PermissionSource, error) {
	if strings.TrimSpace(cfg.AuthzStaticGrants) != "" {
		return rbac.ParseGrants(cfg.AuthzStaticGrants)
	}
	if pool != nil {
		return rbac.NewService(pool), nil
	}
	logger.Warn("no AUTHZ_STATIC_GRANTS and no database; every protected route will answer 403")
	return rbac.StaticGrants{}, nil
}

// Handlers builds the HTTP handlers for services.
func Handlers(logger *slog.Logger, services *Services) RouterParams {
	mw := rbac.Middleware{Service: services.Permissions, Logger: logger}
	return RouterParams{
		Logger:               logger,
		RequisitionHandler:   requisition.NewHandler(logger, services.Requisitions, mw),
		QuotationHandler:     quotation.NewHandler(logger, services.Quotations, mw),
		AwardHandler:         award.NewHandler(logger, services.Awards, mw),
		PurchaseOrderHandler: purchaseorder.NewHandler(logger, services.Orders, mw),
		RealizationHandler:   realization.NewHandler(logger, services.Realization, mw),
	}
}
