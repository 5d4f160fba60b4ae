package purchaseorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

const numberConstraint = "purchase_orders_number_key"

// PgRepository persists purchase orders in Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const orderColumns = `id, number, quotation_id, response_id, description, supplier_name, supplier_tax_id, supplier_contact,
contract_id, total_value, status, issue_date, created_by, created_at, updated_at`

// NextSequence increments the counter on its own connection so concurrent
// orders never serialize on the sequence row inside their transactions.
func (r *PgRepository) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `INSERT INTO order_number_sequences (prefix, year, last_value) VALUES ($1, $2, 1)
ON CONFLICT (prefix, year) DO UPDATE SET last_value = order_number_sequences.last_value + 1
RETURNING last_value`, prefix, year).Scan(&seq)
	return seq, err
}

// Create inserts po inside a savepoint so a number collision can be retried.
func (r *PgRepository) Create(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := db.Savepoint(ctx, r.pool, func(q db.Querier) error {
		return q.QueryRow(ctx, `INSERT INTO purchase_orders (number, quotation_id, response_id, description, supplier_name,
supplier_tax_id, supplier_contact, contract_id, total_value, status, issue_date, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
			po.Number, po.QuotationID, po.ResponseID, po.Description, po.Supplier.Name, po.Supplier.TaxID, po.Supplier.Contact,
			po.ContractID, po.TotalValue, string(po.Status), po.IssueDate, po.CreatedBy, po.CreatedAt, po.UpdatedAt).Scan(&po.ID)
	})
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			if db.Constraint(err) == numberConstraint {
				return PurchaseOrder{}, fmt.Errorf("%s: %w", po.Number, ErrDuplicateNumber)
			}
			return PurchaseOrder{}, fmt.Errorf("quotation already has an order: %w", shared.ErrInvalidTransition)
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

// Get returns one order.
func (r *PgRepository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("purchase order %d: %w", id, shared.ErrNotFound)
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

// List filters orders, newest first.
func (r *PgRepository) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	q := db.Conn(ctx, r.pool)
	where := `WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR contract_id = $2) AND ($3 = 0 OR quotation_id = $3)`
	args := []any{string(filters.Status), filters.ContractID, filters.QuotationID}
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM purchase_orders `+where+` ORDER BY id DESC LIMIT $4 OFFSET $5`,
		append(args, filters.Limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

// SaveStatus updates status guarded by expected.
func (r *PgRepository) SaveStatus(ctx context.Context, po PurchaseOrder, expected Status) error {
	q := db.Conn(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4`,
		po.ID, string(po.Status), po.UpdatedAt, string(expected))
	if err != nil {
		if db.HasCode(err, db.CodeSerializationFailure) {
			return fmt.Errorf("purchase order %d changed concurrently: %w", po.ID, shared.ErrInvalidTransition)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase order %d changed concurrently: %w", po.ID, shared.ErrInvalidTransition)
	}
	return nil
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		po     PurchaseOrder
		status string
	)
	if err := row.Scan(&po.ID, &po.Number, &po.QuotationID, &po.ResponseID, &po.Description, &po.Supplier.Name,
		&po.Supplier.TaxID, &po.Supplier.Contact, &po.ContractID, &po.TotalValue, &status, &po.IssueDate, &po.CreatedBy,
		&po.CreatedAt, &po.UpdatedAt); err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = Status(status)
	return po, nil
}
