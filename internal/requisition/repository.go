package requisition

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// PgRepository persists requisitions in Postgres. Statements run on the
// transaction carried by ctx when there is one.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const requisitionColumns = `id, number, status, requester_id, cost_center, contract_id, requested_at, needed_by,
priority, justification, notes, created_by, approved_by, decided_at, rejection_reason, created_at, updated_at`

// Create inserts header and items; the number derives from the reserved id.
func (r *PgRepository) Create(ctx context.Context, req Requisition) (Requisition, error) {
	q := db.Conn(ctx, r.pool)
	if err := q.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('requisitions', 'id'))`).Scan(&req.ID); err != nil {
		return Requisition{}, err
	}
	req.Number = FormatNumber(req.ID)
	_, err := q.Exec(ctx, `INSERT INTO requisitions (id, number, status, requester_id, cost_center, contract_id, requested_at,
needed_by, priority, justification, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		req.ID, req.Number, string(req.Status), req.RequesterID, req.CostCenter, req.ContractID, req.RequestedAt,
		req.NeededBy, string(req.Priority), req.Justification, req.Notes, req.CreatedBy, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return Requisition{}, err
	}
	if err := insertItems(ctx, q, req.ID, req.Items); err != nil {
		return Requisition{}, err
	}
	return req, nil
}

// Get loads a requisition with its items.
func (r *PgRepository) Get(ctx context.Context, id int64) (Requisition, error) {
	q := db.Conn(ctx, r.pool)
	req, err := scanRequisition(q.QueryRow(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
		}
		return Requisition{}, err
	}
	rows, err := q.Query(ctx, `SELECT line_no, description, specification, quantity, unit, needed_by, cost_center, notes
FROM requisition_items WHERE requisition_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Requisition{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.LineNo, &item.Description, &item.Specification, &item.Quantity, &item.Unit,
			&item.NeededBy, &item.CostCenter, &item.Notes); err != nil {
			return Requisition{}, err
		}
		req.Items = append(req.Items, item)
	}
	return req, rows.Err()
}

// List returns headers only, newest first.
func (r *PgRepository) List(ctx context.Context, filters ListFilters) ([]Requisition, int, error) {
	q := db.Conn(ctx, r.pool)
	where := `WHERE ($1 = '' OR status = $1) AND ($2 = '' OR requester_id = $2)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM requisitions `+where, string(filters.Status), filters.RequesterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+requisitionColumns+` FROM requisitions `+where+` ORDER BY id DESC LIMIT $3 OFFSET $4`,
		string(filters.Status), filters.RequesterID, filters.Limit, filters.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Requisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

// Save updates the header, and the items when replaceItems is set, provided
// the stored status still equals expected.
func (r *PgRepository) Save(ctx context.Context, req Requisition, expected Status, replaceItems bool) error {
	q := db.Conn(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE requisitions SET status=$2, requester_id=$3, cost_center=$4, contract_id=$5, requested_at=$6,
needed_by=$7, priority=$8, justification=$9, notes=$10, approved_by=$11, decided_at=$12, rejection_reason=$13, updated_at=$14
WHERE id=$1 AND status=$15`,
		req.ID, string(req.Status), req.RequesterID, req.CostCenter, req.ContractID, req.RequestedAt,
		req.NeededBy, string(req.Priority), req.Justification, req.Notes, req.ApprovedBy, req.DecidedAt,
		req.RejectionReason, req.UpdatedAt, string(expected))
	if err != nil {
		return mapWriteError(req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, q, req.ID)
	}
	if !replaceItems {
		return nil
	}
	if _, err := q.Exec(ctx, `DELETE FROM requisition_items WHERE requisition_id=$1`, req.ID); err != nil {
		return err
	}
	return insertItems(ctx, q, req.ID, req.Items)
}

// Delete removes a requisition whose status still equals expected.
func (r *PgRepository) Delete(ctx context.Context, id int64, expected Status) error {
	q := db.Conn(ctx, r.pool)
	tag, err := q.Exec(ctx, `DELETE FROM requisitions WHERE id=$1 AND status=$2`, id, string(expected))
	if err != nil {
		return mapWriteError(id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, q, id)
	}
	return nil
}

func (r *PgRepository) missOrConflict(ctx context.Context, q db.Querier, id int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requisitions WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	return fmt.Errorf("requisition %d changed concurrently: %w", id, shared.ErrInvalidTransition)
}

// mapWriteError reports a lost compare-and-set race as an invalid transition.
func mapWriteError(id int64, err error) error {
	if db.HasCode(err, db.CodeSerializationFailure) {
		return fmt.Errorf("requisition %d changed concurrently: %w", id, shared.ErrInvalidTransition)
	}
	return err
}

func insertItems(ctx context.Context, q db.Querier, id int64, items []Item) error {
	for _, item := range items {
		if _, err := q.Exec(ctx, `INSERT INTO requisition_items (requisition_id, line_no, description, specification, quantity,
unit, needed_by, cost_center, notes) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			id, item.LineNo, item.Description, item.Specification, item.Quantity, item.Unit, item.NeededBy,
			item.CostCenter, item.Notes); err != nil {
			return err
		}
	}
	return nil
}

func scanRequisition(row pgx.Row) (Requisition, error) {
	var (
		req      Requisition
		status   string
		priority string
	)
	err := row.Scan(&req.ID, &req.Number, &status, &req.RequesterID, &req.CostCenter, &req.ContractID, &req.RequestedAt,
		&req.NeededBy, &priority, &req.Justification, &req.Notes, &req.CreatedBy, &req.ApprovedBy, &req.DecidedAt,
		&req.RejectionReason, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Requisition{}, err
	}
	req.Status = Status(status)
	req.Priority = Priority(priority)
	return req, nil
}
