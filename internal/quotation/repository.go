package quotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// PgRepository persists quotations in Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const quotationColumns = `id, number, requisition_id, contract_id, status, opened_at, response_deadline, finalized_at,
notes, created_by, created_at, updated_at`

const responseColumns = `id, quotation_id, supplier_name, supplier_tax_id, supplier_contact, responded, delivery_lead_days,
payment_terms, validity_days, status, notes, responded_at, selected_by, selected_at`

// Create inserts the header and the item snapshot.
func (r *PgRepository) Create(ctx context.Context, q Quotation) (Quotation, error) {
	conn := db.Conn(ctx, r.pool)
	if err := conn.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('quotations', 'id'))`).Scan(&q.ID); err != nil {
		return Quotation{}, err
	}
	q.Number = FormatNumber(q.ID)
	_, err := conn.Exec(ctx, `INSERT INTO quotations (id, number, requisition_id, contract_id, status, opened_at,
response_deadline, notes, created_by, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		q.ID, q.Number, q.RequisitionID, q.ContractID, string(q.Status), q.OpenedAt, q.ResponseDeadline, q.Notes,
		q.CreatedBy, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			return Quotation{}, fmt.Errorf("requisition %d already has a live quotation: %w", q.RequisitionID, shared.ErrInvalidTransition)
		}
		return Quotation{}, err
	}
	for _, item := range q.Items {
		if _, err := conn.Exec(ctx, `INSERT INTO quotation_items (quotation_id, line_no, description, specification, quantity,
unit, needed_by, cost_center, notes) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			q.ID, item.LineNo, item.Description, item.Specification, item.Quantity, item.Unit, item.NeededBy,
			item.CostCenter, item.Notes); err != nil {
			return Quotation{}, err
		}
	}
	q.Responses = nil
	return q, nil
}

// Get loads a quotation with snapshot, responses and their lines.
func (r *PgRepository) Get(ctx context.Context, id int64) (Quotation, error) {
	conn := db.Conn(ctx, r.pool)
	q, err := scanQuotation(conn.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quotation{}, fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
		}
		return Quotation{}, err
	}
	if q.Items, err = r.items(ctx, conn, id); err != nil {
		return Quotation{}, err
	}
	if q.Responses, err = r.responses(ctx, conn, id); err != nil {
		return Quotation{}, err
	}
	return q, nil
}

func (r *PgRepository) items(ctx context.Context, conn db.Querier, id int64) ([]Item, error) {
	rows, err := conn.Query(ctx, `SELECT line_no, description, specification, quantity, unit, needed_by, cost_center, notes
FROM quotation_items WHERE quotation_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.LineNo, &it.Description, &it.Specification, &it.Quantity, &it.Unit, &it.NeededBy,
			&it.CostCenter, &it.Notes); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PgRepository) responses(ctx context.Context, conn db.Querier, quotationID int64) ([]SupplierResponse, error) {
	rows, err := conn.Query(ctx, `SELECT `+responseColumns+` FROM supplier_responses WHERE quotation_id=$1 ORDER BY id`, quotationID)
	if err != nil {
		return nil, err
	}
	var out []SupplierResponse
	index := map[int64]int{}
	for rows.Next() {
		var (
			resp   SupplierResponse
			status string
		)
		if err := rows.Scan(&resp.ID, &resp.QuotationID, &resp.Supplier.Name, &resp.Supplier.TaxID, &resp.Supplier.Contact,
			&resp.Responded, &resp.DeliveryLeadDays, &resp.PaymentTerms, &resp.ValidityDays, &status, &resp.Notes,
			&resp.RespondedAt, &resp.SelectedBy, &resp.SelectedAt); err != nil {
			rows.Close()
			return nil, err
		}
		resp.Status = ResponseStatus(status)
		index[resp.ID] = len(out)
		out = append(out, resp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := conn.Query(ctx, `SELECT l.response_id, l.line_no, l.quantity, l.unit_price, l.line_total, l.brand, l.notes
FROM supplier_response_lines l JOIN supplier_responses r ON r.id = l.response_id
WHERE r.quotation_id=$1 ORDER BY l.response_id, l.line_no`, quotationID)
	if err != nil {
		return nil, err
	}
	defer lines.Close()
	for lines.Next() {
		var (
			responseID int64
			line       ResponseLine
		)
		if err := lines.Scan(&responseID, &line.LineNo, &line.Quantity, &line.UnitPrice, &line.LineTotal, &line.Brand, &line.Notes); err != nil {
			return nil, err
		}
		if i, ok := index[responseID]; ok {
			out[i].Lines = append(out[i].Lines, line)
		}
	}
	return out, lines.Err()
}

// List returns headers only, newest first.
func (r *PgRepository) List(ctx context.Context, filters ListFilters) ([]Quotation, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := `WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR requisition_id = $2)`
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM quotations `+where, string(filters.Status), filters.RequisitionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+quotationColumns+` FROM quotations `+where+` ORDER BY id DESC LIMIT $3 OFFSET $4`,
		string(filters.Status), filters.RequisitionID, filters.Limit, filters.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, q)
	}
	return out, total, rows.Err()
}

// SaveHeader updates status and finalization date guarded by expected.
func (r *PgRepository) SaveHeader(ctx context.Context, q Quotation, expected Status) error {
	conn := db.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `UPDATE quotations SET status=$2, finalized_at=$3, updated_at=$4 WHERE id=$1 AND status=$5`,
		q.ID, string(q.Status), q.FinalizedAt, q.UpdatedAt, string(expected))
	if err != nil {
		return conflict("quotation", q.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, conn, "quotations", "quotation", q.ID)
	}
	return nil
}

// AddResponse inserts an empty response row.
func (r *PgRepository) AddResponse(ctx context.Context, resp SupplierResponse) (SupplierResponse, error) {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `INSERT INTO supplier_responses (quotation_id, supplier_name, supplier_tax_id, supplier_contact,
responded, status) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		resp.QuotationID, resp.Supplier.Name, resp.Supplier.TaxID, resp.Supplier.Contact, resp.Responded, string(resp.Status)).Scan(&resp.ID)
	if err != nil {
		return SupplierResponse{}, err
	}
	return resp, nil
}

// SaveResponse rewrites a response and its lines guarded by expected.
func (r *PgRepository) SaveResponse(ctx context.Context, resp SupplierResponse, expected ResponseStatus) error {
	conn := db.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `UPDATE supplier_responses SET responded=$2, delivery_lead_days=$3, payment_terms=$4,
validity_days=$5, status=$6, notes=$7, responded_at=$8, selected_by=$9, selected_at=$10 WHERE id=$1 AND status=$11`,
		resp.ID, resp.Responded, resp.DeliveryLeadDays, resp.PaymentTerms, resp.ValidityDays, string(resp.Status), resp.Notes,
		resp.RespondedAt, resp.SelectedBy, resp.SelectedAt, string(expected))
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			return fmt.Errorf("quotation %d already has a selected response: %w", resp.QuotationID, shared.ErrInvalidTransition)
		}
		return conflict("response", resp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, conn, "supplier_responses", "response", resp.ID)
	}
	if _, err := conn.Exec(ctx, `DELETE FROM supplier_response_lines WHERE response_id=$1`, resp.ID); err != nil {
		return err
	}
	for _, line := range resp.Lines {
		if _, err := conn.Exec(ctx, `INSERT INTO supplier_response_lines (response_id, line_no, quantity, unit_price, line_total,
brand, notes) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			resp.ID, line.LineNo, line.Quantity, line.UnitPrice, line.LineTotal, line.Brand, line.Notes); err != nil {
			return err
		}
	}
	return nil
}

func missOrConflict(ctx context.Context, conn db.Querier, table, entity string, id int64) error {
	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %d: %w", entity, id, shared.ErrNotFound)
	}
	return fmt.Errorf("%s %d changed concurrently: %w", entity, id, shared.ErrInvalidTransition)
}

// conflict reports a lost serialization race as an invalid transition.
func conflict(entity string, id int64, err error) error {
	if db.HasCode(err, db.CodeSerializationFailure) {
		return fmt.Errorf("%s %d changed concurrently: %w", entity, id, shared.ErrInvalidTransition)
	}
	return err
}

func scanQuotation(row pgx.Row) (Quotation, error) {
	var (
		q      Quotation
		status string
	)
	if err := row.Scan(&q.ID, &q.Number, &q.RequisitionID, &q.ContractID, &status, &q.OpenedAt, &q.ResponseDeadline,
		&q.FinalizedAt, &q.Notes, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return Quotation{}, err
	}
	q.Status = Status(status)
	return q, nil
}
