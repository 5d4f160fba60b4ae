package realization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// ContractSource reads contracts owned by the invoice collaborator.
type ContractSource interface {
	Contract(ctx context.Context, id int64) (Contract, error)
	ActiveContracts(ctx context.Context) ([]int64, error)
}

// InvoiceSource lists the invoices billed against a contract.
type InvoiceSource interface {
	InvoicesForContract(ctx context.Context, contractID int64) ([]Invoice, error)
}

// PgSource reads contracts and invoices from the collaborator's tables.
type PgSource struct {
	pool *pgxpool.Pool
}

// NewPgSource constructs PgSource.
func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

// Contract loads a contract with its budget lines.
func (s *PgSource) Contract(ctx context.Context, id int64) (Contract, error) {
	var c Contract
	err := s.pool.QueryRow(ctx, `SELECT id, name, client, budgeted_value, start_date, end_date, status
FROM contracts WHERE id=$1`, id).Scan(&c.ID, &c.Name, &c.Client, &c.BudgetedValue, &c.StartDate, &c.EndDate, &c.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, fmt.Errorf("contract %d: %w", id, shared.ErrNotFound)
		}
		return Contract{}, err
	}
	rows, err := s.pool.Query(ctx, `SELECT line_no, description, amount FROM contract_budget_lines
WHERE contract_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Contract{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line BudgetLine
		if err := rows.Scan(&line.LineNo, &line.Description, &line.Amount); err != nil {
			return Contract{}, err
		}
		c.BudgetLines = append(c.BudgetLines, line)
	}
	return c, rows.Err()
}

// ActiveContracts lists contracts still being billed.
func (s *PgSource) ActiveContracts(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM contracts WHERE status='active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// InvoicesForContract lists every invoice of the contract regardless of status.
func (s *PgSource) InvoicesForContract(ctx context.Context, contractID int64) ([]Invoice, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, contract_id, number, amount, issue_date, supplier, status
FROM contract_invoices WHERE contract_id=$1 ORDER BY issue_date, id`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		var (
			inv    Invoice
			status string
		)
		if err := rows.Scan(&inv.ID, &inv.ContractID, &inv.Number, &inv.Amount, &inv.IssueDate, &inv.Supplier, &status); err != nil {
			return nil, err
		}
		inv.Status = InvoiceStatus(status)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MemorySource holds contracts and invoices in process. It stands in for the
// collaborator with the memory storage driver and in tests.
type MemorySource struct {
	mu        sync.RWMutex
	contracts map[int64]Contract
	invoices  map[int64][]Invoice
	nextID    int64
}

// NewMemorySource constructs an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{contracts: make(map[int64]Contract), invoices: make(map[int64][]Invoice)}
}

// PutContract inserts or replaces a contract.
func (s *MemorySource) PutContract(c Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = "active"
	}
	s.contracts[c.ID] = c
}

// AddInvoice appends an invoice and returns it with its id.
func (s *MemorySource) AddInvoice(inv Invoice) Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	inv.ID = s.nextID
	s.invoices[inv.ContractID] = append(s.invoices[inv.ContractID], inv)
	return inv
}

// SetInvoiceStatus changes the status of an invoice.
func (s *MemorySource) SetInvoiceStatus(contractID, invoiceID int64, status InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, inv := range s.invoices[contractID] {
		if inv.ID == invoiceID {
			s.invoices[contractID][i].Status = status
			return nil
		}
	}
	return fmt.Errorf("invoice %d: %w", invoiceID, shared.ErrNotFound)
}

// Contract implements ContractSource.
func (s *MemorySource) Contract(_ context.Context, id int64) (Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return Contract{}, fmt.Errorf("contract %d: %w", id, shared.ErrNotFound)
	}
	c.BudgetLines = append([]BudgetLine(nil), c.BudgetLines...)
	return c, nil
}

// ActiveContracts implements ContractSource.
func (s *MemorySource) ActiveContracts(context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for id, c := range s.contracts {
		if c.Status == "active" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// InvoicesForContract implements InvoiceSource.
func (s *MemorySource) InvoicesForContract(_ context.Context, contractID int64) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Invoice(nil), s.invoices[contractID]...), nil
}
