package payables

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
	"github.com/kasira-pos/kasira/internal/platform/db"
)

// Repository defines payables data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	POPaidTotal(ctx context.Context, poID int64) (money.Amount, error)
	ListSchedules(ctx context.Context, poID int64) ([]PaymentSchedule, error)
	GetSchedule(ctx context.Context, id int64) (PaymentSchedule, error)
	ScheduleDebt(ctx context.Context, scheduleID int64) (ledger.Debt, error)

	GetPayment(ctx context.Context, id int64) (POPayment, error)
	ListPayments(ctx context.Context, poID int64) ([]POPayment, error)
	ListPaymentAllocations(ctx context.Context, paymentID int64) ([]POPaymentAllocation, error)
}

// TxRepository defines the operations available inside one payables
// transaction. ForUpdate reads take row locks; the PO row lock serializes
// payments against schedule mutations on the same order.
type TxRepository interface {
	POForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	ScheduleForUpdate(ctx context.Context, id int64) (PaymentSchedule, error)
	ScheduleDebtForUpdate(ctx context.Context, id int64) (ledger.Debt, error)
	SumOtherSchedules(ctx context.Context, poID, excludeID int64) (money.Amount, error)
	CountScheduleAllocations(ctx context.Context, scheduleID int64) (int, error)

	CreateSchedule(ctx context.Context, input ScheduleInput) (int64, error)
	UpdateSchedule(ctx context.Context, sched PaymentSchedule) error
	DeleteSchedule(ctx context.Context, id int64) error

	CreatePayment(ctx context.Context, payment POPayment) (int64, error)
	UpdatePayment(ctx context.Context, payment POPayment) error
	PaymentForUpdate(ctx context.Context, id int64) (POPayment, error)
	ListAllocationsByPayment(ctx context.Context, paymentID int64) ([]POPaymentAllocation, error)
	DeleteAllocationsByPayment(ctx context.Context, paymentID int64) error
	CreateAllocation(ctx context.Context, paymentID int64, line ledger.Line) (int64, error)
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const poQuery = `
SELECT id, number, supplier_id, status, total, created_at
FROM purchase_orders WHERE id = $1`

const scheduleQuery = `
SELECT id, purchase_order_id, due_date, amount, note, display_order, created_at, updated_at
FROM po_payment_schedules WHERE id = $1`

const scheduleDebtQuery = `
SELECT s.id, s.amount,
       (SELECT COALESCE(SUM(pa.amount), 0) FROM po_payment_allocations pa WHERE pa.schedule_id = s.id)
FROM po_payment_schedules s
WHERE s.id = $1`

func (r *pgRepository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.pool.QueryRow(ctx, poQuery, id))
}

func (r *pgRepository) POPaidTotal(ctx context.Context, poID int64) (money.Amount, error) {
	var paid money.Amount
	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM po_payments WHERE purchase_order_id = $1`, poID).Scan(&paid)
	if err != nil {
		return money.Zero(), err
	}
	return paid, nil
}

func (r *pgRepository) ListSchedules(ctx context.Context, poID int64) ([]PaymentSchedule, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, purchase_order_id, due_date, amount, note, display_order, created_at, updated_at
FROM po_payment_schedules WHERE purchase_order_id = $1
ORDER BY display_order, id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (r *pgRepository) GetSchedule(ctx context.Context, id int64) (PaymentSchedule, error) {
	return scanScheduleRow(r.pool.QueryRow(ctx, scheduleQuery, id))
}

func (r *pgRepository) ScheduleDebt(ctx context.Context, scheduleID int64) (ledger.Debt, error) {
	return scanDebt(r.pool.QueryRow(ctx, scheduleDebtQuery, scheduleID))
}

func (r *pgRepository) GetPayment(ctx context.Context, id int64) (POPayment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
SELECT id, number, purchase_order_id, schedule_id, amount, payment_date, method, note, user_id, created_at, updated_at
FROM po_payments WHERE id = $1`, id))
}

func (r *pgRepository) ListPayments(ctx context.Context, poID int64) ([]POPayment, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, number, purchase_order_id, schedule_id, amount, payment_date, method, note, user_id, created_at, updated_at
FROM po_payments WHERE purchase_order_id = $1 ORDER BY payment_date, id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []POPayment
	for rows.Next() {
		var p POPayment
		if err := rows.Scan(&p.ID, &p.Number, &p.PurchaseOrderID, &p.ScheduleID, &p.Amount,
			&p.PaymentDate, &p.Method, &p.Note, &p.UserID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pgRepository) ListPaymentAllocations(ctx context.Context, paymentID int64) ([]POPaymentAllocation, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, payment_id, schedule_id, amount, created_at
FROM po_payment_allocations WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) POForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.tx.QueryRow(ctx, poQuery+` FOR UPDATE`, id))
}

func (r *pgTxRepository) ScheduleForUpdate(ctx context.Context, id int64) (PaymentSchedule, error) {
	return scanScheduleRow(r.tx.QueryRow(ctx, scheduleQuery+` FOR UPDATE`, id))
}

func (r *pgTxRepository) ScheduleDebtForUpdate(ctx context.Context, id int64) (ledger.Debt, error) {
	return scanDebt(r.tx.QueryRow(ctx, scheduleDebtQuery+` FOR UPDATE OF s`, id))
}

func (r *pgTxRepository) SumOtherSchedules(ctx context.Context, poID, excludeID int64) (money.Amount, error) {
	var sum money.Amount
	err := r.tx.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM po_payment_schedules
WHERE purchase_order_id = $1 AND id <> $2`, poID, excludeID).Scan(&sum)
	if err != nil {
		return money.Zero(), err
	}
	return sum, nil
}

func (r *pgTxRepository) CountScheduleAllocations(ctx context.Context, scheduleID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `
SELECT COUNT(*) FROM po_payment_allocations WHERE schedule_id = $1`, scheduleID).Scan(&count)
	return count, err
}

func (r *pgTxRepository) CreateSchedule(ctx context.Context, input ScheduleInput) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO po_payment_schedules (purchase_order_id, due_date, amount, note, display_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
RETURNING id`,
		input.PurchaseOrderID, input.DueDate, input.Amount, input.Note, input.DisplayOrder).Scan(&id)
	if err != nil && db.IsForeignKeyViolation(err) {
		return 0, ErrPONotFound
	}
	return id, err
}

func (r *pgTxRepository) UpdateSchedule(ctx context.Context, sched PaymentSchedule) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE po_payment_schedules
SET due_date = $2, amount = $3, note = $4, display_order = $5, updated_at = now()
WHERE id = $1`,
		sched.ID, sched.DueDate, sched.Amount, sched.Note, sched.DisplayOrder)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *pgTxRepository) DeleteSchedule(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM po_payment_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *pgTxRepository) CreatePayment(ctx context.Context, p POPayment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO po_payments (number, purchase_order_id, schedule_id, amount, payment_date, method, note, user_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING id`,
		p.Number, p.PurchaseOrderID, p.ScheduleID, p.Amount, p.PaymentDate, p.Method, p.Note, p.UserID, time.Now()).Scan(&id)
	if err != nil && db.IsForeignKeyViolation(err) {
		return 0, ErrPONotFound
	}
	return id, err
}

func (r *pgTxRepository) UpdatePayment(ctx context.Context, p POPayment) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE po_payments
SET schedule_id = $2, amount = $3, payment_date = $4, method = $5, note = $6, updated_at = now()
WHERE id = $1`,
		p.ID, p.ScheduleID, p.Amount, p.PaymentDate, p.Method, p.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *pgTxRepository) PaymentForUpdate(ctx context.Context, id int64) (POPayment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `
SELECT id, number, purchase_order_id, schedule_id, amount, payment_date, method, note, user_id, created_at, updated_at
FROM po_payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) ListAllocationsByPayment(ctx context.Context, paymentID int64) ([]POPaymentAllocation, error) {
	rows, err := r.tx.Query(ctx, `
SELECT id, payment_id, schedule_id, amount, created_at
FROM po_payment_allocations WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (r *pgTxRepository) DeleteAllocationsByPayment(ctx context.Context, paymentID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM po_payment_allocations WHERE payment_id = $1`, paymentID)
	return err
}

func (r *pgTxRepository) CreateAllocation(ctx context.Context, paymentID int64, line ledger.Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO po_payment_allocations (payment_id, schedule_id, amount, created_at)
VALUES ($1, $2, $3, now())
RETURNING id`, paymentID, line.DebtID, line.Amount).Scan(&id)
	if err != nil && db.IsForeignKeyViolation(err) {
		return 0, ErrScheduleNotFound
	}
	return id, err
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.Total, &po.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPONotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func scanSchedule(rows pgx.Rows) (PaymentSchedule, error) {
	var s PaymentSchedule
	err := rows.Scan(&s.ID, &s.PurchaseOrderID, &s.DueDate, &s.Amount, &s.Note,
		&s.DisplayOrder, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanScheduleRow(row pgx.Row) (PaymentSchedule, error) {
	var s PaymentSchedule
	err := row.Scan(&s.ID, &s.PurchaseOrderID, &s.DueDate, &s.Amount, &s.Note,
		&s.DisplayOrder, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentSchedule{}, ErrScheduleNotFound
	}
	if err != nil {
		return PaymentSchedule{}, err
	}
	return s, nil
}

func scanPayment(row pgx.Row) (POPayment, error) {
	var p POPayment
	err := row.Scan(&p.ID, &p.Number, &p.PurchaseOrderID, &p.ScheduleID, &p.Amount,
		&p.PaymentDate, &p.Method, &p.Note, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return POPayment{}, ErrPaymentNotFound
	}
	if err != nil {
		return POPayment{}, err
	}
	return p, nil
}

func scanDebt(row pgx.Row) (ledger.Debt, error) {
	var d ledger.Debt
	err := row.Scan(&d.ID, &d.Owed, &d.Paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Debt{}, ErrScheduleNotFound
	}
	if err != nil {
		return ledger.Debt{}, err
	}
	return d, nil
}

func collectAllocations(rows pgx.Rows) ([]POPaymentAllocation, error) {
	var out []POPaymentAllocation
	for rows.Next() {
		var a POPaymentAllocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ScheduleID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
