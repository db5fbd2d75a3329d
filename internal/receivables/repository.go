package receivables

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

// Repository defines receivables data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetTransaction(ctx context.Context, id int64) (SalesTransaction, error)
	TransactionDebt(ctx context.Context, id int64) (ledger.Debt, error)
	ListOutstandingByCustomer(ctx context.Context, customerID int64) ([]OutstandingTransaction, error)

	GetPayment(ctx context.Context, id int64) (Payment, error)
	ListPaymentAllocations(ctx context.Context, paymentID int64) ([]PaymentAllocation, error)
}

// TxRepository defines the operations available inside one allocation
// transaction. The ForUpdate reads take row locks on the transactions they
// return; everything written afterwards commits or rolls back as a unit.
type TxRepository interface {
	DebtForUpdate(ctx context.Context, transactionID int64) (ledger.Debt, error)
	OutstandingDebtsForUpdate(ctx context.Context, customerID int64) ([]ledger.Debt, error)

	CreatePayment(ctx context.Context, payment Payment) (int64, error)
	CreateAllocation(ctx context.Context, paymentID int64, line ledger.Line) (int64, error)
	SetPaymentStatus(ctx context.Context, transactionID int64, status ledger.Status) error
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

// WithTx wraps fn in a repeatable-read transaction.
func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const debtQuery = `
SELECT t.id, t.credit,
       (SELECT COALESCE(SUM(pa.amount), 0) FROM payment_allocations pa WHERE pa.transaction_id = t.id)
FROM sales_transactions t
WHERE t.id = $1`

func (r *pgRepository) TransactionDebt(ctx context.Context, id int64) (ledger.Debt, error) {
	return scanDebt(r.pool.QueryRow(ctx, debtQuery, id))
}

func (r *pgRepository) GetTransaction(ctx context.Context, id int64) (SalesTransaction, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, total, credit, cash, customer_id, payment_status, created_at, updated_at
FROM sales_transactions WHERE id = $1`, id)
	var t SalesTransaction
	err := row.Scan(&t.ID, &t.Total, &t.Credit, &t.Cash, &t.CustomerID, &t.PaymentStatus, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesTransaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return SalesTransaction{}, err
	}
	return t, nil
}

func (r *pgRepository) ListOutstandingByCustomer(ctx context.Context, customerID int64) ([]OutstandingTransaction, error) {
	rows, err := r.pool.Query(ctx, `
SELECT t.id, t.total, t.credit, t.cash, t.customer_id, t.payment_status, t.created_at, t.updated_at,
       (SELECT COALESCE(SUM(pa.amount), 0) FROM payment_allocations pa WHERE pa.transaction_id = t.id) AS paid
FROM sales_transactions t
WHERE t.customer_id = $1 AND t.credit > 0
ORDER BY t.created_at`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutstandingTransaction
	for rows.Next() {
		var o OutstandingTransaction
		var paid money.Amount
		if err := rows.Scan(&o.ID, &o.Total, &o.Credit, &o.Cash, &o.CustomerID, &o.PaymentStatus,
			&o.CreatedAt, &o.UpdatedAt, &paid); err != nil {
			return nil, err
		}
		o.TotalPaid = paid
		o.Remaining = ledger.Remaining(o.Credit, paid)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *pgRepository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, number, amount, payment_date, method, note, customer_id, transaction_id, user_id, created_at
FROM payments WHERE id = $1`, id)
	var p Payment
	err := row.Scan(&p.ID, &p.Number, &p.Amount, &p.PaymentDate, &p.Method, &p.Note,
		&p.CustomerID, &p.TransactionID, &p.UserID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *pgRepository) ListPaymentAllocations(ctx context.Context, paymentID int64) ([]PaymentAllocation, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, payment_id, transaction_id, amount, created_at
FROM payment_allocations WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentAllocation
	for rows.Next() {
		var a PaymentAllocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.TransactionID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) DebtForUpdate(ctx context.Context, transactionID int64) (ledger.Debt, error) {
	return scanDebt(r.tx.QueryRow(ctx, debtQuery+` FOR UPDATE OF t`, transactionID))
}

func (r *pgTxRepository) OutstandingDebtsForUpdate(ctx context.Context, customerID int64) ([]ledger.Debt, error) {
	rows, err := r.tx.Query(ctx, `
SELECT t.id, t.credit,
       (SELECT COALESCE(SUM(pa.amount), 0) FROM payment_allocations pa WHERE pa.transaction_id = t.id)
FROM sales_transactions t
WHERE t.customer_id = $1 AND t.credit > 0
ORDER BY t.created_at
FOR UPDATE OF t`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var debts []ledger.Debt
	for rows.Next() {
		var d ledger.Debt
		if err := rows.Scan(&d.ID, &d.Owed, &d.Paid); err != nil {
			return nil, err
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

func (r *pgTxRepository) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO payments (number, amount, payment_date, method, note, customer_id, transaction_id, user_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		p.Number, p.Amount, p.PaymentDate, p.Method, p.Note, p.CustomerID, p.TransactionID, p.UserID, time.Now()).Scan(&id)
	return id, err
}

func (r *pgTxRepository) CreateAllocation(ctx context.Context, paymentID int64, line ledger.Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO payment_allocations (payment_id, transaction_id, amount, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id`, paymentID, line.DebtID, line.Amount, time.Now()).Scan(&id)
	if err != nil && db.IsForeignKeyViolation(err) {
		return 0, ErrTransactionNotFound
	}
	return id, err
}

func (r *pgTxRepository) SetPaymentStatus(ctx context.Context, transactionID int64, status ledger.Status) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE sales_transactions SET payment_status = $2, updated_at = now() WHERE id = $1`,
		transactionID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func scanDebt(row pgx.Row) (ledger.Debt, error) {
	var d ledger.Debt
	err := row.Scan(&d.ID, &d.Owed, &d.Paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Debt{}, ErrTransactionNotFound
	}
	if err != nil {
		return ledger.Debt{}, err
	}
	return d, nil
}
