package receivables

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
)

type memoryRepo struct {
	transactions map[int64]SalesTransaction
	payments     map[int64]Payment
	allocations  map[int64][]PaymentAllocation // by transaction id
	nextPayID    int64
	nextAllocID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		transactions: make(map[int64]SalesTransaction),
		payments:     make(map[int64]Payment),
		allocations:  make(map[int64][]PaymentAllocation),
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	cp := newMemoryRepo()
	for k, v := range r.transactions {
		cp.transactions[k] = v
	}
	for k, v := range r.payments {
		cp.payments[k] = v
	}
	for k, v := range r.allocations {
		cp.allocations[k] = append([]PaymentAllocation(nil), v...)
	}
	cp.nextPayID, cp.nextAllocID = r.nextPayID, r.nextAllocID
	return cp
}

func (r *memoryRepo) restore(from *memoryRepo) {
	r.transactions = from.transactions
	r.payments = from.payments
	r.allocations = from.allocations
	r.nextPayID, r.nextAllocID = from.nextPayID, from.nextAllocID
}

// WithTx mimics rollback semantics: on error all writes are discarded.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(before)
		return err
	}
	return nil
}

func (r *memoryRepo) debt(id int64) (ledger.Debt, error) {
	t, ok := r.transactions[id]
	if !ok {
		return ledger.Debt{}, ErrTransactionNotFound
	}
	paid := money.Zero()
	for _, a := range r.allocations[id] {
		paid = paid.Add(a.Amount)
	}
	return ledger.Debt{ID: id, Owed: t.Credit, Paid: paid}, nil
}

func (r *memoryRepo) GetTransaction(ctx context.Context, id int64) (SalesTransaction, error) {
	t, ok := r.transactions[id]
	if !ok {
		return SalesTransaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (r *memoryRepo) TransactionDebt(ctx context.Context, id int64) (ledger.Debt, error) {
	return r.debt(id)
}

func (r *memoryRepo) ListOutstandingByCustomer(ctx context.Context, customerID int64) ([]OutstandingTransaction, error) {
	var out []OutstandingTransaction
	for _, t := range r.transactions {
		if t.CustomerID == nil || *t.CustomerID != customerID || !t.Credit.IsPositive() {
			continue
		}
		d, _ := r.debt(t.ID)
		out = append(out, OutstandingTransaction{
			SalesTransaction: t,
			TotalPaid:        d.Paid,
			Remaining:        d.Remaining(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) GetPayment(ctx context.Context, id int64) (Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListPaymentAllocations(ctx context.Context, paymentID int64) ([]PaymentAllocation, error) {
	var out []PaymentAllocation
	for _, allocs := range r.allocations {
		for _, a := range allocs {
			if a.PaymentID == paymentID {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (tx *memoryTx) DebtForUpdate(ctx context.Context, transactionID int64) (ledger.Debt, error) {
	return tx.repo.debt(transactionID)
}

func (tx *memoryTx) OutstandingDebtsForUpdate(ctx context.Context, customerID int64) ([]ledger.Debt, error) {
	outstanding, err := tx.repo.ListOutstandingByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	debts := make([]ledger.Debt, len(outstanding))
	for i, o := range outstanding {
		debts[i] = ledger.Debt{ID: o.ID, Owed: o.Credit, Paid: o.TotalPaid}
	}
	return debts, nil
}

func (tx *memoryTx) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	tx.repo.nextPayID++
	p.ID = tx.repo.nextPayID
	p.CreatedAt = time.Now()
	tx.repo.payments[p.ID] = p
	return p.ID, nil
}

func (tx *memoryTx) CreateAllocation(ctx context.Context, paymentID int64, line ledger.Line) (int64, error) {
	if _, ok := tx.repo.transactions[line.DebtID]; !ok {
		return 0, ErrTransactionNotFound
	}
	tx.repo.nextAllocID++
	alloc := PaymentAllocation{
		ID:            tx.repo.nextAllocID,
		PaymentID:     paymentID,
		TransactionID: line.DebtID,
		Amount:        line.Amount,
		CreatedAt:     time.Now(),
	}
	tx.repo.allocations[line.DebtID] = append(tx.repo.allocations[line.DebtID], alloc)
	return alloc.ID, nil
}

func (tx *memoryTx) SetPaymentStatus(ctx context.Context, transactionID int64, status ledger.Status) error {
	t, ok := tx.repo.transactions[transactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	t.PaymentStatus = status
	tx.repo.transactions[transactionID] = t
	return nil
}

func seedTransaction(r *memoryRepo, id, customerID, credit int64, createdAt time.Time) {
	cust := customerID
	r.transactions[id] = SalesTransaction{
		ID:            id,
		Total:         money.FromInt(credit),
		Credit:        money.FromInt(credit),
		CustomerID:    &cust,
		PaymentStatus: ledger.StatusUnpaid,
		CreatedAt:     createdAt,
	}
}

func TestRecordPaymentFIFOOrder(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTransaction(repo, 1, 7, 100, base)
	seedTransaction(repo, 2, 7, 50, base.Add(time.Hour))
	seedTransaction(repo, 3, 7, 75, base.Add(2*time.Hour))
	svc := NewService(repo)

	result, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount:     money.FromInt(120),
		Method:     "TRANSFER",
		Target:     CustomerFIFO{CustomerID: 7},
		RecordedBy: 1,
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	require.Equal(t, int64(1), result.Allocations[0].TransactionID)
	require.True(t, result.Allocations[0].Amount.Equal(money.FromInt(100)))
	require.Equal(t, int64(2), result.Allocations[1].TransactionID)
	require.True(t, result.Allocations[1].Amount.Equal(money.FromInt(20)))

	// third transaction untouched
	require.Empty(t, repo.allocations[3])
	require.Equal(t, ledger.StatusPaid, repo.transactions[1].PaymentStatus)
	require.Equal(t, ledger.StatusPartial, repo.transactions[2].PaymentStatus)
	require.Equal(t, ledger.StatusUnpaid, repo.transactions[3].PaymentStatus)
}

func TestRecordPaymentFIFORejectsOverpayment(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTransaction(repo, 1, 7, 150, base)
	seedTransaction(repo, 2, 7, 50, base.Add(time.Hour))
	svc := NewService(repo)

	_, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount:     money.FromInt(250),
		Method:     "CASH",
		Target:     CustomerFIFO{CustomerID: 7},
		RecordedBy: 1,
	})
	require.ErrorIs(t, err, ledger.ErrPaymentExceedsDebt)

	// nothing persisted, payment row included
	require.Empty(t, repo.payments)
	require.Empty(t, repo.allocations[1])
	require.Empty(t, repo.allocations[2])
}

func TestRecordPaymentManualMismatch(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedTransaction(repo, 1, 7, 100, time.Now())
	svc := NewService(repo)

	_, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(100),
		Method: "TRANSFER",
		Target: ManualAllocations{CustomerID: 7, Lines: []ledger.Line{
			{DebtID: 1, Amount: money.FromInt(90)},
		}},
		RecordedBy: 1,
	})
	require.ErrorIs(t, err, ledger.ErrAllocationMismatch)
	require.Empty(t, repo.payments)
}

func TestRecordPaymentManualOverAllocation(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedTransaction(repo, 1, 7, 100, time.Now())
	seedTransaction(repo, 2, 7, 30, time.Now())
	svc := NewService(repo)

	_, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(140),
		Method: "TRANSFER",
		Target: ManualAllocations{CustomerID: 7, Lines: []ledger.Line{
			{DebtID: 1, Amount: money.FromInt(100)},
			{DebtID: 2, Amount: money.FromInt(40)},
		}},
		RecordedBy: 1,
	})
	require.ErrorIs(t, err, ledger.ErrOverAllocation)
	require.Empty(t, repo.payments)
}

func TestRecordPaymentManualRequiresCustomer(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedTransaction(repo, 1, 7, 100, time.Now())
	svc := NewService(repo)

	// a manual target without a customer would leave the payment row
	// unattributed; it must be rejected before anything is persisted
	_, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(100),
		Method: "TRANSFER",
		Target: ManualAllocations{Lines: []ledger.Line{
			{DebtID: 1, Amount: money.FromInt(100)},
		}},
		RecordedBy: 1,
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, repo.payments)
}

func TestRecordPaymentManualMultiInvoice(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedTransaction(repo, 1, 7, 100, time.Now())
	seedTransaction(repo, 2, 7, 200, time.Now())
	svc := NewService(repo)

	result, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(150),
		Method: "TRANSFER",
		Target: ManualAllocations{CustomerID: 7, Lines: []ledger.Line{
			{DebtID: 1, Amount: money.FromInt(100)},
			{DebtID: 2, Amount: money.FromInt(50)},
		}},
		RecordedBy: 1,
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	require.Equal(t, ledger.StatusPaid, repo.transactions[1].PaymentStatus)
	require.Equal(t, ledger.StatusPartial, repo.transactions[2].PaymentStatus)

	// per-payment sum invariant
	total := money.Zero()
	for _, a := range result.Allocations {
		total = total.Add(a.Amount)
	}
	require.True(t, total.Equal(result.Payment.Amount))
}

func TestRecordPaymentSingleTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedTransaction(repo, 1, 7, 100, time.Now())
	svc := NewService(repo)

	result, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount:     money.FromInt(60),
		Method:     "CASH",
		Target:     SingleTransaction{TransactionID: 1},
		RecordedBy: 1,
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 1)
	require.Equal(t, ledger.StatusPartial, repo.transactions[1].PaymentStatus)
	require.NotNil(t, result.Payment.TransactionID)

	// second payment over the remainder is rejected
	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		Amount:     money.FromInt(50),
		Method:     "CASH",
		Target:     SingleTransaction{TransactionID: 1},
		RecordedBy: 1,
	})
	require.ErrorIs(t, err, ledger.ErrOverAllocation)

	// exact remainder settles it
	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		Amount:     money.FromInt(40),
		Method:     "CASH",
		Target:     SingleTransaction{TransactionID: 1},
		RecordedBy: 1,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPaid, repo.transactions[1].PaymentStatus)
}

func TestRecordPaymentValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	_, err := svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(0), Method: "CASH", Target: CustomerFIFO{CustomerID: 1},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(10), Method: "  ", Target: CustomerFIFO{CustomerID: 1},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(10), Method: "CASH", Target: nil,
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestRemainingCredit(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedTransaction(repo, 1, 7, 100, time.Now())
	svc := NewService(repo)

	remaining, err := svc.RemainingCredit(ctx, 1)
	require.NoError(t, err)
	require.True(t, remaining.Equal(money.FromInt(100)))

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		Amount: money.FromInt(30), Method: "CASH",
		Target: SingleTransaction{TransactionID: 1}, RecordedBy: 1,
	})
	require.NoError(t, err)

	remaining, err = svc.RemainingCredit(ctx, 1)
	require.NoError(t, err)
	require.True(t, remaining.Equal(money.FromInt(70)))

	_, err = svc.RemainingCredit(ctx, 99)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}
