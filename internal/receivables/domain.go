package receivables

import (
	"time"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
)

// SalesTransaction is the customer-side debt instance. Credit is the amount
// extended as debt at sale time and never mutated by payments; PaymentStatus
// is derived from the allocation set and only written by the recompute step.
type SalesTransaction struct {
	ID            int64
	Total         money.Amount
	Credit        money.Amount
	Cash          money.Amount
	CustomerID    *int64
	PaymentStatus ledger.Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payment is a recorded customer payment. Exactly one of CustomerID and
// TransactionID drives allocation; immutable once created.
type Payment struct {
	ID            int64
	Number        string
	Amount        money.Amount
	PaymentDate   time.Time
	Method        string
	Note          string
	CustomerID    *int64
	TransactionID *int64
	UserID        int64
	CreatedAt     time.Time
}

// PaymentAllocation links a payment to one sales transaction.
type PaymentAllocation struct {
	ID            int64
	PaymentID     int64
	TransactionID int64
	Amount        money.Amount
	CreatedAt     time.Time
}

// Target selects the allocation strategy for a payment. It is a closed set:
// the service switches exhaustively over the variants below.
type Target interface {
	isTarget()
}

// CustomerFIFO spreads the payment over the customer's outstanding
// transactions, oldest first.
type CustomerFIFO struct {
	CustomerID int64
}

// SingleTransaction applies the whole payment to one transaction.
type SingleTransaction struct {
	TransactionID int64
}

// ManualAllocations applies an explicit per-transaction split.
type ManualAllocations struct {
	CustomerID int64
	Lines      []ledger.Line
}

func (CustomerFIFO) isTarget()      {}
func (SingleTransaction) isTarget() {}
func (ManualAllocations) isTarget() {}

// RecordPaymentInput carries a payment recording request.
type RecordPaymentInput struct {
	Amount      money.Amount
	PaymentDate time.Time
	Method      string
	Note        string
	Target      Target
	RecordedBy  int64
}

// TransactionSnapshot is the derived state of a transaction after an
// allocation touched it.
type TransactionSnapshot struct {
	TransactionID int64
	Credit        money.Amount
	TotalPaid     money.Amount
	Remaining     money.Amount
	Status        ledger.Status
}

// PaymentResult is returned from RecordPayment: the payment, its allocation
// rows, and the updated snapshot of every touched transaction.
type PaymentResult struct {
	Payment      Payment
	Allocations  []PaymentAllocation
	Transactions []TransactionSnapshot
}

// OutstandingTransaction pairs a transaction with its derived balances for
// the outstanding-by-customer listing.
type OutstandingTransaction struct {
	SalesTransaction
	TotalPaid money.Amount
	Remaining money.Amount
}
