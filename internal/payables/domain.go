package payables

import (
	"time"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
)

// POStatus enumerates purchase order statuses. The PO lifecycle itself is
// owned elsewhere; payables only checks it to gate payment eligibility.
type POStatus string

const (
	POStatusDraft    POStatus = "DRAFT"
	POStatusApproved POStatus = "APPROVED"
	POStatusReceived POStatus = "RECEIVED"
	POStatusClosed   POStatus = "CLOSED"
)

// PurchaseOrder is the minimal PO view payables needs.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
	Status     POStatus
	Total      money.Amount
	CreatedAt  time.Time
}

// PaymentSchedule is the supplier-side debt instance: one installment of a
// purchase order. Its paid total, remaining balance and status are always
// derived from the allocation set, never stored.
type PaymentSchedule struct {
	ID              int64
	PurchaseOrderID int64
	DueDate         time.Time
	Amount          money.Amount
	Note            string
	DisplayOrder    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// POPayment is a supplier payment. Unlike receivables payments it is
// editable: an edit discards the payment's allocations and re-runs the
// selected mode as if creating fresh.
type POPayment struct {
	ID              int64
	Number          string
	PurchaseOrderID int64
	ScheduleID      *int64
	Amount          money.Amount
	PaymentDate     time.Time
	Method          string
	Note            string
	UserID          int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// POPaymentAllocation links a supplier payment to one schedule entry.
type POPaymentAllocation struct {
	ID         int64
	PaymentID  int64
	ScheduleID int64
	Amount     money.Amount
	CreatedAt  time.Time
}

// Mode selects the allocation strategy for a supplier payment. Closed set;
// the service switches exhaustively over the variants.
type Mode interface {
	isMode()
}

// ScheduleDirect pins the whole payment to one named schedule entry. The
// remaining-balance bound is only applied when the service runs with
// StrictScheduleBound enabled.
type ScheduleDirect struct {
	ScheduleID int64
}

// Manual applies an explicit per-schedule split, bounded by each schedule's
// face amount so an edit can re-place a prior partial allocation.
type Manual struct {
	Lines []ledger.Line
}

// Unscheduled records the payment with no allocation at all.
type Unscheduled struct{}

func (ScheduleDirect) isMode() {}
func (Manual) isMode()         {}
func (Unscheduled) isMode()    {}

// RecordPaymentInput carries a supplier payment recording request.
type RecordPaymentInput struct {
	PurchaseOrderID int64
	Amount          money.Amount
	PaymentDate     time.Time
	Method          string
	Note            string
	Mode            Mode
	RecordedBy      int64
}

// EditPaymentInput revises an existing payment. All prior allocations are
// discarded and the mode re-runs from scratch.
type EditPaymentInput struct {
	PaymentID   int64
	Amount      money.Amount
	PaymentDate time.Time
	Method      string
	Note        string
	Mode        Mode
}

// ScheduleInput creates or updates a payment schedule entry.
type ScheduleInput struct {
	PurchaseOrderID int64
	DueDate         time.Time
	Amount          money.Amount
	Note            string
	DisplayOrder    int
}

// ScheduleStatus is the derived state of one schedule entry.
type ScheduleStatus struct {
	ScheduleID int64
	Amount     money.Amount
	TotalPaid  money.Amount
	Remaining  money.Amount
	Status     ledger.Status
}

// POPaymentSummary aggregates a purchase order's payment position.
type POPaymentSummary struct {
	PurchaseOrderID int64
	Total           money.Amount
	TotalPaid       money.Amount
	RemainingDebt   money.Amount
	PaymentStatus   ledger.Status
}

// PaymentResult is returned from RecordPayment/EditPayment: the payment, its
// allocation rows, and the derived status of every touched schedule.
type PaymentResult struct {
	Payment     POPayment
	Allocations []POPaymentAllocation
	Schedules   []ScheduleStatus
}
