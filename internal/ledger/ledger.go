// Package ledger holds the allocation algebra shared by receivables and
// payables: a payment is a pool of money split into allocation lines, each
// tied to one debt instance, and a debt's remaining balance and status are
// always derived by folding over its allocations.
package ledger

import (
	"errors"

	"github.com/kasira-pos/kasira/internal/money"
)

// Status is the derived payment status of a debt instance.
type Status string

const (
	StatusUnpaid  Status = "UNPAID"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
)

var (
	// ErrAllocationMismatch indicates the proposed lines do not sum to the
	// payment amount.
	ErrAllocationMismatch = errors.New("ledger: allocations do not sum to payment amount")
	// ErrOverAllocation indicates a line exceeds its debt's remaining balance.
	ErrOverAllocation = errors.New("ledger: allocation exceeds remaining balance")
	// ErrPaymentExceedsDebt indicates a FIFO payment is larger than the total
	// outstanding debt it could be spread over.
	ErrPaymentExceedsDebt = errors.New("ledger: payment exceeds total outstanding debt")
)

// Debt is the uniform view over a debt instance (sales transaction or PO
// payment schedule entry): the fixed amount owed plus the current sum of
// allocations against it.
type Debt struct {
	ID   int64
	Owed money.Amount
	Paid money.Amount
}

// Remaining returns the owed amount minus allocations, floored at zero.
func (d Debt) Remaining() money.Amount {
	return Remaining(d.Owed, d.Paid)
}

// Status derives the payment status from the allocation sum.
func (d Debt) Status() Status {
	return Derive(d.Owed, d.Paid)
}

// Remaining computes max(0, owed - paid).
func Remaining(owed, paid money.Amount) money.Amount {
	r := owed.Sub(paid)
	if r.IsNegative() {
		return money.Zero()
	}
	return r
}

// Derive computes the status of a debt from its owed amount and allocation
// sum. Pure: calling it twice with the same inputs yields the same result.
func Derive(owed, paid money.Amount) Status {
	switch {
	case Remaining(owed, paid).IsZero() && owed.IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// Line links a payment to one debt instance for a specific amount.
type Line struct {
	DebtID int64
	Amount money.Amount
}

// Sum folds the line amounts.
func Sum(lines []Line) money.Amount {
	total := money.Zero()
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// ValidateLines enforces the two creation-time invariants before anything is
// written: the lines must sum exactly to the payment amount, and no line may
// exceed its debt's remaining balance. remaining maps debt id to the balance
// computed excluding the proposed lines. All-or-nothing: the first violation
// rejects the whole set.
func ValidateLines(amount money.Amount, lines []Line, remaining map[int64]money.Amount) error {
	if !Sum(lines).Equal(amount) {
		return ErrAllocationMismatch
	}
	spent := make(map[int64]money.Amount, len(lines))
	for _, l := range lines {
		if !l.Amount.IsPositive() {
			return ErrAllocationMismatch
		}
		prior, ok := spent[l.DebtID]
		if !ok {
			prior = money.Zero()
		}
		total := prior.Add(l.Amount)
		bound, ok := remaining[l.DebtID]
		if !ok || total.GreaterThan(bound) {
			return ErrOverAllocation
		}
		spent[l.DebtID] = total
	}
	return nil
}

// AllocateFIFO spreads amount over debts in the given order, oldest first:
// each debt absorbs min(amount left, remaining balance) until the amount is
// exhausted. If the debts run out first the whole payment is rejected with
// ErrPaymentExceedsDebt and no lines are returned.
func AllocateFIFO(amount money.Amount, debts []Debt) ([]Line, error) {
	if !amount.IsPositive() {
		return nil, ErrAllocationMismatch
	}
	left := amount
	var lines []Line
	for _, d := range debts {
		if left.IsZero() {
			break
		}
		rem := d.Remaining()
		if !rem.IsPositive() {
			continue
		}
		take := left.Min(rem)
		lines = append(lines, Line{DebtID: d.ID, Amount: take})
		left = left.Sub(take)
	}
	if !left.IsZero() {
		return nil, ErrPaymentExceedsDebt
	}
	return lines, nil
}
