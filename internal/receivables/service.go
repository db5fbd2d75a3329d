package receivables

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
)

var (
	ErrTransactionNotFound = errors.New("receivables: transaction not found")
	ErrPaymentNotFound     = errors.New("receivables: payment not found")
	ErrValidation          = errors.New("receivables: invalid payment request")
)

// Service orchestrates customer payment recording: validate, allocate,
// persist, recompute status. The whole pipeline runs in one repository
// transaction with the touched transactions row-locked, so concurrent
// payments cannot both pass validation on a stale balance.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RecordPayment records a customer payment and allocates it per the target
// strategy. On any failure nothing is persisted, the payment row included.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (PaymentResult, error) {
	if !input.Amount.IsPositive() {
		return PaymentResult{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if strings.TrimSpace(input.Method) == "" {
		return PaymentResult{}, fmt.Errorf("%w: payment method required", ErrValidation)
	}
	if input.Target == nil {
		return PaymentResult{}, fmt.Errorf("%w: allocation target required", ErrValidation)
	}
	if input.PaymentDate.IsZero() {
		input.PaymentDate = time.Now()
	}

	var result PaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, debts, err := s.allocate(ctx, tx, input)
		if err != nil {
			return err
		}

		payment := Payment{
			Number:      paymentNumber("RCP", input),
			Amount:      input.Amount,
			PaymentDate: input.PaymentDate,
			Method:      input.Method,
			Note:        input.Note,
			UserID:      input.RecordedBy,
		}
		switch t := input.Target.(type) {
		case CustomerFIFO:
			payment.CustomerID = &t.CustomerID
		case ManualAllocations:
			payment.CustomerID = &t.CustomerID
		case SingleTransaction:
			payment.TransactionID = &t.TransactionID
		}

		paymentID, err := tx.CreatePayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = paymentID

		allocations := make([]PaymentAllocation, 0, len(lines))
		for _, line := range lines {
			allocID, err := tx.CreateAllocation(ctx, paymentID, line)
			if err != nil {
				return err
			}
			allocations = append(allocations, PaymentAllocation{
				ID:            allocID,
				PaymentID:     paymentID,
				TransactionID: line.DebtID,
				Amount:        line.Amount,
			})
		}

		snapshots, err := recomputeStatuses(ctx, tx, lines, debts)
		if err != nil {
			return err
		}

		result = PaymentResult{Payment: payment, Allocations: allocations, Transactions: snapshots}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

// allocate resolves the target variant into allocation lines. All reads go
// through the locked transaction repository.
func (s *Service) allocate(ctx context.Context, tx TxRepository, input RecordPaymentInput) ([]ledger.Line, map[int64]ledger.Debt, error) {
	switch t := input.Target.(type) {
	case CustomerFIFO:
		debts, err := tx.OutstandingDebtsForUpdate(ctx, t.CustomerID)
		if err != nil {
			return nil, nil, err
		}
		lines, err := ledger.AllocateFIFO(input.Amount, debts)
		if err != nil {
			return nil, nil, err
		}
		return lines, debtIndex(debts), nil

	case SingleTransaction:
		debt, err := tx.DebtForUpdate(ctx, t.TransactionID)
		if err != nil {
			return nil, nil, err
		}
		if input.Amount.GreaterThan(debt.Remaining()) {
			return nil, nil, ledger.ErrOverAllocation
		}
		lines := []ledger.Line{{DebtID: t.TransactionID, Amount: input.Amount}}
		return lines, debtIndex([]ledger.Debt{debt}), nil

	case ManualAllocations:
		if t.CustomerID == 0 {
			return nil, nil, fmt.Errorf("%w: manual allocation requires a customer", ErrValidation)
		}
		if len(t.Lines) == 0 {
			return nil, nil, fmt.Errorf("%w: manual allocation requires lines", ErrValidation)
		}
		debts := make(map[int64]ledger.Debt, len(t.Lines))
		remaining := make(map[int64]money.Amount, len(t.Lines))
		for _, line := range t.Lines {
			if _, seen := debts[line.DebtID]; seen {
				continue
			}
			debt, err := tx.DebtForUpdate(ctx, line.DebtID)
			if err != nil {
				return nil, nil, err
			}
			debts[line.DebtID] = debt
			remaining[line.DebtID] = debt.Remaining()
		}
		if err := ledger.ValidateLines(input.Amount, t.Lines, remaining); err != nil {
			return nil, nil, err
		}
		return t.Lines, debts, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown allocation target", ErrValidation)
	}
}

// RemainingCredit returns the transaction's credit minus its allocations,
// floored at zero.
func (s *Service) RemainingCredit(ctx context.Context, transactionID int64) (money.Amount, error) {
	debt, err := s.repo.TransactionDebt(ctx, transactionID)
	if err != nil {
		return money.Zero(), err
	}
	return debt.Remaining(), nil
}

// ListOutstanding returns the customer's transactions that still carry
// unallocated credit, oldest first.
func (s *Service) ListOutstanding(ctx context.Context, customerID int64) ([]OutstandingTransaction, error) {
	return s.repo.ListOutstandingByCustomer(ctx, customerID)
}

// GetPayment returns a payment with its allocation rows.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, []PaymentAllocation, error) {
	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, nil, err
	}
	allocations, err := s.repo.ListPaymentAllocations(ctx, id)
	if err != nil {
		return Payment{}, nil, err
	}
	return payment, allocations, nil
}

// recomputeStatuses folds the new lines into the locked debt snapshots and
// persists the derived status for every touched transaction.
func recomputeStatuses(ctx context.Context, tx TxRepository, lines []ledger.Line, debts map[int64]ledger.Debt) ([]TransactionSnapshot, error) {
	applied := make(map[int64]money.Amount, len(lines))
	order := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, seen := applied[line.DebtID]; !seen {
			order = append(order, line.DebtID)
			applied[line.DebtID] = money.Zero()
		}
		applied[line.DebtID] = applied[line.DebtID].Add(line.Amount)
	}

	snapshots := make([]TransactionSnapshot, 0, len(order))
	for _, id := range order {
		debt := debts[id]
		paid := debt.Paid.Add(applied[id])
		status := ledger.Derive(debt.Owed, paid)
		if err := tx.SetPaymentStatus(ctx, id, status); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, TransactionSnapshot{
			TransactionID: id,
			Credit:        debt.Owed,
			TotalPaid:     paid,
			Remaining:     ledger.Remaining(debt.Owed, paid),
			Status:        status,
		})
	}
	return snapshots, nil
}

func debtIndex(debts []ledger.Debt) map[int64]ledger.Debt {
	idx := make(map[int64]ledger.Debt, len(debts))
	for _, d := range debts {
		idx[d.ID] = d
	}
	return idx
}

// paymentNumber derives a stable reference for the payment request.
func paymentNumber(prefix string, input RecordPaymentInput) string {
	seed := fmt.Sprintf("%s:%d:%s:%d", prefix, input.RecordedBy, input.Amount, time.Now().UnixNano())
	ref := uuid.NewSHA1(uuid.Nil, []byte(seed))
	return prefix + "-" + strings.ToUpper(ref.String()[:8])
}
