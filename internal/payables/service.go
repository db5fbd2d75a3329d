package payables

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
)

var (
	ErrPONotFound             = errors.New("payables: purchase order not found")
	ErrScheduleNotFound       = errors.New("payables: schedule not found")
	ErrPaymentNotFound        = errors.New("payables: payment not found")
	ErrValidation             = errors.New("payables: invalid request")
	ErrPaymentNotAllowed      = errors.New("payables: purchase order not eligible for payment")
	ErrScheduleExceedsPOTotal = errors.New("payables: schedules exceed purchase order total")
	ErrScheduleBelowPaid      = errors.New("payables: schedule amount below allocated total")
	ErrScheduleHasPayments    = errors.New("payables: schedule has payment allocations")
)

// Service orchestrates supplier payment recording and schedule maintenance.
// Every allocation pipeline runs in one repository transaction with the PO
// and the touched schedules row-locked.
//
// StrictScheduleBound controls the schedule-direct mode: the historical
// behavior allows a named schedule to be over-paid (the excess effectively
// tracked as general PO credit), so the bound check there is an explicit
// configuration choice rather than an unconditional guard.
type Service struct {
	repo   Repository
	strict bool
	cache  *SummaryCache
}

func NewService(repo Repository, strictScheduleBound bool) *Service {
	return &Service{repo: repo, strict: strictScheduleBound}
}

// SetSummaryCache injects the optional PO summary cache.
func (s *Service) SetSummaryCache(cache *SummaryCache) {
	s.cache = cache
}

// RecordPayment records a supplier payment against a purchase order and
// allocates it per the selected mode. All-or-nothing: on failure nothing is
// persisted, the payment row included.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (PaymentResult, error) {
	if err := validatePaymentFields(input.Amount, input.Method, input.Mode); err != nil {
		return PaymentResult{}, err
	}
	if input.PaymentDate.IsZero() {
		input.PaymentDate = time.Now()
	}

	var result PaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.POForUpdate(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		if po.Status == POStatusDraft {
			return ErrPaymentNotAllowed
		}

		lines, debts, err := s.allocate(ctx, tx, po, input.Amount, input.Mode)
		if err != nil {
			return err
		}

		payment := POPayment{
			Number:          paymentNumber(input.PurchaseOrderID, input.RecordedBy),
			PurchaseOrderID: input.PurchaseOrderID,
			Amount:          input.Amount,
			PaymentDate:     input.PaymentDate,
			Method:          input.Method,
			Note:            input.Note,
			UserID:          input.RecordedBy,
		}
		if direct, ok := input.Mode.(ScheduleDirect); ok {
			payment.ScheduleID = &direct.ScheduleID
		}

		paymentID, err := tx.CreatePayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = paymentID

		allocations, err := persistLines(ctx, tx, paymentID, lines)
		if err != nil {
			return err
		}

		result = PaymentResult{
			Payment:     payment,
			Allocations: allocations,
			Schedules:   scheduleSnapshots(lines, debts),
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	s.cache.Invalidate(ctx, input.PurchaseOrderID)
	return result, nil
}

// EditPayment revises a payment: its current allocations are discarded, the
// payment fields updated, and the selected mode re-run as if creating fresh.
// Idempotent with respect to the ledger invariants; no stale allocation
// survives an edit.
func (s *Service) EditPayment(ctx context.Context, input EditPaymentInput) (PaymentResult, error) {
	if err := validatePaymentFields(input.Amount, input.Method, input.Mode); err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	var poID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.PaymentForUpdate(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		poID = payment.PurchaseOrderID

		po, err := tx.POForUpdate(ctx, payment.PurchaseOrderID)
		if err != nil {
			return err
		}

		prior, err := tx.ListAllocationsByPayment(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAllocationsByPayment(ctx, input.PaymentID); err != nil {
			return err
		}

		payment.Amount = input.Amount
		payment.Method = input.Method
		payment.Note = input.Note
		if !input.PaymentDate.IsZero() {
			payment.PaymentDate = input.PaymentDate
		}
		payment.ScheduleID = nil
		if direct, ok := input.Mode.(ScheduleDirect); ok {
			payment.ScheduleID = &direct.ScheduleID
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		// debts read here already exclude the discarded allocations
		lines, debts, err := s.allocate(ctx, tx, po, input.Amount, input.Mode)
		if err != nil {
			return err
		}
		allocations, err := persistLines(ctx, tx, input.PaymentID, lines)
		if err != nil {
			return err
		}

		// schedules the old allocations touched but the new ones do not
		// revert; include them in the returned snapshots
		for _, old := range prior {
			if _, touched := debts[old.ScheduleID]; touched {
				continue
			}
			debt, err := tx.ScheduleDebtForUpdate(ctx, old.ScheduleID)
			if err != nil {
				return err
			}
			debts[old.ScheduleID] = debt
			lines = append(lines, ledger.Line{DebtID: old.ScheduleID, Amount: money.Zero()})
		}

		result = PaymentResult{
			Payment:     payment,
			Allocations: allocations,
			Schedules:   scheduleSnapshots(lines, debts),
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	s.cache.Invalidate(ctx, poID)
	return result, nil
}

// allocate resolves the mode into allocation lines against row-locked
// schedule debts.
func (s *Service) allocate(ctx context.Context, tx TxRepository, po PurchaseOrder, amount money.Amount, mode Mode) ([]ledger.Line, map[int64]ledger.Debt, error) {
	switch m := mode.(type) {
	case ScheduleDirect:
		sched, err := tx.ScheduleForUpdate(ctx, m.ScheduleID)
		if err != nil {
			return nil, nil, err
		}
		if sched.PurchaseOrderID != po.ID {
			return nil, nil, fmt.Errorf("%w: schedule belongs to another purchase order", ErrValidation)
		}
		debt, err := tx.ScheduleDebtForUpdate(ctx, m.ScheduleID)
		if err != nil {
			return nil, nil, err
		}
		if s.strict && amount.GreaterThan(debt.Remaining()) {
			return nil, nil, ledger.ErrOverAllocation
		}
		lines := []ledger.Line{{DebtID: m.ScheduleID, Amount: amount}}
		return lines, map[int64]ledger.Debt{m.ScheduleID: debt}, nil

	case Manual:
		if len(m.Lines) == 0 {
			return nil, nil, fmt.Errorf("%w: manual allocation requires lines", ErrValidation)
		}
		debts := make(map[int64]ledger.Debt, len(m.Lines))
		bounds := make(map[int64]money.Amount, len(m.Lines))
		for _, line := range m.Lines {
			if _, seen := debts[line.DebtID]; seen {
				continue
			}
			sched, err := tx.ScheduleForUpdate(ctx, line.DebtID)
			if err != nil {
				return nil, nil, err
			}
			if sched.PurchaseOrderID != po.ID {
				return nil, nil, fmt.Errorf("%w: schedule belongs to another purchase order", ErrValidation)
			}
			debt, err := tx.ScheduleDebtForUpdate(ctx, line.DebtID)
			if err != nil {
				return nil, nil, err
			}
			debts[line.DebtID] = debt
			// bound against the face amount (remaining + already paid), so a
			// re-run during edit can place the same slice again
			bounds[line.DebtID] = debt.Remaining().Add(debt.Paid)
		}
		if err := ledger.ValidateLines(amount, m.Lines, bounds); err != nil {
			return nil, nil, err
		}
		return m.Lines, debts, nil

	case Unscheduled:
		return nil, map[int64]ledger.Debt{}, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown allocation mode", ErrValidation)
	}
}

// CreateSchedule adds an installment to a PO, guarded so the schedule total
// never exceeds the PO total.
func (s *Service) CreateSchedule(ctx context.Context, input ScheduleInput) (PaymentSchedule, error) {
	if !input.Amount.IsPositive() {
		return PaymentSchedule{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var created PaymentSchedule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.POForUpdate(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		others, err := tx.SumOtherSchedules(ctx, input.PurchaseOrderID, 0)
		if err != nil {
			return err
		}
		if others.Add(input.Amount).GreaterThan(po.Total) {
			return ErrScheduleExceedsPOTotal
		}

		id, err := tx.CreateSchedule(ctx, input)
		if err != nil {
			return err
		}
		created = PaymentSchedule{
			ID:              id,
			PurchaseOrderID: input.PurchaseOrderID,
			DueDate:         input.DueDate,
			Amount:          input.Amount,
			Note:            input.Note,
			DisplayOrder:    input.DisplayOrder,
		}
		return nil
	})
	if err != nil {
		return PaymentSchedule{}, err
	}
	return created, nil
}

// UpdateSchedule edits an installment. The new amount may neither push the
// PO's schedule total over its total nor shrink below what is already
// allocated to this schedule.
func (s *Service) UpdateSchedule(ctx context.Context, scheduleID int64, input ScheduleInput) (PaymentSchedule, error) {
	if !input.Amount.IsPositive() {
		return PaymentSchedule{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var updated PaymentSchedule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sched, err := tx.ScheduleForUpdate(ctx, scheduleID)
		if err != nil {
			return err
		}
		po, err := tx.POForUpdate(ctx, sched.PurchaseOrderID)
		if err != nil {
			return err
		}
		others, err := tx.SumOtherSchedules(ctx, sched.PurchaseOrderID, scheduleID)
		if err != nil {
			return err
		}
		if others.Add(input.Amount).GreaterThan(po.Total) {
			return ErrScheduleExceedsPOTotal
		}
		debt, err := tx.ScheduleDebtForUpdate(ctx, scheduleID)
		if err != nil {
			return err
		}
		if input.Amount.LessThan(debt.Paid) {
			return ErrScheduleBelowPaid
		}

		sched.DueDate = input.DueDate
		sched.Amount = input.Amount
		sched.Note = input.Note
		if input.DisplayOrder != 0 {
			sched.DisplayOrder = input.DisplayOrder
		}
		if err := tx.UpdateSchedule(ctx, sched); err != nil {
			return err
		}
		updated = sched
		return nil
	})
	if err != nil {
		return PaymentSchedule{}, err
	}

	s.cache.Invalidate(ctx, updated.PurchaseOrderID)
	return updated, nil
}

// DeleteSchedule removes an installment; only allowed while it has zero
// allocations.
func (s *Service) DeleteSchedule(ctx context.Context, scheduleID int64) error {
	var poID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sched, err := tx.ScheduleForUpdate(ctx, scheduleID)
		if err != nil {
			return err
		}
		poID = sched.PurchaseOrderID
		count, err := tx.CountScheduleAllocations(ctx, scheduleID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrScheduleHasPayments
		}
		return tx.DeleteSchedule(ctx, scheduleID)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, poID)
	return nil
}

// ScheduleStatus derives one schedule's payment position.
func (s *Service) ScheduleStatus(ctx context.Context, scheduleID int64) (ScheduleStatus, error) {
	debt, err := s.repo.ScheduleDebt(ctx, scheduleID)
	if err != nil {
		return ScheduleStatus{}, err
	}
	return ScheduleStatus{
		ScheduleID: scheduleID,
		Amount:     debt.Owed,
		TotalPaid:  debt.Paid,
		Remaining:  debt.Remaining(),
		Status:     debt.Status(),
	}, nil
}

// ListSchedules returns a PO's installments in display order.
func (s *Service) ListSchedules(ctx context.Context, poID int64) ([]PaymentSchedule, error) {
	return s.repo.ListSchedules(ctx, poID)
}

// GetPayment returns a payment with its allocation rows.
func (s *Service) GetPayment(ctx context.Context, id int64) (POPayment, []POPaymentAllocation, error) {
	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return POPayment{}, nil, err
	}
	allocations, err := s.repo.ListPaymentAllocations(ctx, id)
	if err != nil {
		return POPayment{}, nil, err
	}
	return payment, allocations, nil
}

// POPaymentSummary aggregates a purchase order's payment position. Served
// from the read-through cache when one is configured; the underlying reads
// run concurrently.
func (s *Service) POPaymentSummary(ctx context.Context, poID int64) (POPaymentSummary, error) {
	if s.cache != nil {
		return s.cache.Summary(ctx, poID, s.computeSummary)
	}
	return s.computeSummary(ctx, poID)
}

func (s *Service) computeSummary(ctx context.Context, poID int64) (POPaymentSummary, error) {
	var (
		po   PurchaseOrder
		paid money.Amount
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		po, err = s.repo.GetPurchaseOrder(ctx, poID)
		return err
	})
	g.Go(func() error {
		var err error
		paid, err = s.repo.POPaidTotal(ctx, poID)
		return err
	})
	if err := g.Wait(); err != nil {
		return POPaymentSummary{}, err
	}

	return POPaymentSummary{
		PurchaseOrderID: poID,
		Total:           po.Total,
		TotalPaid:       paid,
		RemainingDebt:   ledger.Remaining(po.Total, paid),
		PaymentStatus:   ledger.Derive(po.Total, paid),
	}, nil
}

func validatePaymentFields(amount money.Amount, method string, mode Mode) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if strings.TrimSpace(method) == "" {
		return fmt.Errorf("%w: payment method required", ErrValidation)
	}
	if mode == nil {
		return fmt.Errorf("%w: allocation mode required", ErrValidation)
	}
	return nil
}

func persistLines(ctx context.Context, tx TxRepository, paymentID int64, lines []ledger.Line) ([]POPaymentAllocation, error) {
	allocations := make([]POPaymentAllocation, 0, len(lines))
	for _, line := range lines {
		id, err := tx.CreateAllocation(ctx, paymentID, line)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, POPaymentAllocation{
			ID:         id,
			PaymentID:  paymentID,
			ScheduleID: line.DebtID,
			Amount:     line.Amount,
		})
	}
	return allocations, nil
}

// scheduleSnapshots folds the new lines into the locked debt snapshots.
func scheduleSnapshots(lines []ledger.Line, debts map[int64]ledger.Debt) []ScheduleStatus {
	applied := make(map[int64]money.Amount, len(lines))
	order := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, seen := applied[line.DebtID]; !seen {
			order = append(order, line.DebtID)
			applied[line.DebtID] = money.Zero()
		}
		applied[line.DebtID] = applied[line.DebtID].Add(line.Amount)
	}

	snapshots := make([]ScheduleStatus, 0, len(order))
	for _, id := range order {
		debt := debts[id]
		paid := debt.Paid.Add(applied[id])
		snapshots = append(snapshots, ScheduleStatus{
			ScheduleID: id,
			Amount:     debt.Owed,
			TotalPaid:  paid,
			Remaining:  ledger.Remaining(debt.Owed, paid),
			Status:     ledger.Derive(debt.Owed, paid),
		})
	}
	return snapshots
}

func paymentNumber(poID, recordedBy int64) string {
	seed := fmt.Sprintf("POP:%d:%d:%d", poID, recordedBy, time.Now().UnixNano())
	ref := uuid.NewSHA1(uuid.Nil, []byte(seed))
	return "POP-" + strings.ToUpper(ref.String()[:8])
}
