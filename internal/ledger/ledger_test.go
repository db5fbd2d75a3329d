package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kasira-pos/kasira/internal/money"
)

func amt(v int64) money.Amount { return money.FromInt(v) }

func TestDeriveStatusTransitions(t *testing.T) {
	owed := amt(500)

	require.Equal(t, StatusUnpaid, Derive(owed, amt(0)))
	require.Equal(t, StatusPartial, Derive(owed, amt(300)))
	require.Equal(t, StatusPaid, Derive(owed, amt(500)))
	// overpaid still reads as paid, remaining floored at zero
	require.Equal(t, StatusPaid, Derive(owed, amt(600)))
	require.True(t, Remaining(owed, amt(600)).IsZero())

	// zero-owed debt never reports paid
	require.Equal(t, StatusUnpaid, Derive(amt(0), amt(0)))
}

func TestDeriveIsIdempotent(t *testing.T) {
	d := Debt{ID: 1, Owed: amt(500), Paid: amt(300)}
	first := d.Status()
	second := d.Status()
	require.Equal(t, first, second)
	require.True(t, d.Remaining().Equal(d.Remaining()))
}

func TestAllocateFIFOOrder(t *testing.T) {
	debts := []Debt{
		{ID: 1, Owed: amt(100)},
		{ID: 2, Owed: amt(50)},
		{ID: 3, Owed: amt(75)},
	}

	lines, err := AllocateFIFO(amt(120), debts)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, int64(1), lines[0].DebtID)
	require.True(t, lines[0].Amount.Equal(amt(100)))
	require.Equal(t, int64(2), lines[1].DebtID)
	require.True(t, lines[1].Amount.Equal(amt(20)))
}

func TestAllocateFIFOSkipsSettledDebts(t *testing.T) {
	debts := []Debt{
		{ID: 1, Owed: amt(100), Paid: amt(100)},
		{ID: 2, Owed: amt(80), Paid: amt(30)},
	}
	lines, err := AllocateFIFO(amt(50), debts)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int64(2), lines[0].DebtID)
	require.True(t, lines[0].Amount.Equal(amt(50)))
}

func TestAllocateFIFORejectsOverpayment(t *testing.T) {
	debts := []Debt{
		{ID: 1, Owed: amt(100)},
		{ID: 2, Owed: amt(100)},
	}
	lines, err := AllocateFIFO(amt(250), debts)
	require.ErrorIs(t, err, ErrPaymentExceedsDebt)
	require.Nil(t, lines)
}

func TestAllocateFIFORejectsNonPositiveAmount(t *testing.T) {
	_, err := AllocateFIFO(amt(0), []Debt{{ID: 1, Owed: amt(10)}})
	require.ErrorIs(t, err, ErrAllocationMismatch)
}

func TestValidateLinesStrictSum(t *testing.T) {
	remaining := map[int64]money.Amount{1: amt(100), 2: amt(100)}

	err := ValidateLines(amt(100), []Line{
		{DebtID: 1, Amount: amt(60)},
		{DebtID: 2, Amount: amt(30)},
	}, remaining)
	require.ErrorIs(t, err, ErrAllocationMismatch)

	err = ValidateLines(amt(90), []Line{
		{DebtID: 1, Amount: amt(60)},
		{DebtID: 2, Amount: amt(30)},
	}, remaining)
	require.NoError(t, err)
}

func TestValidateLinesOverAllocation(t *testing.T) {
	remaining := map[int64]money.Amount{1: amt(50)}

	err := ValidateLines(amt(60), []Line{{DebtID: 1, Amount: amt(60)}}, remaining)
	require.ErrorIs(t, err, ErrOverAllocation)

	// two lines against the same debt are bounded by their combined total
	err = ValidateLines(amt(60), []Line{
		{DebtID: 1, Amount: amt(30)},
		{DebtID: 1, Amount: amt(30)},
	}, remaining)
	require.ErrorIs(t, err, ErrOverAllocation)

	// unknown debt ids are rejected
	err = ValidateLines(amt(10), []Line{{DebtID: 9, Amount: amt(10)}}, remaining)
	require.ErrorIs(t, err, ErrOverAllocation)
}

func TestValidateLinesRejectsNonPositiveLine(t *testing.T) {
	remaining := map[int64]money.Amount{1: amt(50)}
	err := ValidateLines(amt(0), []Line{{DebtID: 1, Amount: amt(0)}}, remaining)
	require.ErrorIs(t, err, ErrAllocationMismatch)
}

func TestSumOfRandomFIFOSequencesNeverExceedsOwed(t *testing.T) {
	// apply a sequence of FIFO payments and assert the per-debt invariant
	// after every successful allocation
	debts := []Debt{
		{ID: 1, Owed: amt(100)},
		{ID: 2, Owed: amt(50)},
		{ID: 3, Owed: amt(75)},
	}
	payments := []int64{10, 60, 40, 70, 30, 100}

	for _, p := range payments {
		lines, err := AllocateFIFO(amt(p), debts)
		if err != nil {
			require.ErrorIs(t, err, ErrPaymentExceedsDebt)
			continue
		}
		for _, l := range lines {
			for i := range debts {
				if debts[i].ID == l.DebtID {
					debts[i].Paid = debts[i].Paid.Add(l.Amount)
				}
			}
		}
		for _, d := range debts {
			require.False(t, d.Paid.GreaterThan(d.Owed),
				"debt %d overpaid: %s of %s", d.ID, d.Paid, d.Owed)
		}
	}
}
