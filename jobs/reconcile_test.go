package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
)

func TestDriftedStatusFlagsCorruption(t *testing.T) {
	// fully allocated transaction whose stored status was hand-edited back
	derived, drifted := driftedStatus(money.FromInt(500), ledger.StatusUnpaid, money.FromInt(500))
	require.True(t, drifted)
	require.Equal(t, ledger.StatusPaid, derived)

	// stored PAID but allocations only cover part of the credit
	derived, drifted = driftedStatus(money.FromInt(500), ledger.StatusPaid, money.FromInt(200))
	require.True(t, drifted)
	require.Equal(t, ledger.StatusPartial, derived)

	// stored PARTIAL with zero allocations
	derived, drifted = driftedStatus(money.FromInt(500), ledger.StatusPartial, money.Zero())
	require.True(t, drifted)
	require.Equal(t, ledger.StatusUnpaid, derived)
}

func TestDriftedStatusAcceptsConsistentRows(t *testing.T) {
	cases := []struct {
		owed, paid int64
		stored     ledger.Status
	}{
		{500, 0, ledger.StatusUnpaid},
		{500, 200, ledger.StatusPartial},
		{500, 500, ledger.StatusPaid},
	}
	for _, tc := range cases {
		_, drifted := driftedStatus(money.FromInt(tc.owed), tc.stored, money.FromInt(tc.paid))
		require.False(t, drifted, "owed=%d paid=%d stored=%s", tc.owed, tc.paid, tc.stored)
	}
}
