package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/kasira-pos/kasira/internal/jobs"
	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
)

// Reconciler scans both subdomains for drift between stored state and the
// allocation-derived truth. Receivables statuses are stored and therefore
// repairable; payment sum mismatches are only reported, since deciding which
// row is wrong needs a human.
type Reconciler struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

func NewReconciler(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *Reconciler {
	return &Reconciler{pool: pool, logger: logger, metrics: metrics}
}

// HandleScan processes TaskReconciliationScan tasks.
func (r *Reconciler) HandleScan(ctx context.Context, t *asynq.Task) error {
	return r.Run(ctx)
}

// Run executes one full reconciliation scan.
func (r *Reconciler) Run(ctx context.Context) error {
	tracker := r.metrics.Track("reconcile_scan")
	return tracker.End(r.run(ctx))
}

func (r *Reconciler) run(ctx context.Context) error {
	statusDrift, err := r.repairTransactionStatuses(ctx)
	if err != nil {
		return err
	}
	arSum, err := r.countPaymentSumMismatches(ctx, `
SELECT p.id, p.amount, COALESCE(SUM(pa.amount), 0)
FROM payments p
JOIN payment_allocations pa ON pa.payment_id = p.id
GROUP BY p.id
HAVING p.amount <> SUM(pa.amount)`)
	if err != nil {
		return err
	}
	// payables allocations may legitimately sum below the payment amount
	// (unscheduled remainder); only an excess is drift
	apSum, err := r.countPaymentSumMismatches(ctx, `
SELECT p.id, p.amount, COALESCE(SUM(pa.amount), 0)
FROM po_payments p
JOIN po_payment_allocations pa ON pa.payment_id = p.id
GROUP BY p.id
HAVING SUM(pa.amount) > p.amount`)
	if err != nil {
		return err
	}

	r.metrics.AddDrift("receivables", statusDrift+arSum)
	r.metrics.AddDrift("payables", apSum)
	if statusDrift+arSum+apSum > 0 {
		r.logger.Warn("reconciliation scan found drift",
			slog.Int("status_drift", statusDrift),
			slog.Int("receivables_sum_mismatch", arSum),
			slog.Int("payables_sum_mismatch", apSum))
	} else {
		r.logger.Info("reconciliation scan clean")
	}
	return nil
}

// repairTransactionStatuses recomputes each credit transaction's status from
// its allocations and rewrites rows that disagree. The derived value wins.
func (r *Reconciler) repairTransactionStatuses(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `
SELECT t.id, t.credit, t.payment_status,
       (SELECT COALESCE(SUM(pa.amount), 0) FROM payment_allocations pa WHERE pa.transaction_id = t.id)
FROM sales_transactions t
WHERE t.credit > 0`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type repair struct {
		id     int64
		status ledger.Status
	}
	var repairs []repair
	for rows.Next() {
		var (
			id     int64
			credit money.Amount
			stored ledger.Status
			paid   money.Amount
		)
		if err := rows.Scan(&id, &credit, &stored, &paid); err != nil {
			return 0, err
		}
		if derived, drifted := driftedStatus(credit, stored, paid); drifted {
			repairs = append(repairs, repair{id: id, status: derived})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, rep := range repairs {
		if _, err := r.pool.Exec(ctx, `
UPDATE sales_transactions SET payment_status = $2, updated_at = now() WHERE id = $1`,
			rep.id, rep.status); err != nil {
			return 0, err
		}
		r.logger.Warn("repaired drifted payment status",
			slog.Int64("transaction_id", rep.id),
			slog.String("status", string(rep.status)))
	}
	return len(repairs), nil
}

// driftedStatus reports the corrected status when the stored one disagrees
// with the allocation-derived value.
func driftedStatus(owed money.Amount, stored ledger.Status, paid money.Amount) (ledger.Status, bool) {
	derived := ledger.Derive(owed, paid)
	return derived, derived != stored
}

func (r *Reconciler) countPaymentSumMismatches(ctx context.Context, query string) (int, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			id        int64
			amount    money.Amount
			allocated money.Amount
		)
		if err := rows.Scan(&id, &amount, &allocated); err != nil {
			return 0, err
		}
		count++
		r.logger.Warn("payment allocation sum mismatch",
			slog.Int64("payment_id", id),
			slog.String("amount", amount.Display()),
			slog.String("allocated", allocated.Display()))
	}
	return count, rows.Err()
}
