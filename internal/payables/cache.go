package payables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const summaryCacheTTL = 5 * time.Minute

// SummaryCache is a read-through redis cache for PO payment summaries.
// Entries are invalidated on every payables write touching the PO; a
// singleflight group collapses concurrent rebuilds of the same key. All
// methods are nil-receiver safe so the cache stays optional.
type SummaryCache struct {
	client *redis.Client
	logger *slog.Logger
	group  singleflight.Group
	ttl    time.Duration
}

func NewSummaryCache(client *redis.Client, logger *slog.Logger) *SummaryCache {
	return &SummaryCache{client: client, logger: logger, ttl: summaryCacheTTL}
}

func summaryKey(poID int64) string {
	return fmt.Sprintf("payables:po:%d:summary", poID)
}

// Summary returns the cached summary for the PO, computing and storing it on
// a miss.
func (c *SummaryCache) Summary(ctx context.Context, poID int64, compute func(context.Context, int64) (POPaymentSummary, error)) (POPaymentSummary, error) {
	if c == nil || c.client == nil {
		return compute(ctx, poID)
	}

	key := summaryKey(poID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var summary POPaymentSummary
		if err := json.Unmarshal(data, &summary); err == nil {
			return summary, nil
		}
		// corrupt entry, fall through to rebuild
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("summary cache read failed", slog.Any("error", err))
	}

	resultCh := c.group.DoChan(key, func() (any, error) {
		summary, err := compute(ctx, poID)
		if err != nil {
			return nil, err
		}
		if encoded, err := json.Marshal(summary); err == nil {
			if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
				c.logger.Warn("summary cache write failed", slog.Any("error", err))
			}
		}
		return summary, nil
	})

	select {
	case <-ctx.Done():
		return POPaymentSummary{}, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return POPaymentSummary{}, res.Err
		}
		return res.Val.(POPaymentSummary), nil
	}
}

// Invalidate drops the cached summary for the PO.
func (c *SummaryCache) Invalidate(ctx context.Context, poID int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, summaryKey(poID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("summary cache invalidate failed",
			slog.Int64("po_id", poID), slog.Any("error", err))
	}
}
