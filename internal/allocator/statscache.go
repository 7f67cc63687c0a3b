package allocator

import (
	"context"
	"encoding/json"
	"fmt"

	"talon/internal/cache"
	"talon/internal/metrics"
	"talon/internal/models"
)

func statsKey(queueID int64, day string) string {
	return fmt.Sprintf("stats:queue:%d:%s", queueID, day)
}

func ticketKey(id string) string {
	return "ticket:" + id
}

// GetTicket reads a ticket through the cache. Transitions invalidate the
// entry, so a cached answer is at worst one TTL stale after an uncached
// writer elsewhere.
func (a *Allocator) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	key := ticketKey(id)

	if raw, err := a.cache.Get(ctx, key); err == nil {
		var ticket models.Ticket
		if err := json.Unmarshal([]byte(raw), &ticket); err == nil {
			metrics.IncCacheHit()
			return &ticket, nil
		}
		_ = a.cache.Delete(ctx, key)
	}
	metrics.IncCacheMiss()

	ticket, err := a.db.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ticket); err == nil {
		if err := a.cache.Set(ctx, key, string(data), a.cfg.statsTTL()); err != nil {
			a.logger.Debug().Err(err).Str("key", key).Msg("ticket cache write failed")
		}
	}
	return ticket, nil
}

func (a *Allocator) invalidateTicket(ctx context.Context, id string) {
	if err := a.cache.Delete(ctx, ticketKey(id)); err != nil {
		a.logger.Debug().Err(err).Str("ticket_id", id).Msg("ticket cache invalidation failed")
	}
}

// Stats returns the queue's per-status counts for a day, read-through cached.
// A miss or a dead cache falls back to recomputing from ticket rows, so the
// answer is correct with or without the cache layer.
func (a *Allocator) Stats(ctx context.Context, queueID int64, day string) (*models.QueueStats, error) {
	key := statsKey(queueID, day)

	if cached, err := a.readStatsCache(ctx, key); err == nil {
		metrics.IncCacheHit()
		return cached, nil
	}
	metrics.IncCacheMiss()

	stats, err := a.db.QueueStatsForDay(ctx, queueID, day)
	if err != nil {
		return nil, err
	}
	a.writeStatsCache(ctx, key, stats)
	return stats, nil
}

// EstimatedWait combines a ticket's live position with the queue's average
// service duration.
func (a *Allocator) EstimatedWait(ctx context.Context, ticketID string) (position, minutes int, err error) {
	ticket, err := a.db.GetTicket(ctx, ticketID)
	if err != nil {
		return 0, 0, err
	}

	position, err = a.db.TicketPosition(ctx, ticketID)
	if err != nil {
		return 0, 0, err
	}

	stats, err := a.Stats(ctx, ticket.QueueID, ticket.Day)
	if err != nil {
		return 0, 0, err
	}
	return position, stats.EstimatedWaitMinutes(position), nil
}

func (a *Allocator) readStatsCache(ctx context.Context, key string) (*models.QueueStats, error) {
	raw, err := a.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var stats models.QueueStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		// A corrupt entry is dropped and recomputed.
		_ = a.cache.Delete(ctx, key)
		return nil, cache.ErrMiss
	}
	stats.Cached = true
	return &stats, nil
}

func (a *Allocator) writeStatsCache(ctx context.Context, key string, stats *models.QueueStats) {
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, string(data), a.cfg.statsTTL()); err != nil {
		a.logger.Debug().Err(err).Str("key", key).Msg("stats cache write failed")
	}
}

// invalidateStats drops the cached stats entry after a committed write so the
// next read reflects the durable state.
func (a *Allocator) invalidateStats(ctx context.Context, queueID int64, day string) {
	if err := a.cache.Delete(ctx, statsKey(queueID, day)); err != nil {
		a.logger.Debug().Err(err).Int64("queue_id", queueID).Msg("stats cache invalidation failed")
	}
}
