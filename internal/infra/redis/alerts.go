package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// DefaultChannel is the pub/sub channel alerts are published on.
const DefaultChannel = "cafepos:alerts"

// AlertKind names an operator alert.
type AlertKind string

const (
	AlertDeadLetter AlertKind = "dead_letter"
	AlertStaleLog   AlertKind = "stale_log"
)

// Alert is published to operators and kept for dead letters.
type Alert struct {
	Kind       AlertKind            `json:"kind"`
	At         time.Time            `json:"at"`
	OpID       string               `json:"op_id,omitempty"`
	Group      string               `json:"group,omitempty"`
	Operation  domain.OperationKind `json:"operation,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Attempts   int                  `json:"attempts,omitempty"`
	EnqueuedAt time.Time            `json:"enqueued_at,omitzero"`
	Pending    int                  `json:"pending,omitempty"`
	OldestAt   time.Time            `json:"oldest_at,omitzero"`
}

// AlertRepo publishes alerts and keeps recent dead letters in a sorted set
// so operators can list them without access to the local mirror.
type AlertRepo struct {
	rdb       *redis.Client
	channel   string
	retention time.Duration
}

// NewAlertRepo creates a new Redis-backed alert repository.
func NewAlertRepo(client *Client, channel string, retention time.Duration) *AlertRepo {
	if channel == "" {
		channel = DefaultChannel
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &AlertRepo{rdb: client.rdb, channel: channel, retention: retention}
}

// Key helpers
func (r *AlertRepo) queueKey() string {
	return r.channel + ":dead_letters"
}

func (r *AlertRepo) alertKey(opID string) string {
	return fmt.Sprintf("%s:dead_letter:%s", r.channel, opID)
}

// DeadLetterAlert builds the alert for a buried record.
func DeadLetterAlert(dl *domain.DeadLetter) Alert {
	return Alert{
		Kind:       AlertDeadLetter,
		At:         dl.BuriedAt,
		OpID:       dl.Record.OpID.String(),
		Group:      dl.Record.Group,
		Operation:  dl.Record.Op.Kind(),
		Reason:     dl.Reason,
		Attempts:   dl.Record.Attempts,
		EnqueuedAt: dl.Record.EnqueuedAt,
	}
}

// StaleLogAlert builds the alert for a pending log over its thresholds.
func StaleLogAlert(stats storage.LogStats, at time.Time) Alert {
	return Alert{
		Kind:     AlertStaleLog,
		At:       at,
		Pending:  stats.Pending,
		OldestAt: stats.OldestAt,
	}
}

// NotifyDeadLetter stores and publishes a dead letter alert.
func (r *AlertRepo) NotifyDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	alert := DeadLetterAlert(dl)
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if err := r.rdb.Set(ctx, r.alertKey(alert.OpID), data, r.retention).Err(); err != nil {
		return fmt.Errorf("failed to set dead letter: %w", err)
	}
	if err := r.rdb.ZAdd(ctx, r.queueKey(), redis.Z{
		Score:  float64(alert.At.Unix()),
		Member: alert.OpID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter set: %w", err)
	}
	return r.publish(ctx, data)
}

// NotifyStale publishes a stale log alert.
func (r *AlertRepo) NotifyStale(ctx context.Context, stats storage.LogStats) error {
	data, err := json.Marshal(StaleLogAlert(stats, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return r.publish(ctx, data)
}

func (r *AlertRepo) publish(ctx context.Context, data []byte) error {
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Recent returns up to limit dead letter alerts, newest first.
func (r *AlertRepo) Recent(ctx context.Context, limit int) ([]Alert, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.queueKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	alerts := make([]Alert, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, r.alertKey(id)).Bytes()
		if err == redis.Nil {
			// Data expired but ID still in set, remove it
			r.rdb.ZRem(ctx, r.queueKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get dead letter: %w", err)
		}

		var a Alert
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Prune drops set members older than the retention window.
func (r *AlertRepo) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-r.retention).Unix()
	n, err := r.rdb.ZRemRangeByScore(ctx, r.queueKey(), "-inf", fmt.Sprintf("(%d", cutoff)).Result()
	if err != nil {
		return 0, fmt.Errorf("zremrangebyscore failed: %w", err)
	}
	return n, nil
}
