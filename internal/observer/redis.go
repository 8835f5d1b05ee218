package observer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/pricesentry/internal/alert"
)

// Default pub/sub channels for the Redis publisher.
const (
	DefaultSnapshotChannel = "pricesentry.snapshots"
	DefaultAlertChannel    = "pricesentry.alerts"
)

// RedisPublisher publishes snapshots and alerts as JSON on pub/sub
// channels for external dashboards.
type RedisPublisher struct {
	client          redis.UniversalClient
	snapshotChannel string
	alertChannel    string
}

// NewRedisPublisher wraps an existing client. Empty channel names fall
// back to the defaults.
func NewRedisPublisher(client redis.UniversalClient, snapshotChannel, alertChannel string) *RedisPublisher {
	if snapshotChannel == "" {
		snapshotChannel = DefaultSnapshotChannel
	}
	if alertChannel == "" {
		alertChannel = DefaultAlertChannel
	}
	return &RedisPublisher{
		client:          client,
		snapshotChannel: snapshotChannel,
		alertChannel:    alertChannel,
	}
}

// DialRedis builds a publisher for the given address and verifies the
// connection with a ping.
func DialRedis(ctx context.Context, addr, snapshotChannel, alertChannel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisPublisher(client, snapshotChannel, alertChannel), nil
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) PublishSnapshot(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.client.Publish(ctx, p.snapshotChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (p *RedisPublisher) PublishAlert(ctx context.Context, rec alert.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.client.Publish(ctx, p.alertChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
