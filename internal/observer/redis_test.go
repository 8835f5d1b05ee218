package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pricesentry/internal/alert"
)

func TestRedisPublisher(t *testing.T) {
	snap := Snapshot{
		Exchange:  "binance",
		Connected: true,
		Timestamp: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		Prices:    map[string]float64{"BTC/USDT:USDT": 64000},
	}
	rec := alert.Record{
		ID:            1,
		Symbol:        "BTC/USDT:USDT",
		Severity:      alert.SeverityWarning,
		Price:         64000,
		ChangePercent: 3.2,
		Timestamp:     time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}

	t.Run("snapshot_published_on_default_channel", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		payload, err := json.Marshal(snap)
		require.NoError(t, err)
		mock.ExpectPublish(DefaultSnapshotChannel, payload).SetVal(1)

		pub := NewRedisPublisher(client, "", "")
		require.NoError(t, pub.PublishSnapshot(context.Background(), snap))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("alert_published_on_configured_channel", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		payload, err := json.Marshal(rec)
		require.NoError(t, err)
		mock.ExpectPublish("custom.alerts", payload).SetVal(1)

		pub := NewRedisPublisher(client, "", "custom.alerts")
		require.NoError(t, pub.PublishAlert(context.Background(), rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("publish_errors_surface_to_the_registry", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		payload, err := json.Marshal(snap)
		require.NoError(t, err)
		mock.ExpectPublish(DefaultSnapshotChannel, payload).SetErr(errors.New("connection refused"))

		pub := NewRedisPublisher(client, "", "")
		assert.Error(t, pub.PublishSnapshot(context.Background(), snap))
	})
}
