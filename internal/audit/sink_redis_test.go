package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamSink(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := NewRedisStreamSink(client, &StreamConfig{Key: "rosterguard:audit"})
	assert.Equal(t, "redis_stream", sink.Name())

	e := Entry{
		ID:        "a1",
		UserID:    "u1",
		TenantID:  "t1",
		Action:    "schedules:create",
		Timestamp: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		Result:    ResultSuccess,
	}
	require.NoError(t, sink.Write(context.Background(), e))

	msgs, err := client.XRange(context.Background(), "rosterguard:audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "u1", msgs[0].Values["user_id"])
	assert.Equal(t, "success", msgs[0].Values["result"])

	var decoded Entry
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["entry"].(string)), &decoded))
	assert.Equal(t, e, decoded)
	assert.NoError(t, sink.Close())
}

func TestRedisStreamSink_Error(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	sink := NewRedisStreamSink(client, &StreamConfig{Key: "audit", MaxLen: 10})
	err := sink.Write(context.Background(), Entry{ID: "a1", Result: ResultSuccess})
	assert.Error(t, err)
}

func TestLog_WithRedisStreamSink(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, _ := newTestLog(t, nil, WithSinks(NewRedisStreamSink(client, &StreamConfig{Key: "audit"})))
	l.Record(context.Background(), Entry{UserID: "u1", Result: ResultBlocked})
	l.Record(context.Background(), Entry{UserID: "u2", Result: ResultSuccess})
	require.NoError(t, l.Close())

	n, err := client.XLen(context.Background(), "audit").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
