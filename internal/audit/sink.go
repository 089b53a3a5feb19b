package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sink receives recorded entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Entry) error
	Close() error
}

// WriterSink writes entries as JSON lines or text.
type WriterSink struct {
	format string
	mu     sync.Mutex
	writer io.Writer
	closer io.Closer
}

// NewWriterSink creates a sink writing to w in format (json or text).
func NewWriterSink(w io.Writer, format string) *WriterSink {
	if format == "" {
		format = formatJSON
	}
	return &WriterSink{writer: w, format: format}
}

// OpenWriterSink creates a sink for output: stdout, stderr or a file path.
func OpenWriterSink(output, format string) (*WriterSink, error) {
	switch output {
	case "stdout":
		return NewWriterSink(os.Stdout, format), nil
	case "stderr":
		return NewWriterSink(os.Stderr, format), nil
	default:
		//nolint:gosec // G304: path comes from trusted configuration
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		s := NewWriterSink(file, format)
		s.closer = file
		return s, nil
	}
}

// Name implements Sink.
func (s *WriterSink) Name() string { return "writer" }

// Write implements Sink.
func (s *WriterSink) Write(_ context.Context, e Entry) error {
	var out []byte
	if s.format == formatText {
		out = []byte(formatEntryText(&e))
	} else {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		out = append(b, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Write(out)
	return err
}

// Close implements Sink.
func (s *WriterSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func formatEntryText(e *Entry) string {
	var sb strings.Builder

	sb.WriteString(e.Timestamp.Format(time.RFC3339))
	sb.WriteString(" ")
	sb.WriteString(string(e.Result))
	sb.WriteString(" action=")
	sb.WriteString(e.Action)
	sb.WriteString(" user=")
	sb.WriteString(e.UserID)

	if e.TenantID != "" {
		sb.WriteString(" tenant=")
		sb.WriteString(e.TenantID)
	}
	if e.Resource != "" {
		sb.WriteString(" resource=")
		sb.WriteString(e.Resource)
	}
	if e.ResourceID != "" {
		sb.WriteString(" resource_id=")
		sb.WriteString(e.ResourceID)
	}
	if e.TraceID != "" {
		sb.WriteString(" trace_id=")
		sb.WriteString(e.TraceID)
	}
	if e.Reason != "" {
		sb.WriteString(" reason=")
		sb.WriteString(fmt.Sprintf("%q", e.Reason))
	}

	sb.WriteString("\n")
	return sb.String()
}

// RedisStreamSink appends entries to a capped Redis stream.
type RedisStreamSink struct {
	client redis.UniversalClient
	key    string
	maxLen int64
}

// NewRedisStreamSink creates a stream sink. The stream is trimmed
// approximately to maxLen entries.
func NewRedisStreamSink(client redis.UniversalClient, cfg *StreamConfig) *RedisStreamSink {
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, key: cfg.Key, maxLen: maxLen}
}

// Name implements Sink.
func (s *RedisStreamSink) Name() string { return "redis_stream" }

// Write implements Sink.
func (s *RedisStreamSink) Write(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":        e.ID,
			"tenant_id": e.TenantID,
			"user_id":   e.UserID,
			"result":    string(e.Result),
			"entry":     payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to audit stream %q: %w", s.key, err)
	}
	return nil
}

// Close implements Sink. The client is owned by the caller.
func (s *RedisStreamSink) Close() error {
	return nil
}
