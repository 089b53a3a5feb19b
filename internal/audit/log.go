package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

const redactedValue = "[REDACTED]"

// Recorder records audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) Entry
}

// Log is a bounded in-memory audit log with asynchronous sinks.
// It is safe for concurrent use.
type Log struct {
	config  *Config
	logger  observability.Logger
	metrics *Metrics
	clock   func() time.Time

	mu      sync.RWMutex
	entries []Entry
	next    int
	size    int

	sinks    []Sink
	queue    chan Entry
	sendMu   sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	dropWarn rate.Sometimes
}

var _ Recorder = (*Log)(nil)

// Option is a functional option for Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(l *Log) {
		l.metrics = metrics
	}
}

// WithClock sets the clock used to timestamp entries.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		l.clock = clock
	}
}

// WithSinks adds sinks receiving every recorded entry.
func WithSinks(sinks ...Sink) Option {
	return func(l *Log) {
		l.sinks = append(l.sinks, sinks...)
	}
}

// NewLog creates a log. Sinks are served by a single background goroutine
// that is stopped by Close.
func NewLog(config *Config, opts ...Option) *Log {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Log{
		config:   config,
		logger:   observability.NopLogger(),
		clock:    time.Now,
		dropWarn: rate.Sometimes{Interval: DefaultDropWarnPeriod},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(nil)
	}

	l.entries = make([]Entry, config.capacity())

	if len(l.sinks) > 0 {
		l.queue = make(chan Entry, config.queueSize())
		l.wg.Add(1)
		go l.dispatch()
	}

	return l
}

// Record completes e with an id, timestamp and trace id, stores it and
// queues it for the sinks. It never blocks on a sink.
func (l *Log) Record(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock()
	}
	if e.TraceID == "" {
		e.TraceID = observability.TraceIDFromContext(ctx)
	}
	e.OldValues = l.redact(e.OldValues)
	e.NewValues = l.redact(e.NewValues)

	l.mu.Lock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	l.mu.Unlock()

	l.metrics.entriesTotal.WithLabelValues(string(e.Result)).Inc()
	l.enqueue(e)
	return e
}

func (l *Log) enqueue(e Entry) {
	if l.queue == nil {
		return
	}

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- e:
	default:
		l.metrics.droppedTotal.Inc()
		l.dropWarn.Do(func() {
			l.logger.Warn("audit sink queue full, dropping entries",
				observability.Int("queue_size", cap(l.queue)),
			)
		})
	}
}

func (l *Log) dispatch() {
	defer l.wg.Done()

	for e := range l.queue {
		for _, s := range l.sinks {
			if err := s.Write(context.Background(), e); err != nil {
				l.metrics.sinkErrors.WithLabelValues(s.Name()).Inc()
				l.logger.Error("failed to write audit entry",
					observability.String("sink", s.Name()),
					observability.String("entry_id", e.ID),
					observability.Error(err),
				)
			}
		}
	}
}

// Query returns matching entries, newest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	capacity := len(l.entries)
	n := l.size
	if f.Limit > 0 && f.Limit < n {
		n = f.Limit
	}
	out := make([]Entry, 0, n)
	for i := 0; i < l.size; i++ {
		idx := (l.next - 1 - i + capacity) % capacity
		e := &l.entries[idx]
		if !f.matches(e) {
			continue
		}
		out = append(out, *e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Close stops accepting sink work, drains the queue and closes the sinks.
func (l *Log) Close() error {
	l.sendMu.Lock()
	if l.closed {
		l.sendMu.Unlock()
		return nil
	}
	l.closed = true
	if l.queue != nil {
		close(l.queue)
	}
	l.sendMu.Unlock()

	l.wg.Wait()

	var firstErr error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Log) redact(values map[string]any) map[string]any {
	if len(values) == 0 || len(l.config.RedactFields) == 0 {
		return values
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if l.shouldRedact(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = v
	}
	return out
}

func (l *Log) shouldRedact(field string) bool {
	lower := strings.ToLower(field)
	for _, r := range l.config.RedactFields {
		if strings.Contains(lower, strings.ToLower(r)) {
			return true
		}
	}
	return false
}
