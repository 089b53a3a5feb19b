package audit

import (
	"errors"
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultCapacity       = 1000
	DefaultQueueSize      = 1024
	DefaultStreamMaxLen   = 100000
	DefaultDropWarnPeriod = 10 * time.Second

	formatJSON = "json"
	formatText = "text"
)

// Config configures the audit log and its sinks.
type Config struct {
	// Capacity is the number of entries retained in memory.
	Capacity int `yaml:"capacity,omitempty" json:"capacity,omitempty"`

	// QueueSize bounds the number of entries waiting for the sinks.
	QueueSize int `yaml:"queueSize,omitempty" json:"queueSize,omitempty"`

	// Output mirrors entries to stdout, stderr or a file path. Empty
	// disables the writer sink.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Format is json or text.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// Stream mirrors entries to a Redis stream when set.
	Stream *StreamConfig `yaml:"stream,omitempty" json:"stream,omitempty"`

	// RedactFields are keys masked in OldValues and NewValues.
	RedactFields []string `yaml:"redactFields,omitempty" json:"redactFields,omitempty"`
}

// StreamConfig configures the Redis stream sink.
type StreamConfig struct {
	Key    string `yaml:"key" json:"key"`
	MaxLen int64  `yaml:"maxLen,omitempty" json:"maxLen,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capacity:  DefaultCapacity,
		QueueSize: DefaultQueueSize,
		Format:    formatJSON,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.Capacity < 0 {
		errs = append(errs, fmt.Errorf("audit capacity must be non-negative, got %d", c.Capacity))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audit queueSize must be non-negative, got %d", c.QueueSize))
	}
	if c.Format != "" && c.Format != formatJSON && c.Format != formatText {
		errs = append(errs, fmt.Errorf("audit format must be %q or %q, got %q", formatJSON, formatText, c.Format))
	}
	if c.Stream != nil && c.Stream.Key == "" {
		errs = append(errs, errors.New("audit stream key is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) capacity() int {
	if c.Capacity <= 0 {
		return DefaultCapacity
	}
	return c.Capacity
}

func (c *Config) queueSize() int {
	if c.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.QueueSize
}

func (c *Config) format() string {
	if c.Format == "" {
		return formatJSON
	}
	return c.Format
}
