package types

import (
	"fmt"
	"time"
)

// Config is the single process-wide configuration. It is constructed once
// (directly or via the config package) and passed by value to every
// component constructor; components never reach back to global state.
type Config struct {
	Query     QueryConfig     `json:"query" yaml:"query"`
	Ingestion IngestionConfig `json:"ingestion" yaml:"ingestion"`
}

// QueryConfig configures the query-side pipeline (receiver, correlator,
// assembler).
type QueryConfig struct {
	Timeout     TimeoutConfig     `json:"timeout" yaml:"timeout"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Concurrency ConcurrencyConfig `json:"concurrency" yaml:"concurrency"`
	Buffer      BufferConfig      `json:"buffer" yaml:"buffer"`
}

// IngestionConfig configures the ingestion-side pipeline (frame processor,
// transmitter).
type IngestionConfig struct {
	Timeout     TimeoutConfig     `json:"timeout" yaml:"timeout"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Concurrency ConcurrencyConfig `json:"concurrency" yaml:"concurrency"`
	Buffer      BufferConfig      `json:"buffer" yaml:"buffer"`

	// StreamType selects Unidirectional or Bidirectional transmission.
	StreamType string `json:"streamType" yaml:"streamType"`
	// StreamCount is the number of parallel forward streams (>= 1).
	StreamCount int `json:"streamCount" yaml:"streamCount"`
	// MaxDecomposedBytes caps the estimated serialized size of one
	// request; larger frames are decomposed. Zero disables decomposition.
	MaxDecomposedBytes int `json:"maxDecomposedBytes" yaml:"maxDecomposedBytes"`
	// MirrorBackpressure propagates buffer fullness to the caller-side
	// ingest call.
	MirrorBackpressure bool `json:"mirrorBackpressure" yaml:"mirrorBackpressure"`
}

// TimeoutConfig is a duration expressed as (limit, unit) so configuration
// files stay unit-explicit.
type TimeoutConfig struct {
	Limit int64  `json:"limit" yaml:"limit"`
	Unit  string `json:"unit" yaml:"unit"`
}

// Duration resolves the configured limit and unit. Unknown units fail.
func (t TimeoutConfig) Duration() (time.Duration, error) {
	if t.Limit <= 0 {
		return 0, nil
	}
	var unit time.Duration
	switch t.Unit {
	case "ns", "nanoseconds":
		unit = time.Nanosecond
	case "us", "microseconds":
		unit = time.Microsecond
	case "ms", "milliseconds":
		unit = time.Millisecond
	case "s", "", "seconds":
		unit = time.Second
	case "m", "minutes":
		unit = time.Minute
	default:
		return 0, fmt.Errorf("timeout config: unknown unit %q", t.Unit)
	}
	return time.Duration(t.Limit) * unit, nil
}

// LoggingConfig toggles component logging.
type LoggingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Level   string `json:"level" yaml:"level"`
}

// ConcurrencyConfig tunes the worker pools. MaxThreads bounds the pool;
// PivotSize is the minimum unit-of-work cardinality at which parallel
// processing is used at all.
type ConcurrencyConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	MaxThreads int  `json:"maxThreads" yaml:"maxThreads"`
	PivotSize  int  `json:"pivotSize" yaml:"pivotSize"`
}

// BufferConfig sizes the bounded message buffer backing a pipeline.
// CapacityBytes selects allocation-bounded accounting when positive;
// otherwise Capacity counts messages.
type BufferConfig struct {
	Capacity      int   `json:"capacity" yaml:"capacity"`
	CapacityBytes int64 `json:"capacityBytes" yaml:"capacityBytes"`
	Backpressure  bool  `json:"backpressure" yaml:"backpressure"`
}

// Stream type names used by IngestionConfig.StreamType.
const (
	StreamTypeUnidirectional = "unidirectional"
	StreamTypeBidirectional  = "bidirectional"
)

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		Query: QueryConfig{
			Timeout:     TimeoutConfig{Limit: 60, Unit: "seconds"},
			Logging:     LoggingConfig{Enabled: true, Level: "INFO"},
			Concurrency: ConcurrencyConfig{Enabled: true, MaxThreads: 4, PivotSize: 8},
			Buffer:      BufferConfig{Capacity: 1024, Backpressure: true},
		},
		Ingestion: IngestionConfig{
			Timeout:            TimeoutConfig{Limit: 60, Unit: "seconds"},
			Logging:            LoggingConfig{Enabled: true, Level: "INFO"},
			Concurrency:        ConcurrencyConfig{Enabled: true, MaxThreads: 4, PivotSize: 8},
			Buffer:             BufferConfig{Capacity: 1024, Backpressure: true},
			StreamType:         StreamTypeBidirectional,
			StreamCount:        1,
			MaxDecomposedBytes: 4 * 1024 * 1024,
			MirrorBackpressure: true,
		},
	}
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Ingestion.StreamCount < 1 {
		return fmt.Errorf("config: ingestion.streamCount must be >= 1, got %d", c.Ingestion.StreamCount)
	}
	switch c.Ingestion.StreamType {
	case StreamTypeUnidirectional, StreamTypeBidirectional:
	default:
		return fmt.Errorf("config: unknown ingestion.streamType %q", c.Ingestion.StreamType)
	}
	if c.Ingestion.MaxDecomposedBytes < 0 {
		return fmt.Errorf("config: ingestion.maxDecomposedBytes must be >= 0")
	}
	for _, tc := range []TimeoutConfig{c.Query.Timeout, c.Ingestion.Timeout} {
		if _, err := tc.Duration(); err != nil {
			return err
		}
	}
	return nil
}
