package spatio

import (
	"go.uber.org/zap"

	"github.com/spatiodb/spatio/internal/metrics"
)

// config collects every knob Open/OpenInMemory accept. Configuration
// loading/serialization (env vars, files, CLI flags) is out of scope; these
// are plain constructor arguments, not a parsed format.
type config struct {
	logger *zap.Logger
	metrics *metrics.Collector

	// flushThreshold is the number of pending cold-log lines before a
	// forced flush to the OS.
	flushThreshold int
	// ringCapacity is the number of recent samples retained per object in
	// the cold-state ring buffer.
	ringCapacity int
}

func defaultConfig() config {
	return config{
		logger:         zap.NewNop(),
		flushThreshold: 32,
		ringCapacity:   100,
	}
}

// Option configures an Engine at Open/OpenInMemory time.
type Option func(*config)

// WithLogger sets the *zap.Logger the engine and its components log
// through. A nil logger is treated as a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
	}
}

// WithMetrics attaches a metrics.Collector the engine updates as it
// processes writes and queries. The caller is responsible for registering
// it against their own Prometheus registry.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *config) { c.metrics = collector }
}

// WithFlushThreshold sets the number of pending cold-log lines before a
// forced flush.
func WithFlushThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.flushThreshold = n
		}
	}
}

// WithRingCapacity sets the per-object in-memory trajectory ring buffer
// capacity.
func WithRingCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.ringCapacity = n
		}
	}
}
