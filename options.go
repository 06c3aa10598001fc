package coro

import "github.com/joeycumines/go-catrate"

// schedulerConfig holds configuration resolved from SchedulerOption values.
type schedulerConfig struct {
	logger      *Logger
	metrics     *Metrics
	acceptLimit *catrate.Limiter
	stackHint   int
}

// SchedulerOption configures a Scheduler at construction time, following the
// functional-options idiom used throughout this runtime's adapters.
type SchedulerOption interface {
	applyScheduler(*schedulerConfig)
}

type schedulerOptionFunc func(*schedulerConfig)

func (f schedulerOptionFunc) applyScheduler(c *schedulerConfig) { f(c) }

// WithLogger attaches a structured logger (see logging.go). The default is a
// no-op logger: nothing is logged unless a caller opts in.
func WithLogger(l *Logger) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) { c.logger = l })
}

// WithMetrics attaches a Metrics collector (see metrics.go). The default is
// nil, meaning the scheduler records nothing.
func WithMetrics(m *Metrics) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) { c.metrics = m })
}

// WithAcceptRateLimit attaches a go-catrate limiter consulted by every
// listener Accept on this scheduler (see ratelimit.go).
func WithAcceptRateLimit(l *catrate.Limiter) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) { c.acceptLimit = l })
}

// WithStackHint sets the initial goroutine stack size hint used for new
// tasks. It exists for parity with spec.md's configurable task stack size;
// Go's runtime grows goroutine stacks automatically, so this is advisory
// only and currently unused beyond being recorded for introspection.
func WithStackHint(bytes int) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) { c.stackHint = bytes })
}

func resolveSchedulerOptions(opts []SchedulerOption) *schedulerConfig {
	cfg := &schedulerConfig{logger: noopLogger()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(cfg)
	}
	return cfg
}
