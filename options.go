package memsentry

import (
	"log/slog"

	"github.com/hupe1980/memsentry/internal/resource"
	"github.com/hupe1980/memsentry/telemetry"
)

type options struct {
	mode              *Mode
	fingerprintKey    []byte
	quarantineBytes   int64
	maxQuarantine     int
	bloomItems        int
	bloomFPRate       float64
	decisionPerSecond float64
	decisionBurst     int
	metricsCollector  MetricsCollector
	logger            *Logger
	journal           *telemetry.Journal
	evidenceDir       string
	journalOptions    []telemetry.JournalOption
}

// Option configures Membrane constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. mode-specific constructor variants).
type Option func(*options)

// WithMode overrides the environment-resolved operating mode. The
// mode is fixed for the lifetime of the membrane.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = &m
	}
}

// WithFingerprintKey sets the 32-byte key for the keyed fingerprint
// codec. Without it a random per-process key is generated, which is
// the right choice everywhere except deterministic tests.
func WithFingerprintKey(key []byte) Option {
	return func(o *options) {
		o.fingerprintKey = key
	}
}

// WithQuarantineBudget caps the bytes withheld in quarantine before
// the oldest entries are evicted. Defaults to
// resource.DefaultQuarantineBytes.
func WithQuarantineBudget(bytes int64) Option {
	return func(o *options) {
		o.quarantineBytes = bytes
	}
}

// WithMaxQuarantineEntries caps the quarantine entry count across all
// shards.
func WithMaxQuarantineEntries(n int) Option {
	return func(o *options) {
		o.maxQuarantine = n
	}
}

// WithBloomCapacity sizes the negative-lookup filter for the expected
// number of live pages at the given false-positive rate.
//
// The filter is append-only; undersizing it degrades the fast path
// (more deep validations), never correctness.
func WithBloomCapacity(expectedItems int, fpRate float64) Option {
	return func(o *options) {
		o.bloomItems = expectedItems
		o.bloomFPRate = fpRate
	}
}

// WithDecisionBudget bounds the kernel decision rate. Exhaustion
// forces the conservative path and emits an evidence event.
func WithDecisionBudget(perSecond float64, burst int) Option {
	return func(o *options) {
		o.decisionPerSecond = perSecond
		o.decisionBurst = burst
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &memsentry.BasicMetricsCollector{}
//	m, _ := memsentry.New(memsentry.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
//	fmt.Printf("Validations: %d, Avg latency: %dns\n", stats.ValidationCount, stats.ValidationAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := memsentry.NewJSONLogger(slog.LevelInfo)
//	m, _ := memsentry.New(memsentry.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithJournal attaches an externally managed evidence journal. The
// membrane appends to it but does not close it.
func WithJournal(j *telemetry.Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithEvidenceDir opens an evidence journal in dir owned by the
// membrane; Close finalizes it.
func WithEvidenceDir(dir string, optFns ...telemetry.JournalOption) Option {
	return func(o *options) {
		o.evidenceDir = dir
		o.journalOptions = optFns
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		quarantineBytes:  resource.DefaultQuarantineBytes,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
