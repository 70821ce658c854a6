package ygggo_orm

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yggai/ygggo_orm/dialect"
)

type options struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	recovery       RecoveryPolicy
	leakHandler    func(BorrowLeak)
	dialect        dialect.Dialect
}

// Option configures pools, executors and registries.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger:   slog.New(slog.DiscardHandler),
		recovery: ReconnectOnce,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithLogger sets the structured logger. Logging is off by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithRecoveryPolicy replaces ReconnectOnce as the commit/rollback failure policy.
func WithRecoveryPolicy(p RecoveryPolicy) Option {
	return func(o *options) { o.recovery = p }
}

// WithLeakHandler is called once for every connection held longer than
// PoolConfig.BorrowWarnThreshold.
func WithLeakHandler(fn func(BorrowLeak)) Option {
	return func(o *options) { o.leakHandler = fn }
}

// WithDialect overrides the dialect derived from Config.Driver.
func WithDialect(d dialect.Dialect) Option {
	return func(o *options) { o.dialect = d }
}
