package engine

import (
	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/config"
	"github.com/KevoDB/btkv/pkg/stats"
	"github.com/KevoDB/btkv/pkg/telemetry"
)

type options struct {
	config    *config.Config
	logger    log.Logger
	stats     stats.Collector
	telemetry telemetry.Telemetry
}

// Option configures Create and Open
type Option func(*options)

// WithConfig overrides the configuration stored in the manifest. The
// override is written back to the manifest unless the store is read-only.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithLogger sets the logger. The configured log level is not applied to
// a logger supplied this way.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStats shares a statistics collector with the engine
func WithStats(collector stats.Collector) Option {
	return func(o *options) {
		o.stats = collector
	}
}

// WithTelemetry sets the telemetry the engine reports to. The caller keeps
// ownership and shuts it down.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.telemetry = tel
	}
}
