package bridge

import (
	"context"
	"sync"

	"github.com/23skdu/longbow-bitnet/internal/config"
	"github.com/23skdu/longbow-bitnet/internal/journal"
	"github.com/23skdu/longbow-bitnet/internal/logger"
	"github.com/23skdu/longbow-bitnet/internal/monitoring"
)

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process-wide bridge, building it from
// config.Resolve on first use. A bad configuration is logged and the
// built-in defaults are used instead, so foreign callers always get a
// usable bridge.
func Default() *Bridge {
	defaultOnce.Do(func() {
		cfg, err := config.Resolve()
		if err != nil {
			logger.Log.Error("invalid configuration, using defaults", "error", err)
			cfg = config.Default()
		}
		defaultBridge = FromConfig(context.Background(), cfg)
	})
	return defaultBridge
}

// FromConfig sets up logging and the optional journal and status server
// described by cfg, then returns a bridge over them.
func FromConfig(ctx context.Context, cfg config.Config, opts ...Option) *Bridge {
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	var base []Option
	if cfg.Journal.Addr != "" {
		fj := journal.NewFlightJournal(cfg.Journal.Addr, cfg.Journal.BatchSize)
		if err := fj.Connect(ctx); err != nil {
			logger.Log.Warn("journal disabled", "addr", cfg.Journal.Addr, "error", err)
		} else {
			base = append(base, WithJournal(fj))
		}
	}

	var mon *monitoring.HealthMonitor
	if cfg.Metrics.Addr != "" {
		mon = monitoring.NewHealthMonitor()
		base = append(base, WithMonitor(mon))
	}

	b := New(cfg, append(base, opts...)...)

	if mon != nil {
		mon.SetSource(b)
		go func() {
			if err := mon.Start(cfg.Metrics.Addr); err != nil {
				logger.Log.Error("status server stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}
	return b
}
