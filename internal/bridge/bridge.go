// Package bridge is the single entry point foreign callers go through.
//
// A Bridge owns the process-scoped model guard. Every call validates its
// input, obtains the shared model (constructing it on first use) and
// returns the generated text. Errors never leave partial output behind.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/23skdu/longbow-bitnet/internal/config"
	"github.com/23skdu/longbow-bitnet/internal/guard"
	"github.com/23skdu/longbow-bitnet/internal/journal"
	"github.com/23skdu/longbow-bitnet/internal/logger"
	"github.com/23skdu/longbow-bitnet/internal/metrics"
	"github.com/23skdu/longbow-bitnet/internal/model"
	"github.com/23skdu/longbow-bitnet/internal/monitoring"
)

var (
	ErrInvalidEncoding  = errors.New("bridge: input is not valid UTF-8")
	ErrModelUnavailable = errors.New("bridge: model unavailable")
)

type Option func(*Bridge)

// WithJournal records an entry per call. Journal errors are logged only.
func WithJournal(j journal.Journal) Option {
	return func(b *Bridge) { b.journal = j }
}

// WithConstructor replaces model.Open, mostly for tests.
func WithConstructor(c guard.Constructor[*model.Model]) Option {
	return func(b *Bridge) { b.ctor = c }
}

// WithGuardOptions passes extra options to the underlying guard.
func WithGuardOptions(opts ...guard.Option) Option {
	return func(b *Bridge) { b.guardOpts = append(b.guardOpts, opts...) }
}

func WithLogger(l *logger.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithMonitor feeds call outcomes to a health monitor.
func WithMonitor(m *monitoring.HealthMonitor) Option {
	return func(b *Bridge) { b.monitor = m }
}

type Bridge struct {
	cfg       config.Config
	ctor      guard.Constructor[*model.Model]
	guardOpts []guard.Option
	guard     *guard.Guard[*model.Model]
	journal   journal.Journal
	monitor   *monitoring.HealthMonitor
	log       *logger.Logger

	lastErr atomic.Pointer[string]
}

// New wires a guard over model.Open using the configured path and cores.
// Nothing is constructed until the first Respond.
func New(cfg config.Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:  cfg,
		ctor: model.Open,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Log.With("component", "bridge")
	}
	gopts := []guard.Option{
		guard.WithCores(cfg.Affinity.Cores),
		guard.WithLogger(b.log),
	}
	b.guard = guard.New(b.ctor, append(gopts, b.guardOpts...)...)
	return b
}

// Respond turns input into the model's response.
//
// Input must be valid UTF-8 and is rejected before the model is touched.
// The first successful call constructs the model; a failed construction
// is reported as ErrModelUnavailable and retried on the next call.
func (b *Bridge) Respond(ctx context.Context, input []byte) (string, error) {
	start := time.Now()
	if !utf8.Valid(input) {
		b.finish(ctx, metrics.ResultInvalidEncoding, len(input), 0, start)
		b.log.Debug("rejected input", "bytes", len(input), "error", ErrInvalidEncoding)
		return "", ErrInvalidEncoding
	}

	m, err := b.guard.GetOrCreate(b.cfg.Model.Path)
	if err != nil {
		msg := err.Error()
		b.lastErr.Store(&msg)
		b.finish(ctx, metrics.ResultUnavailable, len(input), 0, start)
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	b.lastErr.Store(nil)

	out, err := m.Generate(string(input))
	if err != nil {
		// Only reachable if the model's own checks diverge from ours.
		b.finish(ctx, metrics.ResultError, len(input), 0, start)
		if errors.Is(err, model.ErrInvalidEncoding) {
			return "", ErrInvalidEncoding
		}
		return "", err
	}

	b.finish(ctx, metrics.ResultOK, len(input), len(out), start)
	return out, nil
}

func (b *Bridge) finish(ctx context.Context, result string, in, out int, start time.Time) {
	took := time.Since(start)
	metrics.RecordGenerate(result, in, took)
	if b.monitor != nil {
		b.monitor.RecordGeneration(result, took)
	}
	if b.journal == nil {
		return
	}
	err := b.journal.Record(ctx, journal.Entry{
		Time:          start,
		Model:         b.cfg.Model.Path,
		PromptBytes:   in,
		ResponseBytes: out,
		Duration:      took,
		Result:        result,
	})
	if err != nil {
		b.log.Warn("journal record failed", "error", err)
	}
}

// Loaded reports whether the model has been constructed.
func (b *Bridge) Loaded() bool {
	return b.guard.Loaded()
}

// Model returns the shared model without constructing it.
func (b *Bridge) Model() (*model.Model, bool) {
	return b.guard.Value()
}

func (b *Bridge) Config() config.Config {
	return b.cfg
}

// ModelInfo implements monitoring.Source.
func (b *Bridge) ModelInfo() monitoring.ModelInfo {
	mi := monitoring.ModelInfo{
		Loaded:    b.guard.Loaded(),
		ModelPath: b.cfg.Model.Path,
		Cores:     b.guard.Cores(),
		Attempts:  b.guard.Attempts(),
	}
	if e := b.lastErr.Load(); e != nil {
		mi.LastError = *e
	}
	if m, ok := b.guard.Value(); ok {
		info := m.Info()
		mi.ModelPath = info.Path
		mi.ModelSize = info.Size
		mi.Architecture = info.Architecture
		mi.ContextLength = info.ContextLength
	}
	return mi
}

// Close flushes the journal. The model itself is never torn down.
func (b *Bridge) Close() error {
	if b.journal == nil {
		return nil
	}
	return b.journal.Close()
}
