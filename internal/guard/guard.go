// Package guard provides a process-scoped lazy cell for an expensive resource.
//
// The first successful GetOrCreate constructs the value and applies a CPU
// affinity hint to the constructing thread. The value is published with an
// atomic store and never torn down: it lives until the process exits.
// A failed construction leaves the guard empty so a later call can retry.
package guard

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/longbow-bitnet/internal/affinity"
	"github.com/23skdu/longbow-bitnet/internal/logger"
)

var (
	ErrEmptyPath = errors.New("guard: empty construction path")
	ErrInit      = errors.New("guard: construction failed")
)

// InitError carries the constructor failure. errors.Is(err, ErrInit) holds.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("guard: construct %q: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInit }

// Constructor builds the resource from its path.
type Constructor[T any] func(path string) (T, error)

// Pinner restricts the calling thread to cores.
type Pinner func(cores []int) error

// Observer receives lifecycle events, for metrics.
type Observer interface {
	Constructed(path string, err error, took time.Duration)
	Pinned(cores []int, err error)
}

type Option func(*options)

type options struct {
	cores    []int
	pin      Pinner
	observer Observer
	log      *logger.Logger
}

// WithCores sets the affinity hint. An empty set disables pinning.
func WithCores(cores []int) Option {
	return func(o *options) { o.cores = append([]int(nil), cores...) }
}

// WithPinner replaces affinity.PinCurrentThread.
func WithPinner(p Pinner) Option {
	return func(o *options) { o.pin = p }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

type entry[T any] struct {
	value T
	path  string
}

type Guard[T any] struct {
	ctor Constructor[T]
	opts options

	mu       sync.Mutex // serializes construction
	cell     atomic.Pointer[entry[T]]
	attempts atomic.Int64
}

func New[T any](ctor Constructor[T], opts ...Option) *Guard[T] {
	o := options{
		pin:      affinity.PinCurrentThread,
		observer: metricsObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Guard[T]{ctor: ctor, opts: o}
}

// GetOrCreate returns the resource, constructing it on first use.
// Once initialized the path argument is ignored.
func (g *Guard[T]) GetOrCreate(path string) (T, error) {
	if e := g.cell.Load(); e != nil {
		return e.value, nil
	}

	var zero T
	if path == "" {
		return zero, ErrEmptyPath
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if e := g.cell.Load(); e != nil {
		return e.value, nil
	}

	g.attempts.Add(1)
	log := g.logger()
	start := time.Now()
	v, err := g.ctor(path)
	took := time.Since(start)
	g.opts.observer.Constructed(path, err, took)
	if err != nil {
		log.Error("model construction failed", "path", path, "error", err, "took", took.String())
		return zero, &InitError{Path: path, Err: err}
	}

	g.pinConstructor(log)

	g.cell.Store(&entry[T]{value: v, path: path})
	log.Info("model initialized", "path", path, "took", took.String())
	return v, nil
}

// pinConstructor applies the affinity hint. Failure is a diagnostic only.
func (g *Guard[T]) pinConstructor(log *logger.Logger) {
	cores := g.opts.cores
	if len(cores) == 0 {
		return
	}
	err := g.opts.pin(cores)
	g.opts.observer.Pinned(cores, err)
	if err != nil {
		log.Warn("failed to set CPU affinity", "cores", affinity.Format(cores), "error", err)
		return
	}
	log.Info("pinned thread to cores", "cores", affinity.Format(cores))
}

func (g *Guard[T]) logger() *logger.Logger {
	if g.opts.log != nil {
		return g.opts.log
	}
	return logger.Log.With("component", "guard")
}

// Value returns the resource without constructing it.
func (g *Guard[T]) Value() (T, bool) {
	if e := g.cell.Load(); e != nil {
		return e.value, true
	}
	var zero T
	return zero, false
}

func (g *Guard[T]) Loaded() bool {
	return g.cell.Load() != nil
}

// Path is the path the resource was built from, empty until initialized.
func (g *Guard[T]) Path() string {
	if e := g.cell.Load(); e != nil {
		return e.path
	}
	return ""
}

// Attempts counts constructor invocations, successful or not.
func (g *Guard[T]) Attempts() int {
	return int(g.attempts.Load())
}

// Cores is the configured affinity hint.
func (g *Guard[T]) Cores() []int {
	return append([]int(nil), g.opts.cores...)
}
