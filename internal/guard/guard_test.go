package guard

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/23skdu/longbow-bitnet/internal/logger"
)

type resource struct {
	path string
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingPinner struct {
	mu    sync.Mutex
	calls [][]int
	err   error
}

func (p *recordingPinner) pin(cores []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]int(nil), cores...))
	return p.err
}

func (p *recordingPinner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingObserver struct {
	mu          sync.Mutex
	constructed []error
	pinned      []error
}

func (o *recordingObserver) Constructed(_ string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.constructed = append(o.constructed, err)
}

func (o *recordingObserver) Pinned(_ []int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pinned = append(o.pinned, err)
}

type fixture struct {
	guard  *Guard[*resource]
	calls  *atomic.Int64
	pinner *recordingPinner
	obs    *recordingObserver
	logs   *syncBuffer
}

func newFixture(t *testing.T, ctor Constructor[*resource], extra ...Option) *fixture {
	t.Helper()
	f := &fixture{
		calls:  new(atomic.Int64),
		pinner: &recordingPinner{},
		obs:    &recordingObserver{},
		logs:   &syncBuffer{},
	}
	if ctor == nil {
		ctor = func(path string) (*resource, error) {
			return &resource{path: path}, nil
		}
	}
	counted := func(path string) (*resource, error) {
		f.calls.Add(1)
		return ctor(path)
	}
	opts := []Option{
		WithCores([]int{4, 5, 6, 7}),
		WithPinner(f.pinner.pin),
		WithObserver(f.obs),
		WithLogger(logger.New(f.logs, "json")),
	}
	f.guard = New(counted, append(opts, extra...)...)
	return f
}

func TestSequentialCallsConstructOnce(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.guard.GetOrCreate("valid/path")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := f.guard.GetOrCreate("valid/path")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if first != second {
		t.Error("second call returned a different instance")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("constructor calls = %d, want 1", got)
	}
	if f.guard.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", f.guard.Attempts())
	}
}

func TestConcurrentFirstCallsConstructOnce(t *testing.T) {
	f := newFixture(t, func(path string) (*resource, error) {
		// Widen the race window so every caller piles up on the slow path.
		time.Sleep(20 * time.Millisecond)
		return &resource{path: path}, nil
	})

	const n = 64
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]*resource, n)
		errs    = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.guard.GetOrCreate("valid/path")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d observed a different instance", i)
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("constructor calls = %d, want 1", got)
	}
	if got := f.pinner.count(); got != 1 {
		t.Errorf("pinner calls = %d, want 1", got)
	}
}

func TestPathFrozenAfterSuccess(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.guard.GetOrCreate("models/a.gguf")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"models/b.gguf", "", "models/a.gguf"} {
		got, err := f.guard.GetOrCreate(p)
		if err != nil {
			t.Fatalf("GetOrCreate(%q): %v", p, err)
		}
		if got != first {
			t.Errorf("GetOrCreate(%q) returned a new instance", p)
		}
	}
	if f.guard.Path() != "models/a.gguf" {
		t.Errorf("Path() = %q, want models/a.gguf", f.guard.Path())
	}
	if first.path != "models/a.gguf" {
		t.Errorf("constructed with %q", first.path)
	}
	if f.calls.Load() != 1 {
		t.Errorf("constructor calls = %d, want 1", f.calls.Load())
	}
}

func TestAffinityFailureIsNonFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.pinner.err = errors.New("sched_setaffinity: invalid argument")

	r, err := f.guard.GetOrCreate("valid/path")
	if err != nil {
		t.Fatalf("affinity failure leaked to caller: %v", err)
	}
	if r == nil || r.path != "valid/path" {
		t.Fatalf("unexpected resource %+v", r)
	}
	if !f.guard.Loaded() {
		t.Error("guard should be initialized despite affinity failure")
	}

	logs := f.logs.String()
	if !strings.Contains(logs, "failed to set CPU affinity") || !strings.Contains(logs, `"cores":"4-7"`) {
		t.Errorf("missing affinity diagnostic: %s", logs)
	}
	if len(f.obs.pinned) != 1 || f.obs.pinned[0] == nil {
		t.Errorf("observer pinned events = %v", f.obs.pinned)
	}
}

func TestAffinityAppliedOnceWithConfiguredCores(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := f.guard.GetOrCreate("valid/path"); err != nil {
			t.Fatal(err)
		}
	}

	if f.pinner.count() != 1 {
		t.Fatalf("pinner calls = %d, want 1", f.pinner.count())
	}
	if !reflect.DeepEqual(f.pinner.calls[0], []int{4, 5, 6, 7}) {
		t.Errorf("pinned cores = %v", f.pinner.calls[0])
	}
	if !strings.Contains(f.logs.String(), "pinned thread to cores") {
		t.Errorf("missing pin success diagnostic: %s", f.logs.String())
	}
	if !reflect.DeepEqual(f.guard.Cores(), []int{4, 5, 6, 7}) {
		t.Errorf("Cores() = %v", f.guard.Cores())
	}
}

func TestNoCoresSkipsPinning(t *testing.T) {
	f := newFixture(t, nil, WithCores(nil))

	if _, err := f.guard.GetOrCreate("valid/path"); err != nil {
		t.Fatal(err)
	}
	if f.pinner.count() != 0 {
		t.Errorf("pinner called %d times with no cores configured", f.pinner.count())
	}
	if len(f.obs.pinned) != 0 {
		t.Errorf("observer saw pin events: %v", f.obs.pinned)
	}
}

func TestFailedConstructionAllowsRetry(t *testing.T) {
	errMissing := errors.New("path not found")
	var fail atomic.Bool
	fail.Store(true)

	f := newFixture(t, func(path string) (*resource, error) {
		if fail.Load() {
			return nil, errMissing
		}
		return &resource{path: path}, nil
	})

	r, err := f.guard.GetOrCreate("valid/path")
	if err == nil {
		t.Fatal("expected construction error")
	}
	if r != nil {
		t.Errorf("failed call returned a value: %+v", r)
	}
	if !errors.Is(err, ErrInit) || !errors.Is(err, errMissing) {
		t.Errorf("error %v should match ErrInit and the constructor error", err)
	}
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Path != "valid/path" {
		t.Errorf("expected *InitError for valid/path, got %#v", err)
	}
	if f.guard.Loaded() {
		t.Error("guard must stay uninitialized after failure")
	}
	if f.pinner.count() != 0 {
		t.Error("affinity must not be applied when construction fails")
	}

	fail.Store(false)
	r, err = f.guard.GetOrCreate("valid/path")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if r == nil || !f.guard.Loaded() {
		t.Fatal("retry did not initialize the guard")
	}
	if f.guard.Attempts() != 2 {
		t.Errorf("Attempts() = %d, want 2", f.guard.Attempts())
	}
	if len(f.obs.constructed) != 2 || f.obs.constructed[0] == nil || f.obs.constructed[1] != nil {
		t.Errorf("observer construct events = %v", f.obs.constructed)
	}
	if !strings.Contains(f.logs.String(), "model construction failed") {
		t.Errorf("missing failure diagnostic: %s", f.logs.String())
	}
}

func TestEmptyPathBeforeInit(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.guard.GetOrCreate("")
	if !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
	if f.guard.Attempts() != 0 || f.calls.Load() != 0 {
		t.Error("empty path must not reach the constructor")
	}
}

func TestValueDoesNotConstruct(t *testing.T) {
	f := newFixture(t, nil)

	if _, ok := f.guard.Value(); ok {
		t.Fatal("Value() reported a resource before init")
	}
	if f.guard.Path() != "" {
		t.Errorf("Path() = %q before init", f.guard.Path())
	}
	want, err := f.guard.GetOrCreate("valid/path")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := f.guard.Value()
	if !ok || got != want {
		t.Error("Value() should return the initialized resource")
	}
	if f.calls.Load() != 1 {
		t.Errorf("constructor calls = %d, want 1", f.calls.Load())
	}
}

func TestConstructorPanicLeavesGuardUsable(t *testing.T) {
	var boom atomic.Bool
	boom.Store(true)
	f := newFixture(t, func(path string) (*resource, error) {
		if boom.Load() {
			panic("malformed artifact")
		}
		return &resource{path: path}, nil
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_, _ = f.guard.GetOrCreate("valid/path")
	}()

	boom.Store(false)
	if _, err := f.guard.GetOrCreate("valid/path"); err != nil {
		t.Fatalf("guard unusable after panic: %v", err)
	}
}
