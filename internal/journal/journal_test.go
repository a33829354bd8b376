package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func sampleEntries(n int) []Entry {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			Time:          base.Add(time.Duration(i) * time.Second),
			Model:         "/sdcard/models/bitnet-100b.gguf",
			PromptBytes:   5 + i,
			ResponseBytes: 35 + i,
			Duration:      time.Duration(i+1) * time.Millisecond,
			Result:        "ok",
		}
	}
	return out
}

func TestBuildRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := BuildRecord(mem, sampleEntries(3))
	defer rec.Release()

	if rec.NumRows() != 3 {
		t.Fatalf("NumRows = %d, want 3", rec.NumRows())
	}
	if !rec.Schema().Equal(Schema) {
		t.Errorf("schema mismatch: %s", rec.Schema())
	}

	prompt := rec.Column(2).(*array.Int64)
	if prompt.Value(0) != 5 || prompt.Value(2) != 7 {
		t.Errorf("prompt_bytes = %v", prompt)
	}
	dur := rec.Column(4).(*array.Int64)
	if dur.Value(1) != 2000 {
		t.Errorf("duration_us[1] = %d, want 2000", dur.Value(1))
	}
	if got := rec.Column(5).(*array.String).Value(0); got != "ok" {
		t.Errorf("result = %q", got)
	}
	ts := rec.Column(0).(*array.Timestamp)
	if ts.Value(0) != arrow.Timestamp(sampleEntries(1)[0].Time.UnixMicro()) {
		t.Errorf("time[0] = %v", ts.Value(0))
	}
}

func TestBuildRecordEmpty(t *testing.T) {
	rec := BuildRecord(nil, nil)
	defer rec.Release()
	if rec.NumRows() != 0 {
		t.Errorf("NumRows = %d, want 0", rec.NumRows())
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	for _, e := range sampleEntries(3) {
		if err := m.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	got := m.Entries()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].PromptBytes != 6 || got[1].PromptBytes != 7 {
		t.Errorf("expected the two newest entries, got %+v", got)
	}
	if err := m.Flush(ctx); err != nil {
		t.Error(err)
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}
	if err := m.Record(ctx, Entry{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close = %v, want ErrClosed", err)
	}
}

func TestRecordReturnsErrorWhenNotConnected(t *testing.T) {
	j := NewFlightJournal("localhost:3000", 4)

	err := j.Record(context.Background(), Entry{})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := j.Flush(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Flush = %v, want ErrNotConnected", err)
	}
	if j.Pending() != 0 {
		t.Errorf("Pending = %d", j.Pending())
	}
}

func TestNewFlightJournalDefaults(t *testing.T) {
	j := NewFlightJournal("localhost:3000", 0)
	if j.batchSize != DefaultBatchSize {
		t.Errorf("batchSize = %d, want %d", j.batchSize, DefaultBatchSize)
	}
	if j.Addr() != "localhost:3000" {
		t.Errorf("Addr = %q", j.Addr())
	}
}

type putServer struct {
	flight.BaseFlightServer

	mu    sync.Mutex
	paths [][]string
	rows  int64
}

func (s *putServer) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	// Only the first message carries the descriptor; Next clears it.
	var path []string
	if desc := rdr.LatestFlightDescriptor(); desc != nil {
		path = desc.Path
	}

	var rows int64
	for rdr.Next() {
		rows += rdr.Record().NumRows()
	}
	if err := rdr.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	s.rows += rows
	return nil
}

func (s *putServer) snapshot() (int64, [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, append([][]string(nil), s.paths...)
}

func startServer(t *testing.T) (*putServer, string) {
	t.Helper()
	svc := &putServer{}
	return svc, serve(t, svc)
}

func serve(t *testing.T, svc flight.FlightServer) string {
	t.Helper()
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init("localhost:0"); err != nil {
		t.Fatalf("init flight server: %v", err)
	}
	srv.RegisterFlightService(svc)
	go func() {
		_ = srv.Serve()
	}()
	t.Cleanup(srv.Shutdown)
	return srv.Addr().String()
}

func TestFlightJournalShipsBatches(t *testing.T) {
	svc, addr := startServer(t)
	ctx := context.Background()

	j := NewFlightJournal(addr, 2)
	if err := j.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	entries := sampleEntries(3)
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	// Two entries hit the batch size; the third waits.
	if j.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", j.Pending())
	}
	if rows, _ := svc.snapshot(); rows != 2 {
		t.Errorf("server rows after first batch = %d, want 2", rows)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rows, paths := svc.snapshot()
	if rows != 3 {
		t.Errorf("server rows = %d, want 3", rows)
	}
	if len(paths) != 2 || len(paths[0]) != 1 || paths[0][0] != DescriptorPath {
		t.Errorf("descriptor paths = %v", paths)
	}
	if err := j.Record(ctx, Entry{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close = %v, want ErrClosed", err)
	}
}

func TestFlightJournalFlushFailureDropsBatch(t *testing.T) {
	// Nothing listens on port 1.
	j := NewFlightJournal("127.0.0.1:1", 10)
	j.timeout = 500 * time.Millisecond
	if err := j.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = j.Close() }()

	if err := j.Record(context.Background(), Entry{Result: "ok"}); err != nil {
		t.Fatal(err)
	}
	if err := j.Flush(context.Background()); err == nil {
		t.Fatal("expected flush to fail without a server")
	}
	if j.Pending() != 0 {
		t.Errorf("Pending = %d after failed flush, want 0", j.Pending())
	}
}

// stallServer holds every DoPut open until release is closed.
type stallServer struct {
	flight.BaseFlightServer

	entered chan struct{}
	release chan struct{}
}

func (s *stallServer) DoPut(stream flight.FlightService_DoPutServer) error {
	s.entered <- struct{}{}
	<-s.release
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()
	for rdr.Next() {
	}
	return rdr.Err()
}

func TestRecordDoesNotWaitForSlowShipment(t *testing.T) {
	svc := &stallServer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	addr := serve(t, svc)
	var once sync.Once
	release := func() { once.Do(func() { close(svc.release) }) }
	// Runs before the server shutdown registered by serve.
	t.Cleanup(release)
	ctx := context.Background()

	j := NewFlightJournal(addr, 2)
	if err := j.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	shipped := make(chan error, 1)
	go func() {
		if err := j.Record(ctx, Entry{Result: "ok"}); err != nil {
			shipped <- err
			return
		}
		shipped <- j.Record(ctx, Entry{Result: "ok"})
	}()

	select {
	case <-svc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("batch never reached the server")
	}

	// The batch is stuck on the wire; recording must not queue behind it.
	recorded := make(chan error, 1)
	go func() { recorded <- j.Record(ctx, Entry{Result: "ok"}) }()
	select {
	case err := <-recorded:
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Record blocked behind an in-flight DoPut")
	}
	if j.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", j.Pending())
	}

	release()
	if err := <-shipped; err != nil {
		t.Errorf("shipment failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
