package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-bitnet/internal/logger"
	"github.com/23skdu/longbow-bitnet/internal/metrics"
)

const (
	DefaultBatchSize = 32
	DefaultTimeout   = 10 * time.Second
)

// FlightJournal buffers entries and ships them with DoPut once batchSize
// entries have accumulated, or on Flush.
type FlightJournal struct {
	addr      string
	batchSize int
	timeout   time.Duration
	mem       memory.Allocator

	mu       sync.Mutex
	client   flight.Client
	pending  []Entry
	closed   bool
	inflight sync.WaitGroup
}

// NewFlightJournal does not dial; call Connect before recording.
func NewFlightJournal(addr string, batchSize int) *FlightJournal {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &FlightJournal{
		addr:      addr,
		batchSize: batchSize,
		timeout:   DefaultTimeout,
		mem:       memory.DefaultAllocator,
	}
}

// Connect creates the grpc client. The connection itself is lazy.
func (j *FlightJournal) Connect(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if j.client != nil {
		return nil
	}
	client, err := flight.NewClientWithMiddleware(j.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("journal: create flight client for %s: %w", j.addr, err)
	}
	j.client = client
	return nil
}

func (j *FlightJournal) Addr() string { return j.addr }

// Pending reports buffered entries not yet shipped.
func (j *FlightJournal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *FlightJournal) Record(ctx context.Context, e Entry) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	if j.client == nil {
		j.mu.Unlock()
		return ErrNotConnected
	}
	j.pending = append(j.pending, e)
	if len(j.pending) < j.batchSize {
		j.mu.Unlock()
		return nil
	}
	client, batch := j.takeLocked()
	j.mu.Unlock()

	defer j.inflight.Done()
	return j.ship(ctx, client, batch)
}

func (j *FlightJournal) Flush(ctx context.Context) error {
	j.mu.Lock()
	if j.client == nil {
		j.mu.Unlock()
		return ErrNotConnected
	}
	client, batch := j.takeLocked()
	j.mu.Unlock()

	defer j.inflight.Done()
	return j.ship(ctx, client, batch)
}

// takeLocked swaps the buffer out and registers an in-flight send, so the
// DoPut runs without holding j.mu. The caller must call j.inflight.Done.
func (j *FlightJournal) takeLocked() (flight.Client, []Entry) {
	batch := j.pending
	j.pending = nil
	j.inflight.Add(1)
	return j.client, batch
}

// ship drops the batch on failure so a dead endpoint cannot grow the
// buffer without bound.
func (j *FlightJournal) ship(ctx context.Context, client flight.Client, batch []Entry) error {
	if len(batch) == 0 {
		return nil
	}
	err := j.put(ctx, client, batch)
	if err != nil {
		metrics.RecordJournal(metrics.ResultError, len(batch))
		logger.Log.Warn("journal flush failed", "addr", j.addr, "entries", len(batch), "error", err)
		return err
	}
	metrics.RecordJournal(metrics.ResultOK, len(batch))
	logger.Log.Debug("journal flushed", "addr", j.addr, "entries", len(batch))
	return nil
}

func (j *FlightJournal) put(ctx context.Context, client flight.Client, batch []Entry) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	stream, err := client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("journal: open DoPut stream: %w", err)
	}

	rec := BuildRecord(j.mem, batch)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(Schema), ipc.WithAllocator(j.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{DescriptorPath},
	})
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("journal: write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("journal: close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("journal: close send: %w", err)
	}

	// Drain PutResults until the server ends the stream.
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("journal: DoPut: %w", err)
		}
	}
}

// Close ships what is buffered, waits for in-flight sends and releases
// the client.
func (j *FlightJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	if j.client == nil {
		j.mu.Unlock()
		return nil
	}
	client, batch := j.takeLocked()
	j.client = nil
	j.mu.Unlock()

	flushErr := j.ship(context.Background(), client, batch)
	j.inflight.Done()
	j.inflight.Wait()
	return errors.Join(flushErr, client.Close())
}
