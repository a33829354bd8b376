package journal

import (
	"context"
	"sync"
)

// Memory keeps entries in process. Used by tests and when no Flight
// endpoint is configured but a status page still wants recent history.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
	closed  bool
}

// NewMemory retains at most limit entries; limit <= 0 keeps everything.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries = append(m.entries, e)
	if m.limit > 0 && len(m.entries) > m.limit {
		m.entries = append(m.entries[:0], m.entries[len(m.entries)-m.limit:]...)
	}
	return nil
}

func (m *Memory) Flush(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Entries returns a copy, oldest first.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
