package storage

import (
	"context"
	"sync"
)

// Memory is a process-local store. Tests use it directly to corrupt bytes
// and to inject write failures.
type Memory struct {
	section sync.Mutex

	mu     sync.Mutex
	data   []byte
	audit  []AuditEntry
	closed bool

	// WriteHook, when set, may rewrite the bytes actually persisted by
	// WriteRecord (simulating a flaky cell) or fail the write.
	WriteHook func(offset int64, b []byte) ([]byte, error)
}

// NewMemory returns an erased region of size bytes.
func NewMemory(size int64) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	return &Memory{data: erased(size)}
}

func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

func (m *Memory) Lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.section.Lock()
	var once sync.Once
	return func() { once.Do(m.section.Unlock) }, nil
}

func (m *Memory) ReadRecord(ctx context.Context, offset int64, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if err := checkBounds(int64(len(m.data)), offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.data[offset:])
	return out, nil
}

func (m *Memory) WriteRecord(ctx context.Context, offset int64, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := checkBounds(int64(len(m.data)), offset, len(b)); err != nil {
		return err
	}
	if m.WriteHook != nil {
		nb, err := m.WriteHook(offset, append([]byte(nil), b...))
		if err != nil {
			return err
		}
		b = nb
	}
	copy(m.data[offset:], b)
	return nil
}

// Poke overwrites one byte, bypassing the hook. Used to simulate corruption.
func (m *Memory) Poke(offset int64, v byte) {
	m.mu.Lock()
	m.data[offset] = v
	m.mu.Unlock()
}

// Peek returns a copy of n bytes at offset.
func (m *Memory) Peek(offset int64, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data[offset:offset+int64(n)]...)
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the appended audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
