package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed      = errors.New("storage: closed")
	ErrOutOfBounds = errors.New("storage: access outside region")
)

// DefaultSize matches the EEPROM of the ATmega328p the record layout comes from.
const DefaultSize = 1024

// NVRAM is a byte-addressable non-volatile region.
//
// Writes are not transactional: a write interrupted by power loss can leave
// the region partially updated. Callers detect that with their own checksum.
type NVRAM interface {
	ReadRecord(ctx context.Context, offset int64, n int) ([]byte, error)
	WriteRecord(ctx context.Context, offset int64, b []byte) error
	// Lock enters the region's critical section. The returned func releases
	// it and must be called exactly once.
	Lock(ctx context.Context) (unlock func(), err error)
	Size() int64
}

// Store is the persistence API used by the ledger and the app.
type Store interface {
	NVRAM
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": image file next to a jsonl audit log
//   - "sqlite": SQLite database file (image blob + audit table)
//   - "memory": process-local, lost on exit
type Config struct {
	Driver      string
	Path        string
	Size        int64         // region size in bytes; 0 means DefaultSize
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one scheduler event.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	RunID  string    `json:"run_id,omitempty"`
	Clock  string    `json:"clock,omitempty"` // device reading, YYYY-MM-DD HH:MM:SS
	OK     bool      `json:"ok"`
	Detail string    `json:"detail,omitempty"`
}

func checkBounds(size, offset int64, n int) error {
	if offset < 0 || n < 0 || offset+int64(n) > size {
		return ErrOutOfBounds
	}
	return nil
}

// erased returns a region as factory-fresh EEPROM reads: all 0xFF.
func erased(n int64) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}
