package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dailytask/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}

	fs := afero.NewMemMapFs()
	fst, err := OpenFs(fs, Config{Driver: "file", Path: "/var/lib/dailytask/eeprom.bin", Size: 64}, logx.Nop())
	require.NoError(t, err)
	out["file"] = fst

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db"), Size: 64, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	out["sqlite"] = sq

	mem, err := Open(Config{Driver: "memory", Size: 64}, logx.Nop())
	require.NoError(t, err)
	out["memory"] = mem

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStoresStartErased(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			b, err := st.ReadRecord(ctx, 0, 8)
			require.NoError(t, err)
			assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, b)
			assert.Equal(t, int64(64), st.Size())
		})
	}
}

func TestStoresRoundTripAtOffset(t *testing.T) {
	ctx := context.Background()
	rec := []byte{0xE9, 0x07, 3, 15, 8, 30, 0, 0x3B}
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := st.Lock(ctx)
			require.NoError(t, err)
			require.NoError(t, st.WriteRecord(ctx, 16, rec))
			unlock()

			got, err := st.ReadRecord(ctx, 16, len(rec))
			require.NoError(t, err)
			assert.Equal(t, rec, got)

			// Neighbours untouched.
			before, err := st.ReadRecord(ctx, 8, 8)
			require.NoError(t, err)
			assert.Equal(t, byte(0xFF), before[7])
		})
	}
}

func TestStoresRejectOutOfBounds(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.ReadRecord(ctx, 60, 8)
			assert.ErrorIs(t, err, ErrOutOfBounds)
			assert.ErrorIs(t, st.WriteRecord(ctx, -1, []byte{1}), ErrOutOfBounds)
		})
	}
}

func TestStoresAuditNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			for _, ev := range []string{"task.executed", "clock.set", "ledger.reset"} {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: time.Now(), Event: ev, OK: true, Clock: "2025-03-15 08:30:00"}))
			}
			got, err := st.RecentAudit(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "ledger.reset", got[0].Event)
			assert.Equal(t, "clock.set", got[1].Event)
			assert.True(t, got[0].OK)
			assert.Equal(t, "2025-03-15 08:30:00", got[0].Clock)
		})
	}
}

func TestStoresReportClosed(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Close())
			require.NoError(t, st.Close(), "second close")

			_, err := st.ReadRecord(ctx, 0, 8)
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, st.WriteRecord(ctx, 0, []byte{1}), ErrClosed)
		})
	}
}

func TestSQLiteStoreClosedEverywhere(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db"), Size: 64}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = st.Lock(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, st.AppendAudit(ctx, AuditEntry{Event: "clock.set"}), ErrClosed)
	_, err = st.RecentAudit(ctx, 5)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileStoreKeepsImageAcrossReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	cfg := Config{Driver: "file", Path: "/data/eeprom.bin", Size: 32}

	st, err := OpenFs(fs, cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.WriteRecord(ctx, 0, []byte{1, 2, 3}))
	require.NoError(t, st.Close())

	st, err = OpenFs(fs, cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.ReadRecord(ctx, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0xFF}, got)
}

func TestFileStoreLockOnOSFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "eeprom.bin")
	st, err := Open(Config{Driver: "file", Path: path, Size: 16}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	unlock, err := st.Lock(ctx)
	require.NoError(t, err)

	// A second Lock from the same process waits for the first.
	acquired := make(chan struct{})
	go func() {
		u, err := st.Lock(ctx)
		if err == nil {
			u()
		}
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	unlock() // idempotent
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "tape"}, logx.Nop())
	require.Error(t, err)
}

func TestMemoryWriteHookCanCorrupt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(16)
	m.WriteHook = func(offset int64, b []byte) ([]byte, error) {
		b[0] ^= 0x01
		return b, nil
	}
	require.NoError(t, m.WriteRecord(ctx, 0, []byte{0x10}))
	assert.Equal(t, []byte{0x11}, m.Peek(0, 1))
}
