//go:build unix

package fslock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusiveBlocksSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	a, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer a.Close()
	b, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer b.Close()

	release, err := Exclusive(context.Background(), a)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Exclusive(ctx, b)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := Exclusive(context.Background(), b)
	require.NoError(t, err)
	release2()
}

func TestExclusiveSkipsMemoryFiles(t *testing.T) {
	f, err := afero.NewMemMapFs().Create("/state.lock")
	require.NoError(t, err)
	release, err := Exclusive(context.Background(), f)
	require.NoError(t, err)
	release()
}
