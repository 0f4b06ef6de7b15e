//go:build unix

// Package fslock takes advisory locks on files shared between processes.
package fslock

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

const pollInterval = 10 * time.Millisecond

// Exclusive takes an exclusive advisory lock on f when f is backed by an
// OS file, polling until ctx is done. In-memory files (afero.MemMapFs) are
// not locked; callers keep their own mutex for those.
func Exclusive(ctx context.Context, f any) (func(), error) {
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return func() {}, nil
	}
	h := int(fd.Fd())
	for {
		err := unix.Flock(h, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() { _ = unix.Flock(h, unix.LOCK_UN) }, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
