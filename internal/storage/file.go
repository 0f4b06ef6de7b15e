package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"dailytask/internal/fslock"
	logx "dailytask/pkg/logx"
)

// fileStore keeps the region in a fixed-size image file.
//
// Files:
//   - <path>                        (raw image, erased to 0xFF on creation)
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//
// The critical section is a process mutex plus, on unix, an exclusive flock
// on the image so a CLI invocation never interleaves with the daemon.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	// section is the critical section handed out by Lock.
	section sync.Mutex

	// mu guards the file handles.
	mu        sync.Mutex
	image     afero.File
	audit     afero.File
	auditPath string
	size      int64
}

func openFile(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	img, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st, err := img.Stat()
	if err != nil {
		_ = img.Close()
		return nil, err
	}
	if cur := st.Size(); cur < cfg.Size {
		// New or short image: pad with erased bytes.
		if _, err := img.WriteAt(erased(cfg.Size-cur), cur); err != nil {
			_ = img.Close()
			return nil, fmt.Errorf("init image: %w", err)
		}
		if err := img.Sync(); err != nil {
			_ = img.Close()
			return nil, err
		}
		log.Info("storage image initialized", logx.String("path", path), logx.Int64("size", cfg.Size))
	}

	auditPath := prefix + ".audit.jsonl"
	af, err := fs.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = img.Close()
		return nil, err
	}

	return &fileStore{
		log:       log,
		fs:        fs,
		image:     img,
		audit:     af,
		auditPath: auditPath,
		size:      cfg.Size,
	}, nil
}

func (s *fileStore) Size() int64 { return s.size }

func (s *fileStore) Lock(ctx context.Context) (func(), error) {
	s.section.Lock()
	s.mu.Lock()
	img := s.image
	s.mu.Unlock()
	if img == nil {
		s.section.Unlock()
		return nil, ErrClosed
	}
	release, err := fslock.Exclusive(ctx, img)
	if err != nil {
		s.section.Unlock()
		return nil, fmt.Errorf("lock image: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			release()
			s.section.Unlock()
		})
	}, nil
}

func (s *fileStore) ReadRecord(ctx context.Context, offset int64, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkBounds(s.size, offset, n); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == nil {
		return nil, ErrClosed
	}
	b := make([]byte, n)
	if _, err := s.image.ReadAt(b, offset); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return b, nil
}

func (s *fileStore) WriteRecord(ctx context.Context, offset int64, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkBounds(s.size, offset, len(b)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == nil {
		return ErrClosed
	}
	if _, err := s.image.WriteAt(b, offset); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return s.image.Sync()
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.audit).Encode(e)
}

func (s *fileStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fs.Open(s.auditPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep a ring of the last limit entries; malformed lines are skipped.
	ring := make([]AuditEntry, 0, limit)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Event == "" {
			continue
		}
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.image != nil {
		err1 = s.image.Close()
		s.image = nil
	}
	if s.audit != nil {
		err2 = s.audit.Close()
		s.audit = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}
