package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "dailytask/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the region as a single blob row. Every write replaces the
// row inside a transaction, so SQLite itself never exposes a torn image; the
// record checksum still guards against a host that lies about fsync.
type sqliteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	log  logx.Logger
	size int64

	section sync.Mutex
}

// handle returns the open database, or ErrClosed after Close.
func (s *sqliteStore) handle() (*sql.DB, error) {
	if s == nil {
		return nil, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, size: cfg.Size}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// The whole point of the region is surviving power loss.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	ctx := context.Background()
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := st.ensureImage(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// ensureImage creates the erased image on first open and pads a short one.
func (s *sqliteStore) ensureImage(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO nvram(id, image) VALUES(1, ?)`, erased(s.size))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("storage image initialized", logx.String("driver", "sqlite"), logx.Int64("size", s.size))
		return nil
	}
	img, err := s.load(ctx, s.db)
	if err != nil {
		return err
	}
	if int64(len(img)) >= s.size {
		return nil
	}
	img = append(img, erased(s.size-int64(len(img)))...)
	_, err = s.db.ExecContext(ctx, `UPDATE nvram SET image = ? WHERE id = 1`, img)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqliteStore) load(ctx context.Context, q queryer) ([]byte, error) {
	var img []byte
	if err := q.QueryRowContext(ctx, `SELECT image FROM nvram WHERE id = 1`).Scan(&img); err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	return img, nil
}

func (s *sqliteStore) Size() int64 { return s.size }

func (s *sqliteStore) Lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.handle(); err != nil {
		return nil, err
	}
	s.section.Lock()
	var once sync.Once
	return func() { once.Do(s.section.Unlock) }, nil
}

func (s *sqliteStore) ReadRecord(ctx context.Context, offset int64, n int) ([]byte, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := checkBounds(s.size, offset, n); err != nil {
		return nil, err
	}
	img, err := s.load(ctx, db)
	if err != nil {
		return nil, err
	}
	if int64(len(img)) < offset+int64(n) {
		return nil, fmt.Errorf("image truncated to %d bytes: %w", len(img), ErrOutOfBounds)
	}
	return append([]byte(nil), img[offset:offset+int64(n)]...), nil
}

func (s *sqliteStore) WriteRecord(ctx context.Context, offset int64, b []byte) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := checkBounds(s.size, offset, len(b)); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	img, err := s.load(ctx, tx)
	if err != nil {
		return err
	}
	if int64(len(img)) < offset+int64(len(b)) {
		return fmt.Errorf("image truncated to %d bytes: %w", len(img), ErrOutOfBounds)
	}
	copy(img[offset:], b)
	if _, err := tx.ExecContext(ctx, `UPDATE nvram SET image = ? WHERE id = 1`, img); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO audit(at, event, run_id, clock, ok, detail) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Event, nullStr(e.RunID), nullStr(e.Clock), e.OK, nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT at, event, COALESCE(run_id,''), COALESCE(clock,''), ok, COALESCE(detail,'')
		 FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.Event, &e.RunID, &e.Clock, &e.OK, &e.Detail); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
