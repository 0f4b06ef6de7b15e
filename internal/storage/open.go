package storage

import (
	"errors"
	"strings"

	"github.com/spf13/afero"

	logx "dailytask/pkg/logx"
)

// Open initializes the configured store on the OS filesystem.
func Open(cfg Config, log logx.Logger) (Store, error) {
	return OpenFs(afero.NewOsFs(), cfg, log)
}

// OpenFs is Open with an explicit filesystem for the file driver.
func OpenFs(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(fs, cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(cfg.Size), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
