package action

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	logx "dailytask/pkg/logx"
)

// Pins drives actuator outputs.
type Pins interface {
	AnalogWrite(pin int, value uint8) error
}

// PinsConfig selects a Pins driver.
type PinsConfig struct {
	Driver string // log | file
	Dir    string // file driver: one file per pin
}

// OpenPins returns the configured driver. fs is only used by the file driver;
// nil means the OS filesystem.
func OpenPins(fs afero.Fs, cfg PinsConfig, log logx.Logger) (Pins, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return LogPins{log: log}, nil
	case "file":
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return NewFilePins(fs, cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown pins driver %q", cfg.Driver)
	}
}

// LogPins only logs writes.
type LogPins struct{ log logx.Logger }

func NewLogPins(log logx.Logger) LogPins { return LogPins{log: log} }

func (p LogPins) AnalogWrite(pin int, value uint8) error {
	p.log.Info("analog write", logx.Int("pin", pin), logx.Int("value", int(value)))
	return nil
}

// FilePins writes each value as decimal text to <dir>/pin<N>, the way sysfs
// PWM and GPIO attributes are driven.
type FilePins struct {
	fs  afero.Fs
	dir string
}

func NewFilePins(fs afero.Fs, dir string) (*FilePins, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("pins dir is required for file driver")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FilePins{fs: fs, dir: dir}, nil
}

func (p *FilePins) Path(pin int) string {
	return filepath.Join(p.dir, "pin"+strconv.Itoa(pin))
}

func (p *FilePins) AnalogWrite(pin int, value uint8) error {
	if pin < 0 {
		return fmt.Errorf("invalid pin %d", pin)
	}
	return afero.WriteFile(p.fs, p.Path(pin), []byte(strconv.Itoa(int(value))+"\n"), os.FileMode(0o644))
}
