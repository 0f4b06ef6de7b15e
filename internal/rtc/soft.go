package rtc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.yaml.in/yaml/v3"

	"dailytask/internal/datetime"
	"dailytask/internal/fslock"
	logx "dailytask/pkg/logx"
)

// softState is what the battery keeps alive on a DS1302-style chip.
type softState struct {
	// Offset is device time minus host time while running.
	Offset int64 `yaml:"offset_seconds"`
	// Frozen is the reading held while halted.
	Frozen         datetime.DateTime `yaml:"frozen"`
	Valid          bool              `yaml:"valid"`
	WriteProtected bool              `yaml:"write_protected"`
	Running        bool              `yaml:"running"`
}

type SoftOptions struct {
	Fs   afero.Fs
	Path string
	// Now is the host clock; time.Now when nil.
	Now func() time.Time
	Log logx.Logger
}

// SoftDevice emulates a battery-backed clock chip on top of the host clock.
//
// Registers live in a small YAML file. A missing file is a chip that lost its
// battery: time invalid, oscillator halted. Writes are refused while write
// protection is on, and a halted chip returns the same reading until started.
// Arithmetic is done in UTC so daylight-saving shifts on the host never move
// the device.
//
// The file is the chip: every access re-reads it under an exclusive lock on
// <path>.lock and writes it back only when a register changed, so a daemon
// and a one-shot command on the same state see each other's writes.
type SoftDevice struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	now  func() time.Time
	log  logx.Logger

	// st is the last state read; used when the file cannot be locked.
	st   softState
	lost bool
}

const stateLockTimeout = 2 * time.Second

func OpenSoft(opt SoftOptions) (*SoftDevice, error) {
	if opt.Fs == nil {
		opt.Fs = afero.NewOsFs()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Path == "" {
		return nil, errors.New("rtc: state path is required")
	}
	d := &SoftDevice{fs: opt.Fs, path: opt.Path, now: opt.Now, log: opt.Log}

	d.mu.Lock()
	defer d.mu.Unlock()
	release, err := d.lockState()
	if err != nil {
		return nil, err
	}
	defer release()
	missing, err := d.loadLocked()
	if err != nil {
		return nil, err
	}
	if missing {
		return d, d.saveLocked()
	}
	return d, nil
}

// access runs fn on the current registers and saves them if fn changed them.
func (d *SoftDevice) access(fn func(st *softState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	release, err := d.lockState()
	if err != nil {
		d.log.Warn("clock state not locked; using last read", logx.String("path", d.path), logx.Err(err))
		st := d.st
		fn(&st)
		return
	}
	defer release()
	if _, err := d.loadLocked(); err != nil {
		d.log.Warn("clock state not read; using last read", logx.String("path", d.path), logx.Err(err))
	}
	before := d.st
	fn(&d.st)
	if d.st != before {
		if err := d.saveLocked(); err != nil {
			d.log.Warn("clock state not saved", logx.String("path", d.path), logx.Err(err))
		}
	}
}

// lockState takes the cross-process lock. The state file itself is replaced
// on every save, so the lock lives on a sibling file.
func (d *SoftDevice) lockState() (func(), error) {
	if err := d.fs.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return nil, fmt.Errorf("rtc: state dir: %w", err)
	}
	f, err := d.fs.OpenFile(d.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("rtc: open state lock: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), stateLockTimeout)
	defer cancel()
	release, err := fslock.Exclusive(ctx, f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rtc: lock state: %w", err)
	}
	return func() {
		release()
		_ = f.Close()
	}, nil
}

// loadLocked refreshes d.st from the file. A missing or garbled file reads
// as a chip that lost power.
func (d *SoftDevice) loadLocked() (missing bool, err error) {
	b, err := afero.ReadFile(d.fs, d.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.lostPower("clock state missing; device starts invalid and halted", nil)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("rtc: read state: %w", err)
	}
	var st softState
	if err := yaml.Unmarshal(b, &st); err != nil {
		d.lostPower("clock state unreadable; device starts invalid and halted", err)
		return false, nil
	}
	d.st, d.lost = st, false
	return false, nil
}

func (d *SoftDevice) lostPower(msg string, err error) {
	if !d.lost {
		if err != nil {
			d.log.Warn(msg, logx.String("path", d.path), logx.Err(err))
		} else {
			d.log.Warn(msg, logx.String("path", d.path))
		}
	}
	d.st, d.lost = softState{}, true
}

func (d *SoftDevice) DateTime() datetime.DateTime {
	var dt datetime.DateTime
	d.access(func(st *softState) { dt = d.reading(*st) })
	return dt
}

func (d *SoftDevice) reading(st softState) datetime.DateTime {
	if !st.Running {
		return st.Frozen
	}
	return datetime.FromTime(d.now().UTC().Add(time.Duration(st.Offset) * time.Second))
}

func (d *SoftDevice) SetDateTime(dt datetime.DateTime) {
	d.access(func(st *softState) {
		if st.WriteProtected {
			d.log.Debug("clock write refused: write protected")
			return
		}
		if st.Running {
			st.Offset = d.offsetTo(dt)
		} else {
			st.Frozen = dt
		}
		st.Valid = true
	})
}

func (d *SoftDevice) IsDateTimeValid() bool {
	var ok bool
	d.access(func(st *softState) { ok = st.Valid })
	return ok
}

func (d *SoftDevice) IsWriteProtected() bool {
	var ok bool
	d.access(func(st *softState) { ok = st.WriteProtected })
	return ok
}

func (d *SoftDevice) SetWriteProtected(protect bool) {
	d.access(func(st *softState) { st.WriteProtected = protect })
}

func (d *SoftDevice) IsRunning() bool {
	var ok bool
	d.access(func(st *softState) { ok = st.Running })
	return ok
}

func (d *SoftDevice) SetRunning(running bool) {
	d.access(func(st *softState) {
		if st.WriteProtected || st.Running == running {
			return
		}
		if running {
			st.Offset = d.offsetTo(st.Frozen)
		} else {
			st.Frozen = d.reading(*st)
		}
		st.Running = running
	})
}

// Close is a no-op: every change is already on disk.
func (d *SoftDevice) Close() error { return nil }

func (d *SoftDevice) offsetTo(dt datetime.DateTime) int64 {
	return int64(dt.Time(time.UTC).Sub(d.now().UTC()).Round(time.Second) / time.Second)
}

func (d *SoftDevice) saveLocked() error {
	b, err := yaml.Marshal(d.st)
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, b, 0o600); err != nil {
		return err
	}
	return d.fs.Rename(tmp, d.path)
}
