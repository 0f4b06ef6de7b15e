package rtc

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/datetime"
	logx "dailytask/pkg/logx"
)

// fakeDevice records calls; stuck fields make the matching setter a no-op.
type fakeDevice struct {
	now            datetime.DateTime
	valid, wp, run bool

	stuckInvalid bool
	stuckWP      bool
	stuckStopped bool
	dropWrites   bool

	sets, wpClears, starts int
}

func (f *fakeDevice) DateTime() datetime.DateTime { return f.now }
func (f *fakeDevice) SetDateTime(dt datetime.DateTime) {
	f.sets++
	if f.dropWrites {
		return
	}
	f.now = dt
	if !f.stuckInvalid {
		f.valid = true
	}
}
func (f *fakeDevice) IsDateTimeValid() bool { return f.valid }
func (f *fakeDevice) IsWriteProtected() bool { return f.wp }
func (f *fakeDevice) SetWriteProtected(p bool) {
	f.wpClears++
	if !f.stuckWP {
		f.wp = p
	}
}
func (f *fakeDevice) IsRunning() bool { return f.run }
func (f *fakeDevice) SetRunning(r bool) {
	f.starts++
	if !f.stuckStopped {
		f.run = r
	}
}
func (f *fakeDevice) Close() error { return nil }

var target = datetime.New(2025, 3, 15, 8, 30, 0)

func TestSetTimeStuckInvalidGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{stuckInvalid: true, run: true}
	g := NewGuardian(dev, logx.Nop())

	err := g.SetTime(target)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRepairExhausted)
	assert.Equal(t, MaxAttempts, dev.sets)

	var re *RepairError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, StateInvalid, re.Last)
}

func TestSetTimeRepairs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		dev  *fakeDevice
	}{
		{"healthy wrong date", &fakeDevice{now: datetime.New(2024, 1, 1, 0, 0, 0), valid: true, run: true}},
		{"already same date", &fakeDevice{now: datetime.New(2025, 3, 15, 23, 0, 0), valid: true, run: true}},
		{"write protected", &fakeDevice{now: datetime.New(2024, 1, 1, 0, 0, 0), valid: true, wp: true, run: true}},
		{"stopped", &fakeDevice{now: datetime.New(2024, 1, 1, 0, 0, 0), valid: true}},
		{"invalid then stopped", &fakeDevice{}},
		{"invalid only", &fakeDevice{run: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewGuardian(tt.dev, logx.Nop())
			require.NoError(t, g.SetTime(target))
			assert.True(t, tt.dev.now.SameDate(target))
			assert.True(t, g.Now().Trusted)
		})
	}
}

func TestSetTimeTooManyFaults(t *testing.T) {
	t.Parallel()
	// One fault per attempt: invalid, write protected, stopped. No attempt
	// is left to confirm the date.
	dev := &fakeDevice{wp: true}
	err := NewGuardian(dev, logx.Nop()).SetTime(target)
	assert.ErrorIs(t, err, ErrRepairExhausted)
}

func TestSetTimeDroppedWrites(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{now: datetime.New(2024, 1, 1, 0, 0, 0), valid: true, run: true, dropWrites: true}
	err := NewGuardian(dev, logx.Nop()).SetTime(target)

	var re *RepairError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, StateMismatched, re.Last)
	assert.Equal(t, 3, dev.sets)
}

func TestSetTimeCounterIsPerCall(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{stuckStopped: true, valid: true}
	g := NewGuardian(dev, logx.Nop())

	require.Error(t, g.SetTime(target))
	assert.Equal(t, 3, dev.starts)

	dev.stuckStopped = false
	require.NoError(t, g.SetTime(target))
	assert.Equal(t, 4, dev.starts)
}

func TestNowTrust(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		dev  *fakeDevice
		want bool
	}{
		{"healthy", &fakeDevice{now: target, valid: true, run: true}, true},
		{"invalid", &fakeDevice{now: target, run: true}, false},
		{"stopped", &fakeDevice{now: target, valid: true}, false},
		{"year before window", &fakeDevice{now: datetime.New(1999, 12, 31, 0, 0, 0), valid: true, run: true}, false},
		{"write protected is fine", &fakeDevice{now: target, valid: true, wp: true, run: true}, true},
	}
	for _, tt := range tests {
		r := NewGuardian(tt.dev, logx.Nop()).Now()
		assert.Equal(t, tt.want, r.Trusted, tt.name)
		assert.Equal(t, tt.dev.now, r.At, tt.name)
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func openSoft(t *testing.T, fs afero.Fs, clk *fakeClock) *SoftDevice {
	t.Helper()
	d, err := OpenSoft(SoftOptions{Fs: fs, Path: "/var/lib/dailytask/rtc.yaml", Now: clk.Now})
	require.NoError(t, err)
	return d
}

func TestSoftDeviceStartsInvalidAndHalted(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	clk := &fakeClock{t: time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)}
	d := openSoft(t, fs, clk)

	assert.False(t, d.IsDateTimeValid())
	assert.False(t, d.IsRunning())
	assert.False(t, d.IsWriteProtected())

	ok, err := afero.Exists(fs, "/var/lib/dailytask/rtc.yaml")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSoftDeviceRepairedByGuardian(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	clk := &fakeClock{t: time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)}
	d := openSoft(t, fs, clk)

	g := NewGuardian(d, logx.Nop())
	require.NoError(t, g.SetTime(datetime.New(2030, 6, 1, 12, 0, 0)))
	assert.True(t, g.Now().Trusted)

	clk.t = clk.t.Add(90 * time.Second)
	assert.Equal(t, datetime.New(2030, 6, 1, 12, 1, 30), d.DateTime())
	require.NoError(t, d.Close())

	// Registers survive a restart and keep tracking the host clock.
	clk.t = clk.t.Add(time.Hour)
	d2 := openSoft(t, fs, clk)
	assert.True(t, d2.IsDateTimeValid())
	assert.True(t, d2.IsRunning())
	assert.Equal(t, datetime.New(2030, 6, 1, 13, 1, 30), d2.DateTime())
}

func TestSoftDeviceHaltFreezesReading(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)}
	d := openSoft(t, afero.NewMemMapFs(), clk)
	d.SetDateTime(target)
	d.SetRunning(true)

	clk.t = clk.t.Add(10 * time.Second)
	d.SetRunning(false)
	held := d.DateTime()
	assert.Equal(t, datetime.New(2025, 3, 15, 8, 30, 10), held)

	clk.t = clk.t.Add(time.Hour)
	assert.Equal(t, held, d.DateTime())

	d.SetRunning(true)
	clk.t = clk.t.Add(5 * time.Second)
	assert.Equal(t, datetime.New(2025, 3, 15, 8, 30, 15), d.DateTime())
}

func TestSoftDeviceWriteProtectRefusesWrites(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)}
	d := openSoft(t, afero.NewMemMapFs(), clk)
	d.SetDateTime(target)
	d.SetRunning(true)
	d.SetWriteProtected(true)

	d.SetDateTime(datetime.New(2040, 1, 1, 0, 0, 0))
	assert.Equal(t, target, d.DateTime())
	d.SetRunning(false)
	assert.True(t, d.IsRunning())
}

func TestSoftDeviceGarbageStateReadsLost(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/rtc.yaml", []byte("{{{not yaml"), 0o600))
	d, err := OpenSoft(SoftOptions{Fs: fs, Path: "/rtc.yaml"})
	require.NoError(t, err)
	assert.False(t, d.IsDateTimeValid())
}

func TestSoftDeviceSharedBetweenInstances(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)}
	tests := []struct {
		name string
		fs   afero.Fs
		path string
	}{
		{"mem", afero.NewMemMapFs(), "/var/lib/dailytask/rtc.yaml"},
		{"os", afero.NewOsFs(), filepath.Join(t.TempDir(), "rtc.yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open := func() *SoftDevice {
				d, err := OpenSoft(SoftOptions{Fs: tt.fs, Path: tt.path, Now: clk.Now})
				require.NoError(t, err)
				return d
			}
			daemon := open()
			daemon.SetDateTime(datetime.New(2025, 3, 15, 8, 0, 0))
			daemon.SetRunning(true)

			cmd := open()
			want := datetime.New(2025, 6, 1, 12, 0, 0)
			require.NoError(t, NewGuardian(cmd, logx.Nop()).SetTime(want))
			require.NoError(t, cmd.Close())

			assert.Equal(t, want, daemon.DateTime())
			require.NoError(t, daemon.Close())

			again := open()
			assert.Equal(t, want, again.DateTime())
			assert.True(t, again.IsDateTimeValid())
		})
	}
}

func TestSoftDeviceReadsDoNotRewriteState(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	clk := &fakeClock{t: time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)}
	d := openSoft(t, fs, clk)
	d.SetDateTime(target)

	path := "/var/lib/dailytask/rtc.yaml"
	require.NoError(t, afero.WriteFile(fs, path, []byte("valid: true\nwrite_protected: true\n"), 0o600))
	assert.True(t, d.IsWriteProtected())
	assert.False(t, d.IsRunning())
	require.NoError(t, d.Close())

	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "valid: true\nwrite_protected: true\n", string(b))
}
