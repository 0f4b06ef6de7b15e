package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/config"
	"dailytask/internal/datetime"
	"dailytask/internal/eventbus"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestChangedSections(t *testing.T) {
	a := config.Default()
	b := config.Default()
	assert.Empty(t, changedSections(a, b))

	b.Scheduler.Poll = "5m"
	b.Storage.Path = "/var/lib/dailytask/nvram.img"
	assert.Equal(t, []string{"storage", "scheduler"}, changedSections(a, b))

	assert.Contains(t, changedSections(nil, a), "logging")
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = "nvram.db"
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage.BusyTimeout = "nope"
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)

	cfg.Storage.Driver = "tape"
	_, err = mapStorageConfig(cfg)
	assert.ErrorContains(t, err, "unknown storage.driver")
}

func TestMapSchedulerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Action.Kind = "relay_on"
	off := false
	cfg.Scheduler.StatusEveryTick = &off
	sc, err := mapSchedulerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "relay_on", sc.Action.String())
	assert.False(t, sc.StatusEveryTick)

	cfg.Scheduler.Poll = "every:banana"
	_, err = mapSchedulerConfig(cfg)
	assert.ErrorContains(t, err, "scheduler.poll")
}

func TestAuditorCopiesEvents(t *testing.T) {
	bus := eventbus.New()
	store := storage.NewMemory(64)
	a := newAuditor(bus, store, logx.Nop())
	defer a.Close()

	bus.Publish(eventbus.Event{Type: eventbus.TaskExecuted, Time: time.Now(), RunID: "r1", Clock: "2024-03-10 08:00:00", OK: true})
	bus.Publish(eventbus.Event{Type: eventbus.ClockSetFailed, Time: time.Now(), Detail: "write protected"})
	a.Flush(context.Background())

	got, err := store.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, eventbus.ClockSetFailed, got[0].Event)
	assert.Equal(t, "r1", got[1].RunID)
}

func TestOpenComponentsOnMemFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := config.Default()
	cfg.Clock.StatePath = "/state/rtc.yaml"
	cfg.Storage.Path = "/state/nvram.img"

	c, err := OpenComponents(fs, cfg, logx.Nop())
	require.NoError(t, err)
	defer c.Close()

	r := c.Clock.Now()
	assert.False(t, r.Trusted, "fresh soft clock starts invalid")

	require.NoError(t, c.Clock.SetTime(datetime.New(2024, 3, 10, 8, 0, 0)))
	assert.True(t, c.Clock.Now().Trusted)

	ctx := context.Background()
	require.NoError(t, c.Ledger.MarkExecuted(ctx, datetime.New(2024, 3, 10, 8, 0, 5)))
	done, err := c.Ledger.IsExecutedToday(ctx, datetime.New(2024, 3, 10, 9, 0, 0))
	require.NoError(t, err)
	assert.True(t, done)

	ok, err := afero.Exists(fs, "/state/nvram.img")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenComponentsRejectsUnknownClock(t *testing.T) {
	cfg := config.Default()
	cfg.Clock.Driver = "ds3231"
	_, err := OpenComponents(afero.NewMemMapFs(), cfg, logx.Nop())
	assert.ErrorContains(t, err, "clock.driver")
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	m, cfg, err := LoadConfig(afero.NewMemMapFs(), "/etc/dailytask.yaml")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Same(t, cfg, m.Get())
}

func TestAppRunsCorrectionAndDailyTask(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dailytask.yaml")
	yaml := strings.Join([]string{
		"logging:",
		"  level: warn",
		"clock:",
		"  driver: soft",
		"  state_path: " + filepath.Join(dir, "rtc.yaml"),
		"storage:",
		"  driver: memory",
		"scheduler:",
		"  poll: 100ms",
		"systemd:",
		"  notify: false",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	out := &syncBuffer{}
	a, err := New(cfgPath, Options{
		Fs:  afero.NewOsFs(),
		In:  strings.NewReader("2024-03-10 08:00:00\n"),
		Out: out,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Daily task executed today at: 2024-03-10")
	}, 5*time.Second, 20*time.Millisecond, "output:\n%s", out.String())

	assert.Contains(t, out.String(), "Received: 2024-03-10 08:00:00")
	assert.Contains(t, out.String(), "OK")

	store := a.Components().Store
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	// Read the journal before Stop closes the store.
	a.Flush(stopCtx)
	require.Eventually(t, func() bool {
		got, err := store.RecentAudit(stopCtx, 20)
		if err != nil {
			return false
		}
		var seen []string
		for _, e := range got {
			seen = append(seen, e.Event)
		}
		return slices.Contains(seen, eventbus.ClockSet) && slices.Contains(seen, eventbus.TaskExecuted)
	}, 5*time.Second, 20*time.Millisecond)

	rep, ok := a.health(stopCtx)
	assert.True(t, ok)
	hr := rep.(healthReport)
	assert.True(t, hr.ExecutedToday)
	assert.NotEmpty(t, hr.Goroutines)

	require.NoError(t, a.Stop(stopCtx))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

