// Package app wires the daemon together: config, logging, clock, storage,
// ledger, actuators, scheduler loop, operator console and systemd.
package app

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"dailytask/internal/config"
	"dailytask/internal/console"
	"dailytask/internal/eventbus"
	"dailytask/internal/observability/debug"
	"dailytask/internal/rtc"
	"dailytask/internal/runtime/supervisor"
	"dailytask/internal/scheduler"
	logx "dailytask/pkg/logx"
)

type Options struct {
	// Fs backs the clock state, storage image and pin files. Nil means the
	// OS filesystem. The config file itself is always read from Fs too.
	Fs afero.Fs
	// In carries operator lines. Nil disables line input even when
	// console.enabled is set.
	In io.Reader
	// Out receives status blocks and replies; stdout when nil.
	Out io.Writer
	// HostNow overrides the wake-up clock (tests).
	HostNow func() time.Time
}

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	comps  *Components
	loop   *scheduler.Loop
	audit  *auditor
	sd     *sdNotifier
	out    *console.Writer
	in     io.Reader

	sup *supervisor.Supervisor
}

// LoadConfig reads path through fs. A missing file yields the defaults.
func LoadConfig(fsys afero.Fs, path string) (*config.Manager, *config.Config, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	m := config.NewManagerFs(fsys, path)
	cfg, err := m.Load()
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		m.Commit(cfg)
		return m, cfg, nil
	}
	return m, cfg, err
}

// New builds the app without starting any goroutine. One-shot commands use
// Loop and Flush directly and then Close.
func New(cfgPath string, opt Options) (*App, error) {
	if opt.Fs == nil {
		opt.Fs = afero.NewOsFs()
	}
	if opt.Out == nil {
		opt.Out = os.Stdout
	}

	cfgm, cfg, err := LoadConfig(opt.Fs, cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	out := console.NewWriter(opt.Out)
	if cfg.Logging.Operator.Enabled {
		logSvc.SetOperatorSink(out)
	}

	comps, err := OpenComponents(opt.Fs, cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = comps.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	sd := newSdNotifier(*cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))
	loop, err := scheduler.New(scheduler.Deps{
		Clock:      comps.Clock,
		Ledger:     comps.Ledger,
		Dispatcher: comps.Dispatch,
		Bus:        bus,
		Out:        out,
		Log:        log,
		HostNow:    opt.HostNow,
		AfterTick:  func(scheduler.TickResult) { sd.Ticked() },
	}, schedCfg)
	if err != nil {
		_ = comps.Close()
		_ = logSvc.Close()
		return nil, err
	}

	var in io.Reader
	if *cfg.Console.Enabled {
		in = opt.In
	}

	return &App{
		cfgm:  cfgm,
		logs:  logSvc,
		log:   log.With(logx.String("comp", "app")),
		bus:   bus,
		comps: comps,
		loop:  loop,
		audit: newAuditor(bus, comps.Store, log.With(logx.String("comp", "audit"))),
		sd:    sd,
		out:   out,
		in:    in,
	}, nil
}

func (a *App) Loop() *scheduler.Loop { return a.loop }
func (a *App) Components() *Components { return a.comps }
func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger { return a.log }
func (a *App) Console() *console.Writer { return a.out }
func (a *App) Bus() eventbus.Bus { return a.bus }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Done is closed when the app stops, by Stop or by a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Flush writes queued audit events. One-shot commands call it before Close.
func (a *App) Flush(ctx context.Context) { a.audit.Flush(ctx) }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sup.Go("audit", a.audit.Run)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go("config.apply", a.applyLoop)

	lines := make(chan string, 8)
	if a.in != nil {
		a.sup.Go("console.read", func(ctx context.Context) error {
			return a.readConsole(ctx, lines)
		})
	}
	a.sup.GoRestart("scheduler", func(ctx context.Context) error {
		return a.loop.Run(ctx, lines)
	}, time.Second, 30*time.Second)
	a.sup.Go("systemd.watchdog", func(ctx context.Context) error {
		return a.sd.Heartbeat(ctx, a.staleAfter)
	})

	cfg := a.cfgm.Get()
	if cfg.Debug.Enabled {
		srv := debug.New(debug.Config{
			Addr:          cfg.Debug.Addr,
			Token:         cfg.Debug.Token,
			AllowInsecure: cfg.Debug.AllowInsecure,
		}, a.health, a.log.With(logx.String("comp", "debug")))
		a.sup.GoRestart("debug.http", srv.Run, time.Second, 30*time.Second)
	}

	a.sd.Ready()
	a.log.Info("dailytask started",
		logx.String("config", a.cfgm.Path()),
		logx.String("storage", cfg.Storage.Driver),
		logx.String("poll", cfg.Scheduler.Poll),
		logx.String("action", cfg.Action.Kind),
		logx.Bool("console", a.in != nil))
	return nil
}

// staleAfter is how long the scheduler may go without a tick before the
// watchdog stops being fed: two poll periods plus slack.
func (a *App) staleAfter() time.Duration {
	sc, err := mapSchedulerConfig(a.cfgm.Get())
	if err != nil {
		return time.Minute
	}
	now := time.Now()
	return 2*sc.Poll.Next(now).Sub(now) + 10*time.Second
}

type healthReport struct {
	Clock         string             `json:"clock"`
	Trusted       bool               `json:"trusted"`
	Health        rtc.Health         `json:"health"`
	LastExecution string             `json:"last_execution,omitempty"`
	ExecutedToday bool               `json:"executed_today"`
	LastTick      time.Time          `json:"last_tick"`
	EventsDropped uint64             `json:"events_dropped"`
	Goroutines    []supervisor.Stats `json:"goroutines"`
	Error         string             `json:"error,omitempty"`
}

// health reports unhealthy when the clock is untrusted, the ledger is
// unreadable or the scheduler has stalled.
func (a *App) health(ctx context.Context) (any, bool) {
	rep := healthReport{Goroutines: a.sup.Snapshot()}
	if d, ok := a.bus.(eventbus.Dropper); ok {
		rep.EventsDropped = d.Dropped()
	}
	if ns := a.sd.lastTick.Load(); ns > 0 {
		rep.LastTick = time.Unix(0, ns)
	}
	st, err := a.loop.Status(ctx)
	if err != nil {
		rep.Error = err.Error()
		return rep, false
	}
	rep.Clock, rep.Trusted, rep.Health = st.Now.String(), st.Trusted, st.Health
	rep.ExecutedToday = st.ExecutedToday
	if at, ok := st.Last.At(); ok {
		rep.LastExecution = at.String()
	}
	fresh := !rep.LastTick.IsZero() && time.Since(rep.LastTick) <= a.staleAfter()
	return rep, st.Trusted && fresh
}

// readConsole forwards operator lines. The blocking read runs on its own
// goroutine so shutdown never waits for input.
func (a *App) readConsole(ctx context.Context, lines chan<- string) error {
	errc := make(chan error, 1)
	go func() { errc <- console.ReadLines(ctx, a.in, lines) }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			a.log.Info("operator input closed")
			return nil
		}
		a.log.Warn("operator input failed; corrections disabled", logx.Err(err))
		return nil
	}
}

func (a *App) applyLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	sections := changedSections(old, cfg)
	if len(sections) == 0 {
		return
	}
	a.log.Info("config change", logx.String("changed", strings.Join(sections, ",")))

	a.logs.Apply(mapLogConfig(cfg))
	if cfg.Logging.Operator.Enabled {
		a.logs.SetOperatorSink(a.out)
	} else {
		a.logs.SetOperatorSink(nil)
	}
	if w, err := mapWiring(cfg); err == nil {
		a.comps.Dispatch.SetWiring(w)
	}
	if sc, err := mapSchedulerConfig(cfg); err == nil {
		a.loop.Apply(sc)
	}
	for _, s := range sections {
		if restartOnly[s] {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}
}

// Stop cancels everything, waits up to ctx, then releases the hardware.
func (a *App) Stop(ctx context.Context) error {
	a.sd.Stopping()
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}
	a.audit.Flush(context.Background())
	a.log.Info("dailytask stopped")
	return errors.Join(err, a.Close())
}

// Close releases components without touching goroutines.
func (a *App) Close() error {
	a.audit.Close()
	return errors.Join(a.comps.Close(), a.logs.Close())
}
