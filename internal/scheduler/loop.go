// Package scheduler runs the daily task: it polls the clock, asks the ledger
// whether today is still owed, performs the action and records it. Operator
// clock corrections are handled on the same goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dailytask/internal/action"
	"dailytask/internal/console"
	"dailytask/internal/datetime"
	"dailytask/internal/eventbus"
	"dailytask/internal/ledger"
	"dailytask/internal/rtc"
	logx "dailytask/pkg/logx"
)

// Clock is the guarded RTC.
type Clock interface {
	Now() rtc.Reading
	SetTime(target datetime.DateTime) error
}

// Ledger is the execution record.
type Ledger interface {
	LastExecution(ctx context.Context) (ledger.Entry, error)
	IsNewDay(ctx context.Context, current datetime.DateTime) (bool, error)
	IsExecutedToday(ctx context.Context, current datetime.DateTime) (bool, error)
	MarkExecuted(ctx context.Context, dt datetime.DateTime) error
	ForceResetTo(ctx context.Context, dt datetime.DateTime) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, k action.Kind) bool
}

// markTimeout bounds the ledger write that follows a dispatch.
const markTimeout = 5 * time.Second

// Config is the hot-reloadable part of the loop.
type Config struct {
	Poll   Poll
	Action action.Kind
	// StatusEveryTick prints the status block on every poll.
	StatusEveryTick bool
}

type Deps struct {
	Clock      Clock
	Ledger     Ledger
	Dispatcher Dispatcher
	Bus        eventbus.Bus
	// Out receives status blocks and replies. Nil discards them.
	Out *console.Writer
	Log logx.Logger

	// HostNow drives wake-ups only; decisions always use the RTC.
	HostNow func() time.Time
	// AfterTick is called on the loop goroutine after every poll.
	AfterTick func(TickResult)
	NewRunID  func() string
}

// TickResult describes one poll.
type TickResult struct {
	RunID         string
	At            datetime.DateTime
	Trusted       bool
	ExecutedToday bool
	Due           bool
	// Performed is the dispatcher's verdict; the day is marked either way.
	Performed bool
	Marked    bool
}

type Loop struct {
	clock Clock
	led   Ledger
	disp  Dispatcher
	bus   eventbus.Bus
	out   *console.Writer
	log   logx.Logger

	hostNow   func() time.Time
	afterTick func(TickResult)
	newRunID  func() string

	mu          sync.Mutex
	cfg         Config
	lastTrusted datetime.DateTime
	haveTrusted bool

	reload    chan struct{}
	untrusted bool
}

func New(d Deps, cfg Config) (*Loop, error) {
	if d.Clock == nil || d.Ledger == nil || d.Dispatcher == nil {
		return nil, errors.New("scheduler: clock, ledger and dispatcher are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	if d.Out == nil {
		d.Out = console.NewWriter(nil)
	}
	if d.HostNow == nil {
		d.HostNow = time.Now
	}
	if d.NewRunID == nil {
		d.NewRunID = uuid.NewString
	}
	return &Loop{
		clock:     d.Clock,
		led:       d.Ledger,
		disp:      d.Dispatcher,
		bus:       d.Bus,
		out:       d.Out,
		log:       d.Log.With(logx.String("comp", "scheduler")),
		hostNow:   d.HostNow,
		afterTick: d.AfterTick,
		newRunID:  d.NewRunID,
		cfg:       cfg,
		reload:    make(chan struct{}, 1),
	}, nil
}

// Apply swaps the config. A running loop re-arms its wake-up timer before the
// next poll.
func (l *Loop) Apply(cfg Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	select {
	case l.reload <- struct{}{}:
	default:
	}
	l.log.Info("scheduler config applied", logx.Stringer("poll", cfg.Poll), logx.Stringer("action", cfg.Action))
}

func (l *Loop) noteTrusted(at datetime.DateTime) {
	l.mu.Lock()
	l.lastTrusted, l.haveTrusted = at, true
	l.mu.Unlock()
}

func (l *Loop) lastTrustedReading() (datetime.DateTime, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTrusted, l.haveTrusted
}

func (l *Loop) config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Run polls and serves operator lines until ctx is done. A closed lines
// channel only stops line handling.
func (l *Loop) Run(ctx context.Context, lines <-chan string) error {
	cfg := l.config()
	l.log.Info("scheduler started", logx.Stringer("poll", cfg.Poll), logx.Stringer("action", cfg.Action))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("scheduler stopped")
			return nil
		case <-l.reload:
			timer.Reset(l.delay())
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			l.HandleLine(ctx, line)
		case <-timer.C:
			res, _ := l.Tick(ctx)
			if l.afterTick != nil {
				l.afterTick(res)
			}
			timer.Reset(l.delay())
		}
	}
}

func (l *Loop) delay() time.Duration {
	now := l.hostNow()
	d := l.config().Poll.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// HandleLine answers one operator line.
func (l *Loop) HandleLine(ctx context.Context, line string) {
	if console.IsStatusCommand(line) {
		st, err := l.Status(ctx)
		if err != nil {
			l.log.Error("status failed", logx.Err(err))
			_ = l.out.WriteLines("ERR")
			return
		}
		_ = l.out.WriteLines(st.Lines()...)
		return
	}
	reply, err := l.Correct(ctx, line)
	if err != nil {
		l.log.Error("correction follow-up failed", logx.Err(err))
	}
	_ = l.out.WriteLines(reply.Lines()...)
}

// Tick runs one poll. An untrusted clock reading never leads to an execution.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	r := l.clock.Now()
	res := TickResult{At: r.At, Trusted: r.Trusted}

	if !r.Trusted {
		if !l.untrusted {
			l.log.Warn("clock reading untrusted; skipping daily check",
				logx.Stringer("reads", r.At), logx.Bool("valid", r.Health.Valid), logx.Bool("running", r.Health.Running))
		}
		l.untrusted = true
		if last, ok := l.lastTrustedReading(); ok {
			res.At = last
		}
		l.printStatus(ctx, r)
		return res, nil
	}
	if l.untrusted {
		l.log.Info("clock reading trusted again", logx.Stringer("now", r.At))
		l.untrusted = false
	}
	l.noteTrusted(r.At)

	today, err := l.led.IsExecutedToday(ctx, r.At)
	if err != nil {
		return res, l.tickFailed(r.At, err)
	}
	res.ExecutedToday = today
	l.printStatus(ctx, r)
	if today {
		return res, nil
	}
	newDay, err := l.led.IsNewDay(ctx, r.At)
	if err != nil {
		return res, l.tickFailed(r.At, err)
	}
	if !newDay {
		// Stored date is ahead of the clock: the clock went backwards.
		l.log.Debug("not a new day", logx.Stringer("now", r.At))
		return res, nil
	}

	res.Due = true
	res.RunID = l.newRunID()
	cfg := l.config()
	log := l.log.With(logx.String("run_id", res.RunID), logx.Stringer("action", cfg.Action))

	log.Info("daily task due", logx.Stringer("now", r.At))
	res.Performed = l.disp.Dispatch(ctx, cfg.Action)

	// The mark outlives a shutdown that lands during the action.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	err = l.led.MarkExecuted(markCtx, r.At)
	cancel()
	if err != nil {
		log.Error("execution not recorded; task may run again", logx.Err(err))
		l.bus.Publish(eventbus.Event{Type: eventbus.TaskMarkFailed, RunID: res.RunID, Clock: r.At.String(), Detail: err.Error()})
		return res, err
	}
	res.Marked = true
	log.Info("execution recorded", logx.Stringer("at", r.At), logx.Bool("performed", res.Performed))
	l.bus.Publish(eventbus.Event{
		Type:   eventbus.TaskExecuted,
		RunID:  res.RunID,
		Clock:  r.At.String(),
		OK:     res.Performed,
		Detail: cfg.Action.String(),
	})
	return res, nil
}

func (l *Loop) tickFailed(at datetime.DateTime, err error) error {
	l.log.Error("ledger unavailable; tick skipped", logx.Err(err))
	l.bus.Publish(eventbus.Event{Type: eventbus.TickFailed, Clock: at.String(), Detail: err.Error()})
	return err
}

func (l *Loop) printStatus(ctx context.Context, r rtc.Reading) {
	if !l.config().StatusEveryTick {
		return
	}
	st, err := l.statusFor(ctx, r)
	if err != nil {
		l.log.Warn("status unavailable", logx.Err(err))
		return
	}
	_ = l.out.WriteLines(st.Lines()...)
}

// Correct applies one operator correction line.
//
// The reply verdict reflects the clock only. After a successful set, a ledger
// already stamped with the new date is moved back a day so the task runs on
// that date; an error from that step is returned alongside an OK reply.
func (l *Loop) Correct(ctx context.Context, line string) (console.Reply, error) {
	reply := console.Reply{Received: line}
	target, err := datetime.Parse(line)
	if err != nil {
		reply.Verdict, reply.Err = console.BadFormat, err
		l.log.Info("correction rejected", logx.String("line", line), logx.Err(err))
		return reply, nil
	}
	reply.Parsed, reply.HasParsed = target, true

	if err := l.clock.SetTime(target); err != nil {
		reply.Verdict, reply.Err = console.ERR, err
		l.bus.Publish(eventbus.Event{Type: eventbus.ClockSetFailed, Clock: target.String(), Detail: err.Error()})
		return reply, nil
	}
	reply.Verdict = console.OK

	now := l.clock.Now()
	if now.Trusted {
		l.noteTrusted(now.At)
	}
	l.bus.Publish(eventbus.Event{Type: eventbus.ClockSet, Clock: now.At.String(), OK: true, Detail: "target " + target.String()})

	today, err := l.led.IsExecutedToday(ctx, now.At)
	if err != nil {
		return reply, fmt.Errorf("reconcile ledger: %w", err)
	}
	if !today {
		return reply, nil
	}
	if err := l.led.ForceResetTo(ctx, now.At); err != nil {
		return reply, fmt.Errorf("reconcile ledger: %w", err)
	}
	l.bus.Publish(eventbus.Event{Type: eventbus.LedgerReset, Clock: now.At.String(), OK: true, Detail: "clock corrected"})
	return reply, nil
}

// Status reads clock and ledger for display.
func (l *Loop) Status(ctx context.Context) (console.Status, error) {
	return l.statusFor(ctx, l.clock.Now())
}

func (l *Loop) statusFor(ctx context.Context, r rtc.Reading) (console.Status, error) {
	e, err := l.led.LastExecution(ctx)
	if err != nil {
		return console.Status{}, err
	}
	at := r.At
	if last, ok := l.lastTrustedReading(); !r.Trusted && ok {
		at = last
	}
	last, ok := e.At()
	return console.Status{
		Now:           at,
		Trusted:       r.Trusted,
		Last:          e,
		ExecutedToday: ok && last.SameDate(at),
		Health:        r.Health,
	}, nil
}
