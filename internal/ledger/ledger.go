package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"dailytask/internal/datetime"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

// ErrWriteMismatch is returned by MarkExecuted when the bytes read back after
// a write differ from what was written.
var ErrWriteMismatch = errors.New("ledger: write not verified")

// ResetPolicy selects how ForceResetTo computes "the day before".
type ResetPolicy int

const (
	// ResetCalendar borrows across month and year boundaries.
	ResetCalendar ResetPolicy = iota
	// ResetLiteral decrements the day field only (day 1 becomes day 0),
	// matching records written by legacy controllers.
	ResetLiteral
)

// ParseResetPolicy accepts "calendar" (default when empty) or "literal".
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "calendar":
		return ResetCalendar, nil
	case "literal":
		return ResetLiteral, nil
	default:
		return ResetCalendar, fmt.Errorf("unknown reset policy %q (use calendar or literal)", s)
	}
}

func (p ResetPolicy) String() string {
	if p == ResetLiteral {
		return "literal"
	}
	return "calendar"
}

type Options struct {
	// Offset of the record inside the region.
	Offset int64
	Reset  ResetPolicy
	Log    logx.Logger
}

// Ledger owns the single execution record stored in an NVRAM region.
//
// The ledger never reads the clock; callers pass the current reading in.
type Ledger struct {
	nv     storage.NVRAM
	offset int64
	reset  ResetPolicy
	log    logx.Logger

	// lastBad is the raw image of the last corrupt record we warned about,
	// so a record that stays corrupt is reported once.
	mu      sync.Mutex
	lastBad []byte
}

func New(nv storage.NVRAM, opt Options) *Ledger {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Ledger{
		nv:     nv,
		offset: opt.Offset,
		reset:  opt.Reset,
		log:    opt.Log,
	}
}

// Offset returns the record's position in the region.
func (l *Ledger) Offset() int64 { return l.offset }

// LastExecution reads the stored record.
func (l *Ledger) LastExecution(ctx context.Context) (Entry, error) {
	var e Entry
	err := l.critical(ctx, func() error {
		var err error
		e, err = l.readLocked(ctx)
		return err
	})
	return e, err
}

// LastExecutionTime returns the stored execution time, or datetime.Epoch when
// nothing valid is stored. Prefer LastExecution where absence matters.
func (l *Ledger) LastExecutionTime(ctx context.Context) (datetime.DateTime, error) {
	e, err := l.LastExecution(ctx)
	if err != nil {
		return datetime.Epoch, err
	}
	return e.TimeOr(datetime.Epoch), nil
}

// IsNewDay reports whether current's date is strictly later than the stored
// date. An absent record always counts as a new day. A stored date equal to
// or later than current (clock rolled back) is not a new day.
func (l *Ledger) IsNewDay(ctx context.Context, current datetime.DateTime) (bool, error) {
	e, err := l.LastExecution(ctx)
	if err != nil {
		return false, err
	}
	last, ok := e.At()
	if !ok {
		return true, nil
	}
	return current.DateAfter(last), nil
}

// IsExecutedToday reports whether a valid record carries current's date.
func (l *Ledger) IsExecutedToday(ctx context.Context, current datetime.DateTime) (bool, error) {
	e, err := l.LastExecution(ctx)
	if err != nil {
		return false, err
	}
	last, ok := e.At()
	return ok && last.SameDate(current), nil
}

// MarkExecuted stores dt and verifies the write by reading it back.
//
// A nil error means the read-back date and checksum match what was written.
// ErrWriteMismatch means the write went through but did not stick.
func (l *Ledger) MarkExecuted(ctx context.Context, dt datetime.DateTime) error {
	rec := NewRecord(dt)
	return l.critical(ctx, func() error {
		if err := l.nv.WriteRecord(ctx, l.offset, rec.Encode()); err != nil {
			return fmt.Errorf("ledger: write: %w", err)
		}
		raw, err := l.nv.ReadRecord(ctx, l.offset, RecordSize)
		if err != nil {
			return fmt.Errorf("ledger: read back: %w", err)
		}
		got, err := Decode(raw)
		if err != nil {
			return err
		}
		if !got.SameDate(rec.DateTime) || got.Checksum != rec.Checksum {
			l.log.Warn("ledger write mismatch",
				logx.String("want", fmt.Sprintf("% x", rec.Encode())),
				logx.String("got", fmt.Sprintf("% x", raw)))
			return fmt.Errorf("%w: wrote %s, read back %s", ErrWriteMismatch, rec.DateTime, got.DateTime)
		}
		l.log.Debug("ledger marked", logx.Stringer("at", dt))
		return nil
	})
}

// ForceResetTo stores midnight of the day before dt so that dt's own date
// reads as not yet executed. The write is not read back.
func (l *Ledger) ForceResetTo(ctx context.Context, dt datetime.DateTime) error {
	prev := dt.DayBefore()
	if l.reset == ResetLiteral {
		prev = dt.DayBeforeLiteral()
	}
	rec := NewRecord(prev)
	err := l.critical(ctx, func() error {
		return l.nv.WriteRecord(ctx, l.offset, rec.Encode())
	})
	if err != nil {
		return fmt.Errorf("ledger: reset: %w", err)
	}
	l.log.Info("ledger reset", logx.Stringer("for", dt), logx.Stringer("stored", prev), logx.Stringer("policy", l.reset))
	return nil
}

// critical runs fn inside the region's critical section. The section is
// released on every path, including panics in fn.
func (l *Ledger) critical(ctx context.Context, fn func() error) error {
	unlock, err := l.nv.Lock(ctx)
	if err != nil {
		return fmt.Errorf("ledger: enter critical section: %w", err)
	}
	defer unlock()
	return fn()
}

func (l *Ledger) readLocked(ctx context.Context) (Entry, error) {
	raw, err := l.nv.ReadRecord(ctx, l.offset, RecordSize)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: read: %w", err)
	}
	rec, err := Decode(raw)
	if err != nil {
		return Entry{}, err
	}
	if reason := rec.Check(); reason != nil {
		l.noteAbsent(reason, raw)
		return Absent(reason, raw), nil
	}
	return Present(rec, raw), nil
}

func (l *Ledger) noteAbsent(reason error, raw []byte) {
	if errors.Is(reason, ErrErased) {
		return
	}
	l.mu.Lock()
	seen := bytes.Equal(l.lastBad, raw)
	if !seen {
		l.lastBad = append(l.lastBad[:0], raw...)
	}
	l.mu.Unlock()
	if !seen {
		l.log.Warn("ledger record unreadable; treating as never executed",
			logx.Err(reason), logx.String("raw", fmt.Sprintf("% x", raw)))
	}
}
