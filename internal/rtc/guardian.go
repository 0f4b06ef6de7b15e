package rtc

import (
	"errors"
	"fmt"
	"sync"

	"dailytask/internal/datetime"
	logx "dailytask/pkg/logx"
)

// MaxAttempts bounds SetTime's repair loop.
const MaxAttempts = 3

var ErrRepairExhausted = errors.New("rtc: clock repair exhausted")

// State is the fault the repair loop acted on in one attempt.
type State int

const (
	StateOK State = iota
	StateInvalid
	StateWriteProtected
	StateStopped
	StateMismatched
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateInvalid:
		return "invalid"
	case StateWriteProtected:
		return "write_protected"
	case StateStopped:
		return "stopped"
	case StateMismatched:
		return "mismatched"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RepairError is returned when SetTime runs out of attempts.
type RepairError struct {
	Attempts int
	Last     State
	Reading  datetime.DateTime
	Target   datetime.DateTime
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("rtc: clock repair exhausted after %d attempts (last state %s, reads %s, want %s)",
		e.Attempts, e.Last, e.Reading, e.Target)
}

func (e *RepairError) Is(target error) bool { return target == ErrRepairExhausted }

// Reading is one clock read together with whether it can be acted on.
type Reading struct {
	At      datetime.DateTime
	Trusted bool
	Health  Health
}

// Guardian serializes access to a Device and repairs it on SetTime.
type Guardian struct {
	mu          sync.Mutex
	dev         Device
	log         logx.Logger
	maxAttempts int
}

func NewGuardian(dev Device, log logx.Logger) *Guardian {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guardian{dev: dev, log: log, maxAttempts: MaxAttempts}
}

// Now reads the device. The reading is returned even when untrusted (the
// device reports invalid, is halted, or the year is outside the supported
// window); callers decide what an untrusted reading is good for.
func (g *Guardian) Now() Reading {
	g.mu.Lock()
	defer g.mu.Unlock()
	at := g.dev.DateTime()
	h := readHealth(g.dev)
	trusted := h.Valid && h.Running &&
		at.Year >= datetime.MinYear && at.Year <= datetime.MaxYear
	return Reading{At: at, Trusted: trusted, Health: h}
}

// Health returns the device flags.
func (g *Guardian) Health() Health {
	g.mu.Lock()
	defer g.mu.Unlock()
	return readHealth(g.dev)
}

// SetTime forces the device to target.
//
// Each attempt handles the first fault found, in priority order: invalid
// time (write target), write protection (clear it), halted oscillator
// (start it). With no fault left, a matching date ends the loop; otherwise
// target is written once and read back. Success compares the date only.
func (g *Guardian) SetTime(target datetime.DateTime) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	last := StateOK
	var now datetime.DateTime
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		now = g.dev.DateTime()

		switch {
		case !g.dev.IsDateTimeValid():
			last = StateInvalid
			g.dev.SetDateTime(target)
		case g.dev.IsWriteProtected():
			last = StateWriteProtected
			g.dev.SetWriteProtected(false)
		case !g.dev.IsRunning():
			last = StateStopped
			g.dev.SetRunning(true)
		default:
			if now.SameDate(target) {
				g.log.Info("clock set", logx.Stringer("now", now), logx.Int("attempts", attempt))
				return nil
			}
			last = StateMismatched
			g.dev.SetDateTime(target)
			if now = g.dev.DateTime(); now.SameDate(target) {
				g.log.Info("clock set", logx.Stringer("now", now), logx.Int("attempts", attempt))
				return nil
			}
		}
		g.log.Debug("clock repair step", logx.Int("attempt", attempt), logx.Stringer("state", last), logx.Stringer("reads", now))
	}

	err := &RepairError{Attempts: g.maxAttempts, Last: last, Reading: g.dev.DateTime(), Target: target}
	g.log.Warn("clock repair exhausted", logx.Int("attempts", err.Attempts), logx.Stringer("state", last), logx.Stringer("target", target))
	return err
}
