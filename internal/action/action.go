// Package action maps the configured daily task to something that moves a pin.
package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "dailytask/pkg/logx"
)

// Kind is the closed set of daily tasks.
type Kind int

const (
	Announce Kind = iota
	PumpOnce
	RelayOn
	RelayOff
)

var kindNames = map[Kind]string{
	Announce: "announce",
	PumpOnce: "pump_once",
	RelayOn:  "relay_on",
	RelayOff: "relay_off",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the names printed by Kind.String. Empty means Announce.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Announce, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Announce, fmt.Errorf("unknown action %q (use announce, pump_once, relay_on or relay_off)", s)
}

// Wiring describes where the actuators are connected.
// A pin number of 0 means not wired.
type Wiring struct {
	PumpPin  int
	RelayPin int
	// PumpDuty is the PWM value written to start the pump.
	PumpDuty uint8
	// PumpRun, when positive, stops the pump again after this long.
	PumpRun time.Duration
}

// DefaultWiring is the reference board.
var DefaultWiring = Wiring{PumpPin: 14, RelayPin: 0, PumpDuty: 128}

// Action is one performable task.
type Action interface {
	Kind() Kind
	Perform(ctx context.Context) error
}

// For builds the Action for k. A timed pump run blocks Perform until the
// pump is off again.
func For(k Kind, pins Pins, w Wiring, log logx.Logger) (Action, error) {
	return build(k, pins, w, log, nil)
}

// build is For with an optional spawn hook that takes over the wait before
// a timed pump is switched off.
func build(k Kind, pins Pins, w Wiring, log logx.Logger, spawn func(func(stop <-chan struct{}))) (Action, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch k {
	case Announce:
		return announce{log: log}, nil
	case PumpOnce:
		return pinWrite{kind: k, pins: pins, pin: w.PumpPin, name: "pump_pin", value: w.PumpDuty, hold: w.PumpRun, spawn: spawn, log: log}, nil
	case RelayOn:
		return pinWrite{kind: k, pins: pins, pin: w.RelayPin, name: "relay_pin", value: 255, log: log}, nil
	case RelayOff:
		return pinWrite{kind: k, pins: pins, pin: w.RelayPin, name: "relay_pin", value: 0, log: log}, nil
	default:
		return nil, fmt.Errorf("action: no implementation for %s", k)
	}
}

type announce struct{ log logx.Logger }

func (announce) Kind() Kind { return Announce }

func (a announce) Perform(context.Context) error {
	a.log.Info("daily task executed")
	return nil
}

type pinWrite struct {
	kind  Kind
	pins  Pins
	pin   int
	name  string
	value uint8
	hold  time.Duration
	spawn func(func(stop <-chan struct{}))
	log   logx.Logger
}

func (p pinWrite) Kind() Kind { return p.kind }

func (p pinWrite) Perform(ctx context.Context) error {
	if p.pin == 0 {
		p.log.Warn(p.name+" not wired; skipping", logx.Stringer("action", p.kind))
		return nil
	}
	if err := p.pins.AnalogWrite(p.pin, p.value); err != nil {
		return fmt.Errorf("action %s: pin %d: %w", p.kind, p.pin, err)
	}
	p.log.Info("pin written", logx.Stringer("action", p.kind), logx.Int("pin", p.pin), logx.Int("value", int(p.value)))
	if p.hold <= 0 || p.value == 0 {
		return nil
	}

	if p.spawn == nil {
		return p.switchOff(ctx, nil)
	}
	p.spawn(func(stop <-chan struct{}) {
		if err := p.switchOff(ctx, stop); err != nil {
			p.log.Error("pump left running", logx.Err(err))
		}
	})
	return nil
}

// switchOff waits out the hold, or less on shutdown, and writes 0.
func (p pinWrite) switchOff(ctx context.Context, stop <-chan struct{}) error {
	t := time.NewTimer(p.hold)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-stop:
	}
	if err := p.pins.AnalogWrite(p.pin, 0); err != nil {
		return fmt.Errorf("action %s: pin %d off: %w", p.kind, p.pin, err)
	}
	p.log.Info("pin written", logx.Stringer("action", p.kind), logx.Int("pin", p.pin), logx.Int("value", 0))
	return nil
}
