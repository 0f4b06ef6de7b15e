// Package rtc guards a battery-backed real-time clock.
//
// A Device is the raw chip. A Guardian wraps it with a bounded repair loop
// that coaxes a chip surfacing from power loss (invalid, write-protected,
// halted, or simply wrong) into holding the time it is given.
package rtc

import "dailytask/internal/datetime"

// Device is the RTC chip driver.
//
// Methods do not return errors: like the chips they model, a refused write is
// only visible by reading the registers back.
type Device interface {
	DateTime() datetime.DateTime
	SetDateTime(dt datetime.DateTime)
	IsDateTimeValid() bool
	IsWriteProtected() bool
	SetWriteProtected(protect bool)
	IsRunning() bool
	SetRunning(running bool)
	Close() error
}

// Health is a snapshot of the device flags.
type Health struct {
	Valid          bool `json:"valid"`
	WriteProtected bool `json:"write_protected"`
	Running        bool `json:"running"`
}

func readHealth(d Device) Health {
	return Health{
		Valid:          d.IsDateTimeValid(),
		WriteProtected: d.IsWriteProtected(),
		Running:        d.IsRunning(),
	}
}
