package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"dailytask/internal/datetime"
)

// RecordSize is the on-storage size of a Record.
//
// Layout:
//
//	0-1 year (uint16, little endian)
//	2   month
//	3   day
//	4   hour
//	5   minute
//	6   second
//	7   checksum
const RecordSize = 8

// Reasons a stored record is treated as absent.
var (
	ErrErased      = errors.New("ledger: record never written")
	ErrChecksum    = errors.New("ledger: checksum mismatch")
	ErrImplausible = errors.New("ledger: implausible year")
)

// Record is one execution timestamp plus its checksum.
type Record struct {
	datetime.DateTime
	Checksum uint8
}

// NewRecord stamps dt with its checksum.
func NewRecord(dt datetime.DateTime) Record {
	return Record{DateTime: dt, Checksum: Checksum(dt)}
}

// Checksum is the 8-bit wraparound sum of the six fields.
//
// It catches erased cells and torn writes. It cannot see a change in the
// year's high byte (a multiple of 256), which Check covers with a year window.
func Checksum(dt datetime.DateTime) uint8 {
	return uint8(uint(dt.Year) + uint(dt.Month) + uint(dt.Day) +
		uint(dt.Hour) + uint(dt.Minute) + uint(dt.Second))
}

// Encode returns the fixed layout.
func (r Record) Encode() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(b[0:2], r.Year)
	b[2] = r.Month
	b[3] = r.Day
	b[4] = r.Hour
	b[5] = r.Minute
	b[6] = r.Second
	b[7] = r.Checksum
	return b
}

// Decode reads the fixed layout without validating it.
func Decode(b []byte) (Record, error) {
	if len(b) != RecordSize {
		return Record{}, fmt.Errorf("ledger: record is %d bytes, want %d", len(b), RecordSize)
	}
	return Record{
		DateTime: datetime.DateTime{
			Year:   binary.LittleEndian.Uint16(b[0:2]),
			Month:  b[2],
			Day:    b[3],
			Hour:   b[4],
			Minute: b[5],
			Second: b[6],
		},
		Checksum: b[7],
	}, nil
}

// Check reports why r cannot be trusted, or nil.
//
// The accepted year window starts one year before datetime.MinYear so a
// reset record dated the day before 2000-01-01 still reads back.
func (r Record) Check() error {
	if r.Year == 0xFFFF && r.Month == 0xFF && r.Day == 0xFF && r.Checksum == 0xFF {
		return ErrErased
	}
	if Checksum(r.DateTime) != r.Checksum {
		return ErrChecksum
	}
	if r.Year < datetime.MinYear-1 || r.Year > datetime.MaxYear {
		return ErrImplausible
	}
	return nil
}

// Valid reports whether Check passes.
func (r Record) Valid() bool { return r.Check() == nil }
