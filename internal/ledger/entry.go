package ledger

import "dailytask/internal/datetime"

// Entry is the ledger's view of the stored record: either Absent (never
// written, or unreadable) or a valid Record.
//
// Absence is a value, not an error, and never a magic date: callers that need
// something to print use TimeOr.
type Entry struct {
	rec     Record
	present bool

	// Reason explains an absent entry (ErrErased, ErrChecksum, ErrImplausible).
	Reason error
	// Raw is the bytes read from storage.
	Raw []byte
}

// Absent returns an entry for a record that cannot be trusted.
func Absent(reason error, raw []byte) Entry {
	return Entry{Reason: reason, Raw: raw}
}

// Present returns an entry holding a valid record.
func Present(r Record, raw []byte) Entry {
	return Entry{rec: r, present: true, Raw: raw}
}

func (e Entry) Present() bool { return e.present }

// Record returns the stored record and whether it is present.
func (e Entry) Record() (Record, bool) { return e.rec, e.present }

// At returns the execution time and whether it is present.
func (e Entry) At() (datetime.DateTime, bool) { return e.rec.DateTime, e.present }

// TimeOr returns the execution time, or def when absent.
func (e Entry) TimeOr(def datetime.DateTime) datetime.DateTime {
	if !e.present {
		return def
	}
	return e.rec.DateTime
}

func (e Entry) String() string {
	if !e.present {
		return "never"
	}
	return e.rec.DateTime.String()
}
