// Package console speaks the operator line protocol.
//
// One input line is one command: a date-time correction or "status". Replies
// echo the line ("Received: ..."), the parsed value ("Parsed: ...") and end in
// OK, ERR or BAD FORMAT.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"dailytask/internal/datetime"
	"dailytask/internal/ledger"
	"dailytask/internal/rtc"
)

// MaxLine bounds a single input line.
const MaxLine = 4096

// Verdict is the final reply line.
type Verdict int

const (
	OK Verdict = iota
	ERR
	BadFormat
)

func (v Verdict) String() string {
	switch v {
	case OK:
		return "OK"
	case ERR:
		return "ERR"
	case BadFormat:
		return "BAD FORMAT"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Reply is the answer to one correction line.
type Reply struct {
	Received string
	Parsed   datetime.DateTime
	// HasParsed is false when the line did not parse.
	HasParsed bool
	Verdict   Verdict
	Err       error
}

func (r Reply) Lines() []string {
	out := []string{"Received: " + r.Received}
	if r.HasParsed {
		out = append(out, "Parsed: "+r.Parsed.String())
	}
	return append(out, r.Verdict.String())
}

// Status is the periodic status block.
type Status struct {
	Now           datetime.DateTime
	Trusted       bool
	Last          ledger.Entry
	ExecutedToday bool
	Health        rtc.Health
}

func (s Status) Lines() []string {
	now := "Now: " + s.Now.String()
	if !s.Trusted {
		now += " (untrusted)"
	}
	last := s.Last.TimeOr(datetime.Epoch)
	task := fmt.Sprintf("Daily task not executed today (last: %s)", last)
	if s.ExecutedToday {
		task = "Daily task executed today at: " + last.String()
	}
	clock := fmt.Sprintf("Clock: valid=%t running=%t write_protected=%t",
		s.Health.Valid, s.Health.Running, s.Health.WriteProtected)
	return []string{now, task, clock}
}

// IsStatusCommand reports whether line asks for the status block.
func IsStatusCommand(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), "status")
}

// Writer serializes whole blocks of lines onto w.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	if w == nil {
		w = io.Discard
	}
	return &Writer{w: w}
}

// WriteLines writes lines as one block so concurrent writers never interleave
// inside a block.
func (w *Writer) WriteLines(lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := io.WriteString(w.w, b.String())
	return err
}

// Write lets the Writer serve as a log sink.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// ReadLines forwards trimmed, non-blank lines from r to out until r ends or
// ctx is done. out is not closed. Over-long lines are an error.
func ReadLines(ctx context.Context, r io.Reader, out chan<- string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), MaxLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("console: line longer than %d bytes", MaxLine)
		}
		return fmt.Errorf("console: read: %w", err)
	}
	return io.EOF
}
