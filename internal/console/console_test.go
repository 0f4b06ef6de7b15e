package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/datetime"
	"dailytask/internal/ledger"
	"dailytask/internal/rtc"
)

func TestReplyLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		reply Reply
		want  []string
	}{
		{
			"ok",
			Reply{Received: "2025-03-15T08:30:00", Parsed: datetime.New(2025, 3, 15, 8, 30, 0), HasParsed: true, Verdict: OK},
			[]string{"Received: 2025-03-15T08:30:00", "Parsed: 2025-03-15 08:30:00", "OK"},
		},
		{
			"err",
			Reply{Received: "2025/03/15 08:30:00", Parsed: datetime.New(2025, 3, 15, 8, 30, 0), HasParsed: true, Verdict: ERR},
			[]string{"Received: 2025/03/15 08:30:00", "Parsed: 2025-03-15 08:30:00", "ERR"},
		},
		{
			"bad format",
			Reply{Received: "tomorrow", Verdict: BadFormat},
			[]string{"Received: tomorrow", "BAD FORMAT"},
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.reply.Lines(), tt.name)
	}
}

func TestStatusLines(t *testing.T) {
	t.Parallel()
	now := datetime.New(2025, 3, 15, 8, 30, 0)
	rec := ledger.NewRecord(datetime.New(2025, 3, 15, 0, 0, 30))

	got := Status{
		Now:           now,
		Trusted:       true,
		Last:          ledger.Present(rec, rec.Encode()),
		ExecutedToday: true,
		Health:        rtc.Health{Valid: true, Running: true},
	}.Lines()
	assert.Equal(t, []string{
		"Now: 2025-03-15 08:30:00",
		"Daily task executed today at: 2025-03-15 00:00:30",
		"Clock: valid=true running=true write_protected=false",
	}, got)

	got = Status{Now: now, Last: ledger.Absent(ledger.ErrErased, nil)}.Lines()
	assert.Equal(t, "Now: 2025-03-15 08:30:00 (untrusted)", got[0])
	assert.Equal(t, "Daily task not executed today (last: 2000-01-01 00:00:00)", got[1])
}

func TestIsStatusCommand(t *testing.T) {
	t.Parallel()
	assert.True(t, IsStatusCommand("status"))
	assert.True(t, IsStatusCommand(" STATUS "))
	assert.False(t, IsStatusCommand("2025-03-15 08:30:00"))
}

func TestWriterWritesBlocks(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteLines("a", "b"))
	require.NoError(t, w.WriteLines())
	assert.Equal(t, "a\nb\n", buf.String())
}

func TestReadLinesSkipsBlanks(t *testing.T) {
	t.Parallel()
	in := strings.NewReader("  2025-03-15 08:30:00 \r\n\n   \nstatus\n")
	out := make(chan string, 4)
	err := ReadLines(context.Background(), in, out)
	assert.ErrorIs(t, err, io.EOF)
	close(out)

	var got []string
	for l := range out {
		got = append(got, l)
	}
	assert.Equal(t, []string{"2025-03-15 08:30:00", "status"}, got)
}

func TestReadLinesStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadLines(ctx, strings.NewReader("one\ntwo\n"), make(chan string))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadLinesRejectsHugeLine(t *testing.T) {
	t.Parallel()
	err := ReadLines(context.Background(), strings.NewReader(strings.Repeat("x", MaxLine+10)+"\n"), make(chan string, 1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
