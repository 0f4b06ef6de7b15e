package datetime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalid matches every rejection produced by Parse.
	ErrInvalid = errors.New("datetime: invalid input")

	ErrBadFormat  = fmt.Errorf("%w: bad format", ErrInvalid)
	ErrOutOfRange = fmt.Errorf("%w: out of range", ErrInvalid)
)

// Accepted layouts:
//   - YYYY-MM-DD HH:MM:SS
//   - YYYY/MM/DD HH:MM:SS
//   - YYYY-MM-DDTHH:MM:SS
//
// Month, day and time components may be written with one or two digits.
var layouts = []*regexp.Regexp{
	regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2}) +(\d{1,2}):(\d{1,2}):(\d{1,2})$`),
	regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2}) +(\d{1,2}):(\d{1,2}):(\d{1,2})$`),
	regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})T(\d{1,2}):(\d{1,2}):(\d{1,2})$`),
}

// Parse decodes an operator date-time line. Surrounding whitespace is
// ignored; all six components are required and range-checked.
func Parse(raw string) (DateTime, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DateTime{}, fmt.Errorf("%w: empty input", ErrBadFormat)
	}

	var m []string
	for _, re := range layouts {
		if m = re.FindStringSubmatch(s); m != nil {
			break
		}
	}
	if m == nil {
		return DateTime{}, fmt.Errorf("%w: %q (use YYYY-MM-DD HH:MM:SS)", ErrBadFormat, raw)
	}

	var v [6]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return DateTime{}, fmt.Errorf("%w: %q", ErrBadFormat, raw)
		}
		v[i] = n
	}

	dt := New(v[0], v[1], v[2], v[3], v[4], v[5])
	if err := dt.Validate(); err != nil {
		return DateTime{}, err
	}
	return dt, nil
}
