// Package period converts upstream dates into month-end watermarks and walks
// bounded ranges of calendar months.
package period

import (
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidDate is returned when a date string does not parse as a calendar date.
var ErrInvalidDate = eris.New("period: invalid date")

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// Month is a calendar month. The zero value means "no month".
type Month struct {
	Year  int
	Month time.Month
}

// Normalize returns the last day of the month named by s, as YYYY-MM-DD.
// The day component of s is validated but otherwise ignored. An empty input
// yields an empty result and no error.
func Normalize(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	m, err := ParseMonth(s)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// ParseMonth parses YYYY-MM-DD (optionally followed by a time part) or YYYY-MM.
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) && (s[len(dateLayout)] == 'T' || s[len(dateLayout)] == ' ') {
		s = s[:len(dateLayout)]
	}

	layout := dateLayout
	if len(s) == len(monthLayout) {
		layout = monthLayout
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Month{}, eris.Wrapf(ErrInvalidDate, "parse %q", s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// MustParseMonth is ParseMonth for literals known to be valid; it panics otherwise.
func MustParseMonth(s string) Month {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Of returns the month containing t.
func Of(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// IsZero reports whether m is the zero Month.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// AddMonths returns the month n months after m (n may be negative).
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.Year, m.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return Of(t)
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	return m.AddMonths(1)
}

// LastDay returns midnight UTC on the final day of m.
func (m Month) LastDay() time.Time {
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC)
}

// String returns the normalized watermark form, YYYY-MM-DD with the last day of the month.
func (m Month) String() string {
	return m.LastDay().Format(dateLayout)
}

// APIString returns the YYYY-MM form used in upstream query parameters.
func (m Month) APIString() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format(monthLayout)
}

// Compare returns -1, 0 or +1 depending on whether m is before, equal to or after o.
func (m Month) Compare(o Month) int {
	switch {
	case m.Year < o.Year || (m.Year == o.Year && m.Month < o.Month):
		return -1
	case m == o:
		return 0
	default:
		return 1
	}
}

// Before reports whether m precedes o.
func (m Month) Before(o Month) bool { return m.Compare(o) < 0 }

// After reports whether m follows o.
func (m Month) After(o Month) bool { return m.Compare(o) > 0 }

// EndsAfter reports whether the last day of m lies after now. A month that
// has not finished yet is treated as being in the future.
func (m Month) EndsAfter(now time.Time) bool {
	return m.LastDay().After(now.UTC())
}

// Range is a bounded walk over consecutive months starting at From. It stops
// after Until, after the last month that has ended by Now, or after Max
// iterations, whichever comes first. Max <= 0 disables the iteration cap.
type Range struct {
	From  Month
	Until Month
	Now   time.Time
	Max   int
}

func (r Range) inBounds(m Month) bool {
	if m.After(r.Until) {
		return false
	}
	if !r.Now.IsZero() && m.EndsAfter(r.Now) {
		return false
	}
	return true
}

// All yields (iteration, month) pairs. Iterations are numbered from 1.
func (r Range) All() iter.Seq2[int, Month] {
	return func(yield func(int, Month) bool) {
		m := r.From
		for i := 1; r.Max <= 0 || i <= r.Max; i++ {
			if !r.inBounds(m) {
				return
			}
			if !yield(i, m) {
				return
			}
			m = m.Next()
		}
	}
}

// Months collects the range into a slice.
func (r Range) Months() []Month {
	var out []Month
	for _, m := range r.All() {
		out = append(out, m)
	}
	return out
}

// Capped reports whether the iteration cap cut the walk short, i.e. whether
// month Max+1 would still have been inside the bounds.
func (r Range) Capped() bool {
	if r.Max <= 0 {
		return false
	}
	return r.inBounds(r.From.AddMonths(r.Max))
}
