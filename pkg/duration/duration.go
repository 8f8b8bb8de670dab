// Package duration parses and prints human-scale durations. It accepts
// everything time.ParseDuration does plus day, week, month and year units,
// so retention ages can be written as "30d" or "2w".
package duration

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// units maps suffixes to their length. Longer suffixes must be matched
// before their prefixes ("mo" and "ms" before "m").
var units = []struct {
	suffix string
	size   time.Duration
}{
	{"mo", Month},
	{"ms", time.Millisecond},
	{"us", time.Microsecond},
	{"µs", time.Microsecond},
	{"ns", time.Nanosecond},
	{"y", Year},
	{"w", Week},
	{"d", Day},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// Parse reads a sequence of <number><unit> terms such as "1d12h" or
// "1.5w". Terms may be separated by spaces. "0" parses to zero.
func Parse(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("duration: empty string")
	}
	if in == "0" {
		return 0, nil
	}

	neg := false
	switch in[0] {
	case '-':
		neg = true
		in = in[1:]
	case '+':
		in = in[1:]
	}

	var total float64
	terms := 0
	for in = strings.TrimLeft(in, " "); in != ""; in = strings.TrimLeft(in, " ") {
		end := 0
		for end < len(in) && (in[end] == '.' || (in[end] >= '0' && in[end] <= '9')) {
			end++
		}
		if end == 0 {
			return 0, fmt.Errorf("duration: expected number in %q", s)
		}
		n, err := strconv.ParseFloat(in[:end], 64)
		if err != nil {
			return 0, fmt.Errorf("duration: bad number %q in %q", in[:end], s)
		}
		in = in[end:]

		size := time.Duration(0)
		for _, u := range units {
			if strings.HasPrefix(in, u.suffix) {
				size = u.size
				in = in[len(u.suffix):]
				break
			}
		}
		if size == 0 {
			return 0, fmt.Errorf("duration: missing or unknown unit in %q", s)
		}
		total += n * float64(size)
		terms++
	}
	if terms == 0 {
		return 0, fmt.Errorf("duration: no terms in %q", s)
	}
	if total > math.MaxInt64 {
		return 0, fmt.Errorf("duration: %q overflows", s)
	}

	d := time.Duration(math.Round(total))
	if neg {
		d = -d
	}
	return d, nil
}

// Format prints d using days, hours, minutes, seconds and milliseconds,
// omitting zero terms. Anything below a millisecond is dropped. Output
// always parses back with Parse.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, u := range []struct {
		suffix string
		size   time.Duration
	}{
		{"d", Day}, {"h", time.Hour}, {"m", time.Minute}, {"s", time.Second}, {"ms", time.Millisecond},
	} {
		if n := d / u.size; n > 0 {
			b.WriteString(strconv.FormatInt(int64(n), 10))
			b.WriteString(u.suffix)
			d -= n * u.size
		}
	}
	if b.Len() == 0 || b.String() == "-" {
		return "0s"
	}
	return b.String()
}
