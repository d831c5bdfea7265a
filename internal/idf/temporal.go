package idf

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/jittakal/kafrowstore/pkg/schema"
)

const (
	timeFractionDigits     = 6
	dateTimeFractionDigits = 3
)

var (
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern     = regexp.MustCompile(`^(\d{2}:\d{2}:\d{2})(?:\.(\d{1,9}))?$`)
	dateTimePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2}:\d{2})(?:\.(\d{1,9}))?(Z|[+-]\d{2}:?\d{2})?$`)
)

func parseDate(col *schema.Column, raw string) (any, error) {
	if !datePattern.MatchString(raw) {
		return nil, typeError(col, raw, "date must match YYYY-MM-DD", nil)
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return nil, typeError(col, raw, "invalid date", err)
	}
	return d, nil
}

func parseTime(col *schema.Column, raw string) (any, error) {
	m := timePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, typeError(col, raw, "time must match HH:MM:SS[.ffffff]", nil)
	}
	return parseClock(col, raw, m[1], m[2])
}

// parseDateTime returns a civil.DateTime for offset-less text and a time.Time
// in a fixed zone when an offset is present.
func parseDateTime(col *schema.Column, raw string) (any, error) {
	m := dateTimePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, typeError(col, raw, "timestamp must match YYYY-MM-DD HH:MM:SS[.fff][±HHMM]", nil)
	}

	date, err := civil.ParseDate(m[1])
	if err != nil {
		return nil, typeError(col, raw, "invalid date", err)
	}
	clock, err := parseClock(col, raw, m[2], m[3])
	if err != nil {
		return nil, err
	}
	dt := civil.DateTime{Date: date, Time: clock}

	if m[4] == "" {
		return dt, nil
	}
	if !col.HasTimezone {
		return nil, typeError(col, raw, "timezone offset present on a column without timezone", nil)
	}
	zone, err := parseOffset(m[4])
	if err != nil {
		return nil, typeError(col, raw, "invalid timezone offset", err)
	}
	return dt.In(zone), nil
}

// parseClock parses HH:MM:SS plus an optional fraction. A fraction on a column
// without fractions is tolerated only when it is all zeros.
func parseClock(col *schema.Column, raw, hms, fraction string) (civil.Time, error) {
	t, err := civil.ParseTime(hms)
	if err != nil {
		return civil.Time{}, typeError(col, raw, "invalid time of day", err)
	}
	if fraction == "" {
		return t, nil
	}
	if !col.HasFraction {
		if strings.Trim(fraction, "0") != "" {
			return civil.Time{}, typeError(col, raw, "fractional seconds present on a column without fraction", nil)
		}
		return t, nil
	}
	ns, err := strconv.Atoi(fraction + strings.Repeat("0", 9-len(fraction)))
	if err != nil {
		return civil.Time{}, typeError(col, raw, "invalid fractional seconds", err)
	}
	t.Nanosecond = ns
	return t, nil
}

// parseOffset accepts Z, ±HHMM and ±HH:MM.
func parseOffset(s string) (*time.Location, error) {
	if s == "Z" {
		return time.UTC, nil
	}
	digits := strings.ReplaceAll(s[1:], ":", "")
	hours, err := strconv.Atoi(digits[:2])
	if err != nil {
		return nil, err
	}
	minutes, err := strconv.Atoi(digits[2:])
	if err != nil {
		return nil, err
	}
	if hours > 23 || minutes > 59 {
		return nil, fmt.Errorf("offset %s out of range", s)
	}
	secs := hours*3600 + minutes*60
	if s[0] == '-' {
		secs = -secs
	}
	return time.FixedZone("", secs), nil
}

// checkYear rejects dates whose year does not fit the four digits of
// YYYY-MM-DD.
func checkYear(col *schema.Column, d civil.Date) error {
	if d.Year < 0 || d.Year > 9999 {
		return typeError(col, d.String(), "year outside 0000-9999", nil)
	}
	return nil
}

func formatDate(col *schema.Column, v any) (string, error) {
	var d civil.Date
	switch x := v.(type) {
	case civil.Date:
		d = x
	case time.Time:
		d = civil.DateOf(x)
	case civil.DateTime:
		d = x.Date
	default:
		return "", unsupportedValue(col, v)
	}
	if !d.IsValid() {
		return "", typeError(col, d.String(), "invalid date", nil)
	}
	if err := checkYear(col, d); err != nil {
		return "", err
	}
	return d.String(), nil
}

func formatTime(col *schema.Column, v any) (string, error) {
	var t civil.Time
	switch x := v.(type) {
	case civil.Time:
		t = x
	case time.Time:
		t = civil.TimeOf(x)
	default:
		return "", unsupportedValue(col, v)
	}
	if !t.IsValid() {
		return "", typeError(col, fmt.Sprint(v), "invalid time of day", nil)
	}
	return formatClock(t, col.HasFraction, timeFractionDigits), nil
}

func formatDateTime(col *schema.Column, v any) (string, error) {
	switch x := v.(type) {
	case time.Time:
		dt := civil.DateTimeOf(x)
		if err := checkYear(col, dt.Date); err != nil {
			return "", err
		}
		s := dt.Date.String() + " " + formatClock(dt.Time, col.HasFraction, dateTimeFractionDigits)
		if col.HasTimezone {
			_, offset := x.Zone()
			if offset%60 != 0 || offset <= -24*3600 || offset >= 24*3600 {
				return "", typeError(col, x.String(), "offset not representable as ±HHMM", nil)
			}
			s += formatOffset(offset)
		}
		return s, nil
	case civil.DateTime:
		if !x.IsValid() {
			return "", typeError(col, x.String(), "invalid timestamp", nil)
		}
		if err := checkYear(col, x.Date); err != nil {
			return "", err
		}
		return x.Date.String() + " " + formatClock(x.Time, col.HasFraction, dateTimeFractionDigits), nil
	}
	return "", unsupportedValue(col, v)
}

// formatClock renders HH:MM:SS and, when requested, a zero-padded fraction
// truncated to the given number of digits.
func formatClock(t civil.Time, withFraction bool, digits int) string {
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	if !withFraction {
		return s
	}
	unit := 1
	for i := digits; i < 9; i++ {
		unit *= 10
	}
	return s + fmt.Sprintf(".%0*d", digits, t.Nanosecond/unit)
}

// formatOffset renders whole-minute offsets as ±HHMM.
func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d%02d", sign, seconds/3600, (seconds%3600)/60)
}
