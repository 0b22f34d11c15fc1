// Package calendar provides a timezone-free calendar day used by every
// streak and aggregation computation. Timestamps are converted into days once,
// at the boundary, with an explicit location.
package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the wire and storage form of a Day.
const Layout = "2006-01-02"

const hoursPerDay = 24

// ErrInvalidDay indicates a value that is not a YYYY-MM-DD calendar day.
var ErrInvalidDay = errors.New("calendar: invalid day")

// Day is a calendar date with no time-of-day or zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// Date returns the Day for the given components, normalizing overflow the way time.Date does.
func Date(year int, month time.Month, day int) Day {
	return fromUTC(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Parse reads a YYYY-MM-DD string.
func Parse(value string) (Day, error) {
	trimmed := strings.TrimSpace(value)
	parsed, err := time.Parse(Layout, trimmed)
	if err != nil {
		return Day{}, fmt.Errorf("%w: %q", ErrInvalidDay, value)
	}
	return fromUTC(parsed), nil
}

// FromTime returns the calendar day t falls on in loc. A nil loc means UTC.
func FromTime(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Day{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

func fromUTC(t time.Time) Day {
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Weekday returns the day of the week, Sunday = 0.
func (d Day) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	return fromUTC(d.Time().AddDate(0, 0, n))
}

// DaysUntil returns the number of whole days from d to other.
func (d Day) DaysUntil(other Day) int {
	return int(other.Time().Sub(d.Time()).Hours()) / hoursPerDay
}

// Compare returns -1, 0 or +1 ordering d against other.
func (d Day) Compare(other Day) int {
	switch {
	case d.Year != other.Year:
		return compareInts(d.Year, other.Year)
	case d.Month != other.Month:
		return compareInts(int(d.Month), int(other.Month))
	default:
		return compareInts(d.Day, other.Day)
	}
}

// Before reports whether d is earlier than other.
func (d Day) Before(other Day) bool {
	return d.Compare(other) < 0
}

// After reports whether d is later than other.
func (d Day) After(other Day) bool {
	return d.Compare(other) > 0
}

// StartOfWeek returns the most recent Sunday on or before d.
func (d Day) StartOfWeek() Day {
	return d.AddDays(-int(d.Weekday()))
}

// InMonth reports whether d falls in the given year and month.
func (d Day) InMonth(year int, month time.Month) bool {
	return d.Year == year && d.Month == month
}

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MarshalJSON encodes the day as a YYYY-MM-DD string.
func (d Day) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string.
func (d *Day) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Day{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDay, err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the day as its YYYY-MM-DD string.
func (d Day) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan reads a day stored as text or as a date/timestamp column.
func (d *Day) Scan(src any) error {
	switch value := src.(type) {
	case string:
		return d.scanString(value)
	case []byte:
		return d.scanString(string(value))
	case time.Time:
		*d = Day{Year: value.Year(), Month: value.Month(), Day: value.Day()}
		return nil
	case nil:
		*d = Day{}
		return nil
	default:
		return fmt.Errorf("%w: unsupported column type %T", ErrInvalidDay, src)
	}
}

func (d *Day) scanString(value string) error {
	if len(value) > len(Layout) {
		value = value[:len(Layout)]
	}
	parsed, err := Parse(value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
