package primitives

import "time"

// Time wraps time.Time for temporal operations in the framework.
// Market data indices and simulation steps are keyed by Time.
type Time struct {
	value time.Time
}

// NewTime creates a Time from a time.Time value.
func NewTime(t time.Time) Time {
	return Time{value: t.UTC()}
}

// Unix creates a Time from a Unix timestamp (seconds since epoch).
func Unix(sec int64) Time {
	return Time{value: time.Unix(sec, 0).UTC()}
}

// Add returns the time t+d.
func (t Time) Add(d Duration) Time {
	return Time{value: t.value.Add(d.value)}
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) Duration {
	return Duration{value: t.value.Sub(u.value)}
}

// Before reports whether the time instant t is before u.
func (t Time) Before(u Time) bool {
	return t.value.Before(u.value)
}

// After reports whether the time instant t is after u.
func (t Time) After(u Time) bool {
	return t.value.After(u.value)
}

// Equal reports whether t and u represent the same time instant.
func (t Time) Equal(u Time) bool {
	return t.value.Equal(u.value)
}

// Unix returns t as a Unix time in seconds.
func (t Time) Unix() int64 {
	return t.value.Unix()
}

// Format returns a textual representation of the time value formatted
// according to the layout defined by the argument.
func (t Time) Format(layout string) string {
	return t.value.Format(layout)
}

// String returns the string representation of the Time.
func (t Time) String() string {
	return t.value.String()
}

// Time returns the underlying time.Time value.
func (t Time) Time() time.Time {
	return t.value
}

// Duration wraps time.Duration for temporal durations in the framework.
type Duration struct {
	value time.Duration
}

// NewDuration creates a Duration from a time.Duration value.
func NewDuration(d time.Duration) Duration {
	return Duration{value: d}
}

// Minutes creates a Duration from minutes.
func Minutes(min int64) Duration {
	return Duration{value: time.Duration(min) * time.Minute}
}

// Days creates a Duration from days (24-hour periods).
func Days(days int64) Duration {
	return Duration{value: time.Duration(days) * 24 * time.Hour}
}

// MinutesOf returns the duration as a floating point number of minutes.
func (d Duration) MinutesOf() float64 {
	return d.value.Minutes()
}

// IsZero reports whether d represents the zero duration.
func (d Duration) IsZero() bool {
	return d.value == 0
}

// String returns the string representation of the Duration.
func (d Duration) String() string {
	return d.value.String()
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return d.value
}
