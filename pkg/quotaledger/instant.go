package quotaledger

import "time"

// Instant is a point in time pinned to UTC.
//
// Every timestamp the accounting core stores or compares is an Instant, so a
// naive local time can never be compared against a zone-aware one: the only
// way in is through At or a Clock, both of which normalize to UTC first.
type Instant struct {
	t time.Time
}

// At converts a time.Time to an Instant, coercing it to UTC.
func At(t time.Time) Instant {
	return Instant{t: t.UTC()}
}

// NowUTC returns the current instant.
func NowUTC() Instant {
	return Instant{t: time.Now().UTC()}
}

// Time returns the underlying UTC time.Time.
func (i Instant) Time() time.Time {
	return i.t
}

// Before reports whether i is strictly before o.
func (i Instant) Before(o Instant) bool {
	return i.t.Before(o.t)
}

// After reports whether i is strictly after o.
func (i Instant) After(o Instant) bool {
	return i.t.After(o.t)
}

// Equal reports whether i and o are the same instant.
func (i Instant) Equal(o Instant) bool {
	return i.t.Equal(o.t)
}

// Add returns the instant shifted by d.
func (i Instant) Add(d time.Duration) Instant {
	return Instant{t: i.t.Add(d)}
}

// AddDays returns the instant shifted by n calendar days.
func (i Instant) AddDays(n int) Instant {
	return Instant{t: i.t.AddDate(0, 0, n)}
}

// Sub returns the duration i - o.
func (i Instant) Sub(o Instant) time.Duration {
	return i.t.Sub(o.t)
}

// IsZero reports whether the instant is the zero value.
func (i Instant) IsZero() bool {
	return i.t.IsZero()
}

// String returns the instant in RFC 3339 format.
func (i Instant) String() string {
	return i.t.Format(time.RFC3339Nano)
}

// MarshalJSON encodes the instant as an RFC 3339 string.
func (i Instant) MarshalJSON() ([]byte, error) {
	return i.t.MarshalJSON()
}

// UnmarshalJSON decodes an RFC 3339 string and pins it to UTC.
func (i *Instant) UnmarshalJSON(data []byte) error {
	var t time.Time
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	i.t = t.UTC()
	return nil
}

// Clock provides the current instant. Production code uses SystemClock;
// tests inject a fixed clock to pin expiry and billing-cycle boundaries.
type Clock interface {
	Now() Instant
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() Instant {
	return NowUTC()
}

// FixedClock always returns the same instant. Intended for tests.
type FixedClock struct {
	Instant Instant
}

// Now implements Clock.
func (c FixedClock) Now() Instant {
	return c.Instant
}
