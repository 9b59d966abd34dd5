// Package period maps named report ranges onto half-open time intervals in
// the viewer's local calendar.
package period

import (
	"time"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Token names a report range.
type Token string

const (
	Today       Token = "today"
	Yesterday   Token = "yesterday"
	Last7Days   Token = "last_7_days"
	ThisMonth   Token = "this_month"
	LastMonth   Token = "last_month"
	Last3Months Token = "last_3_months"
	ThisQuarter Token = "this_quarter"
	ThisYear    Token = "this_year"
	All         Token = "all"
)

var tokens = []Token{Today, Yesterday, Last7Days, ThisMonth, LastMonth, Last3Months, ThisQuarter, ThisYear, All}

// Tokens lists every accepted token in presentation order.
func Tokens() []Token {
	return append([]Token(nil), tokens...)
}

// ParseToken validates a raw token string.
func ParseToken(raw string) (Token, error) {
	for _, t := range tokens {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", &shared.ValidationError{Field: "period", Value: raw}
}

// Interval is [Start, End). Unbounded marks the "all" range.
type Interval struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Unbounded bool      `json:"unbounded,omitempty"`
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Resolve computes the interval for token relative to now, using now's location.
func Resolve(token Token, now time.Time) (Interval, error) {
	loc := now.Location()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)

	switch token {
	case Today:
		return Interval{Start: midnight, End: midnight.AddDate(0, 0, 1)}, nil
	case Yesterday:
		return Interval{Start: midnight.AddDate(0, 0, -1), End: midnight}, nil
	case Last7Days:
		return Interval{Start: now.AddDate(0, 0, -7), End: now}, nil
	case ThisMonth:
		return Interval{Start: monthStart, End: monthStart.AddDate(0, 1, 0)}, nil
	case LastMonth:
		return Interval{Start: monthStart.AddDate(0, -1, 0), End: monthStart}, nil
	case Last3Months:
		return Interval{Start: monthStart.AddDate(0, -2, 0), End: now}, nil
	case ThisQuarter:
		first := time.Month((int(m)-1)/3*3 + 1)
		start := time.Date(y, first, 1, 0, 0, 0, 0, loc)
		return Interval{Start: start, End: start.AddDate(0, 3, 0)}, nil
	case ThisYear:
		return Interval{Start: time.Date(y, time.January, 1, 0, 0, 0, 0, loc), End: now}, nil
	case All:
		return Interval{
			Start:     time.Date(1970, time.January, 1, 0, 0, 0, 0, loc),
			End:       time.Date(9999, time.December, 31, 0, 0, 0, 0, loc),
			Unbounded: true,
		}, nil
	default:
		return Interval{}, &shared.ValidationError{Field: "period", Value: string(token)}
	}
}

// ResolveString parses raw and resolves it in one step.
func ResolveString(raw string, now time.Time) (Token, Interval, error) {
	token, err := ParseToken(raw)
	if err != nil {
		return "", Interval{}, err
	}
	iv, err := Resolve(token, now)
	return token, iv, err
}
