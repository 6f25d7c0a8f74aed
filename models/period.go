package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const periodLayout = "2006-01"

var ErrInvalidPeriod = errors.New("invalid period (expected YYYY-MM)")

// Period is a UTC calendar month, formatted YYYY-MM.
type Period string

func ParsePeriod(raw string) (Period, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != len(periodLayout) {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidPeriod)
	}
	t, err := time.Parse(periodLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidPeriod)
	}
	return PeriodOf(t), nil
}

// ResolvePeriod parses raw, defaulting to the month containing now.
func ResolvePeriod(raw string, now time.Time) (Period, error) {
	if strings.TrimSpace(raw) == "" {
		return PeriodOf(now), nil
	}
	return ParsePeriod(raw)
}

func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(periodLayout))
}

// Bounds returns [start, end) in UTC.
func (p Period) Bounds() (time.Time, time.Time) {
	start, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}, time.Time{}
	}
	start = start.UTC()
	return start, start.AddDate(0, 1, 0)
}

func (p Period) String() string {
	return string(p)
}

// Next is the following calendar month.
func (p Period) Next() Period {
	_, end := p.Bounds()
	return PeriodOf(end)
}

// PeriodRange lists every period from..to inclusive.
func PeriodRange(from, to Period) ([]Period, error) {
	if _, err := ParsePeriod(string(from)); err != nil {
		return nil, err
	}
	if _, err := ParsePeriod(string(to)); err != nil {
		return nil, err
	}
	if to < from {
		return nil, fmt.Errorf("period range %s..%s is reversed", from, to)
	}
	var out []Period
	for p := from; p <= to; p = p.Next() {
		out = append(out, p)
	}
	return out, nil
}
