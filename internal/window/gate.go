// Package window decides whether new predictions are accepted right now.
package window

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Defaults match the game's published deadline
const (
	DefaultTimezone = "Europe/Kyiv"
	DefaultHour     = 17
	DefaultMinute   = 59
)

// Gate closes predictions at a fixed wall-clock time every day in one
// timezone and reopens them at local midnight.
type Gate struct {
	loc    *time.Location
	hour   int
	minute int
}

// NewGate builds a gate for the named IANA timezone and "HH:MM" deadline
func NewGate(timezone, deadline string) (*Gate, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	cutoff, err := time.Parse("15:04", deadline)
	if err != nil {
		return nil, fmt.Errorf("parsing deadline %q: %w", deadline, err)
	}
	return &Gate{loc: loc, hour: cutoff.Hour(), minute: cutoff.Minute()}, nil
}

// DefaultGate returns the 17:59 Europe/Kyiv gate
func DefaultGate() *Gate {
	g, err := NewGate(DefaultTimezone, fmt.Sprintf("%02d:%02d", DefaultHour, DefaultMinute))
	if err != nil {
		panic(err)
	}
	return g
}

// IsOpen reports whether a prediction made at now is still on time.
// The comparison uses the local calendar date, so the window reopens at midnight.
func (g *Gate) IsOpen(now time.Time) bool {
	local := now.In(g.loc)
	deadline := time.Date(local.Year(), local.Month(), local.Day(), g.hour, g.minute, 0, 0, g.loc)
	return !local.After(deadline)
}

// Deadline formats the cutoff for display, e.g. "17:59 Europe/Kyiv"
func (g *Gate) Deadline() string {
	return fmt.Sprintf("%02d:%02d %s", g.hour, g.minute, g.loc.String())
}

// Location returns the gate's timezone
func (g *Gate) Location() *time.Location {
	return g.loc
}
