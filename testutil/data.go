// Package testutil provides fixtures shared by sensorgraph tests.
package testutil

import "time"

// Gateway names used across tests.
var GatewayNames = []string{"north-hall", "south-hall", "roof"}

// SensorFixture describes a sensor to create in tests.
type SensorFixture struct {
	Name         string
	LocationCode string
	Types        []string
}

// Sensors is a small fleet with overlapping types.
var Sensors = []SensorFixture{
	{Name: "thermo-1", LocationCode: "N-01", Types: []string{"temperature"}},
	{Name: "thermo-2", LocationCode: "N-02", Types: []string{"temperature", "humidity"}},
	{Name: "thermo-3", LocationCode: "S-01", Types: []string{"co2"}},
}

// FixedTime is the instant returned by FixedClock.
var FixedTime = time.Date(2024, time.May, 17, 9, 45, 30, 0, time.Local)

// FixedClock always returns FixedTime.
func FixedClock() time.Time {
	return FixedTime
}

// SteppingClock returns a clock that advances by step on every call.
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}
