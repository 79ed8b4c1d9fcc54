// Package domain holds the sensor network model and its error taxonomy.
package domain

import (
	"encoding/json"
	"time"
)

// TimestampLayout renders reading timestamps as ISO-8601 local date-time
// without a zone designator.
const TimestampLayout = "2006-01-02T15:04:05.999999999"

// Gateway is a named network endpoint that sensors connect to.
type Gateway struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SensorType is a measurement category. Its name is its identity.
type SensorType struct {
	Name string `json:"name"`
}

// Timestamp is a civil date-time in the server's local zone.
type Timestamp time.Time

// MarshalJSON renders the timestamp in TimestampLayout.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(TimestampLayout))
}

// UnmarshalJSON parses TimestampLayout in the local zone.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// String formats the timestamp in TimestampLayout.
func (t Timestamp) String() string {
	return time.Time(t).Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string in the local zone.
func ParseTimestamp(s string) (Timestamp, error) {
	tm, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp(tm), nil
}

// LastReading is the most recent value recorded for one sensor and type.
type LastReading struct {
	ID        int64     `json:"id"`
	Timestamp Timestamp `json:"timestamp"`
	Reading   float64   `json:"reading"`
}

// TypedReading pairs a LastReading with the name of the type it was recorded for.
type TypedReading struct {
	Type    string
	Reading LastReading
}

// Reading is the list element returned when listing a sensor's readings.
type Reading struct {
	ID         int64     `json:"id"`
	SensorType string    `json:"sensor_type"`
	Timestamp  Timestamp `json:"timestamp"`
	Reading    float64   `json:"reading"`
}

// Sensor is a physical device of one or more types, optionally attached to
// one gateway, holding at most one last reading per type.
type Sensor struct {
	ID           int64
	Name         string
	LocationCode string
	Types        []SensorType
	Gateway      *Gateway
	LastReadings []TypedReading
}

// HasType reports whether the sensor is of the named type.
func (s *Sensor) HasType(name string) bool {
	for _, t := range s.Types {
		if t.Name == name {
			return true
		}
	}
	return false
}

// AddType appends the named type unless already present.
func (s *Sensor) AddType(name string) bool {
	if s.HasType(name) {
		return false
	}
	s.Types = append(s.Types, SensorType{Name: name})
	return true
}

// Reading returns the last reading recorded for typeName.
func (s *Sensor) Reading(typeName string) (LastReading, bool) {
	for _, r := range s.LastReadings {
		if r.Type == typeName {
			return r.Reading, true
		}
	}
	return LastReading{}, false
}

// SetReading replaces the reading for typeName, or appends it, and returns the
// replaced reading if there was one.
func (s *Sensor) SetReading(typeName string, reading LastReading) (LastReading, bool) {
	for i, r := range s.LastReadings {
		if r.Type == typeName {
			s.LastReadings[i].Reading = reading
			return r.Reading, true
		}
	}
	s.LastReadings = append(s.LastReadings, TypedReading{Type: typeName, Reading: reading})
	return LastReading{}, false
}

type sensorJSON struct {
	ID           int64                  `json:"id"`
	Name         string                 `json:"name"`
	LocationCode string                 `json:"location_code"`
	Types        []SensorType           `json:"types"`
	Gateway      *Gateway               `json:"gateway"`
	LastReadings map[string]LastReading `json:"last_readings"`
}

// MarshalJSON renders types as a list and last readings keyed by type name.
func (s Sensor) MarshalJSON() ([]byte, error) {
	out := sensorJSON{
		ID:           s.ID,
		Name:         s.Name,
		LocationCode: s.LocationCode,
		Types:        s.Types,
		Gateway:      s.Gateway,
		LastReadings: make(map[string]LastReading, len(s.LastReadings)),
	}
	if out.Types == nil {
		out.Types = []SensorType{}
	}
	for _, r := range s.LastReadings {
		out.LastReadings[r.Type] = r.Reading
	}
	return json.Marshal(out)
}
