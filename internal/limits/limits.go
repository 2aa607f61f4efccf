// Package limits holds the static per-station, per-motor-type test limits.
//
// A Table is loaded once at start-up and never mutated afterwards; callers
// share it freely between goroutines.
package limits

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownStation   = errors.New("unknown station")
	ErrUnknownMotorType = errors.New("unknown motor type")
)

// Spec is the pass band of one measured field. The two bounds may be stored
// in either order.
type Spec struct {
	A float64
	B float64
}

// Bounds returns the normalized (lo, hi) pair.
func (s Spec) Bounds() (lo, hi float64) {
	return math.Min(s.A, s.B), math.Max(s.A, s.B)
}

// Contains reports whether v lies in [lo, hi].
func (s Spec) Contains(v float64) bool {
	lo, hi := s.Bounds()
	return v >= lo && v <= hi
}

// UnmarshalYAML decodes a two element sequence such as [12, 5].
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	var pair []float64
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("line %d: limit must be a pair of numbers: %w", value.Line, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("line %d: limit must have exactly 2 bounds, got %d", value.Line, len(pair))
	}
	s.A, s.B = pair[0], pair[1]
	return nil
}

func (s Spec) MarshalYAML() (any, error) {
	return []float64{s.A, s.B}, nil
}

// Profile maps a field name to its limit for one station and motor type.
type Profile map[string]Spec

// Fields returns the field names in lexicographic order.
func (p Profile) Fields() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Station is one test stand and its profiles keyed by motor type.
type Station struct {
	Code       string             `yaml:"code"`
	MotorTypes map[string]Profile `yaml:"motor_types"`
}

// MotorTypeNames returns the motor types the station has limits for, sorted.
func (s Station) MotorTypeNames() []string {
	names := make([]string, 0, len(s.MotorTypes))
	for name := range s.MotorTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table is the full limit table. Stations keep the order of the data file.
type Table struct {
	Stations []Station `yaml:"stations"`
}

// Codes returns the station codes in table order.
func (t *Table) Codes() []string {
	codes := make([]string, len(t.Stations))
	for i, s := range t.Stations {
		codes[i] = s.Code
	}
	return codes
}

// MotorTypes returns every motor type any station has limits for, sorted.
func (t *Table) MotorTypes() []string {
	seen := map[string]struct{}{}
	for _, s := range t.Stations {
		for name := range s.MotorTypes {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Station looks up a station by code.
func (t *Table) Station(code string) (Station, error) {
	for _, s := range t.Stations {
		if s.Code == code {
			return s, nil
		}
	}
	return Station{}, fmt.Errorf("%w: %s", ErrUnknownStation, code)
}

// Profile returns the profile for a station and motor type.
func (t *Table) Profile(station, motorType string) (Profile, error) {
	s, err := t.Station(station)
	if err != nil {
		return nil, err
	}
	p, ok := s.MotorTypes[motorType]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no limits for %s", ErrUnknownMotorType, station, motorType)
	}
	return p, nil
}

// Validate checks the table for empty stations, empty profiles, duplicate
// station codes and non-finite bounds.
func (t *Table) Validate() error {
	if len(t.Stations) == 0 {
		return errors.New("limit table has no stations")
	}
	seen := make(map[string]struct{}, len(t.Stations))
	for _, s := range t.Stations {
		if s.Code == "" {
			return errors.New("station without code")
		}
		if _, dup := seen[s.Code]; dup {
			return fmt.Errorf("duplicate station %s", s.Code)
		}
		seen[s.Code] = struct{}{}
		if len(s.MotorTypes) == 0 {
			return fmt.Errorf("station %s has no motor types", s.Code)
		}
		for motor, p := range s.MotorTypes {
			if len(p) == 0 {
				return fmt.Errorf("station %s motor type %s has no fields", s.Code, motor)
			}
			for field, spec := range p {
				if math.IsNaN(spec.A) || math.IsNaN(spec.B) || math.IsInf(spec.A, 0) || math.IsInf(spec.B, 0) {
					return fmt.Errorf("station %s motor type %s field %s: bounds must be finite", s.Code, motor, field)
				}
			}
		}
	}
	return nil
}
