package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 layout used for the "time" field of every record.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Metadata keys carried next to the measured fields.
const (
	FieldTime       = "time"
	FieldDeviceCode = "device_code"
	FieldMotorType  = "motor_type"
	FieldTestFail   = "test_fail"
)

// Record is one generated station test result.
type Record struct {
	Time       time.Time
	DeviceCode string
	MotorType  string
	TestFail   bool
	Values     map[string]float64
}

// FailFlag renders the test_fail flag the way the station database stores it.
func (r Record) FailFlag() string {
	if r.TestFail {
		return "true"
	}
	return "false"
}

// Fields flattens the record into the field -> value mapping that is sent to
// a collection.
func (r Record) Fields() map[string]any {
	out := make(map[string]any, len(r.Values)+4)
	for k, v := range r.Values {
		out[k] = v
	}
	out[FieldTime] = r.Time.Format(TimeLayout)
	out[FieldDeviceCode] = r.DeviceCode
	out[FieldMotorType] = r.MotorType
	out[FieldTestFail] = r.FailFlag()
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields())
}

// IsMetadata reports whether key is one of the non-measurement keys of a
// station record, including the ones a database adds on create.
func IsMetadata(key string) bool {
	switch key {
	case FieldTime, FieldDeviceCode, FieldMotorType, FieldTestFail,
		"id", "created", "updated", "collectionId", "collectionName":
		return true
	}
	return false
}

// Measurements returns the numeric, non-metadata entries of a flat record.
func Measurements(fields map[string]any) map[string]float64 {
	out := make(map[string]float64, len(fields))
	for k, v := range fields {
		if IsMetadata(k) {
			continue
		}
		if f, ok := toFloat(v); ok {
			out[k] = f
		}
	}
	return out
}

// TestFailed reads the test_fail flag of a flat record. Both the string form
// written by the generator and a JSON boolean are accepted.
func TestFailed(fields map[string]any) bool {
	switch v := fields[FieldTestFail].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// StringField returns fields[key] when it holds a string.
func StringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Collection names used by the station database.
const (
	LiveErrorsCollection     = "live_errors"
	StationUpdatesCollection = "station_updates"

	stationPrefix = "station_"
	limitsSuffix  = "_limits"
	updatesSuffix = "_updates"
)

// StationCollection returns the record collection for a station code, e.g.
// "A20" -> "station_a20".
func StationCollection(station string) string {
	return stationPrefix + strings.ToLower(station)
}

// LimitsCollection returns the limits collection for a station code.
func LimitsCollection(station string) string {
	return StationCollection(station) + limitsSuffix
}

// StationFromCollection extracts the upper-case station code from a station
// record collection. Limits and update collections are rejected.
func StationFromCollection(collection string) (string, bool) {
	if !strings.HasPrefix(collection, stationPrefix) {
		return "", false
	}
	if strings.HasSuffix(collection, limitsSuffix) || strings.HasSuffix(collection, updatesSuffix) {
		return "", false
	}
	code := strings.TrimPrefix(collection, stationPrefix)
	if code == "" || strings.Contains(code, "_") {
		return "", false
	}
	return strings.ToUpper(code), true
}

func (r Record) String() string {
	return fmt.Sprintf("time: %s, device_code: %s, test_fail: %s", r.Time.Format(TimeLayout), r.DeviceCode, r.FailFlag())
}
