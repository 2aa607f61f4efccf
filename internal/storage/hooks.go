package storage

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/stationsim/internal/models"
)

// afterCreate runs the station database hooks for a newly created record:
// a failing record in a station collection refreshes the station's entry in
// station_updates and is copied to live_errors. Callers hold s.mu.
func (s *UnifiedStorage) afterCreate(e Entry) ([]Event, error) {
	station, ok := models.StationFromCollection(e.Collection)
	if !ok || !models.TestFailed(e.Fields) {
		return nil, nil
	}

	var events []Event
	ev, err := s.touchStation(e.Collection)
	if err != nil {
		return nil, err
	}
	events = append(events, ev)

	errEntry := Entry{
		ID:         uuid.NewString(),
		Collection: models.LiveErrorsCollection,
		Created:    e.Created,
		Updated:    e.Created,
		Fields: map[string]any{
			"time":         e.Fields[models.FieldTime],
			"station_name": station,
			"motor_type":   e.Fields[models.FieldMotorType],
			"device_code":  e.Fields[models.FieldDeviceCode],
			"device_id":    e.ID,
			"test_data":    testData(e.Fields),
		},
	}
	if errs, ok := s.violations(station, e.Fields); ok {
		errEntry.Fields["errors"] = errs
	}
	more, err := s.write(EventCreate, errEntry)
	if err != nil {
		return events, err
	}
	return append(events, more...), nil
}

// touchStation upserts the station_updates row keyed by station_id.
func (s *UnifiedStorage) touchStation(collection string) (Event, error) {
	now := s.now()
	for _, u := range s.data[models.StationUpdatesCollection] {
		if models.StringField(u.Fields, "station_id") != collection {
			continue
		}
		u.Fields = copyFields(u.Fields)
		u.Fields["update_time"] = now.UTC().Format(models.TimeLayout)
		u.Updated = now
		evs, err := s.write(EventUpdate, u)
		if err != nil {
			return Event{}, err
		}
		return evs[0], nil
	}
	evs, err := s.write(EventCreate, Entry{
		ID:         uuid.NewString(),
		Collection: models.StationUpdatesCollection,
		Created:    now,
		Updated:    now,
		Fields: map[string]any{
			"station_id":  collection,
			"update_time": now.UTC().Format(models.TimeLayout),
		},
	})
	if err != nil {
		return Event{}, err
	}
	return evs[0], nil
}

// violations checks the measured values of a record against the newest
// stored limits record of its station and motor type. ok is false when no
// such limits record exists.
func (s *UnifiedStorage) violations(station string, fields map[string]any) ([]map[string]any, bool) {
	motor := models.StringField(fields, models.FieldMotorType)
	arr := s.data[models.LimitsCollection(station)]
	var lim map[string]float64
	for i := len(arr) - 1; i >= 0; i-- {
		if models.StringField(arr[i].Fields, models.FieldMotorType) == motor {
			lim = models.Measurements(arr[i].Fields)
			break
		}
	}
	if lim == nil {
		return nil, false
	}

	values := models.Measurements(fields)
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	errs := []map[string]any{}
	for _, test := range names {
		v := values[test]
		if lo, ok := lim[test+"_MIN"]; ok && v < lo {
			errs = append(errs, violation(test, v, lo, "below", lo-v))
		}
		if hi, ok := lim[test+"_MAX"]; ok && v > hi {
			errs = append(errs, violation(test, v, hi, "above", v-hi))
		}
	}
	return errs, true
}

func violation(test string, value, limit float64, kind string, offset float64) map[string]any {
	return map[string]any{
		"test":   test,
		"value":  round3(value),
		"limit":  limit,
		"type":   kind,
		"offset": round3(offset),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// testData strips the metadata keys, leaving the measured fields.
func testData(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if models.IsMetadata(k) {
			continue
		}
		out[k] = v
	}
	return out
}
