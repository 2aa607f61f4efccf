package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/models"
	"github.com/stationsim/internal/storage"
)

// Lister is the read side of the station store.
type Lister interface {
	List(collection string, q storage.Query) ([]storage.Entry, error)
}

// TestResult is one measured field of a device at a station.
type TestResult struct {
	Name            string `json:"name"`
	Result          string `json:"result"`
	MeasuredValue   string `json:"measuredValue"`
	OffsetFromLimit string `json:"offsetFromLimit,omitempty"`
}

type StationResult struct {
	Name   string       `json:"name"`
	Status string       `json:"status"`
	Tests  []TestResult `json:"tests"`
}

// DeviceReport tracks one device through the line.
type DeviceReport struct {
	Code           string          `json:"code"`
	Type           string          `json:"type"`
	CurrentStation string          `json:"currentStation"`
	Stations       []StationResult `json:"stations"`
}

const (
	passed = "passed"
	failed = "failed"
)

// BuildDeviceReport collects the newest record of the device at every
// station, in line order, and checks each test against the limits of the
// record's motor type. Tests without limits pass.
func BuildDeviceReport(store Lister, table *limits.Table, deviceCode string) (DeviceReport, error) {
	rep := DeviceReport{Code: deviceCode, Stations: []StationResult{}}
	for _, code := range table.Codes() {
		entries, err := store.List(models.StationCollection(code), storage.Query{DeviceCode: deviceCode, Limit: 1})
		if err != nil {
			return DeviceReport{}, err
		}
		if len(entries) == 0 {
			continue
		}
		fields := entries[0].Fields
		motor := models.StringField(fields, models.FieldMotorType)
		if motor != "" {
			rep.Type = motor
		}
		rep.CurrentStation = code

		profile, _ := table.Profile(code, motor)
		values := models.Measurements(fields)
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)

		st := StationResult{Name: code, Status: passed, Tests: make([]TestResult, 0, len(names))}
		for _, name := range names {
			v := values[name]
			tr := TestResult{Name: name, Result: passed, MeasuredValue: fmt.Sprint(v)}
			if spec, ok := profile[name]; ok {
				if limit, ok := spec.Check(v); !ok {
					tr.Result = failed
					tr.OffsetFromLimit = offset(v - limit)
					st.Status = failed
				}
			}
			st.Tests = append(st.Tests, tr)
		}
		rep.Stations = append(rep.Stations, st)
	}
	if len(rep.Stations) == 0 {
		return DeviceReport{}, fmt.Errorf("%w: device %s", storage.ErrNotFound, deviceCode)
	}
	return rep, nil
}

func offset(d float64) string {
	if d > 0 {
		return fmt.Sprintf("+%.3f", d)
	}
	return fmt.Sprintf("%.3f", d)
}

type TestCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StationFails is the failure summary of one station.
type StationFails struct {
	Station  string      `json:"station"`
	Value    int         `json:"value"`
	TopTests []TestCount `json:"topTests"`
}

const topTests = 3

// TopFails summarizes the failing records of day per station: the number of
// failing records and the three tests that failed most often. Stations
// without failures are left out; the rest are ordered by failure count.
func TopFails(store Lister, table *limits.Table, day time.Time) ([]StationFails, error) {
	yes := true
	out := []StationFails{}
	for _, code := range table.Codes() {
		entries, err := store.List(models.StationCollection(code), storage.Query{TestFail: &yes})
		if err != nil {
			return nil, err
		}
		counts := map[string]int{}
		n := 0
		for _, e := range entries {
			if !sameDay(e.Fields, day) {
				continue
			}
			n++
			profile, _ := table.Profile(code, models.StringField(e.Fields, models.FieldMotorType))
			for _, v := range profile.Evaluate(models.Measurements(e.Fields)) {
				counts[v.Field]++
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, StationFails{Station: code, Value: n, TopTests: top(counts, topTests)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}

func top(counts map[string]int, n int) []TestCount {
	res := make([]TestCount, 0, len(counts))
	for name, c := range counts {
		res = append(res, TestCount{Name: name, Count: c})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Name < res[j].Name
	})
	if len(res) > n {
		res = res[:n]
	}
	return res
}

// FailPoint is one out-of-limit measurement for the failed tests graph.
type FailPoint struct {
	DeviceCode    string  `json:"deviceCode"`
	MeasuredValue float64 `json:"measuredValue"`
	Limit         float64 `json:"limit"`
	Difference    float64 `json:"difference"`
	Timestamp     string  `json:"timestamp"`
}

type StationGraph struct {
	Station string                 `json:"station"`
	Tests   map[string][]FailPoint `json:"tests"`
}

// FailedTestsGraph groups today's out-of-limit measurements by station and
// test, busiest station first.
func FailedTestsGraph(store Lister, table *limits.Table, day time.Time) ([]StationGraph, error) {
	yes := true
	out := []StationGraph{}
	totals := map[string]int{}
	for _, code := range table.Codes() {
		entries, err := store.List(models.StationCollection(code), storage.Query{TestFail: &yes})
		if err != nil {
			return nil, err
		}
		g := StationGraph{Station: code, Tests: map[string][]FailPoint{}}
		for _, e := range entries {
			if !sameDay(e.Fields, day) {
				continue
			}
			profile, _ := table.Profile(code, models.StringField(e.Fields, models.FieldMotorType))
			for _, v := range profile.Evaluate(models.Measurements(e.Fields)) {
				g.Tests[v.Field] = append(g.Tests[v.Field], FailPoint{
					DeviceCode:    models.StringField(e.Fields, models.FieldDeviceCode),
					MeasuredValue: v.Value,
					Limit:         v.Limit,
					Difference:    v.Difference,
					Timestamp:     models.StringField(e.Fields, models.FieldTime),
				})
				totals[code]++
			}
		}
		if len(g.Tests) > 0 {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return totals[out[i].Station] > totals[out[j].Station] })
	return out, nil
}

func sameDay(fields map[string]any, day time.Time) bool {
	ts, err := time.Parse(time.RFC3339, models.StringField(fields, models.FieldTime))
	if err != nil {
		return false
	}
	y1, m1, d1 := ts.UTC().Date()
	y2, m2, d2 := day.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// StationLimits exports the limits of every station, keyed by limits
// collection, optionally for a single motor type.
func StationLimits(table *limits.Table, motorType string) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(table.Stations))
	for _, s := range table.Stations {
		recs := []map[string]any{}
		for _, motor := range s.MotorTypeNames() {
			if motorType != "" && motor != motorType {
				continue
			}
			recs = append(recs, s.MotorTypes[motor].Record(motor))
		}
		out[models.LimitsCollection(s.Code)] = recs
	}
	return out
}

// CorrectMotorType matches input against the known motor types ignoring case
// and accepting a single typo. ok is false when nothing is close enough.
func CorrectMotorType(input string, valid []string) (string, bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	for _, v := range valid {
		if strings.ToLower(v) == in {
			return v, true
		}
	}
	for _, v := range valid {
		if oneEditApart(in, strings.ToLower(v)) {
			return v, true
		}
	}
	return "", false
}

func oneEditApart(a, b string) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(a)-len(b) > 1 {
		return false
	}
	i, j, diff := 0, 0, 0
	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		diff++
		if diff > 1 {
			return false
		}
		if len(a) == len(b) {
			j++
		}
		i++
	}
	diff += len(a) - i
	return diff <= 1
}
