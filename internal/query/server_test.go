package query

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/logging"
	"github.com/stationsim/internal/storage"
)

var today = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testTable() *limits.Table {
	return &limits.Table{Stations: []limits.Station{
		{Code: "A20", MotorTypes: map[string]limits.Profile{
			"EFAD": {"X": {A: 0, B: 10}, "Y": {A: 1, B: 2}, "Z": {A: 5, B: 6}},
			"ERAD": {"X": {A: 0, B: 1}},
		}},
		{Code: "NVH", MotorTypes: map[string]limits.Profile{
			"EFAD": {"X": {A: 0, B: 10}, "Y": {A: 1, B: 2}},
		}},
	}}
}

func record(device, ts string, fail bool, values map[string]float64) map[string]any {
	f := map[string]any{
		"device_code": device,
		"motor_type":  "EFAD",
		"time":        ts,
		"test_fail":   "false",
	}
	if fail {
		f["test_fail"] = "true"
	}
	for k, v := range values {
		f[k] = v
	}
	return f
}

func newTestServer(t *testing.T) (*Server, *storage.UnifiedStorage) {
	t.Helper()
	st, err := storage.Open("")
	if err != nil {
		t.Fatal(err)
	}
	s := New(st, testTable(), nil, logging.Discard())
	s.now = func() time.Time { return today }
	return s, st
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestCreateAndListRecords(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(record("D1", "2024-05-01T08:00:00.000Z", false, map[string]float64{"X": 5}))

	rec := do(t, s, "POST", "/api/collections/station_a20/records", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	decode(t, rec, &created)
	if created["id"] == "" || created["collectionName"] != "station_a20" || created["X"] != 5.0 {
		t.Errorf("Unexpected created record %v", created)
	}

	do(t, s, "POST", "/api/collections/station_a20/records", mustJSON(record("D2", "2024-05-01T08:02:00.000Z", true, nil)))

	rec = do(t, s, "GET", "/api/collections/station_a20/records?device_code=D1", nil)
	var list listResponse
	decode(t, rec, &list)
	if list.TotalItems != 1 || list.Items[0]["device_code"] != "D1" {
		t.Errorf("Unexpected filtered list %+v", list)
	}

	rec = do(t, s, "GET", "/api/collections/station_a20/records?test_fail=true", nil)
	decode(t, rec, &list)
	if list.TotalItems != 1 || list.Items[0]["device_code"] != "D2" {
		t.Errorf("Unexpected test_fail list %+v", list)
	}

	rec = do(t, s, "GET", "/api/collections/station_a20/records?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestCreateRejectsInvalidJSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/collections/station_a20/records", []byte("{"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Code != http.StatusBadRequest || body.Message == "" {
		t.Errorf("Unexpected error body %+v", body)
	}
}

func TestLiveErrors(t *testing.T) {
	s, st := newTestServer(t)
	st.Create("station_a20", record("D1", "2024-05-01T08:00:00.000Z", true, map[string]float64{"X": 11}))
	st.Create("station_a20", record("D2", "2024-05-01T08:00:00.000Z", false, map[string]float64{"X": 1}))

	rec := do(t, s, "GET", "/api/data/errors", nil)
	var list listResponse
	decode(t, rec, &list)
	if list.TotalItems != 1 || list.Items[0]["station_name"] != "A20" {
		t.Errorf("Unexpected live errors %+v", list)
	}
}

func TestStationLimits(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/data/station-limits?motor_type=efd", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var got map[string][]map[string]any
	decode(t, rec, &got)
	if len(got["station_a20_limits"]) != 1 || got["station_a20_limits"][0]["motor_type"] != "EFAD" {
		t.Errorf("Unexpected limits %v", got)
	}
	if got["station_a20_limits"][0]["X_MAX"] != 10.0 {
		t.Errorf("Expected X_MAX 10, got %v", got["station_a20_limits"][0]["X_MAX"])
	}

	rec = do(t, s, "GET", "/api/data/station-limits", nil)
	decode(t, rec, &got)
	if len(got["station_a20_limits"]) != 2 || len(got["station_nvh_limits"]) != 1 {
		t.Errorf("Expected all motor types, got %v", got)
	}

	rec = do(t, s, "GET", "/api/data/station-limits?motor_type=diesel", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown motor type, got %d", rec.Code)
	}
}

func TestDeviceReport(t *testing.T) {
	s, st := newTestServer(t)
	code := "P12345678#1TF87654321#ABCDEF#"
	st.Create("station_a20", record(code, "2024-05-01T08:00:00.000Z", true, map[string]float64{"X": 10.5, "Y": 0.75, "Z": 5.5}))
	st.Create("station_nvh", record(code, "2024-05-01T08:02:00.000Z", false, map[string]float64{"X": 3, "Y": 1.5}))

	rec := do(t, s, "GET", "/api/data/devices/"+url.PathEscape(code), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rep DeviceReport
	decode(t, rec, &rep)
	if rep.Code != code || rep.Type != "EFAD" || rep.CurrentStation != "NVH" {
		t.Errorf("Unexpected report header %+v", rep)
	}
	if len(rep.Stations) != 2 {
		t.Fatalf("Expected 2 stations, got %d", len(rep.Stations))
	}
	a20 := rep.Stations[0]
	if a20.Name != "A20" || a20.Status != "failed" {
		t.Errorf("Expected A20 failed, got %+v", a20)
	}
	want := map[string]string{"X": "+0.500", "Y": "-0.250", "Z": ""}
	for _, tr := range a20.Tests {
		if tr.OffsetFromLimit != want[tr.Name] {
			t.Errorf("%s: expected offset %q, got %q", tr.Name, want[tr.Name], tr.OffsetFromLimit)
		}
	}
	if rep.Stations[1].Status != "passed" {
		t.Errorf("Expected NVH passed, got %s", rep.Stations[1].Status)
	}

	rec = do(t, s, "GET", "/api/data/devices/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown device, got %d", rec.Code)
	}
}

func TestTopFails(t *testing.T) {
	s, st := newTestServer(t)
	st.Create("station_nvh", record("D1", "2024-05-01T08:00:00.000Z", true, map[string]float64{"X": 11, "Y": 1.5}))
	st.Create("station_a20", record("D1", "2024-05-01T08:00:00.000Z", true, map[string]float64{"X": 11, "Y": 3, "Z": 5.5}))
	st.Create("station_a20", record("D2", "2024-05-01T09:00:00.000Z", true, map[string]float64{"X": 12, "Y": 1, "Z": 7}))
	// yesterday and passing records are ignored
	st.Create("station_nvh", record("D3", "2024-04-30T08:00:00.000Z", true, map[string]float64{"X": 11}))
	st.Create("station_nvh", record("D4", "2024-05-01T08:00:00.000Z", false, map[string]float64{"X": 1}))

	rec := do(t, s, "GET", "/api/data/tests/top", nil)
	var got map[string][]StationFails
	decode(t, rec, &got)
	top := got["Top Fails"]
	if len(top) != 2 {
		t.Fatalf("Expected 2 stations, got %+v", top)
	}
	if top[0].Station != "A20" || top[0].Value != 2 {
		t.Errorf("Expected A20 with 2 failures first, got %+v", top[0])
	}
	if top[0].TopTests[0] != (TestCount{Name: "X", Count: 2}) {
		t.Errorf("Expected X failing twice, got %+v", top[0].TopTests)
	}
	if len(top[0].TopTests) != 3 {
		t.Errorf("Expected 3 top tests, got %+v", top[0].TopTests)
	}
	if top[1].Station != "NVH" || top[1].Value != 1 {
		t.Errorf("Expected NVH with 1 failure, got %+v", top[1])
	}
}

func TestGraphFails(t *testing.T) {
	s, st := newTestServer(t)
	st.Create("station_a20", record("D1", "2024-05-01T08:00:00.000Z", true, map[string]float64{"X": 10.25, "Y": 1.5, "Z": 4}))

	rec := do(t, s, "GET", "/api/data/graph-fails", nil)
	var got []StationGraph
	decode(t, rec, &got)
	if len(got) != 1 || got[0].Station != "A20" {
		t.Fatalf("Unexpected graph %+v", got)
	}
	x := got[0].Tests["X"]
	if len(x) != 1 || x[0].Limit != 10 || x[0].Difference != 0.25 || x[0].DeviceCode != "D1" {
		t.Errorf("Unexpected X points %+v", x)
	}
	z := got[0].Tests["Z"]
	if len(z) != 1 || z[0].Limit != 5 || z[0].Difference != -1 {
		t.Errorf("Unexpected Z points %+v", z)
	}
	if _, ok := got[0].Tests["Y"]; ok {
		t.Errorf("Y is within limits and should not be listed")
	}
}

func TestWebSocketUnavailable(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, "GET", "/ws", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without hub, got %d", rec.Code)
	}
	rec := do(t, s, "GET", "/ws/stats", nil)
	var stats map[string]any
	decode(t, rec, &stats)
	if stats["status"] != "unavailable" {
		t.Errorf("Expected unavailable status, got %v", stats)
	}
}

func TestCorrectMotorType(t *testing.T) {
	valid := []string{"EFAD", "ERAD", "Short"}
	cases := map[string]string{"efad": "EFAD", " ERAD ": "ERAD", "shrt": "Short", "Shorts": "Short", "EFAX": "EFAD"}
	for in, want := range cases {
		got, ok := CorrectMotorType(in, valid)
		if !ok || got != want {
			t.Errorf("CorrectMotorType(%q): expected %s, got %s (%v)", in, want, got, ok)
		}
	}
	if _, ok := CorrectMotorType("diesel", valid); ok {
		t.Error("Expected no match for diesel")
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
