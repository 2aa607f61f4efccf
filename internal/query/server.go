// Package query serves the station database over HTTP: a PocketBase
// compatible records API plus the reports of the line dashboard.
package query

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/models"
	"github.com/stationsim/internal/storage"
)

const (
	defaultErrorsLimit = 50
	maxBodyBytes       = 1 << 20
)

// Hub is the live feed the server exposes on /ws.
type Hub interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	GetClientCount() int
}

type Server struct {
	store storage.Storage
	table *limits.Table
	hub   Hub
	log   *slog.Logger
	now   func() time.Time
}

// New returns a server over store. hub may be nil, /ws then answers 503.
func New(store storage.Storage, table *limits.Table, hub Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: store, table: table, hub: hub, log: log.With("component", "query"), now: time.Now}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/collections", s.handleCollections).Methods("GET")
	r.HandleFunc("/api/collections/{collection}/records", s.handleCreate).Methods("POST")
	r.HandleFunc("/api/collections/{collection}/records", s.handleList).Methods("GET")
	r.HandleFunc("/api/data/errors", s.handleErrors).Methods("GET")
	r.HandleFunc("/api/data/station-limits", s.handleStationLimits).Methods("GET")
	r.HandleFunc("/api/data/devices/{deviceCode}", s.handleDevice).Methods("GET")
	r.HandleFunc("/api/data/tests/top", s.handleTopFails).Methods("GET")
	r.HandleFunc("/api/data/graph-fails", s.handleGraphFails).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/ws/stats", s.handleWebSocketStats).Methods("GET")

	return r
}

// Handler is the router with CORS applied, ready for http.Server.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(s.Router())
}

type errorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Code: status, Message: msg, Data: map[string]any{}})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCollections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.store.Collections()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body.")
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.")
		return
	}
	e, err := s.store.Create(collection, fields)
	if err != nil {
		s.log.Error("create failed", "collection", collection, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create record.")
		return
	}
	writeJSON(w, http.StatusOK, e.Flat())
}

type listResponse struct {
	TotalItems int              `json:"totalItems"`
	Items      []map[string]any `json:"items"`
}

func flatten(entries []storage.Entry) listResponse {
	items := make([]map[string]any, len(entries))
	for i, e := range entries {
		items[i] = e.Flat()
	}
	return listResponse{TotalItems: len(items), Items: items}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.store.List(mux.Vars(r)["collection"], q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records.")
		return
	}
	writeJSON(w, http.StatusOK, flatten(entries))
}

func parseQuery(r *http.Request) (storage.Query, error) {
	v := r.URL.Query()
	q := storage.Query{DeviceCode: v.Get("device_code")}
	if raw := v.Get("test_fail"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, errors.New("test_fail must be true or false")
		}
		q.TestFail = &b
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, errors.New("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Get("limit") == "" {
		q.Limit = defaultErrorsLimit
	}
	entries, err := s.store.List(models.LiveErrorsCollection, q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch live errors.")
		return
	}
	writeJSON(w, http.StatusOK, flatten(entries))
}

func (s *Server) handleStationLimits(w http.ResponseWriter, r *http.Request) {
	motor := ""
	if raw := r.URL.Query().Get("motor_type"); raw != "" {
		var ok bool
		if motor, ok = CorrectMotorType(raw, s.table.MotorTypes()); !ok {
			writeError(w, http.StatusBadRequest, "Invalid motor_type parameter.")
			return
		}
	}
	writeJSON(w, http.StatusOK, StationLimits(s.table, motor))
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["deviceCode"]
	rep, err := BuildDeviceReport(s.store, s.table, code)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Device not found.")
		return
	}
	if err != nil {
		s.log.Error("device report failed", "device_code", code, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch device data.")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTopFails(w http.ResponseWriter, _ *http.Request) {
	res, err := TopFails(s.store, s.table, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch top fails data.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Top Fails": res})
}

func (s *Server) handleGraphFails(w http.ResponseWriter, _ *http.Request) {
	res, err := FailedTestsGraph(s.store, s.table, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch failed tests graph data.")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "WebSocket not available", http.StatusServiceUnavailable)
		return
	}
	s.log.Info("new websocket connection", "remote", r.RemoteAddr)
	s.hub.ServeWS(w, r)
}

func (s *Server) handleWebSocketStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"connected_clients": 0,
		"timestamp":         s.now().Unix(),
		"status":            "unavailable",
	}
	if s.hub != nil {
		stats["connected_clients"] = s.hub.GetClientCount()
		stats["status"] = "active"
	}
	writeJSON(w, http.StatusOK, stats)
}
