package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stationsim/internal/models"
)

var ErrNotFound = errors.New("not found")

// Storage is the collection store the ingestion and query services use.
type Storage interface {
	Create(collection string, fields map[string]any) (Entry, error)
	List(collection string, q Query) ([]Entry, error)
	Collections() []string
}

// Entry is one stored record.
type Entry struct {
	ID         string         `json:"id"`
	Collection string         `json:"collectionName"`
	Created    time.Time      `json:"created"`
	Updated    time.Time      `json:"updated"`
	Fields     map[string]any `json:"fields"`
}

// Flat returns the record fields merged with the system fields, the shape the
// HTTP API returns.
func (e Entry) Flat() map[string]any {
	out := make(map[string]any, len(e.Fields)+4)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = e.ID
	out["collectionName"] = e.Collection
	out["created"] = e.Created.Format(models.TimeLayout)
	out["updated"] = e.Updated.Format(models.TimeLayout)
	return out
}

// Query filters List results. Zero values match everything.
type Query struct {
	DeviceCode string
	TestFail   *bool
	Since      time.Time
	Limit      int
}

func (q Query) match(e Entry) bool {
	if q.DeviceCode != "" && models.StringField(e.Fields, models.FieldDeviceCode) != q.DeviceCode {
		return false
	}
	if q.TestFail != nil && models.TestFailed(e.Fields) != *q.TestFail {
		return false
	}
	if !q.Since.IsZero() && e.Created.Before(q.Since) {
		return false
	}
	return true
}

// EventType tells listeners what happened to an entry.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
)

// Event is delivered to subscribers after every write.
type Event struct {
	Type  EventType `json:"action"`
	Entry Entry     `json:"record"`
}

type journalLine struct {
	Op    EventType `json:"op"`
	Entry Entry     `json:"entry"`
}

// UnifiedStorage keeps every collection in memory and appends each write to
// a JSON-lines journal that is replayed on open.
type UnifiedStorage struct {
	mu        sync.RWMutex
	data      map[string][]Entry
	file      io.WriteCloser
	listeners []func(Event)
	log       *slog.Logger
	now       func() time.Time
}

// Open loads the journal in dataDir, creating it when missing. An empty
// dataDir gives a memory-only store.
func Open(dataDir string) (*UnifiedStorage, error) {
	s := &UnifiedStorage{
		data: make(map[string][]Entry),
		log:  slog.Default().With("component", "storage"),
		now:  time.Now,
	}
	if dataDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "records.jsonl")
	if err := s.replay(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.file = f
	return s, nil
}

func (s *UnifiedStorage) replay(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var jl journalLine
		if err := json.Unmarshal(sc.Bytes(), &jl); err != nil {
			return fmt.Errorf("journal line %d: %w", line, err)
		}
		s.apply(jl.Op, jl.Entry)
	}
	return sc.Err()
}

// SetLogger replaces the logger hook failures are reported to.
func (s *UnifiedStorage) SetLogger(log *slog.Logger) {
	s.mu.Lock()
	s.log = log.With("component", "storage")
	s.mu.Unlock()
}

// Subscribe registers fn to be called after every write. fn runs on the
// writer's goroutine and must not call back into the store.
func (s *UnifiedStorage) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Create stores a new record and runs the after-create hooks. Once the
// record itself is written, hook failures are logged and do not fail the
// create.
func (s *UnifiedStorage) Create(collection string, fields map[string]any) (Entry, error) {
	if collection == "" {
		return Entry{}, errors.New("collection must not be empty")
	}
	now := s.now()
	e := Entry{
		ID:         uuid.NewString(),
		Collection: collection,
		Created:    now,
		Updated:    now,
		Fields:     copyFields(fields),
	}

	s.mu.Lock()
	events, err := s.write(EventCreate, e)
	if err != nil {
		s.mu.Unlock()
		return Entry{}, err
	}
	more, hookErr := s.afterCreate(e)
	events = append(events, more...)
	listeners, log := s.listeners, s.log
	s.mu.Unlock()

	if hookErr != nil {
		log.Error("after-create hook failed", "collection", collection, "id", e.ID, "err", hookErr)
	}
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
	return e, nil
}

// Get returns one record by id.
func (s *UnifiedStorage) Get(collection, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.data[collection] {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
}

// List returns matching records of a collection, newest first.
func (s *UnifiedStorage) List(collection string, q Query) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[collection]
	res := make([]Entry, 0, len(arr))
	for i := len(arr) - 1; i >= 0; i-- {
		if !q.match(arr[i]) {
			continue
		}
		res = append(res, arr[i])
		if q.Limit > 0 && len(res) == q.Limit {
			break
		}
	}
	return res, nil
}

// Collections returns the names of all non-empty collections, sorted.
func (s *UnifiedStorage) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// write journals and applies one change. Callers hold s.mu.
func (s *UnifiedStorage) write(op EventType, e Entry) ([]Event, error) {
	if s.file != nil {
		b, err := json.Marshal(journalLine{Op: op, Entry: e})
		if err != nil {
			return nil, err
		}
		if _, err := s.file.Write(append(b, '\n')); err != nil {
			return nil, fmt.Errorf("write journal: %w", err)
		}
	}
	s.apply(op, e)
	return []Event{{Type: op, Entry: e}}, nil
}

func (s *UnifiedStorage) apply(op EventType, e Entry) {
	if op == EventUpdate {
		arr := s.data[e.Collection]
		for i := range arr {
			if arr[i].ID == e.ID {
				arr[i] = e
				return
			}
		}
	}
	s.data[e.Collection] = append(s.data[e.Collection], e)
}

// Close closes the journal file
func (s *UnifiedStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
