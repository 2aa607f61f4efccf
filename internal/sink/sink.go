// Package sink defines where generated station records are written.
package sink

import (
	"context"
	"fmt"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/models"
	"github.com/stationsim/internal/storage"
)

// Sink persists one flat record into a named collection. Implementations do
// not retry; the caller decides what a failed write means.
type Sink interface {
	Create(ctx context.Context, collection string, fields map[string]any) error
}

// Creator is the part of the station store a StoreSink writes to.
type Creator interface {
	Create(collection string, fields map[string]any) (storage.Entry, error)
}

// StoreSink writes straight into an in-process store.
type StoreSink struct {
	store Creator
}

func NewStoreSink(s Creator) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Create(ctx context.Context, collection string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.store.Create(collection, fields); err != nil {
		return fmt.Errorf("store %s: %w", collection, err)
	}
	return nil
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, collection string, fields map[string]any) error

func (f Func) Create(ctx context.Context, collection string, fields map[string]any) error {
	return f(ctx, collection, fields)
}

// SeedLimits writes one limits record per station and motor type to the
// station's limits collection, in table order. It returns how many records
// were written before the first failure.
func SeedLimits(ctx context.Context, s Sink, t *limits.Table) (int, error) {
	n := 0
	for _, st := range t.Stations {
		for _, motor := range st.MotorTypeNames() {
			rec := st.MotorTypes[motor].Record(motor)
			if err := s.Create(ctx, models.LimitsCollection(st.Code), rec); err != nil {
				return n, fmt.Errorf("seed %s/%s: %w", st.Code, motor, err)
			}
			n++
		}
	}
	return n, nil
}
