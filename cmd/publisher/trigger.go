package main

import (
	"bufio"
	"context"
	"io"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/pocketbase"
	"github.com/stationsim/internal/sink"
)

// readLines sends a skip signal for every line read from r. The send never
// blocks; one pending signal is enough to end a pause.
func readLines(r io.Reader, skip chan<- struct{}) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case skip <- struct{}{}:
		default:
		}
	}
}

type limitsSeeder interface {
	SeedLimits(ctx context.Context, t *limits.Table) (int, error)
}

var _ limitsSeeder = (*pocketbase.Client)(nil)

func seedLimits(ctx context.Context, s sink.Sink, t *limits.Table) (int, error) {
	if ls, ok := s.(limitsSeeder); ok {
		return ls.SeedLimits(ctx, t)
	}
	return sink.SeedLimits(ctx, s, t)
}
