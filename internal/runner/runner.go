// Package runner drives the generator: one tick writes a record for every
// station, Run repeats ticks with a random pause in between.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/stationsim/internal/generator"
	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/models"
	"github.com/stationsim/internal/sink"
)

// Reporter receives the human facing progress of a run.
type Reporter interface {
	Written(collection string, rec models.Record)
	Failed(collection string, rec models.Record, err error)
	Skipped(station, motorType string)
	Sleeping(d time.Duration)
	Woken(reason string)
}

type Options struct {
	MotorTypes     []string
	StationSpacing time.Duration
	MinSleep       time.Duration
	MaxSleep       time.Duration
	// Rand draws the pause between ticks. Defaults to a time seeded source.
	Rand     *rand.Rand
	Reporter Reporter
	Logger   *slog.Logger
	Now      func() time.Time
}

type Runner struct {
	table *limits.Table
	gen   *generator.Generator
	sink  sink.Sink
	opts  Options
}

// TickSummary describes one pass over the stations.
type TickSummary struct {
	DeviceCode string
	MotorType  string
	Written    int
	Failed     int
	Skipped    int
}

func New(t *limits.Table, g *generator.Generator, s sink.Sink, opts Options) (*Runner, error) {
	if t == nil || g == nil || s == nil {
		return nil, errors.New("runner needs a limit table, a generator and a sink")
	}
	if len(opts.MotorTypes) == 0 {
		return nil, errors.New("no motor types configured")
	}
	if opts.MinSleep < 0 || opts.MaxSleep < opts.MinSleep {
		return nil, fmt.Errorf("invalid sleep range [%s, %s]", opts.MinSleep, opts.MaxSleep)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = opts.Logger.With("component", "runner")
	return &Runner{table: t, gen: g, sink: s, opts: opts}, nil
}

// Tick generates and writes one record per station for a fresh device.
// Sink errors are reported and counted; generator errors abort the tick.
func (r *Runner) Tick(ctx context.Context) (TickSummary, error) {
	motor := r.gen.Choose(r.opts.MotorTypes)
	sum := TickSummary{DeviceCode: r.gen.DeviceCode(), MotorType: motor}
	start := r.opts.Now()

	for i, station := range r.table.Stations {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		p, ok := station.MotorTypes[motor]
		if !ok {
			sum.Skipped++
			r.opts.Logger.Warn("station has no limits for motor type", "station", station.Code, "motor_type", motor)
			r.opts.Reporter.Skipped(station.Code, motor)
			continue
		}

		fail := r.gen.ShouldFail()
		k := 0
		if fail {
			var err error
			if k, err = r.gen.FailCount(p); err != nil {
				return sum, fmt.Errorf("station %s: %w", station.Code, err)
			}
		}
		rec, err := r.gen.Generate(p, fail, k, generator.Meta{
			Time:       start.Add(time.Duration(i) * r.opts.StationSpacing),
			DeviceCode: sum.DeviceCode,
			MotorType:  motor,
		})
		if err != nil {
			return sum, fmt.Errorf("station %s: %w", station.Code, err)
		}

		collection := models.StationCollection(station.Code)
		if err := r.sink.Create(ctx, collection, rec.Fields()); err != nil {
			sum.Failed++
			r.opts.Logger.Error("failed to write record", "collection", collection, "record", rec.String(), "err", err)
			r.opts.Reporter.Failed(collection, rec, err)
			continue
		}
		sum.Written++
		r.opts.Logger.Debug("record written", "collection", collection, "device_code", rec.DeviceCode, "test_fail", rec.FailFlag(), "violators", k)
		r.opts.Reporter.Written(collection, rec)
	}
	r.opts.Logger.Info("tick done", "device_code", sum.DeviceCode, "motor_type", sum.MotorType,
		"written", sum.Written, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

// Run ticks until ctx is cancelled or a tick fails. Between ticks it sleeps
// a random duration in [MinSleep, MaxSleep]; a value on skip ends the sleep
// early. Run returns ctx.Err() on cancellation.
func (r *Runner) Run(ctx context.Context, skip <-chan struct{}) error {
	for {
		if _, err := r.Tick(ctx); err != nil {
			return err
		}
		if err := r.Sleep(ctx, skip); err != nil {
			return err
		}
	}
}

// Sleep waits one pause between ticks.
func (r *Runner) Sleep(ctx context.Context, skip <-chan struct{}) error {
	d := r.pause()
	r.opts.Reporter.Sleeping(d)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case _, ok := <-skip:
		if !ok {
			// trigger is gone, sleep out the pause
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			return nil
		}
		r.opts.Logger.Info("sleep skipped")
		r.opts.Reporter.Woken("skip requested")
	}
	drain(skip)
	return nil
}

func (r *Runner) pause() time.Duration {
	span := r.opts.MaxSleep - r.opts.MinSleep
	if span <= 0 {
		return r.opts.MinSleep
	}
	return r.opts.MinSleep + time.Duration(r.opts.Rand.Int63n(int64(span)+1))
}

// drain discards skip signals that arrived while a tick was running.
func drain(skip <-chan struct{}) {
	for {
		select {
		case _, ok := <-skip:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

type nopReporter struct{}

func (nopReporter) Written(string, models.Record)       {}
func (nopReporter) Failed(string, models.Record, error) {}
func (nopReporter) Skipped(string, string)              {}
func (nopReporter) Sleeping(time.Duration)              {}
func (nopReporter) Woken(string)                        {}
