// Package generator produces synthetic station test records from a limit
// profile, optionally pushing a chosen number of fields out of bounds.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/models"
)

// ErrInvalidProfile is returned when a profile cannot produce the requested
// record: it is empty, or the failing-field count is out of range.
var ErrInvalidProfile = errors.New("invalid profile")

// Config tunes value generation.
type Config struct {
	// Precision is the number of decimals every value is rounded to.
	Precision int
	// Reserve is the number of fields that are never pushed out of bounds,
	// so a failing record has at most len(profile)-Reserve violators.
	Reserve int
	// Near and Far delimit the out-of-bounds band: a violator lands in
	// [lo-Far, lo-Near] or [hi+Near, hi+Far].
	Near float64
	Far  float64
	// FailProbability is the chance that a station record is a failing one.
	FailProbability float64
}

func DefaultConfig() Config {
	return Config{
		Precision:       3,
		Reserve:         5,
		Near:            0.1,
		Far:             1.0,
		FailProbability: 0.3,
	}
}

func (c Config) validate() error {
	if c.Precision < 1 || c.Precision > 6 {
		return fmt.Errorf("precision must be between 1 and 6, got %d", c.Precision)
	}
	if c.Reserve < 0 {
		return fmt.Errorf("reserve must not be negative, got %d", c.Reserve)
	}
	if c.Near <= 0 || c.Far <= c.Near {
		return fmt.Errorf("out-of-bounds band must satisfy 0 < near < far, got near=%v far=%v", c.Near, c.Far)
	}
	// rounding must never pull a violator back onto its bound
	if c.Near <= 0.5*math.Pow10(-c.Precision) {
		return fmt.Errorf("near offset %v is too small for precision %d", c.Near, c.Precision)
	}
	if c.FailProbability < 0 || c.FailProbability > 1 {
		return fmt.Errorf("fail probability must be in [0, 1], got %v", c.FailProbability)
	}
	return nil
}

// Meta is the record metadata that is passed through unchanged.
type Meta struct {
	Time       time.Time
	DeviceCode string
	MotorType  string
}

// Generator is not safe for concurrent use; it owns its random source.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	scale float64
}

// New returns a generator drawing from rng.
func New(cfg Config, rng *rand.Rand) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("random source must not be nil")
	}
	return &Generator{cfg: cfg, rng: rng, scale: math.Pow10(cfg.Precision)}, nil
}

func (g *Generator) Config() Config {
	return g.cfg
}

// MaxFailCount is the largest number of violators the profile supports.
// It is below 1 when the profile cannot produce a failing record.
func (g *Generator) MaxFailCount(p limits.Profile) int {
	return len(p) - g.cfg.Reserve
}

// ShouldFail draws the per-record failure decision.
func (g *Generator) ShouldFail() bool {
	return g.rng.Float64() < g.cfg.FailProbability
}

// FailCount draws a violator count uniformly from [1, MaxFailCount(p)].
func (g *Generator) FailCount(p limits.Profile) (int, error) {
	n := g.MaxFailCount(p)
	if n < 1 {
		return 0, fmt.Errorf("%w: %d fields with reserve %d leaves nothing to fail", ErrInvalidProfile, len(p), g.cfg.Reserve)
	}
	return 1 + g.rng.Intn(n), nil
}

// Generate builds one record for the profile. When fail is true exactly k
// fields are drawn outside their bounds and the rest inside. The test_fail
// flag mirrors fail; it is not derived from the values.
func (g *Generator) Generate(p limits.Profile, fail bool, k int, meta Meta) (models.Record, error) {
	if len(p) == 0 {
		return models.Record{}, fmt.Errorf("%w: profile has no fields", ErrInvalidProfile)
	}
	fields := p.Fields()

	violators := map[string]bool{}
	if fail {
		if n := g.MaxFailCount(p); k < 1 || k > n {
			return models.Record{}, fmt.Errorf("%w: fail count %d outside [1, %d]", ErrInvalidProfile, k, n)
		}
		for _, i := range g.rng.Perm(len(fields))[:k] {
			violators[fields[i]] = true
		}
	}

	values := make(map[string]float64, len(fields))
	for _, field := range fields {
		lo, hi := p[field].Bounds()
		if violators[field] {
			values[field] = g.outside(lo, hi)
		} else {
			values[field] = g.inside(lo, hi)
		}
	}

	return models.Record{
		Time:       meta.Time,
		DeviceCode: meta.DeviceCode,
		MotorType:  meta.MotorType,
		TestFail:   fail,
		Values:     values,
	}, nil
}

func (g *Generator) inside(lo, hi float64) float64 {
	v := g.round(g.uniform(lo, hi))
	// bounds may carry more decimals than the precision
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (g *Generator) outside(lo, hi float64) float64 {
	if g.rng.Intn(2) == 0 {
		return g.round(g.uniform(lo-g.cfg.Far, lo-g.cfg.Near))
	}
	return g.round(g.uniform(hi+g.cfg.Near, hi+g.cfg.Far))
}

func (g *Generator) uniform(a, b float64) float64 {
	return a + (b-a)*g.rng.Float64()
}

func (g *Generator) round(v float64) float64 {
	return math.Round(v*g.scale) / g.scale
}

// Check lists every station and motor type of the table whose profile is too
// small to inject failures with the configured reserve.
func (g *Generator) Check(t *limits.Table) error {
	var errs []error
	for _, s := range t.Stations {
		for _, motor := range s.MotorTypeNames() {
			if g.MaxFailCount(s.MotorTypes[motor]) < 1 {
				errs = append(errs, fmt.Errorf("%w: %s/%s has %d fields, reserve is %d",
					ErrInvalidProfile, s.Code, motor, len(s.MotorTypes[motor]), g.cfg.Reserve))
			}
		}
	}
	return errors.Join(errs...)
}
