package generator

import (
	"errors"
	"math/rand"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/stationsim/internal/limits"
)

func newTestGenerator(t *testing.T, seed int64, mutate func(*Config)) *Generator {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := New(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g
}

func testProfile() limits.Profile {
	return limits.Profile{
		"NTC1_Res":          {A: 12, B: 5},
		"HiPot_1_UVW_G_NTC": {A: 10, B: 3},
		"HiPot_2_NTC_G":     {A: 10, B: 0.02},
		"IR_1_UVW_G_NTC":    {A: 550, B: 10},
		"Offset_NTC1_Res":   {A: 12.481, B: 8.07},
		"OffsetAngle":       {A: -28, B: -68},
		"Offset_UV_Vpeak":   {A: 48.7911, B: 45.9489},
		"Lineraity":         {A: 1, B: -1},
		"Vibration":         {A: 1, B: 1},
		"Up_side_Air":       {A: 0.3, B: 0.8},
	}
}

var meta = Meta{Time: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), DeviceCode: "P1#1TF2#ABCDEF#", MotorType: "EFAD"}

func countOutside(p limits.Profile, values map[string]float64) int {
	n := 0
	for field, spec := range p {
		if !spec.Contains(values[field]) {
			n++
		}
	}
	return n
}

func TestGeneratePassingRecordStaysInBounds(t *testing.T) {
	p := testProfile()
	for seed := int64(0); seed < 200; seed++ {
		g := newTestGenerator(t, seed, nil)
		rec, err := g.Generate(p, false, 0, meta)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(rec.Values) != len(p) {
			t.Fatalf("Expected %d values, got %d", len(p), len(rec.Values))
		}
		for field, spec := range p {
			v, ok := rec.Values[field]
			if !ok {
				t.Fatalf("Field %s missing", field)
			}
			if !spec.Contains(v) {
				lo, hi := spec.Bounds()
				t.Errorf("seed %d: %s=%v outside [%v, %v]", seed, field, v, lo, hi)
			}
		}
		if rec.TestFail {
			t.Errorf("Expected TestFail false")
		}
	}
}

func TestGenerateFailingRecordHasExactlyKViolators(t *testing.T) {
	p := testProfile()
	for seed := int64(0); seed < 200; seed++ {
		g := newTestGenerator(t, seed, nil)
		k, err := g.FailCount(p)
		if err != nil {
			t.Fatalf("FailCount failed: %v", err)
		}
		if k < 1 || k > len(p)-5 {
			t.Fatalf("FailCount returned %d, expected within [1, %d]", k, len(p)-5)
		}
		rec, err := g.Generate(p, true, k, meta)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if got := countOutside(p, rec.Values); got != k {
			t.Errorf("seed %d: expected %d violators, got %d", seed, k, got)
		}
		for field, spec := range p {
			v := rec.Values[field]
			if spec.Contains(v) {
				continue
			}
			lo, hi := spec.Bounds()
			// allow for rounding to 3 decimals
			const eps = 0.0005
			below := v >= lo-1-eps && v <= lo-0.1+eps
			above := v >= hi+0.1-eps && v <= hi+1+eps
			if !below && !above {
				t.Errorf("seed %d: %s=%v not in the band around [%v, %v]", seed, field, v, lo, hi)
			}
		}
	}
}

func TestTestFailFlagIsPassThrough(t *testing.T) {
	p := testProfile()
	g := newTestGenerator(t, 7, nil)

	rec, err := g.Generate(p, false, 0, meta)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Fields()["test_fail"]; got != "false" {
		t.Errorf("Expected test_fail \"false\", got %v", got)
	}

	rec, err = g.Generate(p, true, 1, meta)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Fields()["test_fail"]; got != "true" {
		t.Errorf("Expected test_fail \"true\", got %v", got)
	}

	// the flag reflects the request, the values are checked independently
	if v := p.Evaluate(rec.Values); len(v) != 1 {
		t.Errorf("Expected exactly 1 violation, got %d", len(v))
	}
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	p := testProfile()
	a, err := newTestGenerator(t, 42, nil).Generate(p, true, 3, meta)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newTestGenerator(t, 42, nil).Generate(p, true, 3, meta)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Expected identical records for the same seed\n a=%v\n b=%v", a.Values, b.Values)
	}
}

func TestDegenerateBounds(t *testing.T) {
	p := limits.Profile{"X": {A: 2.5, B: 2.5}}
	for seed := int64(0); seed < 50; seed++ {
		g := newTestGenerator(t, seed, func(c *Config) { c.Reserve = 0 })
		rec, err := g.Generate(p, false, 0, meta)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Values["X"] != 2.5 {
			t.Errorf("Expected exactly 2.5, got %v", rec.Values["X"])
		}
		rec, err = g.Generate(p, true, 1, meta)
		if err != nil {
			t.Fatal(err)
		}
		if v := rec.Values["X"]; v > 2.4 && v < 2.6 {
			t.Errorf("Expected value outside the degenerate point, got %v", v)
		}
	}
}

func TestSingleFieldExample(t *testing.T) {
	p := limits.Profile{"X": {A: 0, B: 10}}
	g := newTestGenerator(t, 1, func(c *Config) { c.Reserve = 0 })

	rec, err := g.Generate(p, false, 0, meta)
	if err != nil {
		t.Fatal(err)
	}
	if v := rec.Values["X"]; v < 0 || v > 10 {
		t.Errorf("Expected X in [0, 10], got %v", v)
	}

	for i := 0; i < 100; i++ {
		rec, err = g.Generate(p, true, 1, meta)
		if err != nil {
			t.Fatal(err)
		}
		v := rec.Values["X"]
		if !((v >= -1 && v <= -0.1) || (v >= 10.1 && v <= 11)) {
			t.Errorf("Expected X in [-1, -0.1] or [10.1, 11], got %v", v)
		}
	}
}

func TestRoundingClampsToBounds(t *testing.T) {
	// bounds with more decimals than the precision
	p := limits.Profile{"X": {A: 1.00041, B: 1.00044}}
	g := newTestGenerator(t, 3, func(c *Config) { c.Reserve = 0 })
	for i := 0; i < 100; i++ {
		rec, err := g.Generate(p, false, 0, meta)
		if err != nil {
			t.Fatal(err)
		}
		if !p["X"].Contains(rec.Values["X"]) {
			t.Fatalf("Rounded value %v escaped its bounds", rec.Values["X"])
		}
	}
}

func TestGenerateRejectsInvalidRequests(t *testing.T) {
	g := newTestGenerator(t, 1, nil)

	if _, err := g.Generate(limits.Profile{}, false, 0, meta); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Expected ErrInvalidProfile for empty profile, got %v", err)
	}

	small := limits.Profile{"A": {A: 0, B: 1}, "B": {A: 0, B: 1}, "C": {A: 0, B: 1}}
	if _, err := g.Generate(small, true, 1, meta); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Expected ErrInvalidProfile when reserve exceeds profile, got %v", err)
	}
	if _, err := g.FailCount(small); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Expected ErrInvalidProfile from FailCount, got %v", err)
	}
	if _, err := g.Generate(small, false, 0, meta); err != nil {
		t.Errorf("A passing record needs no reserve, got %v", err)
	}

	p := testProfile()
	for _, k := range []int{0, -1, len(p) - 4} {
		if _, err := g.Generate(p, true, k, meta); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("Expected ErrInvalidProfile for k=%d, got %v", k, err)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Precision = 0 },
		func(c *Config) { c.Reserve = -1 },
		func(c *Config) { c.Near = 0 },
		func(c *Config) { c.Far = c.Near },
		func(c *Config) { c.Precision = 1; c.Near = 0.05 },
		func(c *Config) { c.FailProbability = 1.5 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := New(cfg, rand.New(rand.NewSource(1))); err == nil {
			t.Errorf("case %d: expected config error for %+v", i, cfg)
		}
	}
	if _, err := New(DefaultConfig(), nil); err == nil {
		t.Error("Expected error for nil random source")
	}
}

func TestCheckTable(t *testing.T) {
	table, err := limits.Default()
	if err != nil {
		t.Fatal(err)
	}
	if err := newTestGenerator(t, 1, nil).Check(table); err != nil {
		t.Errorf("Default table should support the default reserve: %v", err)
	}
	err = newTestGenerator(t, 1, func(c *Config) { c.Reserve = 9 }).Check(table)
	if !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Expected ErrInvalidProfile for NVH with reserve 9, got %v", err)
	}
}

func TestDeviceCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^P[1-9][0-9]{7}#1TF[1-9][0-9]{7}#[A-Z]{6}#$`)
	g := newTestGenerator(t, 5, nil)
	for i := 0; i < 20; i++ {
		if code := g.DeviceCode(); !re.MatchString(code) {
			t.Errorf("Unexpected device code %q", code)
		}
	}
}
