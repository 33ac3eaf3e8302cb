// Package rating corrects and standardizes player ratings across platforms.
package rating

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Time classes returned by ClassifyTimeControl.
const (
	Bullet         = "bullet"
	Blitz          = "blitz"
	Rapid          = "rapid"
	Classical      = "classical"
	Correspondence = "correspondence"
	UnknownClass   = "unknown"
)

// Range is the inclusive plausible rating range for a platform.
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Contains reports whether r lies in the range.
func (rg Range) Contains(r int) bool { return r >= rg.Min && r <= rg.Max }

// Transform maps a corrected rating onto the common scale.
type Transform struct {
	Slope     float64 `yaml:"slope"`
	Intercept float64 `yaml:"intercept"`
}

// Apply returns Slope*r + Intercept.
func (t Transform) Apply(r int) float64 { return t.Slope*float64(r) + t.Intercept }

// Config configures a Standardizer. Transforms are keyed by
// "platform/timeclass", falling back to "platform" and then identity.
type Config struct {
	DefaultRange Range                `yaml:"default_range"`
	Ranges       map[string]Range     `yaml:"ranges"`
	Transforms   map[string]Transform `yaml:"transforms"`
}

// Default returns ranges for the common platforms and identity transforms.
func Default() Config {
	return Config{
		DefaultRange: Range{Min: 800, Max: 3500},
		Ranges: map[string]Range{
			"lichess":  {Min: 800, Max: 3500},
			"chesscom": {Min: 100, Max: 3500},
			"fide":     {Min: 1000, Max: 2900},
		},
		Transforms: map[string]Transform{},
	}
}

// Standardizer is safe for concurrent use once built.
type Standardizer struct {
	cfg Config
	log zerolog.Logger

	corrected int64
	clipped   int64
}

// New creates a Standardizer.
func New(cfg Config, log zerolog.Logger) *Standardizer {
	if cfg.DefaultRange == (Range{}) {
		cfg.DefaultRange = Default().DefaultRange
	}
	return &Standardizer{cfg: cfg, log: log.With().Str("component", "rating").Logger()}
}

// Standardize corrects rating for platform and maps it onto the common
// scale. ok is false when the rating is missing.
func (s *Standardizer) Standardize(rating int, platform, timeControl string) (float64, bool) {
	if rating <= 0 {
		return 0, false
	}
	r := s.Correct(rating, platform)
	return s.transform(platform, ClassifyTimeControl(timeControl)).Apply(r), true
}

// Correct pulls an out-of-range rating back into the platform range. A
// value that lands in range after adding or dropping a digit is taken to
// be a typo; anything else is clipped.
func (s *Standardizer) Correct(rating int, platform string) int {
	rg := s.rangeFor(platform)
	if rg.Contains(rating) {
		return rating
	}

	var corrected int
	var reason string
	switch {
	case rating < rg.Min && rg.Contains(rating*10):
		corrected, reason = rating*10, "missing digit"
	case rating > rg.Max && rg.Contains(rating/10):
		corrected, reason = rating/10, "extra digit"
	case rating < rg.Min:
		corrected, reason = rg.Min, "clipped"
	default:
		corrected, reason = rg.Max, "clipped"
	}

	if reason == "clipped" {
		atomic.AddInt64(&s.clipped, 1)
	} else {
		atomic.AddInt64(&s.corrected, 1)
	}
	s.log.Info().
		Str("platform", platform).
		Int("raw", rating).
		Int("corrected", corrected).
		Str("reason", reason).
		Msg("rating corrected")
	return corrected
}

// Stats returns how many ratings were digit-corrected and clipped.
func (s *Standardizer) Stats() (corrected, clipped int64) {
	return atomic.LoadInt64(&s.corrected), atomic.LoadInt64(&s.clipped)
}

func (s *Standardizer) rangeFor(platform string) Range {
	if rg, ok := s.cfg.Ranges[strings.ToLower(platform)]; ok {
		return rg
	}
	return s.cfg.DefaultRange
}

func (s *Standardizer) transform(platform, class string) Transform {
	p := strings.ToLower(platform)
	if t, ok := s.cfg.Transforms[p+"/"+class]; ok {
		return t
	}
	if t, ok := s.cfg.Transforms[p]; ok {
		return t
	}
	return Transform{Slope: 1}
}

// ClassifyTimeControl maps a PGN TimeControl tag ("300+3", "-", "1/259200")
// to a time class using the estimated duration base + 40*increment.
func ClassifyTimeControl(tc string) string {
	tc = strings.TrimSpace(tc)
	switch {
	case tc == "-":
		return Correspondence
	case tc == "" || tc == "?":
		return UnknownClass
	case strings.Contains(tc, "/"):
		return Correspondence
	}

	base, inc := tc, "0"
	if i := strings.IndexByte(tc, '+'); i >= 0 {
		base, inc = tc[:i], tc[i+1:]
	}
	b, err := strconv.Atoi(base)
	if err != nil {
		return UnknownClass
	}
	n, err := strconv.Atoi(inc)
	if err != nil {
		return UnknownClass
	}

	switch est := b + 40*n; {
	case est < 180:
		return Bullet
	case est < 480:
		return Blitz
	case est < 1500:
		return Rapid
	default:
		return Classical
	}
}
