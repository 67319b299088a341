package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/goliatone/go-coherent-cache/internal/store"
)

// PatternMode selects how InvalidatePattern matches keys.
type PatternMode string

const (
	// MatchSegments matches a key equal to the pattern or extending it by
	// whole KeySeparator delimited segments. "reviews:u1" matches
	// "reviews:u1:page2" but not "reviews:u10".
	MatchSegments PatternMode = "segments"

	// MatchSubstring matches any key containing the pattern.
	MatchSubstring PatternMode = "substring"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	DefaultTTL  time.Duration
	MaxEntries  int
	PatternMode PatternMode
	Now         func() time.Time
	Logger      *zap.Logger
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(store.DefaultConfig())
	cfg.PatternMode = MatchSegments
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DefaultTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxEntries, validation.Min(0)),
		validation.Field(&c.PatternMode, validation.In(MatchSegments, MatchSubstring)),
	)
}

func (c Config) patternMode() PatternMode {
	if c.PatternMode == "" {
		return MatchSegments
	}
	return c.PatternMode
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) toInternal() store.Config {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return store.Config{
		DefaultTTL: c.DefaultTTL,
		MaxEntries: c.MaxEntries,
		Now:        now,
	}
}

func convertFromInternal(cfg store.Config) Config {
	return Config{
		DefaultTTL: cfg.DefaultTTL,
		MaxEntries: cfg.MaxEntries,
		Now:        cfg.Now,
	}
}
