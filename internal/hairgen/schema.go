package hairgen

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ModelSchema is the parameter vocabulary the active model version accepts.
// It is immutable once installed in the cache; refreshes install a new
// snapshot rather than mutating in place.
type ModelSchema struct {
	Styles        []string
	Colors        []string
	OutputFormats []string
	ModelVersion  string
	FetchedAt     time.Time
}

// HasStyle reports whether name is an accepted preset style.
func (s *ModelSchema) HasStyle(name string) bool {
	return containsFold(s.Styles, name)
}

// HasColor reports whether name is an accepted hair color.
func (s *ModelSchema) HasColor(name string) bool {
	return containsFold(s.Colors, name)
}

// HasOutputFormat reports whether name is an accepted output format.
func (s *ModelSchema) HasOutputFormat(name string) bool {
	return containsFold(s.OutputFormats, name)
}

func containsFold(values []string, name string) bool {
	for _, v := range values {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

// DefaultSchema returns the built-in static vocabulary used until a remote
// schema is available, and per-field whenever a remote schema omits an
// enumeration. It is never empty.
func DefaultSchema() *ModelSchema {
	return &ModelSchema{
		Styles: []string{
			"bob", "pixie", "buzz cut", "long layers", "curtain bangs",
			"afro", "cornrows", "braids", "slicked back", "undercut",
			"shag", "curly", "straight", "wavy",
		},
		Colors: []string{
			HairColorUnchanged, "black", "dark brown", "light brown",
			"blonde", "platinum", "auburn", "red", "gray", "pink", "blue",
		},
		OutputFormats: []string{"png", "jpg"},
	}
}

// SchemaSource fetches the remote model's current input vocabulary.
type SchemaSource interface {
	FetchSchema(ctx context.Context) (*ModelSchema, error)
}

// SchemaCache memoizes the model schema behind a narrow read/refresh
// surface. Reads never block on a refresh and never observe a partial
// schema: the single refresh path installs a fresh immutable snapshot
// atomically. Fetch failures degrade to the previous snapshot, which is
// seeded from DefaultSchema, so Get never returns an empty vocabulary.
type SchemaCache struct {
	source  SchemaSource
	maxAge  time.Duration
	logger  zerolog.Logger
	current atomic.Pointer[ModelSchema]
	refresh sync.Mutex
}

const defaultSchemaMaxAge = 15 * time.Minute

// NewSchemaCache seeds the cache with the static default schema. source may
// be nil, in which case the defaults are permanent.
func NewSchemaCache(source SchemaSource, maxAge time.Duration, logger zerolog.Logger) *SchemaCache {
	if maxAge <= 0 {
		maxAge = defaultSchemaMaxAge
	}
	c := &SchemaCache{source: source, maxAge: maxAge, logger: logger}
	c.current.Store(DefaultSchema())
	return c
}

// Get returns the current schema. A stale (or force-refreshed) schema
// triggers a fetch, but only for the caller that wins the refresh slot;
// everyone else gets the pre-refresh snapshot immediately. Get never
// returns nil and never raises.
func (c *SchemaCache) Get(ctx context.Context, forceRefresh bool) *ModelSchema {
	snapshot := c.current.Load()
	if c.source == nil {
		return snapshot
	}
	if !forceRefresh && !c.stale(snapshot) {
		return snapshot
	}
	if !c.refresh.TryLock() {
		// A refresh is in flight; serve the pre-refresh value.
		return snapshot
	}
	defer c.refresh.Unlock()

	fetched, err := c.source.FetchSchema(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("schema: refresh failed, keeping previous vocabulary")
		return c.current.Load()
	}

	merged := mergeSchema(c.current.Load(), fetched)
	c.current.Store(merged)
	c.logger.Debug().
		Str("model_version", merged.ModelVersion).
		Int("styles", len(merged.Styles)).
		Int("colors", len(merged.Colors)).
		Msg("schema: refreshed")
	return merged
}

func (c *SchemaCache) stale(s *ModelSchema) bool {
	return s.FetchedAt.IsZero() || time.Since(s.FetchedAt) > c.maxAge
}

// mergeSchema keeps the prior value for any field the fetched schema does
// not enumerate, so a shape change on the provider side degrades one field
// at a time instead of all-or-nothing.
func mergeSchema(prev, next *ModelSchema) *ModelSchema {
	merged := &ModelSchema{
		Styles:        next.Styles,
		Colors:        next.Colors,
		OutputFormats: next.OutputFormats,
		ModelVersion:  next.ModelVersion,
		FetchedAt:     next.FetchedAt,
	}
	if merged.FetchedAt.IsZero() {
		merged.FetchedAt = time.Now()
	}
	if len(merged.Styles) == 0 {
		merged.Styles = prev.Styles
	}
	if len(merged.Colors) == 0 {
		merged.Colors = prev.Colors
	}
	if len(merged.OutputFormats) == 0 {
		merged.OutputFormats = prev.OutputFormats
	}
	if merged.ModelVersion == "" {
		merged.ModelVersion = prev.ModelVersion
	}
	return merged
}
