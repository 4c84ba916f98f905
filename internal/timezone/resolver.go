// Package timezone maps bot users to their IANA zones.
package timezone

import (
	"context"
	"strings"
	"sync"
	"time"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Zones offered by the zone picker.
var Presets = []string{"UTC", "Europe/Moscow", "America/New_York", "Asia/Tokyo"}

// UserSource is the part of the store the resolver reads.
type UserSource interface {
	GetUser(ctx context.Context, id string) (storage.User, bool, error)
}

type cacheEntry struct {
	loc *time.Location
	exp time.Time
}

// Resolver resolves owners to locations. Lookups that miss, fail, or hit an
// invalid zone name resolve to the fallback zone (UTC unless configured).
type Resolver struct {
	users UserSource
	log   logx.Logger
	ttl   time.Duration

	mu       sync.Mutex
	fallback *time.Location
	cache    map[string]cacheEntry
}

func New(users UserSource, fallback string, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	fb := time.UTC
	if loc, err := Load(fallback); err == nil {
		fb = loc
	}
	return &Resolver{
		users:    users,
		log:      log,
		fallback: fb,
		ttl:      time.Minute,
		cache:    map[string]cacheEntry{},
	}
}

// SetFallback swaps the zone used for unknown owners and clears the cache.
func (r *Resolver) SetFallback(name string) error {
	loc, err := Load(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.fallback = loc
	r.cache = map[string]cacheEntry{}
	r.mu.Unlock()
	return nil
}

// Load validates and loads an IANA zone name. Empty means UTC.
func Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Valid reports whether name is a loadable zone.
func Valid(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := Load(name)
	return err == nil
}

func (r *Resolver) Resolve(ctx context.Context, ownerID string) *time.Location {
	now := time.Now()
	r.mu.Lock()
	if e, ok := r.cache[ownerID]; ok && now.Before(e.exp) {
		r.mu.Unlock()
		return e.loc
	}
	r.mu.Unlock()

	loc, cache := r.lookup(ctx, ownerID)
	if !cache {
		return loc
	}

	r.mu.Lock()
	r.cache[ownerID] = cacheEntry{loc: loc, exp: now.Add(r.ttl)}
	r.mu.Unlock()
	return loc
}

// Name returns the zone name for ownerID.
func (r *Resolver) Name(ctx context.Context, ownerID string) string {
	return r.Resolve(ctx, ownerID).String()
}

// Forget drops a cached zone, after the user changed it.
func (r *Resolver) Forget(ownerID string) {
	r.mu.Lock()
	delete(r.cache, ownerID)
	r.mu.Unlock()
}

// lookup reports whether the result may be cached. Store errors are not.
func (r *Resolver) lookup(ctx context.Context, ownerID string) (*time.Location, bool) {
	r.mu.Lock()
	fallback := r.fallback
	r.mu.Unlock()
	if r.users == nil || ownerID == "" {
		return fallback, true
	}
	u, ok, err := r.users.GetUser(ctx, ownerID)
	if err != nil {
		r.log.Debug("zone lookup failed; using fallback", logx.String("owner", ownerID), logx.Err(err))
		return fallback, false
	}
	if !ok || strings.TrimSpace(u.Timezone) == "" {
		return fallback, true
	}
	loc, err := Load(u.Timezone)
	if err != nil {
		r.log.Debug("invalid stored zone; using fallback", logx.String("owner", ownerID), logx.String("zone", u.Timezone))
		return fallback, true
	}
	return loc, true
}
