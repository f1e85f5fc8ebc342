// Package cache is a best-effort, namespaced cache with per-entry expiry.
//
// Nothing in here ever fails its caller: a read that cannot be decoded is a
// miss, and a write the store refuses is dropped. Losing the cache costs a
// network round trip, never a wrong answer.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"time"

	"linkrescue/internal/storage"
)

// Namespace partitions the cache. Each namespace has its own default TTL.
type Namespace string

const (
	Liveness Namespace = "liveness"
	Archive  Namespace = "archive"
)

// ParseNamespace maps a name to a known Namespace.
func ParseNamespace(name string) (Namespace, bool) {
	switch Namespace(name) {
	case Liveness:
		return Liveness, true
	case Archive:
		return Archive, true
	}
	return "", false
}

const (
	DefaultLivenessTTL = 24 * time.Hour
	DefaultArchiveTTL  = 7 * 24 * time.Hour
)

// entry is the persisted layout. TTL records the lifetime chosen at write
// time; entries written without it fall back to the namespace TTL.
type entry struct {
	StoredAt int64           `json:"storedAt"`
	TTL      int64           `json:"ttl,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Options configures a TimedCache.
type Options struct {
	LivenessTTL time.Duration
	ArchiveTTL  time.Duration
	// Now overrides the clock, for tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// TimedCache stores JSON payloads keyed by URL in a storage.Store.
type TimedCache struct {
	store  storage.Store
	ttls   map[Namespace]time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New wraps store. Zero TTLs take the package defaults.
func New(store storage.Store, opts Options) *TimedCache {
	if opts.LivenessTTL <= 0 {
		opts.LivenessTTL = DefaultLivenessTTL
	}
	if opts.ArchiveTTL <= 0 {
		opts.ArchiveTTL = DefaultArchiveTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &TimedCache{
		store: store,
		ttls: map[Namespace]time.Duration{
			Liveness: opts.LivenessTTL,
			Archive:  opts.ArchiveTTL,
		},
		now:    opts.Now,
		logger: opts.Logger.With("component", "cache"),
	}
}

// Key maps an arbitrary-length URL to a fixed-length storage key.
// Collisions are possible and accepted.
func Key(rawURL string) string {
	h := fnv.New64a()
	h.Write([]byte(rawURL))
	return hex.EncodeToString(h.Sum(nil))
}

// Get decodes the live payload stored for rawURL into dst and reports
// whether it did. Missing, expired and malformed entries all report false;
// expired and malformed ones are deleted on the way out.
func (c *TimedCache) Get(ctx context.Context, ns Namespace, rawURL string, dst any) bool {
	if _, ok := c.ttls[ns]; !ok {
		return false
	}
	key := Key(rawURL)
	raw, err := c.store.Get(ctx, string(ns), key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Debug("cache read failed", "namespace", ns, "url", rawURL, "error", err)
		}
		return false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || e.StoredAt <= 0 || len(e.Payload) == 0 {
		c.logger.Debug("dropping malformed cache entry", "namespace", ns, "url", rawURL)
		c.drop(ctx, ns, key)
		return false
	}

	ttl := c.ttls[ns]
	if e.TTL > 0 {
		ttl = time.Duration(e.TTL) * time.Millisecond
	}
	age := c.now().Sub(time.UnixMilli(e.StoredAt))
	if age >= ttl {
		c.drop(ctx, ns, key)
		return false
	}

	if err := json.Unmarshal(e.Payload, dst); err != nil {
		c.logger.Debug("dropping undecodable cache payload", "namespace", ns, "url", rawURL, "error", err)
		c.drop(ctx, ns, key)
		return false
	}
	return true
}

// Set stores payload for rawURL. ttl <= 0 uses the namespace TTL.
// Failures are logged and swallowed.
func (c *TimedCache) Set(ctx context.Context, ns Namespace, rawURL string, payload any, ttl time.Duration) {
	def, ok := c.ttls[ns]
	if !ok {
		return
	}
	if ttl <= 0 {
		ttl = def
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("cache payload not serializable", "namespace", ns, "error", err)
		return
	}
	now := c.now()
	raw, err := json.Marshal(entry{
		StoredAt: now.UnixMilli(),
		TTL:      ttl.Milliseconds(),
		Payload:  body,
	})
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, string(ns), Key(rawURL), raw, now.Add(ttl)); err != nil {
		level := slog.LevelDebug
		if errors.Is(err, storage.ErrFull) {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "cache write dropped", "namespace", ns, "url", rawURL, "error", err)
	}
}

// Clear drops every entry of ns.
func (c *TimedCache) Clear(ctx context.Context, ns Namespace) (int64, error) {
	return c.store.Clear(ctx, string(ns))
}

func (c *TimedCache) drop(ctx context.Context, ns Namespace, key string) {
	_ = c.store.Delete(ctx, string(ns), key)
}
