package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"linkrescue/internal/cache"
	"linkrescue/internal/models"
	"linkrescue/internal/urlutil"
)

const (
	DefaultArchiveTimeout    = 10 * time.Second
	DefaultArchiveFailureTTL = time.Hour
)

var errMalformedAvailability = errors.New("malformed availability response")

// ArchiveOptions configures an ArchiveClient.
type ArchiveOptions struct {
	// Timeout bounds one availability request, independent of the throttle delay.
	Timeout time.Duration
	// FailureTTL is how long a failed lookup is remembered as NotArchived.
	// Confirmed answers use the archive namespace TTL.
	FailureTTL time.Duration
	Logger     *slog.Logger
}

// ArchiveClient finds the closest archived snapshot of a URL.
// Network lookups go through the shared Throttle, one at a time.
type ArchiveClient struct {
	cache      *cache.TimedCache
	transport  Transport
	throttle   *Throttle
	timeout    time.Duration
	failureTTL time.Duration
	logger     *slog.Logger
}

// archivePayload is the cached form. An empty object means NotArchived.
type archivePayload struct {
	ArchiveURL   string `json:"archiveUrl,omitempty"`
	SnapshotTime string `json:"snapshotTime,omitempty"`
	Unconfirmed  bool   `json:"unconfirmed,omitempty"`
}

func (p archivePayload) result() models.ArchiveResult {
	if p.ArchiveURL == "" {
		return models.ArchiveResult{Unconfirmed: p.Unconfirmed}
	}
	return models.ArchiveResult{Archived: true, ArchiveURL: p.ArchiveURL, SnapshotTime: p.SnapshotTime}
}

func payloadOf(r models.ArchiveResult) archivePayload {
	if !r.Archived {
		return archivePayload{Unconfirmed: r.Unconfirmed}
	}
	return archivePayload{ArchiveURL: r.ArchiveURL, SnapshotTime: r.SnapshotTime}
}

// NewArchiveClient creates a client. The throttle may be shared with other
// clients talking to the same archive.
func NewArchiveClient(c *cache.TimedCache, transport Transport, throttle *Throttle, opts ArchiveOptions) *ArchiveClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultArchiveTimeout
	}
	if opts.FailureTTL <= 0 {
		opts.FailureTTL = DefaultArchiveFailureTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ArchiveClient{
		cache:      c,
		transport:  transport,
		throttle:   throttle,
		timeout:    opts.Timeout,
		failureTTL: opts.FailureTTL,
		logger:     opts.Logger.With("component", "archive"),
	}
}

// Lookup returns the archive result for rawURL, waiting for its turn on
// the throttle if the answer is not cached.
func (c *ArchiveClient) Lookup(ctx context.Context, rawURL string) models.ArchiveResult {
	res, ok := c.Enqueue(ctx, rawURL).Wait(ctx)
	if !ok {
		return models.ArchiveResult{Unconfirmed: true}
	}
	return res
}

// Enqueue answers from cache immediately or queues a lookup on the
// throttle. Lookups queued by one caller run in the order it enqueued them.
func (c *ArchiveClient) Enqueue(ctx context.Context, rawURL string) *Future[models.ArchiveResult] {
	var cached archivePayload
	if c.cache.Get(ctx, cache.Archive, rawURL, &cached) {
		c.logger.Debug("archive cache hit", "url", rawURL, "archived", cached.ArchiveURL != "")
		return Resolved(cached.result())
	}
	return Submit(c.throttle, ctx, func(ctx context.Context) (models.ArchiveResult, error) {
		return c.fetch(ctx, rawURL), nil
	})
}

// fetch performs one lookup and caches its outcome. Failures become an
// unconfirmed NotArchived kept only for the failure TTL.
func (c *ArchiveClient) fetch(ctx context.Context, rawURL string) models.ArchiveResult {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.query(reqCtx, rawURL)
	if ctx.Err() != nil {
		return models.ArchiveResult{Unconfirmed: true}
	}
	if err != nil {
		c.logger.Info("archive lookup failed", "url", rawURL, "error", err, "latency_ms", time.Since(start).Milliseconds())
		result = models.ArchiveResult{Unconfirmed: true}
		c.cache.Set(ctx, cache.Archive, rawURL, payloadOf(result), c.failureTTL)
		return result
	}

	c.cache.Set(ctx, cache.Archive, rawURL, payloadOf(result), 0)
	c.logger.Debug("archive lookup done", "url", rawURL, "archived", result.Archived, "latency_ms", time.Since(start).Milliseconds())
	return result
}

func (c *ArchiveClient) query(ctx context.Context, rawURL string) (models.ArchiveResult, error) {
	body, err := c.transport.FetchAvailability(ctx, rawURL)
	if err != nil {
		return models.NotArchived, err
	}
	if len(body) == 0 {
		return models.NotArchived, errMalformedAvailability
	}
	return ParseAvailability(body)
}

type availability struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// ParseAvailability reads an availability document. Anything short of
// archived_snapshots.closest.available == true with a URL is NotArchived.
// The snapshot URL is always upgraded to https.
func ParseAvailability(body []byte) (models.ArchiveResult, error) {
	var doc availability
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.NotArchived, fmt.Errorf("%w: %v", errMalformedAvailability, err)
	}
	closest := doc.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" {
		return models.NotArchived, nil
	}
	return models.ArchiveResult{
		Archived:     true,
		ArchiveURL:   urlutil.HTTPS(closest.URL),
		SnapshotTime: closest.Timestamp,
	}, nil
}
