package checker

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"linkrescue/internal/cache"
	"linkrescue/internal/models"
	"linkrescue/internal/urlutil"
)

const (
	DefaultLivenessTimeout = 8 * time.Second
	defaultUserAgent       = "linkrescue/1.0"
	maxRedirects           = 10
)

// LivenessOptions configures a LivenessProbe.
type LivenessOptions struct {
	Timeout   time.Duration
	PerHost   int // concurrent probes per host; <= 0 means unlimited
	UserAgent string
	Client    *http.Client
	Logger    *slog.Logger
}

// LivenessProbe decides whether a URL's host answers at all.
//
// The probe is blind on purpose: any HTTP response, whatever its status,
// means alive; a transport error or timeout means dead. Results of both
// kinds are cached in the liveness namespace.
type LivenessProbe struct {
	cache     *cache.TimedCache
	client    *http.Client
	timeout   time.Duration
	hosts     *HostLimiter
	userAgent string
	logger    *slog.Logger
}

// NewLivenessProbe creates a probe backed by c.
func NewLivenessProbe(c *cache.TimedCache, opts LivenessOptions) *LivenessProbe {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLivenessTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Client == nil {
		opts.Client = newProbeClient()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LivenessProbe{
		cache:     c,
		client:    opts.Client,
		timeout:   opts.Timeout,
		hosts:     NewHostLimiter(opts.PerHost),
		userAgent: opts.UserAgent,
		logger:    opts.Logger.With("component", "liveness"),
	}
}

func newProbeClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       30 * time.Second,
			DisableCompression:    true,
			ExpectContinueTimeout: time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				// The hop we already have is a response; that is enough.
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// Probe returns the liveness of rawURL, from cache when possible.
func (p *LivenessProbe) Probe(ctx context.Context, rawURL string) models.LivenessResult {
	var cached models.LivenessResult
	if p.cache.Get(ctx, cache.Liveness, rawURL, &cached) {
		p.logger.Debug("liveness cache hit", "url", rawURL, "alive", cached.Alive)
		return cached
	}

	host := urlutil.Host(rawURL)
	if err := p.hosts.Acquire(ctx, host); err != nil {
		return models.LivenessResult{Alive: false}
	}
	defer p.hosts.Release(host)

	start := time.Now()
	alive := p.reach(ctx, rawURL)
	result := models.LivenessResult{Alive: alive}

	// A caller that went away tells us nothing about the host.
	if ctx.Err() != nil {
		return result
	}

	p.cache.Set(ctx, cache.Liveness, rawURL, result, 0)
	p.logger.Debug("liveness probed", "url", rawURL, "alive", alive, "latency_ms", time.Since(start).Milliseconds())
	return result
}

// reach issues the request and reports whether any response came back.
// The deadline cancels the request, closing its connection.
func (p *LivenessProbe) reach(ctx context.Context, rawURL string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("liveness request failed", "url", rawURL, "error", err)
		return false
	}
	// Status and body are deliberately ignored.
	resp.Body.Close()
	return true
}
