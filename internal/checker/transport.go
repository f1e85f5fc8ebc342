package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultArchiveEndpoint is the Wayback Machine availability API.
const DefaultArchiveEndpoint = "https://archive.org/wayback/available"

const maxAvailabilityBody = 1 << 20

// Transport fetches the raw availability document for a URL.
// Implementations may reach the archive any way the platform allows.
type Transport interface {
	FetchAvailability(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPTransport queries the availability endpoint directly. It sends a
// callback parameter like the JSONP form of the API and accepts either a
// JSONP-wrapped or a plain JSON body.
type HTTPTransport struct {
	endpoint  string
	client    *http.Client
	userAgent string
	seq       atomic.Uint64
}

// NewHTTPTransport creates a transport for endpoint. A nil client gets a
// default one; timeouts are expected to come from the request context.
func NewHTTPTransport(endpoint string, client *http.Client, userAgent string) *HTTPTransport {
	if endpoint == "" {
		endpoint = DefaultArchiveEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPTransport{endpoint: endpoint, client: client, userAgent: userAgent}
}

// FetchAvailability implements Transport.
func (t *HTTPTransport) FetchAvailability(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse archive endpoint: %w", err)
	}
	token := "lr_cb_" + strconv.FormatUint(t.seq.Add(1), 36)
	q := u.Query()
	q.Set("url", rawURL)
	q.Set("callback", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/javascript, application/json;q=0.9")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("availability request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("availability endpoint returned http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAvailabilityBody))
	if err != nil {
		return nil, fmt.Errorf("read availability body: %w", err)
	}
	return unwrapJSONP(body, token), nil
}

// unwrapJSONP strips a `token(...)` or `token(...);` wrapper. Bodies that
// are not wrapped in token are returned trimmed and otherwise untouched.
func unwrapJSONP(body []byte, token string) []byte {
	b := bytes.TrimSpace(body)
	prefix := []byte(token + "(")
	if !bytes.HasPrefix(b, prefix) {
		// Some deployments prefix a comment guard: /**/token(...)
		if i := bytes.Index(b, prefix); i >= 0 && bytes.HasPrefix(b, []byte("/**/")) {
			b = b[i:]
		} else {
			return b
		}
	}
	b = bytes.TrimSuffix(b, []byte(";"))
	b = bytes.TrimSpace(b)
	if !bytes.HasSuffix(b, []byte(")")) {
		return b
	}
	return bytes.TrimSpace(b[len(prefix) : len(b)-1])
}
