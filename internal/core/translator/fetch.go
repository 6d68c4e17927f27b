package translator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache"
	"github.com/maxcollombin/mapserver-proxy/internal/core/observability"
)

// HTTPDoer is the outbound client seam; *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// fetcher performs all backend I/O: per-request deadline, status checks,
// error classification, upstream latency metrics, and the optional
// response cache for idempotent GETs.
type fetcher struct {
	log      *slog.Logger
	client   HTTPDoer
	base     string
	timeout  time.Duration
	cache    cache.Interface
	cacheTTL time.Duration
	now      func() time.Time
}

func newFetcher(log *slog.Logger, client HTTPDoer, baseURL string, timeout time.Duration, c cache.Interface, ttl time.Duration) (*fetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperr.Errorf(apperr.Internal, "invalid backend url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &fetcher{
		log:      log,
		client:   client,
		base:     strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
		cache:    c,
		cacheTTL: ttl,
		now:      time.Now,
	}, nil
}

// getJSON fetches a JSON document; cacheKey may be empty to bypass the cache.
func (f *fetcher) getJSON(ctx context.Context, u *url.URL, cacheKey string) ([]byte, error) {
	if f.cache != nil && cacheKey != "" {
		if b, ok, err := f.cache.Get(ctx, cacheKey); err == nil && ok {
			observability.IncCacheHit()
			return b, nil
		} else if err != nil {
			f.log.Warn("cache get failed", "key", cacheKey, "err", err)
		}
		observability.IncCacheMiss()
	}

	body, _, err := f.get(ctx, u, "application/json")
	if err != nil {
		return nil, err
	}

	if f.cache != nil && cacheKey != "" {
		if err := f.cache.Set(ctx, cacheKey, body, f.cacheTTL); err != nil {
			f.log.Warn("cache set failed", "key", cacheKey, "err", err)
		}
	}
	return body, nil
}

// get performs a bounded GET and classifies failures. The response body is
// fully read so the connection can be reused.
func (f *fetcher) get(ctx context.Context, u *url.URL, accept string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, "build backend request", err)
	}
	req.Header.Set("Accept", accept)

	start := f.now()
	resp, err := f.client.Do(req)
	dur := time.Since(start)
	observability.ObserveUpstreamLatency("pygeoapi", dur.Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", apperr.Wrap(apperr.Timeout, "backend timeout", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, "", apperr.Wrap(apperr.Upstream, "request canceled", err)
		}
		return nil, "", apperr.Wrap(apperr.Upstream, "backend unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, "", apperr.Errorf(apperr.Upstream,
			"backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", apperr.Wrap(apperr.Timeout, "backend timeout reading body", err)
		}
		return nil, "", apperr.Wrap(apperr.Upstream, "read backend body", err)
	}

	f.log.Debug("backend fetch",
		"url", u.String(),
		"status", resp.StatusCode,
		"bytes", len(b),
		"duration", dur.String())
	return b, resp.Header.Get("Content-Type"), nil
}
