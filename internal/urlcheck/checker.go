// Package urlcheck probes catalog source URLs so dead or deprecated
// endpoints can be flagged before a pipeline run wastes time on them.
package urlcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reason summarizes the probe outcome.
type Reason string

const (
	ReasonOK         Reason = "OK"
	ReasonMissing    Reason = "MISSING"
	ReasonDeprecated Reason = "DEPRECATED"
)

type Result struct {
	URL        string
	OK         bool
	Reason     Reason
	StatusCode int
	Detail     string
}

type Option func(*Checker)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

func WithClient(client *http.Client) Option {
	return func(c *Checker) {
		c.client = client
	}
}

func WithConcurrency(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Checker validates URLs with a bounded worker pool and a per-URL cache, so
// many entities sharing one endpoint cost a single probe.
type Checker struct {
	client      *http.Client
	concurrency int
	logger      *zap.Logger

	mu    sync.Mutex
	cache map[string]Result
}

func New(opts ...Option) *Checker {
	c := &Checker{
		client:      &http.Client{Timeout: 30 * time.Second},
		concurrency: 8,
		logger:      zap.NewNop(),
		cache:       make(map[string]Result),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAll probes the given URLs and returns results keyed by URL.
// Duplicates are deduplicated through the cache.
func (c *Checker) CheckAll(ctx context.Context, urls []string) (map[string]Result, error) {
	unique := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			unique = append(unique, u)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, u := range unique {
		g.Go(func() error {
			c.Check(ctx, u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Result, len(urls))
	for _, u := range urls {
		out[u] = c.cache[u]
	}
	return out, nil
}

// Check probes a single URL, serving repeats from the cache.
func (c *Checker) Check(ctx context.Context, url string) Result {
	c.mu.Lock()
	if r, ok := c.cache[url]; ok {
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	r := c.probe(ctx, url)

	c.mu.Lock()
	c.cache[url] = r
	c.mu.Unlock()

	c.logger.Debug("url probed",
		zap.String("url", url),
		zap.Bool("ok", r.OK),
		zap.String("reason", string(r.Reason)))
	return r
}

func (c *Checker) probe(ctx context.Context, url string) Result {
	if url == "" {
		return Result{URL: url, Reason: ReasonMissing, Detail: "no source URL"}
	}
	if isAGSService(url) {
		return c.probeAGS(ctx, url)
	}

	status, err := c.request(ctx, http.MethodHead, url)
	if err != nil || status == http.StatusMethodNotAllowed || status == http.StatusForbidden {
		// Plenty of servers reject HEAD; retry with GET before declaring
		// anything dead.
		status, err = c.request(ctx, http.MethodGet, url)
	}
	if err != nil {
		return Result{URL: url, Reason: ReasonMissing, Detail: err.Error()}
	}

	switch {
	case status >= 200 && status < 300:
		return Result{URL: url, OK: true, Reason: ReasonOK, StatusCode: status}
	case status == http.StatusMovedPermanently || status == http.StatusGone:
		return Result{URL: url, Reason: ReasonDeprecated, StatusCode: status,
			Detail: fmt.Sprintf("endpoint relocated or retired (%d)", status)}
	default:
		return Result{URL: url, Reason: ReasonMissing, StatusCode: status,
			Detail: fmt.Sprintf("unexpected status %d", status)}
	}
}

func (c *Checker) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, nil
}

func isAGSService(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, "/rest/services") ||
		strings.Contains(lower, "/featureserver") ||
		strings.Contains(lower, "/mapserver")
}

// probeAGS asks an ArcGIS endpoint for its JSON descriptor. A 200 with an
// embedded error object still means the layer is gone, so the body is
// inspected rather than trusting the status code.
func (c *Checker) probeAGS(ctx context.Context, url string) Result {
	probeURL := url
	if strings.Contains(url, "?") {
		probeURL += "&f=json"
	} else {
		probeURL += "?f=json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return Result{URL: url, Reason: ReasonMissing, Detail: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{URL: url, Reason: ReasonMissing, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024))
	if err != nil {
		return Result{URL: url, Reason: ReasonMissing, StatusCode: resp.StatusCode, Detail: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{URL: url, Reason: ReasonMissing, StatusCode: resp.StatusCode,
			Detail: fmt.Sprintf("service returned %d", resp.StatusCode)}
	}

	var doc struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Name         string `json:"name"`
		CurrentVer   any    `json:"currentVersion"`
		Capabilities string `json:"capabilities"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{URL: url, Reason: ReasonMissing, StatusCode: resp.StatusCode,
			Detail: "service descriptor is not JSON"}
	}
	if doc.Error != nil {
		reason := ReasonMissing
		if doc.Error.Code == http.StatusForbidden || doc.Error.Code == http.StatusUnauthorized {
			reason = ReasonDeprecated
		}
		return Result{URL: url, Reason: reason, StatusCode: resp.StatusCode,
			Detail: fmt.Sprintf("service error %d: %s", doc.Error.Code, doc.Error.Message)}
	}
	if doc.Name == "" && doc.CurrentVer == nil && doc.Capabilities == "" {
		return Result{URL: url, Reason: ReasonMissing, StatusCode: resp.StatusCode,
			Detail: "descriptor has no service fields"}
	}
	return Result{URL: url, OK: true, Reason: ReasonOK, StatusCode: resp.StatusCode}
}
