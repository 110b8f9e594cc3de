// Package appclient issues authenticated requests against the target
// application's JSON and msgpack endpoints. The client borrows the browser
// session's cookies so requests carry the same identity the page earned
// while clearing interstitial verification.
package appclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/iceout-archive/report-listener/internal/report"
)

const requestTimeout = 30 * time.Second

var htmlPrefix = regexp.MustCompile(`^\s*<`)

// Client talks to the target application's API from the host process.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	csrfToken  string
	userAgent  string
	logger     *zap.Logger
}

// New builds a Client rooted at the target URL's origin, seeded with the
// given session cookies.
func New(targetURL string, cookies []*http.Cookie, userAgent string, logger *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("target url %q has no origin", targetURL)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}
	jar.SetCookies(base, cookies)

	csrfToken := ""
	for _, c := range cookies {
		if c.Name == "csrftoken" {
			csrfToken = c.Value
			break
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Jar: jar, Timeout: requestTimeout},
		base:       base,
		csrfToken:  csrfToken,
		userAgent:  userAgent,
		logger:     logger,
	}, nil
}

// FetchFeed pulls the incremental report feed since the given cursor and
// decodes its msgpack payload. Any failure degrades to an empty item list
// with a warning; the feed never fails a cycle.
func (c *Client) FetchFeed(ctx context.Context, since time.Time) []any {
	feedURL := c.base.ResolveReference(&url.URL{
		Path:     "/api/report-feed",
		RawQuery: "since=" + url.QueryEscape(since.Format(time.RFC3339)),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL.String(), nil)
	if err != nil {
		c.logger.Warn("build report-feed request failed", zap.Error(err))
		return []any{}
	}
	c.setCommonHeaders(req)
	req.Header.Set("Accept", "application/msgpack")
	req.Header.Set("X-Api-Version", "1.6")
	req.Header.Set("X-Locale", "en")
	if c.csrfToken != "" {
		req.Header.Set("X-Csrftoken", c.csrfToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("report-feed request failed", zap.Error(err))
		return []any{}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("report-feed failed", zap.Int("status", resp.StatusCode))
		return []any{}
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "msgpack") {
		c.logger.Warn("report-feed non-msgpack response", zap.String("content_type", contentType))
		return []any{}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("read report-feed body failed", zap.Error(err))
		return []any{}
	}

	var payload any
	if err := msgpack.Unmarshal(body, &payload); err != nil {
		c.logger.Warn("decode report-feed msgpack failed", zap.Error(err))
		return []any{}
	}
	return report.ExtractItems(payload)
}

// FetchListingPage fetches one page of the report listing. Unlike the feed,
// a failed listing page is an error: the pagination walk cannot continue
// past it. The returned next link is resolved to an absolute URL, or empty
// when the listing is exhausted.
func (c *Client) FetchListingPage(ctx context.Context, pageRef string) ([]any, string, error) {
	payload, err := c.fetchJSON(ctx, pageRef)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", pageRef, err)
	}

	items, next := report.ExtractPage(payload)
	if next != "" {
		resolved, err := c.resolve(next)
		if err != nil {
			next = ""
		} else {
			next = resolved
		}
	}
	return items, next, nil
}

// FetchDetail tries the detail endpoint variants in order and returns the
// first well-formed JSON object, or nil when every variant fails. Detail
// failures never fail a cycle; the caller falls back to summary-only data.
func (c *Client) FetchDetail(ctx context.Context, id string, lookbackStart, now time.Time) map[string]any {
	encodedID := url.PathEscape(id)
	variants := []string{
		fmt.Sprintf("/api/reports/%s/", encodedID),
		fmt.Sprintf("/api/reports/%s/?archived=False", encodedID),
		fmt.Sprintf("/api/reports/%s/?archived=False&incident_time__gte=%s&incident_time__lte=%s",
			encodedID,
			url.QueryEscape(lookbackStart.Format(time.RFC3339)),
			url.QueryEscape(now.Format(time.RFC3339)),
		),
	}

	for _, variant := range variants {
		payload, err := c.fetchJSON(ctx, variant)
		if err != nil {
			continue
		}
		if detail, ok := report.AsMap(payload); ok {
			return detail
		}
	}
	return nil
}

func (c *Client) fetchJSON(ctx context.Context, ref string) (any, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Accept", "application/json, text/plain, application/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "application/json") || htmlPrefix.Match(body) {
		return nil, fmt.Errorf("non-JSON response (%s): %s", contentType, snippet(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body))
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return payload, nil
}

func (c *Client) resolve(ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	resolved := c.base.ResolveReference(parsed)
	if resolved.Host != c.base.Host {
		return "", fmt.Errorf("url %q leaves origin %s", ref, c.base.Host)
	}
	return resolved.String(), nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

func snippet(body []byte) string {
	const max = 180
	s := string(body)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
