// Package fhirclient talks to the remote FHIR server that owns the clinical
// collections. It exposes search, next-link following, offset page access,
// read, create and update. Calls are never retried: any transport failure is
// reported as apperror.KindRemoteUnavailable and aborts the caller's operation.
package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/platform/metrics"
)

const (
	mimeFHIRJSON = "application/fhir+json"

	// maxBodyBytes bounds a single response body.
	maxBodyBytes = 32 << 20
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the FHIR service base, e.g. "https://fhir.example.org/fhir".
	BaseURL string

	// Timeout bounds each remote call. Zero means 30s.
	Timeout time.Duration

	// UserAgent is sent on every request when set.
	UserAgent string

	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is the remote collection API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
}

// New creates a Client. The base URL must be absolute.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse fhir base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("fhir base url must be absolute, got %q", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:       base,
		httpClient: hc,
		userAgent:  cfg.UserAgent,
		logger:     logger.With().Str("component", "fhir-client").Logger(),
	}, nil
}

// BaseURL returns the configured service base.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Search runs a type-level search: GET [base]/[type]?params.
func (c *Client) Search(ctx context.Context, resourceType string, params url.Values) (*fhir.Bundle, error) {
	u := c.typeURL(resourceType)
	u.RawQuery = params.Encode()
	return c.getBundle(ctx, "search", u.String())
}

// Follow fetches the page referenced by a server-issued link. The link is
// used verbatim; only its origin is checked against the base URL so that a
// hostile bundle cannot redirect the gateway elsewhere.
func (c *Client) Follow(ctx context.Context, link string) (*fhir.Bundle, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, apperror.BadRequest("invalid page link %q", link)
	}
	if !u.IsAbs() {
		u = c.base.ResolveReference(u)
	}
	if u.Scheme != c.base.Scheme || u.Host != c.base.Host {
		return nil, apperror.BadRequest("page link %q is not on the FHIR server %s", link, c.base.Host)
	}
	return c.getBundle(ctx, "follow", u.String())
}

// GetPages jumps directly to an offset inside a server-retained search result:
// GET [base]?_getpages=[bundleID]&_getpagesoffset=[offset]&_count=[count].
func (c *Client) GetPages(ctx context.Context, bundleID string, offset, count int) (*fhir.Bundle, error) {
	if bundleID == "" {
		return nil, apperror.BadRequest("offset paging requires the search bundle id")
	}
	u := *c.base
	q := url.Values{}
	q.Set("_getpages", bundleID)
	q.Set("_getpagesoffset", strconv.Itoa(offset))
	q.Set("_count", strconv.Itoa(count))
	q.Set("_bundletype", "searchset")
	u.RawQuery = q.Encode()
	return c.getBundle(ctx, "getpages", u.String())
}

// Read fetches one resource: GET [base]/[type]/[id].
func (c *Client) Read(ctx context.Context, resourceType, id string) (json.RawMessage, error) {
	u := c.typeURL(resourceType, id)
	_, body, err := c.do(ctx, "read", http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Create posts a new resource and returns the id assigned by the server.
func (c *Client) Create(ctx context.Context, resourceType string, resource json.RawMessage) (string, error) {
	u := c.typeURL(resourceType)
	resp, body, err := c.do(ctx, "create", http.MethodPost, u.String(), resource)
	if err != nil {
		return "", err
	}

	if len(bytes.TrimSpace(body)) > 0 {
		var r fhir.Resource
		if err := json.Unmarshal(body, &r); err == nil && r.ID != "" {
			return r.ID, nil
		}
	}
	if id := idFromLocation(resp.Header.Get("Location"), resourceType); id != "" {
		return id, nil
	}
	return "", apperror.RemoteUnavailable(nil, "create %s: server returned no id", resourceType)
}

// Update replaces a resource: PUT [base]/[type]/[id].
func (c *Client) Update(ctx context.Context, resourceType, id string, resource json.RawMessage) error {
	u := c.typeURL(resourceType, id)
	_, _, err := c.do(ctx, "update", http.MethodPut, u.String(), resource)
	return err
}

func (c *Client) typeURL(segments ...string) url.URL {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = ""
	return u
}

func (c *Client) getBundle(ctx context.Context, op, target string) (*fhir.Bundle, error) {
	_, body, err := c.do(ctx, op, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	var b fhir.Bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, apperror.RemoteUnavailable(err, "%s: decode bundle", op)
	}
	if b.ResourceType != "Bundle" {
		return nil, apperror.RemoteUnavailable(nil, "%s: expected Bundle, got %q", op, b.ResourceType)
	}
	return &b, nil
}

// do performs one request and classifies the outcome. The returned body is
// only meaningful on success.
func (c *Client) do(ctx context.Context, op, method, target string, payload []byte) (*http.Response, []byte, error) {
	start := time.Now()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", mimeFHIRJSON)
	if payload != nil {
		req.Header.Set("Content-Type", mimeFHIRJSON)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	metrics.RemoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.RemoteRequestsTotal.WithLabelValues(op, metrics.StatusLabel(resp)).Inc()
	if err != nil {
		c.logger.Warn().Err(err).Str("operation", op).Str("url", target).Msg("remote request failed")
		return nil, nil, apperror.RemoteUnavailable(err, "%s %s", method, redact(target))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, apperror.RemoteUnavailable(err, "%s: read response", op)
	}

	c.logger.Debug().
		Str("operation", op).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("remote request")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, body, nil
	}

	cerr := classifyStatus(op, resp.StatusCode, diagnostics(body))
	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Warn().Str("operation", op).Int("status", resp.StatusCode).Msg("remote server error")
	}
	return resp, nil, cerr
}

// classifyStatus maps a non-2xx remote status onto the error taxonomy.
func classifyStatus(op string, status int, detail string) error {
	if detail == "" {
		detail = http.StatusText(status)
	}
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperror.BadRequest("%s rejected by FHIR server: %s", op, detail)
	case http.StatusNotFound, http.StatusGone:
		return apperror.NotFound("%s: %s", op, detail)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return apperror.DuplicateConflict("%s: %s", op, detail)
	default:
		return apperror.RemoteUnavailable(nil, "%s: FHIR server returned %d: %s", op, status, detail)
	}
}

// diagnostics extracts OperationOutcome diagnostics from an error body.
func diagnostics(body []byte) string {
	var oo fhir.OperationOutcome
	if err := json.Unmarshal(body, &oo); err != nil || oo.ResourceType != "OperationOutcome" {
		return ""
	}
	return oo.Diagnostics()
}

// idFromLocation extracts the logical id from a Location header such as
// "[base]/Patient/123/_history/1".
func idFromLocation(location, resourceType string) string {
	if location == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(location, "/"), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == resourceType {
			return parts[i+1]
		}
	}
	return ""
}

// redact drops the query string, which can carry search terms with PHI.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}
