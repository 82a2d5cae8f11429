// Package remote talks to a site's web-service endpoint. Client implements
// the Remote interfaces of the forum, lesson and assign packages.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Endpoint is the REST entry point relative to the site URL.
const Endpoint = "/webservice/rest/server.php"

// IdempotencyHeader carries the payload fingerprint of a submission.
const IdempotencyHeader = "Idempotency-Key"

const defaultTimeout = 30 * time.Second

// Client calls web-service functions on registered sites.
type Client struct {
	sites      offline.Sites
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client that looks up site URLs and tokens in sites.
func New(sites offline.Sites, opts ...Option) *Client {
	c := &Client{
		sites:      sites,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// exception is the body the server returns when a function fails.
type exception struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// Call invokes wsfunction on a site with form params and decodes the JSON
// result into out (which may be nil). A non-empty idempotencyKey is sent in
// IdempotencyHeader.
//
// Server-side exceptions come back as RemoteRejected with the error code as
// reason. Transport failures, timeouts, throttling (408, 429) and 5xx
// responses come back as RemoteUnavailable.
func (c *Client) Call(ctx context.Context, siteID, wsfunction string, params url.Values, idempotencyKey string, out any) error {
	h, err := c.sites.Get(ctx, siteID)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("moodlewsrestformat", "json")
	query.Set("wsfunction", wsfunction)
	endpoint := strings.TrimRight(h.Site.URL, "/") + Endpoint + "?" + query.Encode()

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("wstoken", h.Site.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", wsfunction, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "web service call failed", "site", h.Site.ID, "function", wsfunction, "error", err)
		return syncerr.RemoteUnavailable(wsfunction, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncerr.RemoteUnavailable(wsfunction+": read response", err)
	}
	c.logger.DebugContext(ctx, "web service call",
		"site", h.Site.ID,
		"function", wsfunction,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return syncerr.RemoteUnavailable(wsfunction, fmt.Errorf("server responded with %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return syncerr.RemoteRejected(fmt.Sprintf("http_%d", resp.StatusCode), fmt.Sprintf("%s: server responded with %s", wsfunction, resp.Status))
	}

	var exc exception
	if err := json.Unmarshal(body, &exc); err == nil && exc.Exception != "" {
		reason := exc.ErrorCode
		if reason == "" {
			reason = exc.Exception
		}
		return syncerr.RemoteRejected(reason, fmt.Sprintf("%s: %s", wsfunction, exc.Message))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return syncerr.RemoteRejected("invalidresponse", fmt.Sprintf("%s: decode response: %v", wsfunction, err))
	}
	return nil
}

// setNameValues adds obj as a list of name/value pairs, the shape used for
// form options: prefix[0][name]=k, prefix[0][value]=v.
func setNameValues(form url.Values, prefix string, obj payload.Object) error {
	for i, k := range obj.SortedKeys() {
		v, err := scalar(obj[k])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", prefix, k, err)
		}
		form.Set(fmt.Sprintf("%s[%d][name]", prefix, i), k)
		form.Set(fmt.Sprintf("%s[%d][value]", prefix, i), v)
	}
	return nil
}

// setNested adds v under prefix using bracketed keys, e.g.
// plugindata[editor][text]=...
func setNested(form url.Values, prefix string, v payload.Value) error {
	switch val := v.(type) {
	case payload.Object:
		for _, k := range val.SortedKeys() {
			if err := setNested(form, prefix+"["+k+"]", val[k]); err != nil {
				return err
			}
		}
	case payload.Array:
		for i, item := range val {
			if err := setNested(form, fmt.Sprintf("%s[%d]", prefix, i), item); err != nil {
				return err
			}
		}
	default:
		s, err := scalar(v)
		if err != nil {
			return err
		}
		form.Set(prefix, s)
	}
	return nil
}

// scalar renders a value as a form field. Arrays and objects are sent as
// their canonical JSON text.
func scalar(v payload.Value) (string, error) {
	switch val := v.(type) {
	case nil, payload.Null:
		return "", nil
	case payload.String:
		return string(val), nil
	case payload.Int:
		return strconv.FormatInt(int64(val), 10), nil
	case payload.Bool:
		if val {
			return "1", nil
		}
		return "0", nil
	case payload.Array, payload.Object:
		return payload.Encode(val)
	default:
		return "", errors.New("unsupported payload value")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
