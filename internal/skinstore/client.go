// Package skinstore talks to the external durable store over HTTP.
//
// Client performs blocking calls and reports precise errors. Gateway wraps a
// Backend with a worker pool so callers on the coordination loop never block:
// every operation returns a channel that resolves exactly once, and every
// failure (timeout, transport error, non-success status) resolves to the
// absent/false value.
package skinstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
)

// DefaultURL is the store used when none is configured.
const DefaultURL = "https://skin.beforebedtime.net"

// Timeouts bounds each kind of call.
type Timeouts struct {
	Connect time.Duration
	Fetch   time.Duration
	Upsert  time.Duration
	Delete  time.Duration
	List    time.Duration
}

// DefaultTimeouts mirror what the hosted store tolerates.
var DefaultTimeouts = Timeouts{
	Connect: 10 * time.Second,
	Fetch:   30 * time.Second,
	Upsert:  60 * time.Second,
	Delete:  30 * time.Second,
	List:    60 * time.Second,
}

// Client is a blocking HTTP client of the durable store API.
type Client struct {
	base     string
	apiKey   string
	http     *http.Client
	timeouts Timeouts
	log      *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport (tests use httptest servers).
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithTimeouts replaces DefaultTimeouts.
func WithTimeouts(t Timeouts) Option { return func(c *Client) { c.timeouts = t } }

// NewClient builds a client for base. An empty base means DefaultURL.
func NewClient(base, apiKey string, log *zap.Logger, opts ...Option) *Client {
	if base == "" {
		base = DefaultURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		base:     strings.TrimRight(base, "/"),
		apiKey:   apiKey,
		timeouts: DefaultTimeouts,
		log:      log,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSHandshakeTimeout: c.timeouts.Connect,
			MaxIdleConnsPerHost: 4,
		}}
	}
	return c
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) skinURL(owner string) string {
	return c.base + "/skins/" + url.PathEscape(owner)
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, u string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		cancel()
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %v: %w", method, u, err, errs.ErrUnavailable)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func statusErr(method string, resp *http.Response) error {
	return fmt.Errorf("%s %s: status %d: %w", method, resp.Request.URL.Path, resp.StatusCode, errs.ErrUnavailable)
}

// Fetch returns the record of owner, errs.ErrNotFound when the store has none.
func (c *Client) Fetch(ctx context.Context, owner string) (model.StoredSkin, error) {
	resp, err := c.do(ctx, c.timeouts.Fetch, http.MethodGet, c.skinURL(owner), nil)
	if err != nil {
		return model.StoredSkin{}, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return model.StoredSkin{}, fmt.Errorf("skin of %s: %w", owner, errs.ErrNotFound)
	default:
		return model.StoredSkin{}, statusErr(http.MethodGet, resp)
	}

	var in convert.SkinJSON
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return model.StoredSkin{}, fmt.Errorf("decode skin of %s: %v: %w", owner, err, errs.ErrUnavailable)
	}
	if in.UUID == "" {
		in.UUID = owner
	}
	return convert.FromSkinJSON(in), nil
}

// Upsert replaces the record of s.OwnerID.
func (c *Client) Upsert(ctx context.Context, s model.StoredSkin) error {
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().UnixMilli()
	}
	resp, err := c.do(ctx, c.timeouts.Upsert, http.MethodPut, c.skinURL(s.OwnerID), convert.ToSkinJSON(s))
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusErr(http.MethodPut, resp)
	}
	return nil
}

// Delete removes the record of owner. Deleting a missing record succeeds.
func (c *Client) Delete(ctx context.Context, owner string) error {
	resp, err := c.do(ctx, c.timeouts.Delete, http.MethodDelete, c.skinURL(owner), nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusErr(http.MethodDelete, resp)
	}
}

// List returns every stored record.
func (c *Client) List(ctx context.Context) ([]model.StoredSkin, error) {
	resp, err := c.do(ctx, c.timeouts.List, http.MethodGet, c.base+"/skins", nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(http.MethodGet, resp)
	}
	var in []convert.SkinJSON
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode skin list: %v: %w", err, errs.ErrUnavailable)
	}
	out := make([]model.StoredSkin, 0, len(in))
	for _, s := range in {
		if s.UUID == "" || len(s.ImageData) == 0 {
			c.log.Debug("skip incomplete stored skin", zap.String("owner", s.UUID))
			continue
		}
		out = append(out, convert.FromSkinJSON(s))
	}
	return out, nil
}
