// Package graph is the client for the remote document-management API: cases
// (document libraries), drive items, previews and sharing permissions.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
)

// TokenSource acquires a bearer token for the active enterprise account without
// user interaction.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// ErrNoAccount is returned by token sources when no enterprise account is signed in.
var ErrNoAccount = errors.New("no enterprise account signed in")

// Client calls the document API. It holds no per-call state and is safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Tokens     TokenSource
	HTTPClient *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: hc,
		tokens:     cfg.Tokens,
	}
}

// call describes one HTTP operation against the API.
type call struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	size        int64
	contentType string
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return strings.NewReader(string(data)), nil
}

// do acquires a token, issues exactly one request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	if c.tokens == nil {
		return &AuthError{Err: ErrNoAccount}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		metrics.RecordAuthAttempt("enterprise_silent", false)
		return &AuthError{Err: err}
	}

	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, cl.body)
	if err != nil {
		return fmt.Errorf("%s: %w", cl.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	if cl.size > 0 {
		req.ContentLength = cl.size
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteCall(cl.op, 0, time.Since(start))
		logging.WithContext(ctx).Debug("remote call failed",
			zap.String("op", cl.op), zap.Error(err))
		return fmt.Errorf("%s: %w", cl.op, err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	metrics.RecordRemoteCall(cl.op, resp.StatusCode, elapsed)
	logging.WithContext(ctx).Debug("remote call",
		zap.String("op", cl.op),
		zap.String("method", cl.method),
		zap.String("path", cl.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newRemoteError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", cl.op, err)
	}
	return nil
}

func seg(s string) string {
	return url.PathEscape(s)
}

func itemRef(itemID string) string {
	if itemID == "" {
		return RootItemID
	}
	return itemID
}
