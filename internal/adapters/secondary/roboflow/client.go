// Package roboflow talks to the hosted dataset and model service over its
// REST API.
package roboflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"model-uploader/internal/config"
	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

const maxErrorBody = 64 << 10

type Client struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	packager ports.ModuleLoader
	progress ProgressFunc
}

type Option func(*Client)

// ProgressFunc wraps the body of an upload of size bytes. done is called
// once the transfer has ended, successfully or not.
type ProgressFunc func(name string, body io.Reader, size int64) (wrapped io.Reader, done func())

// WithPackager checks .pt checkpoints with loader before upload, the way the
// service's own runtime will unpickle them.
func WithPackager(loader ports.ModuleLoader) Option {
	return func(c *Client) { c.packager = loader }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) { c.progress = fn }
}

// NewClient creates a new API client
func NewClient(cfg *config.RoboflowConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	return c.baseURL + "/" + strings.Join(escaped, "/") + "?" + query.Encode()
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &RemoteError{StatusCode: http.StatusUnauthorized, Message: "missing API key", kind: domain.ErrRemoteAuth}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		rerr := c.statusError(resp.StatusCode, body)
		log.WithFields(log.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"status": resp.StatusCode,
		}).Warn("roboflow request failed")
		return nil, rerr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseBody(body)
}

func (c *Client) track(name string, body io.Reader, size int64) (io.Reader, func()) {
	if c.progress == nil {
		return body, func() {}
	}
	return c.progress(name, body, size)
}

func parseBody(body []byte) (gjson.Result, error) {
	if len(body) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &RemoteError{
			StatusCode: http.StatusOK,
			Message:    "response is not valid JSON",
			Body:       truncate(string(body), 512),
			kind:       domain.ErrRemoteRejected,
		}
	}
	return gjson.ParseBytes(body), nil
}

func toMap(r gjson.Result) map[string]any {
	if m, ok := r.Value().(map[string]interface{}); ok {
		return m
	}
	return map[string]any{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	_ ports.HierarchyClient = (*Client)(nil)
	_ ports.ModelDeployer   = (*Client)(nil)
	_ ports.DatasetUploader = (*Client)(nil)
)
