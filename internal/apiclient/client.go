// Package apiclient sends authenticated requests to the BMR REST API. It
// attaches the bearer and CSRF headers, retries once after refreshing the
// token on 401, and turns failures into *apierr.Error values.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/metrics"
)

// ErrAuthenticationFailed is wrapped by the error returned when a request
// stays unauthorized after a token refresh.
var ErrAuthenticationFailed = errors.New("authentication failed")

// AuthFailedMessage is shown when the session could not be recovered.
const AuthFailedMessage = "Authentication failed. Please login again."

// successBody is returned for empty or non-JSON success responses.
var successBody = json.RawMessage(`{"success":true}`)

// TokenSource supplies bearer tokens. *auth.Client implements it.
type TokenSource interface {
	ValidToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context)
}

// Request describes one API call. Body is JSON encoded unless it is a
// *Form, which is sent as multipart.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers http.Header
}

type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokens        TokenSource
	csrf          CSRFSource
	logger        *logging.Logger
	metrics       *metrics.Metrics
	timeout       time.Duration
	onAuthFailure func(ctx context.Context, err error)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithCSRF(src CSRFSource) Option {
	return func(c *Client) { c.csrf = src }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout bounds every attempt of a request. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// OnAuthFailure registers the handler run after an unrecoverable 401,
// typically sending the user back to the login prompt.
func OnAuthFailure(fn func(ctx context.Context, err error)) Option {
	return func(c *Client) { c.onAuthFailure = fn }
}

// New creates a client for baseURL. tokens may be nil for anonymous use.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		tokens:     tokens,
		logger:     logging.Default(),
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying client, sharing its cookie jar.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// encoded is a request body ready to be sent any number of times.
type encoded struct {
	data        []byte
	contentType string
}

func encodeBody(body any) (*encoded, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case *Form:
		data, ct, err := b.Encode()
		if err != nil {
			return nil, fmt.Errorf("failed to encode form: %w", err)
		}
		return &encoded{data: data, contentType: ct}, nil
	case json.RawMessage:
		return &encoded{data: b, contentType: "application/json"}, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		return &encoded{data: data, contentType: "application/json"}, nil
	}
}

// Do sends req and returns the JSON response body. Empty and non-JSON
// success bodies become {"success":true}.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	requestID := logging.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = logging.WithRequestID(ctx, requestID)
	}

	token := ""
	if c.tokens != nil {
		t, err := c.tokens.ValidToken(ctx)
		if err != nil {
			c.logger.DebugContext(ctx, "sending request without token", logging.Error(err))
		} else {
			token = t
		}
	}

	status, respBody, err := c.send(ctx, req, body, token, 1)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && token != "" {
		c.metrics.ObserveRetry()
		c.logger.InfoContext(ctx, "unauthorized, refreshing token", logging.Path(req.Path))

		newToken, err := c.tokens.Refresh(ctx)
		if err != nil {
			return nil, c.authFailed(ctx, status, respBody, err, false)
		}

		status, respBody, err = c.send(ctx, req, body, newToken, 2)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, c.authFailed(ctx, status, respBody, nil, true)
		}
	}

	return normalize(status, respBody)
}

// authFailed ends the session. The token source has already cleared the
// credentials when the refresh itself failed.
func (c *Client) authFailed(ctx context.Context, status int, body []byte, cause error, logout bool) error {
	c.logger.WarnContext(ctx, "authentication failed", logging.Error(cause))
	if logout {
		c.tokens.Logout(ctx)
	}

	e := apierr.FromResponse(status, body)
	e.Kind = apierr.KindAuth
	e.Message = AuthFailedMessage
	if cause != nil {
		e.Err = fmt.Errorf("%w: %w", ErrAuthenticationFailed, cause)
	} else {
		e.Err = ErrAuthenticationFailed
	}

	if c.onAuthFailure != nil {
		c.onAuthFailure(ctx, e)
	}
	return e
}

func (c *Client) send(ctx context.Context, req Request, body *encoded, token string, attempt int) (int, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body.data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return 0, nil, err
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", logging.GetRequestID(ctx))
	if body != nil {
		httpReq.Header.Set("Content-Type", body.contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if c.csrf != nil {
		if csrf := c.csrf.Token(ctx); csrf != "" {
			httpReq.Header.Set("X-CSRFToken", csrf)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveRequest(req.Method, 0, elapsed)
		c.logger.WarnContext(ctx, "request failed",
			logging.Method(req.Method), logging.Path(req.Path), logging.Attempt(attempt), logging.Error(err))
		return 0, nil, apierr.Network(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apierr.Network(err)
	}

	c.metrics.ObserveRequest(req.Method, resp.StatusCode, elapsed)
	c.logger.DebugContext(ctx, "request completed",
		logging.Method(req.Method),
		logging.Path(req.Path),
		logging.Status(resp.StatusCode),
		logging.Duration(elapsed.Milliseconds()),
		logging.Attempt(attempt),
	)
	return resp.StatusCode, respBody, nil
}

func normalize(status int, body []byte) (json.RawMessage, error) {
	if status < 200 || status >= 300 {
		return nil, apierr.FromResponse(status, body)
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return successBody, nil
	}
	if !json.Valid(body) {
		return successBody, nil
	}
	return json.RawMessage(body), nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// UploadFile posts r as a multipart file under field, with extra form values.
func (c *Client) UploadFile(ctx context.Context, path, field, filename string, r io.Reader, extra map[string]string) (json.RawMessage, error) {
	form := NewForm()
	if err := form.AddFile(field, filename, r); err != nil {
		return nil, err
	}
	for k, v := range extra {
		form.Set(k, v)
	}
	return c.Post(ctx, path, form)
}
