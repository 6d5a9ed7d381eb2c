// Package auth owns the console's token lifecycle: expiry checks, a single
// in-flight refresh, login and logout, and the events other parts of the
// console subscribe to.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/metrics"
	"github.com/bmr-systems/bmr-admin/internal/tokenstore"
)

var (
	ErrNoToken        = errors.New("no access token available")
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrLoginFailed    = errors.New("login failed")
)

const (
	loginPath   = "/api/auth/login/"
	refreshPath = "/api/auth/token/refresh/"
	logoutPath  = "/api/auth/logout/"
	userPath    = "/api/auth/user/"
)

// Session is the result of a successful login.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *User
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	store       *tokenstore.TokenStore
	logger      *logging.Logger
	metrics     *metrics.Metrics
	csrf        func(ctx context.Context) string
	now         func() time.Time
	buffer      time.Duration
	autoRefresh time.Duration

	events *emitter
	group  singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCSRF sets the source of the X-CSRFToken header sent to auth endpoints.
func WithCSRF(fn func(ctx context.Context) string) Option {
	return func(c *Client) { c.csrf = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithExpiryBuffer(d time.Duration) Option {
	return func(c *Client) { c.buffer = d }
}

// WithAutoRefresh makes Init start a background refresher checking every
// interval. Zero disables it.
func WithAutoRefresh(interval time.Duration) Option {
	return func(c *Client) { c.autoRefresh = interval }
}

func New(baseURL string, store *tokenstore.TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		logger:     logging.Default(),
		now:        time.Now,
		buffer:     DefaultExpiryBuffer,
		events:     newEmitter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers fn for events of type t and returns a function removing it.
func (c *Client) On(t EventType, fn func(Event)) func() {
	return c.events.on(t, fn)
}

// Init validates the stored session and starts the background work: the
// store watcher and, when configured, the auto refresher. Dispose stops it.
func (c *Client) Init(ctx context.Context) error {
	token, err := c.store.AccessToken(ctx)
	if err != nil {
		return err
	}
	if token != "" && c.isExpired(token) {
		c.logger.InfoContext(ctx, "stored token expired, attempting refresh")
		if _, err := c.Refresh(ctx); err != nil {
			c.logger.WarnContext(ctx, "startup refresh failed", logging.Error(err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	changes, err := c.store.Watch(runCtx)
	if err != nil {
		c.logger.WarnContext(ctx, "session watch unavailable", logging.Error(err))
	} else if changes != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.watch(runCtx, changes)
		}()
	}

	if c.autoRefresh > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.StartAutoRefresh(runCtx, c.autoRefresh, c.buffer)
		}()
	}
	return nil
}

// Dispose stops the goroutines started by Init and waits for them.
func (c *Client) Dispose() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// watch turns credentials removed by another process into a local logout.
func (c *Client) watch(ctx context.Context, changes <-chan tokenstore.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !tokenstore.IsAuthKey(change.Key) {
				continue
			}
			if change.Deleted || change.Value == "" {
				c.logger.InfoContext(ctx, "session cleared elsewhere", slog.String("key", change.Key))
				c.events.emit(Event{Type: EventLogout, Remote: true})
			}
		}
	}
}

func (c *Client) isExpired(token string) bool {
	return IsExpired(token, c.now(), c.buffer)
}

// IsAuthenticated reports whether a usable token exists. A token inside
// the expiry buffer is refreshed first.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	token, err := c.store.AccessToken(ctx)
	if err != nil || token == "" {
		return false
	}
	if c.isExpired(token) {
		if _, err := c.refresh(ctx, token); err != nil {
			c.logger.WarnContext(ctx, "token refresh failed", logging.Error(err))
			return false
		}
	}
	return true
}

// ValidToken returns the stored access token, refreshing it first when it
// is within the expiry buffer.
func (c *Client) ValidToken(ctx context.Context) (string, error) {
	token, err := c.store.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoToken
	}
	if !c.isExpired(token) {
		return token, nil
	}
	return c.refresh(ctx, token)
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one network call and its outcome. On failure the session
// is cleared and a logout event emitted.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx, "")
}

// refresh joins or starts the single in-flight refresh. A non-empty stale
// token lets a caller that lost the race reuse a token that was refreshed
// after it looked.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx), stale)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) doRefresh(ctx context.Context, stale string) (string, error) {
	if stale != "" {
		current, err := c.store.AccessToken(ctx)
		if err == nil && current != "" && current != stale && !c.isExpired(current) {
			return current, nil
		}
		if err == nil && current == "" {
			return "", ErrNoToken
		}
	}

	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		return "", err
	}

	var (
		status int
		body   []byte
		tokens tokenPayload
	)
	if refreshToken == "" {
		err = ErrNoRefreshToken
	} else {
		c.logger.InfoContext(ctx, "refreshing access token")
		status, body, err = c.post(ctx, refreshPath, "", map[string]string{"refresh": refreshToken})
		if err == nil && status/100 != 2 {
			err = apierr.FromResponse(status, body)
		}
	}

	if err == nil {
		tokens, err = decodeTokens(body)
		if err == nil && tokens.Access == "" {
			err = errors.New("response carries no access token")
		}
	}

	if err != nil {
		c.metrics.ObserveRefresh(false)
		c.logger.WarnContext(ctx, "token refresh failed, clearing session", logging.Error(err))
		c.clearLocal(ctx)
		c.events.emit(Event{Type: EventLogout})
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if err := c.store.SetTokens(ctx, tokens.Access, tokens.Refresh); err != nil {
		c.metrics.ObserveRefresh(false)
		return "", err
	}

	c.metrics.ObserveRefresh(true)
	c.events.emit(Event{Type: EventTokenRefreshed, Token: tokens.Access})
	return tokens.Access, nil
}

// Login authenticates with email and password and stores the session.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	status, body, err := c.post(ctx, loginPath, "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, apierr.FromResponse(status, body))
	}

	tokens, err := decodeTokens(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if tokens.Access == "" {
		return nil, fmt.Errorf("%w: response carries no access token", ErrLoginFailed)
	}

	if err := c.store.SetTokens(ctx, tokens.Access, tokens.Refresh); err != nil {
		return nil, err
	}

	session := &Session{AccessToken: tokens.Access, RefreshToken: tokens.Refresh}

	if len(tokens.User) > 0 && string(tokens.User) != "null" {
		var u User
		if err := json.Unmarshal(tokens.User, &u); err == nil {
			session.User = &u
			if err := c.store.SetUser(ctx, &u); err != nil {
				return nil, err
			}
		}
	} else {
		u, err := c.FetchCurrentUser(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to fetch user after login", logging.Error(err))
		} else {
			session.User = u
		}
	}

	c.logger.InfoContext(ctx, "login successful", "email", email)
	c.events.emit(Event{Type: EventLogin, Token: tokens.Access, User: session.User})
	return session, nil
}

// Logout revokes the refresh token on the server when possible and always
// clears the local session.
func (c *Client) Logout(ctx context.Context) {
	refreshToken, _ := c.store.RefreshToken(ctx)
	if refreshToken != "" {
		access, _ := c.store.AccessToken(ctx)
		status, _, err := c.post(ctx, logoutPath, access, map[string]string{"refresh": refreshToken})
		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "server logout failed", logging.Error(err))
		case status/100 != 2:
			c.logger.WarnContext(ctx, "server logout rejected", logging.Status(status))
		}
	}

	c.clearLocal(ctx)
	c.events.emit(Event{Type: EventLogout})
}

func (c *Client) clearLocal(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear session", logging.Error(err))
	}
}

// FetchCurrentUser loads the profile from the server and caches it.
func (c *Client) FetchCurrentUser(ctx context.Context) (*User, error) {
	token, err := c.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, http.MethodGet, userPath, token, nil)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, apierr.FromResponse(status, body)
	}

	var u User
	if err := json.Unmarshal(unwrapData(body), &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if err := c.store.SetUser(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CurrentUser returns the cached profile or nil.
func (c *Client) CurrentUser(ctx context.Context) *User {
	var u User
	ok, err := c.store.User(ctx, &u)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read cached user", logging.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return &u
}

func (c *Client) HasPermission(ctx context.Context, name string) bool {
	return c.CurrentUser(ctx).HasPermission(name)
}

func (c *Client) Role(ctx context.Context) string {
	return c.CurrentUser(ctx).Role()
}

func (c *Client) IsAccountActive(ctx context.Context) bool {
	u := c.CurrentUser(ctx)
	return u != nil && u.IsActive
}

// TimeRemaining returns how long the stored access token stays valid. It
// reports false when there is no decodable token.
func (c *Client) TimeRemaining(ctx context.Context) (time.Duration, bool) {
	token, err := c.store.AccessToken(ctx)
	if err != nil || token == "" {
		return 0, false
	}
	exp, ok := Expiry(token)
	if !ok {
		return 0, false
	}
	return exp.Sub(c.now()), true
}

// StartAutoRefresh checks the token every interval and refreshes it once
// the remaining lifetime is within buffer. It blocks until ctx is done.
func (c *Client) StartAutoRefresh(ctx context.Context, interval, buffer time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.autoRefreshTick(ctx, buffer)
		}
	}
}

func (c *Client) autoRefreshTick(ctx context.Context, buffer time.Duration) bool {
	remaining, ok := c.TimeRemaining(ctx)
	if !ok || remaining > buffer || remaining <= 0 {
		return false
	}
	if _, err := c.Refresh(ctx); err != nil {
		c.logger.WarnContext(ctx, "auto refresh failed", logging.Error(err))
		return false
	}
	c.logger.InfoContext(ctx, "token auto-refreshed")
	return true
}

func (c *Client) post(ctx context.Context, path, token string, payload any) (int, []byte, error) {
	return c.do(ctx, http.MethodPost, path, token, payload)
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.csrf != nil {
		if csrf := c.csrf(ctx); csrf != "" {
			req.Header.Set("X-CSRFToken", csrf)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(method, 0, time.Since(start))
		return 0, nil, apierr.Network(err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(method, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apierr.Network(err)
	}
	return resp.StatusCode, body, nil
}

type tokenPayload struct {
	Access  string          `json:"access"`
	Refresh string          `json:"refresh"`
	User    json.RawMessage `json:"user"`
	Tokens  *struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	} `json:"tokens"`
}

// decodeTokens accepts {access, refresh, user}, the same inside a data
// envelope, and {user, tokens: {access, refresh}}.
func decodeTokens(body []byte) (tokenPayload, error) {
	var p tokenPayload
	if err := json.Unmarshal(unwrapData(body), &p); err != nil {
		return p, fmt.Errorf("failed to decode token response: %w", err)
	}
	if p.Tokens != nil {
		if p.Access == "" {
			p.Access = p.Tokens.Access
		}
		if p.Refresh == "" {
			p.Refresh = p.Tokens.Refresh
		}
	}
	return p, nil
}

// unwrapData returns the value of a top-level "data" object, or body.
func unwrapData(body []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		return env.Data
	}
	return body
}
