package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/tokenstore"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		ID:        exp.Format(time.RFC3339Nano),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func newTestClient(t *testing.T, baseURL string, store tokenstore.Store) (*Client, *tokenstore.TokenStore) {
	t.Helper()
	ts := tokenstore.New(store)
	c := New(baseURL, ts,
		WithClock(func() time.Time { return testNow }),
		WithLogger(logging.Discard()),
	)
	return c, ts
}

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name    string
		exp     time.Duration
		expired bool
	}{
		{"well in the future", time.Hour, false},
		{"just outside buffer", 5*time.Minute + time.Second, false},
		{"exactly at buffer", 5 * time.Minute, true},
		{"inside buffer", 4 * time.Minute, true},
		{"already expired", -time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := makeToken(t, testNow.Add(tt.exp))
			assert.Equal(t, tt.expired, IsExpired(token, testNow, DefaultExpiryBuffer))
		})
	}

	assert.True(t, IsExpired("", testNow, DefaultExpiryBuffer))
	assert.True(t, IsExpired("not-a-jwt", testNow, DefaultExpiryBuffer))
}

func TestExpiry(t *testing.T) {
	exp := testNow.Add(time.Hour)
	got, ok := Expiry(makeToken(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = Expiry("abc.def.ghi")
	assert.False(t, ok)
}

// refreshServer answers the refresh endpoint with a fresh token and counts calls.
func refreshServer(t *testing.T, calls *atomic.Int32, gate <-chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/token/refresh/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		calls.Add(1)
		if gate != nil {
			<-gate
		}

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access":  makeToken(t, testNow.Add(time.Hour)),
			"refresh": "refresh-2",
		})
	}))
}

func TestValidToken_FreshTokenSkipsRefresh(t *testing.T) {
	var calls atomic.Int32
	server := refreshServer(t, &calls, nil)
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())
	fresh := makeToken(t, testNow.Add(time.Hour))
	require.NoError(t, ts.SetTokens(context.Background(), fresh, "refresh-1"))

	token, err := c.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
	assert.Equal(t, int32(0), calls.Load())
}

func TestValidToken_NoToken(t *testing.T) {
	c, _ := newTestClient(t, "http://127.0.0.1:1", tokenstore.NewMemoryStore())

	_, err := c.ValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.False(t, c.IsAuthenticated(context.Background()))
}

func TestValidToken_ExpiringTokenRefreshesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	server := refreshServer(t, &calls, nil)
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(4*time.Minute)), "refresh-1"))

	var refreshed []string
	c.On(EventTokenRefreshed, func(e Event) { refreshed = append(refreshed, e.Token) })

	token, err := c.ValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{token}, refreshed)

	again, err := c.ValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Equal(t, int32(1), calls.Load())

	refresh, _ := ts.RefreshToken(ctx)
	assert.Equal(t, "refresh-2", refresh, "rotated refresh token stored")
}

func TestIsAuthenticated_ExpiringTokenRefreshesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	server := refreshServer(t, &calls, nil)
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())
	require.NoError(t, ts.SetTokens(context.Background(), makeToken(t, testNow.Add(time.Minute)), "refresh-1"))

	assert.True(t, c.IsAuthenticated(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestValidToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	server := refreshServer(t, &calls, gate)
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(-time.Minute)), "refresh-1"))

	const n = 20
	tokens := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.ValidToken(ctx)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
}

func TestValidToken_ConcurrentCallersAllRejectOnFailure(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-gate
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
	}))
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(-time.Minute)), "refresh-1"))

	var logouts atomic.Int32
	c.On(EventLogout, func(Event) { logouts.Add(1) })

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.ValidToken(ctx)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), logouts.Load())
	failed := 0
	for _, err := range errs {
		require.Error(t, err)
		if errors.Is(err, ErrRefreshFailed) {
			failed++
		}
	}
	assert.Positive(t, failed)

	access, _ := ts.AccessToken(ctx)
	assert.Empty(t, access, "credentials cleared after failed refresh")
}

func TestRefresh_NoRefreshTokenLogsOut(t *testing.T) {
	c, ts := newTestClient(t, "http://127.0.0.1:1", tokenstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(-time.Minute)), ""))

	loggedOut := false
	c.On(EventLogout, func(Event) { loggedOut = true })

	_, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.True(t, loggedOut)
}

func TestLogin_StoresSessionAndUser(t *testing.T) {
	access := makeToken(t, testNow.Add(time.Hour))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "csrf-abc", r.Header.Get("X-CSRFToken"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "admin@bmr.org", payload["email"])
		assert.Equal(t, "secret", payload["password"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "Login successful",
			"data": map[string]any{
				"user":   map[string]any{"id": 1, "email": "admin@bmr.org", "is_superuser": true, "is_active": true},
				"tokens": map[string]string{"access": access, "refresh": "refresh-1"},
			},
		})
	}))
	defer server.Close()

	ts := tokenstore.New(tokenstore.NewMemoryStore())
	c := New(server.URL, ts,
		WithLogger(logging.Discard()),
		WithCSRF(func(context.Context) string { return "csrf-abc" }),
	)

	var loginEvent *Event
	c.On(EventLogin, func(e Event) { loginEvent = &e })

	ctx := context.Background()
	session, err := c.Login(ctx, "admin@bmr.org", "secret")
	require.NoError(t, err)
	assert.Equal(t, access, session.AccessToken)
	require.NotNil(t, session.User)
	assert.Equal(t, "admin@bmr.org", session.User.Email)

	stored, _ := ts.AccessToken(ctx)
	assert.Equal(t, access, stored)
	assert.Equal(t, RoleSuperuser, c.Role(ctx))
	assert.True(t, c.IsAccountActive(ctx))

	require.NotNil(t, loginEvent)
	assert.Equal(t, "admin@bmr.org", loginEvent.User.Email)
}

func TestLogin_FetchesUserWhenAbsent(t *testing.T) {
	access := makeToken(t, time.Now().Add(time.Hour))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/login/":
			json.NewEncoder(w).Encode(map[string]string{"access": access, "refresh": "r"})
		case "/api/auth/user/":
			assert.Equal(t, "Bearer "+access, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": 7, "email": "staff@bmr.org", "is_staff": true}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ts := tokenstore.New(tokenstore.NewMemoryStore())
	c := New(server.URL, ts, WithLogger(logging.Discard()))

	session, err := c.Login(context.Background(), "staff@bmr.org", "pw")
	require.NoError(t, err)
	require.NotNil(t, session.User)
	assert.Equal(t, 7, session.User.ID)
	assert.Equal(t, RoleStaff, c.Role(context.Background()))
}

func TestLogin_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"Login failed","error":{"non_field_errors":["Invalid credentials"]}}`))
	}))
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())

	session, err := c.Login(context.Background(), "x@y.z", "bad")
	assert.Nil(t, session)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)

	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Login failed", apiErr.Message)

	access, _ := ts.AccessToken(context.Background())
	assert.Empty(t, access)
}

func TestLogout_ClearsEvenWhenServerFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/auth/logout/", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh"])
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, "access", "refresh-1"))
	require.NoError(t, ts.SetUser(ctx, User{Email: "a@b.c"}))

	loggedOut := false
	c.On(EventLogout, func(Event) { loggedOut = true })

	c.Logout(ctx)

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, loggedOut)
	access, _ := ts.AccessToken(ctx)
	assert.Empty(t, access)
	assert.Nil(t, c.CurrentUser(ctx))
	assert.Equal(t, RoleGuest, c.Role(ctx))
}

func TestLogout_WithoutRefreshTokenSkipsServer(t *testing.T) {
	c, ts := newTestClient(t, "http://127.0.0.1:1", tokenstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, "access", ""))

	c.Logout(ctx)

	access, _ := ts.AccessToken(ctx)
	assert.Empty(t, access)
}

func TestUser_HasPermission(t *testing.T) {
	u := &User{IsSuperuser: true, IsEmailVerified: true, Permissions: []string{"events.add_event"}}

	assert.True(t, u.HasPermission("admin"))
	assert.False(t, u.HasPermission("staff"))
	assert.True(t, u.HasPermission("verified"))
	assert.True(t, u.HasPermission("events.add_event"))
	assert.False(t, u.HasPermission("events.delete_event"))

	var none *User
	assert.False(t, none.HasPermission("admin"))
	assert.Equal(t, RoleGuest, none.Role())
	assert.Equal(t, RoleUser, (&User{}).Role())
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Jane Doe", (&User{FirstName: "Jane", LastName: "Doe", Email: "j@d.o"}).DisplayName())
	assert.Equal(t, "j@d.o", (&User{Email: "j@d.o"}).DisplayName())
}

func TestTimeRemaining(t *testing.T) {
	c, ts := newTestClient(t, "http://127.0.0.1:1", tokenstore.NewMemoryStore())
	ctx := context.Background()

	_, ok := c.TimeRemaining(ctx)
	assert.False(t, ok)

	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(10*time.Minute)), "r"))
	remaining, ok := c.TimeRemaining(ctx)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, remaining)
}

func TestAutoRefreshTick(t *testing.T) {
	var calls atomic.Int32
	server := refreshServer(t, &calls, nil)
	defer server.Close()

	c, ts := newTestClient(t, server.URL, tokenstore.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(30*time.Minute)), "refresh-1"))
	assert.False(t, c.autoRefreshTick(ctx, 5*time.Minute))

	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(-time.Minute)), "refresh-1"))
	assert.False(t, c.autoRefreshTick(ctx, 5*time.Minute), "already expired tokens are left alone")

	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(3*time.Minute)), "refresh-1"))
	assert.True(t, c.autoRefreshTick(ctx, 5*time.Minute))
	assert.Equal(t, int32(1), calls.Load())
}

func TestInit_RemoteLogoutEmitsEvent(t *testing.T) {
	tab1 := tokenstore.NewMemoryStore()
	tab2 := tab1.Peer()

	c, ts := newTestClient(t, "http://127.0.0.1:1", tab1)
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(time.Hour)), "r"))

	events := make(chan Event, 4)
	c.On(EventLogout, func(e Event) { events <- e })

	require.NoError(t, c.Init(ctx))
	defer c.Dispose()

	require.NoError(t, tokenstore.New(tab2).Clear(ctx))

	select {
	case e := <-events:
		assert.True(t, e.Remote)
	case <-time.After(time.Second):
		t.Fatal("remote logout not observed")
	}
}

func TestInit_ExpiredTokenWithoutRefreshIsCleared(t *testing.T) {
	c, ts := newTestClient(t, "http://127.0.0.1:1", tokenstore.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, ts.SetTokens(ctx, makeToken(t, testNow.Add(-time.Hour)), ""))

	require.NoError(t, c.Init(ctx))
	c.Dispose()

	access, _ := ts.AccessToken(ctx)
	assert.Empty(t, access)
}

func TestOn_Unsubscribe(t *testing.T) {
	e := newEmitter()
	count := 0
	off := e.on(EventLogin, func(Event) { count++ })

	e.emit(Event{Type: EventLogin})
	off()
	e.emit(Event{Type: EventLogin})
	e.emit(Event{Type: EventLogout})

	assert.Equal(t, 1, count)
}

func TestDecodeTokens(t *testing.T) {
	p, err := decodeTokens([]byte(`{"access":"a","refresh":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, "a", p.Access)

	p, err = decodeTokens([]byte(`{"data":{"tokens":{"access":"a2","refresh":"r2"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "a2", p.Access)
	assert.Equal(t, "r2", p.Refresh)

	_, err = decodeTokens([]byte(`not json`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrLoginFailed))
}
