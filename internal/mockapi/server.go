// Package mockapi is an in-memory backend that speaks the BMR REST API:
// JWT authentication with refresh rotation, paginated collections for
// every registered resource, and the membership workflow. Tests run the
// client stack against it and bmrctl serves it for local use.
package mockapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/resources"
)

// CSRFCookieName matches the cookie Django issues.
const CSRFCookieName = "csrftoken"

const maxPerPage = 100

type ctxKey int

const (
	accountKey ctxKey = iota
)

// Server is the mock backend. It is safe for concurrent use.
type Server struct {
	store       *store
	tokens      *tokenIssuer
	logger      *logging.Logger
	anonymous   bool
	requireCSRF bool
	csrfToken   string
	handler     http.Handler

	mu       sync.Mutex
	counts   map[string]int
	failures []*failure
}

type failure struct {
	method    string
	prefix    string
	status    int
	remaining int
}

type Option func(*Server)

// WithClock sets the time source used for token expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.tokens.now = now
		s.store.now = now
	}
}

// WithTokenTTL sets access and refresh token lifetimes.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *Server) {
		s.tokens.accessTTL = access
		s.tokens.refreshTTL = refresh
	}
}

func WithSecret(secret string) Option {
	return func(s *Server) { s.tokens.secret = []byte(secret) }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// AllowAnonymous serves resource endpoints without a bearer token.
func AllowAnonymous() Option {
	return func(s *Server) { s.anonymous = true }
}

// RequireCSRF rejects unsafe requests whose X-CSRFToken header does not
// carry the issued token.
func RequireCSRF() Option {
	return func(s *Server) { s.requireCSRF = true }
}

func New(opts ...Option) *Server {
	s := &Server{
		store: newStore(time.Now),
		tokens: &tokenIssuer{
			secret:     []byte("bmr-mock-secret"),
			accessTTL:  15 * time.Minute,
			refreshTTL: 7 * 24 * time.Hour,
			now:        time.Now,
		},
		logger:    logging.Default(),
		csrfToken: newCSRFToken(),
		counts:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	seedLookups(s.store)
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// AddUser registers an account that can log in with password.
func (s *Server) AddUser(a Account, password string) (*Account, error) {
	a.IsActive = true
	acc, err := s.store.addAccount(a, password)
	if err != nil {
		return nil, err
	}
	_, _ = s.store.insert("users", item{
		"email":             acc.Email,
		"username":          acc.Username,
		"first_name":        acc.FirstName,
		"last_name":         acc.LastName,
		"is_staff":          acc.IsStaff,
		"is_superuser":      acc.IsSuperuser,
		"is_email_verified": acc.IsEmailVerified,
		"group_name":        acc.GroupName,
	})
	return acc, nil
}

// Insert stores fields in the named collection, for test setup.
func (s *Server) Insert(module string, fields map[string]any) (map[string]any, error) {
	return s.store.insert(module, fields)
}

// Items returns every stored item of the named collection.
func (s *Server) Items(module string) []map[string]any {
	return s.store.query(module, nil, "", "")
}

// IssueTokens mints a token pair for account id without a login call.
func (s *Server) IssueTokens(id int) (access, refresh string, err error) {
	access, refresh, _, err = s.tokens.pair(id)
	return access, refresh, err
}

// CSRFToken returns the token the server issues and expects.
func (s *Server) CSRFToken() string {
	return s.csrfToken
}

// Requests returns how many requests matched method and path exactly.
// An empty method counts every method.
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if method != "" {
		return s.counts[method+" "+path]
	}
	total := 0
	for key, n := range s.counts {
		if _, p, _ := strings.Cut(key, " "); p == path {
			total += n
		}
	}
	return total
}

// TotalRequests counts every request served.
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Fail makes the next times requests whose path starts with prefix answer
// status. An empty method matches any method.
func (s *Server) Fail(method, prefix string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, prefix: prefix, status: status, remaining: times})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login/", s.login)
	mux.HandleFunc("POST /api/auth/token/refresh/", s.refresh)
	mux.HandleFunc("POST /api/auth/logout/", s.authenticated(s.logout))
	mux.HandleFunc("GET /api/auth/user/", s.authenticated(s.currentUser))
	mux.HandleFunc("GET /login/", s.loginPage)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	for _, m := range resources.All() {
		h := s.collectionHandler(m)
		if m.Name == "memberships" {
			h = s.membershipHandler(h)
		}
		mux.Handle(m.Path, s.resource(h))
	}

	return requestID(s.count(s.inject(s.csrf(mux))))
}

// resource guards a resource handler with authentication unless the
// server allows anonymous access.
func (s *Server) resource(next http.Handler) http.Handler {
	if s.anonymous {
		return next
	}
	return s.authenticated(next.ServeHTTP)
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			detail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		claims, err := s.tokens.validate(token, typeAccess)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		acc, ok := s.store.account(claims.UserID)
		if !ok || !acc.IsActive {
			detail(w, http.StatusUnauthorized, "User not found")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), accountKey, acc)))
	}
}

func accountFrom(ctx context.Context) *Account {
	acc, _ := ctx.Value(accountKey).(*Account)
	return acc
}

// requestID propagates or generates X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		s.logger.DebugContext(r.Context(), "mock request", logging.Method(r.Method), logging.Path(r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// inject answers with a configured failure status when one matches.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var hit *failure
		for _, f := range s.failures {
			if f.remaining > 0 && (f.method == "" || f.method == r.Method) && strings.HasPrefix(r.URL.Path, f.prefix) {
				f.remaining--
				hit = f
				break
			}
		}
		s.mu.Unlock()

		if hit != nil {
			detail(w, hit.status, http.StatusText(hit.status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrf issues the csrftoken cookie and, when required, checks unsafe
// requests against it.
func (s *Server) csrf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(CSRFCookieName); err != nil {
			http.SetCookie(w, &http.Cookie{Name: CSRFCookieName, Value: s.csrfToken, Path: "/"})
		}
		if s.requireCSRF && !safeMethod(r.Method) && r.Header.Get("X-CSRFToken") != s.csrfToken {
			detail(w, http.StatusForbidden, "CSRF Failed: CSRF token missing or incorrect.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html><head><meta name="csrf-token" content="` + s.csrfToken + `"><title>BMR Admin</title></head>
<body><form method="post"><input type="hidden" name="csrfmiddlewaretoken" value="` + s.csrfToken + `"></form></body></html>`))
}

func newCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
