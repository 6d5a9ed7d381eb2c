package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmr-systems/bmr-admin/internal/auth"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/mockapi"
	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/internal/tokenstore"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

// Test command initialization and registration
func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{"auth": false, "mock": false}
	for _, name := range resources.Names() {
		expected[name] = false
	}

	for _, c := range rootCmd.Commands() {
		if _, ok := expected[c.Name()]; ok {
			expected[c.Name()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected command '%s' to be registered with root command", name)
		}
	}
}

func subcommands(c *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, sub := range c.Commands() {
		names[sub.Name()] = true
	}
	return names
}

func TestResourceCommandsFollowModuleCapabilities(t *testing.T) {
	for _, m := range resources.All() {
		subs := subcommands(resourceCmds[m.Name])
		for _, name := range []string{"list", "get", "create", "update", "delete", "count", "exists"} {
			assert.True(t, subs[name], "%s %s", m.Name, name)
		}
		assert.Equal(t, m.Activatable, subs["activate"], "%s activate", m.Name)
		assert.Equal(t, m.Publishable, subs["publish"], "%s publish", m.Name)
		assert.Equal(t, m.Bulk, subs["bulk"], "%s bulk", m.Name)
	}
}

func TestModuleSpecificCommands(t *testing.T) {
	subs := subcommands(resourceCmds["memberships"])
	for _, name := range []string{"mine", "show", "apply", "complete", "payments", "pay-online", "pay-offline", "decide", "types", "lookups"} {
		assert.True(t, subs[name], "memberships %s", name)
	}
	assert.True(t, subcommands(resourceCmds["event-media"])["upload"])
	assert.True(t, subcommands(resourceCmds["roles"])["permissions"])
	assert.True(t, subcommands(resourceCmds["roles"])["set-permissions"])
	assert.True(t, subcommands(authCmd)["login"])
	assert.True(t, subcommands(authCmd)["whoami"])
}

func TestFlagHelpers(t *testing.T) {
	assert.Equal(t, true, flagValue("true"))
	assert.Nil(t, flagValue("null"))
	assert.Equal(t, "12", flagValue("12"))

	_, _, err := splitPair("novalue")
	assert.Error(t, err)
	k, v, err := splitPair("title=a=b")
	require.NoError(t, err)
	assert.Equal(t, "title", k)
	assert.Equal(t, "a=b", v)

	_, err = parseID("0")
	assert.Error(t, err)
	assert.Equal(t, "Event Category", singular(resources.MustLookup("event-categories")))
	assert.Equal(t, "Event Media", singular(resources.MustLookup("event-media")))
}

type trackedFile struct {
	io.Reader
	name   string
	closed *[]string
}

func (f *trackedFile) Close() error {
	*f.closed = append(*f.closed, f.name)
	return nil
}

func subcommand(c *cobra.Command, name string) *cobra.Command {
	for _, sub := range c.Commands() {
		if sub.Name() == name {
			return sub
		}
	}
	return nil
}

func TestFormFlags_ClosesFiles(t *testing.T) {
	var closed []string
	old := openFile
	openFile = func(name string) (io.ReadCloser, error) {
		if strings.HasSuffix(name, "missing.png") {
			return nil, os.ErrNotExist
		}
		return &trackedFile{Reader: strings.NewReader("png"), name: name, closed: &closed}, nil
	}
	t.Cleanup(func() { openFile = old })

	create := subcommand(resourceCmds["event-categories"], "create")
	require.NotNil(t, create)
	resetFlags(create)
	t.Cleanup(func() { resetFlags(create) })

	require.NoError(t, create.Flags().Set("set", "title=Music"))
	require.NoError(t, create.Flags().Set("file", "image=a.png"))
	form, closeFiles, err := formFlags(create)
	require.NoError(t, err)
	assert.True(t, form.Multipart())
	assert.Empty(t, closed)
	closeFiles()
	assert.Equal(t, []string{"a.png"}, closed)

	// a failing open releases the files opened before it
	require.NoError(t, create.Flags().Set("file", "banner=missing.png"))
	_, _, err = formFlags(create)
	require.Error(t, err)
	assert.Equal(t, []string{"a.png", "a.png"}, closed)
}

func TestPrompterConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, newPrompter(strings.NewReader("y\n"), &out).Confirm(context.Background(), "Delete?"))
	assert.False(t, newPrompter(strings.NewReader("\n"), &out).Confirm(context.Background(), "Delete?"))
	assert.False(t, newPrompter(strings.NewReader(""), &out).Confirm(context.Background(), "Delete?"))
	assert.Contains(t, out.String(), "Delete? [y/N]: ")
}

// resetFlags puts every flag back to its default so runs do not leak
// into each other.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type result struct {
	out, err string
	runErr   error
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	oldOut, oldErr, oldNoColor := output.Out, output.Err, color.NoColor
	output.Out, output.Err, color.NoColor = &stdout, &stderr, true
	defer func() { output.Out, output.Err, color.NoColor = oldOut, oldErr, oldNoColor }()

	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetErr(io.Discard)
	err := Execute()
	return result{out: stdout.String(), err: stderr.String(), runErr: err}
}

func startMock(t *testing.T, opts ...mockapi.Option) (*mockapi.Server, string) {
	t.Helper()
	t.Setenv("BMR_CONFIG_DIR", t.TempDir())
	srv := mockapi.New(append([]mockapi.Option{mockapi.WithLogger(logging.Discard())}, opts...)...)
	_, err := srv.SeedAdmin()
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func login(t *testing.T, url string) {
	t.Helper()
	res := run(t, "", "auth", "login", "--base-url", url, "-e", mockapi.AdminEmail, "-p", mockapi.AdminPassword)
	require.NoError(t, res.runErr, res.err)
	require.Contains(t, res.out, "Logged in as BMR Admin")
}

func TestLogin_PromptsForPassword(t *testing.T) {
	_, url := startMock(t)
	old := readPassword
	readPassword = func(int) ([]byte, error) { return []byte(mockapi.AdminPassword), nil }
	t.Cleanup(func() { readPassword = old })

	res := run(t, "", "auth", "login", "--base-url", url, "-e", mockapi.AdminEmail)
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "✓ Logged in as BMR Admin")

	res = run(t, "", "auth", "whoami", "--base-url", url, "--output", "json")
	require.NoError(t, res.runErr, res.err)
	var user map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.out), &user))
	assert.Equal(t, mockapi.AdminEmail, user["email"])
	assert.Equal(t, true, user["is_superuser"])
}

func TestLogin_WrongPassword(t *testing.T) {
	_, url := startMock(t)

	res := run(t, "", "auth", "login", "--base-url", url, "-e", mockapi.AdminEmail, "-p", "nope")
	require.Error(t, res.runErr)
	assert.Contains(t, res.err, "✗")

	res = run(t, "", "event-categories", "list", "--base-url", url)
	require.Error(t, res.runErr)
	assert.Contains(t, res.err, "not logged in")
}

func TestResourceLifecycle(t *testing.T) {
	srv, url := startMock(t)
	login(t, url)

	res := run(t, "", "event-categories", "create", "--base-url", url, "--set", "title=Music")
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "Event Category created successfully!")

	items := srv.Items("event-categories")
	require.Len(t, items, 1)
	id := fmt.Sprint(items[0]["id"])

	res = run(t, "", "event-categories", "list", "--base-url", url, "--output", "json")
	require.NoError(t, res.runErr, res.err)
	var page struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.out), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Music", page.Items[0]["title"])

	res = run(t, "", "event-categories", "list", "--base-url", url)
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "TITLE")
	assert.Contains(t, res.out, "Music")
	assert.Contains(t, res.out, "Page 1 of 1 (1 total)")

	res = run(t, "", "event-categories", "deactivate", id, "--yes", "--base-url", url)
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "Music deactivated successfully")
	assert.Equal(t, false, srv.Items("event-categories")[0]["is_active"])

	res = run(t, "n\n", "event-categories", "delete", id, "--base-url", url)
	assert.Error(t, res.runErr)
	assert.Len(t, srv.Items("event-categories"), 1)

	res = run(t, "y\n", "event-categories", "delete", id, "--base-url", url)
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "Music deleted successfully")
	assert.Empty(t, srv.Items("event-categories"))
}

func TestCreate_ValidationStopsBeforeRequest(t *testing.T) {
	srv, url := startMock(t)
	login(t, url)
	before := srv.TotalRequests()

	res := run(t, "", "event-categories", "create", "--base-url", url, "--set", "title= Music")
	require.Error(t, res.runErr)
	assert.Contains(t, res.err, "Title: Enter a valid title.")
	assert.Contains(t, res.err, "Please correct the errors in the form.")
	assert.Empty(t, res.out)
	assert.Equal(t, before, srv.TotalRequests())
}

func TestList_SavedFilters(t *testing.T) {
	srv, url := startMock(t)
	login(t, url)
	for _, title := range []string{"Music", "Sports", "Museum"} {
		_, err := srv.Insert("event-categories", map[string]any{"title": title})
		require.NoError(t, err)
	}

	res := run(t, "", "event-categories", "list", "--base-url", url, "--search", "Mus", "--save-filters", "--output", "json")
	require.NoError(t, res.runErr, res.err)
	var page struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.out), &page))
	assert.Len(t, page.Items, 2)

	// the saved search applies without flags
	res = run(t, "", "event-categories", "list", "--base-url", url, "--output", "json")
	require.NoError(t, res.runErr, res.err)
	require.NoError(t, json.Unmarshal([]byte(res.out), &page))
	assert.Len(t, page.Items, 2)

	res = run(t, "", "event-categories", "list", "--base-url", url, "--reset-filters", "--output", "json")
	require.NoError(t, res.runErr, res.err)
	require.NoError(t, json.Unmarshal([]byte(res.out), &page))
	assert.Len(t, page.Items, 3)
}

func TestLogoutEndsSession(t *testing.T) {
	_, url := startMock(t)
	login(t, url)

	res := run(t, "", "auth", "status", "--base-url", url, "--output", "json")
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, `"authenticated": true`)

	res = run(t, "", "auth", "logout", "--base-url", url)
	require.NoError(t, res.runErr, res.err)

	res = run(t, "", "auth", "whoami", "--base-url", url)
	require.Error(t, res.runErr)
	assert.Contains(t, res.err, "not logged in")
}

func TestRolesPermissions(t *testing.T) {
	srv, url := startMock(t)
	login(t, url)
	perm, err := srv.Insert("permissions", map[string]any{"name": "Can publish post", "codename": "publish_post"})
	require.NoError(t, err)

	res := run(t, "", "roles", "add", "Editors", "--base-url", url)
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "Role Editors created")

	var roleID string
	for _, r := range srv.Items("roles") {
		if r["name"] == "Editors" {
			roleID = fmt.Sprint(r["id"])
		}
	}
	require.NotEmpty(t, roleID)

	res = run(t, "", "roles", "set-permissions", roleID, fmt.Sprint(perm["id"]), "--base-url", url)
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "Role Editors now has 1 permissions")

	res = run(t, "", "roles", "permissions", roleID, "--base-url", url)
	require.NoError(t, res.runErr, res.err)
	assert.Contains(t, res.out, "publish_post")
	assert.NotContains(t, res.out, "add_post")
}

func TestUnsafeRequestsCarryCSRFToken(t *testing.T) {
	srv, url := startMock(t, mockapi.RequireCSRF())
	login(t, url)

	res := run(t, "", "event-categories", "create", "--base-url", url, "--set", "title=Music")
	require.NoError(t, res.runErr, res.err)
	items := srv.Items("event-categories")
	require.Len(t, items, 1)

	res = run(t, "", "event-categories", "delete", fmt.Sprint(items[0]["id"]), "--yes", "--base-url", url)
	require.NoError(t, res.runErr, res.err)
	assert.Empty(t, srv.Items("event-categories"))

	res = run(t, "", "auth", "logout", "--base-url", url)
	require.NoError(t, res.runErr, res.err)
}

func TestRequireLogin_FailedRefreshLogsOutOnce(t *testing.T) {
	var refreshes atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token/refresh/" {
			refreshes.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
	}))
	t.Cleanup(ts.Close)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	ctx := context.Background()
	store := tokenstore.New(tokenstore.NewMemoryStore())
	require.NoError(t, store.SetTokens(ctx, expired, "refresh-token"))

	s := &session{profile: "default", auth: auth.New(ts.URL, store, auth.WithLogger(logging.Discard()))}
	var logouts int
	s.auth.On(auth.EventLogout, func(auth.Event) { logouts++ })

	err = s.requireLogin(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, 1, logouts)
}
