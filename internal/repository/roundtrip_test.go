package repository_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/auth"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/mockapi"
	"github.com/bmr-systems/bmr-admin/internal/repository"
	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/internal/tokenstore"
)

func loggedInClient(t *testing.T) (*apiclient.Client, *mockapi.Server) {
	t.Helper()
	srv := mockapi.New(mockapi.WithLogger(logging.Discard()))
	_, err := srv.SeedAdmin()
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	store := tokenstore.New(tokenstore.NewMemoryStore())
	ac := auth.New(ts.URL, store, auth.WithLogger(logging.Discard()))
	_, err = ac.Login(context.Background(), mockapi.AdminEmail, mockapi.AdminPassword)
	require.NoError(t, err)

	return apiclient.New(ts.URL, ac, apiclient.WithLogger(logging.Discard())), srv
}

func TestCreateThenList(t *testing.T) {
	ctx := context.Background()
	client, _ := loggedInClient(t)

	for _, name := range []string{"event-categories", "donation-categories"} {
		t.Run(name, func(t *testing.T) {
			m := resources.MustLookup(name)
			repo := repository.New[resources.Record](client, m.Path, repository.WithLogger(logging.Discard()))

			created, err := repo.Create(ctx, map[string]any{"title": "Round Trip"})
			require.NoError(t, err)
			id := created.ID()
			require.NotZero(t, id)

			res, err := repo.List(ctx, repository.Query{})
			require.NoError(t, err)
			var ids []int
			for _, rec := range res.Items {
				ids = append(ids, rec.ID())
			}
			assert.Contains(t, ids, id)
			require.NotNil(t, res.Pagination)
			assert.Equal(t, 1, res.Pagination.TotalCount)
		})
	}
}

func TestTypedRepositoryAgainstMock(t *testing.T) {
	ctx := context.Background()
	client, srv := loggedInClient(t)
	repo := repository.New[resources.Event](client, resources.MustLookup("events").Path, repository.WithLogger(logging.Discard()))

	ev, err := repo.Create(ctx, map[string]any{"title": "Charity Run", "location": "East Coast Park"})
	require.NoError(t, err)
	assert.Equal(t, "Charity Run", ev.Title)

	ev, err = repo.TogglePublish(ctx, ev.ID, true)
	require.NoError(t, err)
	assert.True(t, ev.IsPublished)

	exists, err := repo.Exists(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, repo.TotalCount(ctx, map[string]any{"is_published": true}))

	_, err = repo.Create(ctx, map[string]any{"title": "charity run"})
	assert.True(t, apierr.IsConflict(err))

	require.NoError(t, repo.Delete(ctx, ev.ID))
	exists, err = repo.Exists(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, srv.Items("events"))
}
