package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
)

type category struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

func newRepo(t *testing.T, handler http.HandlerFunc) *Repository[category] {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := apiclient.New(server.URL, nil, apiclient.WithLogger(logging.Discard()))
	return New[category](client, "/api/events/categories/", WithLogger(logging.Discard()))
}

func TestList_SendsQueryAndNormalizes(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/events/categories/", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		assert.NotContains(t, r.URL.Query(), "search")

		w.Write([]byte(`{"count":25,"next":"http://h/api/events/categories/?page=3","previous":"http://h/api/events/categories/?page=1","results":[{"id":11,"name":"Music"},{"id":12,"name":"Sport"}]}`))
	})

	res, err := repo.List(context.Background(), Query{
		Page:    2,
		PerPage: 10,
		Filters: map[string]any{"search": "", "status": "active"},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Music", res.Items[0].Name)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, 2, res.Pagination.CurrentPage)
}

func TestList_EmptyIsNotAnError(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":0,"next":null,"previous":null,"results":[]}`))
	})

	res, err := repo.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Nil(t, res.Pagination)
}

func TestGet_NotFound(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events/categories/99/", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Not found."}`))
	})

	_, err := repo.Get(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))

	ok, err := repo.Exists(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists_PropagatesOtherErrors(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	ok, err := repo.Exists(context.Background(), 1)
	assert.False(t, ok)
	assert.Equal(t, apierr.KindPermission, apierr.KindOf(err))
}

func TestCreate_ValidationAndConflict(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["name"] {
		case "":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"name":["This field may not be blank."]}`))
		case "Music":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message":"Category already exists"}`))
		default:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"success":true,"data":{"id":5,"name":"Art","is_active":true}}`))
		}
	})
	ctx := context.Background()

	_, err := repo.Create(ctx, map[string]any{"name": ""})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindValidation, apiErr.Kind)
	assert.Equal(t, []string{"This field may not be blank."}, apiErr.FieldErrors["name"])

	_, err = repo.Create(ctx, map[string]any{"name": "Music"})
	assert.True(t, apierr.IsConflict(err))

	created, err := repo.Create(ctx, map[string]any{"name": "Art"})
	require.NoError(t, err)
	assert.Equal(t, category{ID: 5, Name: "Art", IsActive: true}, *created)
}

func TestUpdateAndToggles(t *testing.T) {
	var seen []string
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, r.Method+" "+r.URL.Path+" "+string(body))
		w.Write([]byte(`{"id":7,"name":"x","is_active":false}`))
	})
	ctx := context.Background()

	_, err := repo.Update(ctx, 7, map[string]string{"name": "x"})
	require.NoError(t, err)
	_, err = repo.Replace(ctx, 7, map[string]string{"name": "x"})
	require.NoError(t, err)
	_, err = repo.ToggleStatus(ctx, 7, false)
	require.NoError(t, err)
	_, err = repo.TogglePublish(ctx, 7, true)
	require.NoError(t, err)

	assert.Equal(t, []string{
		`PATCH /api/events/categories/7/ {"name":"x"}`,
		`PUT /api/events/categories/7/ {"name":"x"}`,
		`PATCH /api/events/categories/7/ {"is_active":false}`,
		`PATCH /api/events/categories/7/ {"is_published":true}`,
	}, seen)

	_, err = repo.ToggleStatus(ctx, 0, true)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestDelete(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/events/categories/3/", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, repo.Delete(context.Background(), 3))
}

func TestBulkOperation(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/events/categories/bulk_deactivate/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{1.0, 2.0, 3.0}, body["ids"])
		assert.Equal(t, "cleanup", body["reason"])

		w.Write([]byte(`{"success":true,"data":{"updated":3}}`))
	})

	res, err := repo.BulkOperation(context.Background(), "deactivate", []int{1, 2, 3}, map[string]any{"reason": "cleanup"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"updated":3}`, string(res))
}

func TestUpload(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events/categories/4/upload/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "banner", r.FormValue("kind"))
		_, header, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Equal(t, "b.png", header.Filename)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":4}`))
	})

	_, err := repo.Upload(context.Background(), 4, "image", "b.png", strings.NewReader("x"), map[string]string{"kind": "banner"})
	require.NoError(t, err)
}

func TestSearchAndByFilter(t *testing.T) {
	var queries []string
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Write([]byte(`{"results":[]}`))
	})
	ctx := context.Background()

	_, err := repo.Search(ctx, "gala", map[string]any{"is_active": true})
	require.NoError(t, err)
	_, err = repo.ByFilter(ctx, map[string]any{"category": 2, "search": ""})
	require.NoError(t, err)

	assert.Equal(t, []string{"is_active=true&search=gala", "category=2"}, queries)
}

func TestTotalCount(t *testing.T) {
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		w.Write([]byte(`{"count":42,"next":"http://h/?page=2","previous":null,"results":[{"id":1}]}`))
	})
	assert.Equal(t, 42, repo.TotalCount(context.Background(), nil))

	failing := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.Equal(t, 0, failing.TotalCount(context.Background(), nil))
}

func TestPath(t *testing.T) {
	repo := New[category](nil, "/api/membership/")
	assert.Equal(t, "/api/membership", repo.BasePath())
	assert.Equal(t, "/api/membership/submit-page1/", repo.Path("submit-page1"))
	assert.Equal(t, "/api/membership/3/upload/", repo.Path("3", "upload"))
}
