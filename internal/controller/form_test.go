package controller

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/mockapi"
	"github.com/bmr-systems/bmr-admin/internal/repository"
	"github.com/bmr-systems/bmr-admin/internal/resources"
)

type fakeFormView struct {
	mu         sync.Mutex
	cleared    int
	fields     map[string][]string
	submitting []bool
}

func (v *fakeFormView) ClearErrors() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cleared++
	v.fields = nil
}

func (v *fakeFormView) ShowFieldErrors(fields map[string][]string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fields = fields
}

func (v *fakeFormView) SetSubmitting(s bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitting = append(v.submitting, s)
}

type navFunc func(string)

func (f navFunc) Navigate(target string) { f(target) }

func mockRepo(t *testing.T) (*repository.Repository[resources.Post], *mockapi.Server) {
	t.Helper()
	srv := mockapi.New(mockapi.WithLogger(logging.Discard()), mockapi.AllowAnonymous())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	client := apiclient.New(ts.URL, nil, apiclient.WithLogger(logging.Discard()))
	return repository.New[resources.Post](client, resources.MustLookup("posts").Path, repository.WithLogger(logging.Discard())), srv
}

func postForm(title string) *Form {
	return NewForm().
		Set("title", title).Rule("title", "required,title,max=255").
		Set("short_description", "Spring update").
		Set("is_published", true)
}

func TestSubmit_ValidationShortCircuits(t *testing.T) {
	repo, srv := mockRepo(t)
	view := &fakeFormView{}
	n := &fakeNotifier{}
	c := NewFormController[resources.Post]("Post", repo, view,
		WithFormNotifier[resources.Post](n), WithFormLogger[resources.Post](logging.Discard()))

	_, err := c.Submit(context.Background(), postForm(""))

	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, 0, srv.TotalRequests())
	assert.Equal(t, []string{"Please correct the errors in the form."}, n.warnings)
	assert.Equal(t, []string{"This field is required."}, view.fields["title"])
	assert.Equal(t, []bool{true, false}, view.submitting)
}

func TestSubmit_CreateThenUpdate(t *testing.T) {
	repo, srv := mockRepo(t)
	view := &fakeFormView{}
	n := &fakeNotifier{}
	navigated := make(chan string, 1)
	c := NewFormController[resources.Post]("Post", repo, view,
		WithFormNotifier[resources.Post](n),
		WithFormLogger[resources.Post](logging.Discard()),
		WithRedirect[resources.Post](navFunc(func(target string) { navigated <- target }), "/posts/", 10*time.Millisecond))
	ctx := context.Background()

	post, err := c.Submit(ctx, postForm("Spring Newsletter"))
	require.NoError(t, err)
	assert.Equal(t, "Spring Newsletter", post.Title)
	assert.True(t, post.IsPublished)
	assert.Equal(t, []string{"Post created successfully!"}, n.success)

	select {
	case target := <-navigated:
		assert.Equal(t, "/posts/", target)
	case <-time.After(time.Second):
		t.Fatal("no navigation after success")
	}

	c.Bind(post.ID)
	updated, err := c.Submit(ctx, NewForm().Set("short_description", "Edited"))
	require.NoError(t, err)
	assert.Equal(t, "Edited", updated.ShortDescription)
	assert.Equal(t, "Spring Newsletter", updated.Title)
	assert.Equal(t, "Post updated successfully!", n.success[1])
	assert.Len(t, srv.Items("posts"), 1)
}

func TestSubmit_ServerErrorsAreMapped(t *testing.T) {
	repo, srv := mockRepo(t)
	_, err := srv.Insert("posts", map[string]any{"title": "Taken"})
	require.NoError(t, err)

	view := &fakeFormView{}
	n := &fakeNotifier{}
	c := NewFormController[resources.Post]("Post", repo, view,
		WithFormNotifier[resources.Post](n), WithFormLogger[resources.Post](logging.Discard()))
	ctx := context.Background()

	_, err = c.Submit(ctx, postForm("Taken"))
	assert.True(t, apierr.IsConflict(err))
	assert.Equal(t, []string{"A record with this title already exists."}, n.errors)
	assert.Nil(t, view.fields)

	_, err = c.Submit(ctx, NewForm().Set("short_description", "no title"))
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, []string{"This field is required."}, view.fields["title"])
	assert.Contains(t, n.errors[1], "Title: This field is required.")
}

type blockingCreator struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingCreator) Create(ctx context.Context, payload any) (*row, error) {
	b.calls.Add(1)
	close(b.entered)
	<-b.release
	return &row{ID: 1}, nil
}

func (b *blockingCreator) Update(ctx context.Context, id int, payload any) (*row, error) {
	return &row{ID: id}, nil
}

func TestSubmit_RejectsConcurrentSubmit(t *testing.T) {
	repo := &blockingCreator{entered: make(chan struct{}), release: make(chan struct{})}
	n := &fakeNotifier{}
	c := NewFormController[row]("Category", repo, &fakeFormView{},
		WithFormNotifier[row](n), WithFormLogger[row](logging.Discard()))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, NewForm().Set("title", "A"))
		done <- err
	}()
	<-repo.entered

	_, err := c.Submit(ctx, NewForm().Set("title", "B"))
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	close(repo.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), repo.calls.Load())

	// the lock is released after the first submit finishes
	_, err = c.Submit(ctx, NewForm().Set("title", "").Rule("title", "required"))
	assert.NotErrorIs(t, err, ErrSubmitInProgress)
	assert.True(t, apierr.IsValidation(err))
}

func TestForm_MultipartWithFileAndRichText(t *testing.T) {
	var got struct {
		title, description, file, contentType string
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.contentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got.title = r.FormValue("title")
		got.description = r.FormValue("description")
		f, hdr, err := r.FormFile("cover_image")
		require.NoError(t, err)
		body, _ := io.ReadAll(f)
		got.file = hdr.Filename + ":" + string(body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":4,"title":"With Cover"}`))
	}))
	defer ts.Close()

	client := apiclient.New(ts.URL, nil, apiclient.WithLogger(logging.Discard()))
	repo := repository.New[resources.Post](client, "/api/posts/", repository.WithLogger(logging.Discard()))
	c := NewFormController[resources.Post]("Post", repo, &fakeFormView{}, WithFormLogger[resources.Post](logging.Discard()))

	form := NewForm().
		Set("title", "With Cover").
		SetRichText("description", `{"ops":[{"insert":"Hello "},{"insert":"world","attributes":{"bold":true}},{"insert":"\n"}]}`).
		Rule("description", "required").
		SetFile("cover_image", "cover.png", strings.NewReader("PNG"))
	require.True(t, form.Multipart())

	post, err := c.Submit(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, 4, post.ID)
	assert.Contains(t, got.contentType, "multipart/form-data")
	assert.Equal(t, "With Cover", got.title)
	assert.Contains(t, got.description, "<strong>world</strong>")
	assert.Equal(t, "cover.png:PNG", got.file)
}

func TestForm_EmptyRichTextFailsRequired(t *testing.T) {
	form := NewForm().
		SetRichText("description", `{"ops":[{"insert":"\n"}]}`).
		Rule("description", "required")

	assert.Equal(t, map[string][]string{"description": {"This field is required."}}, form.Validate())
}

func TestForm_JSONPayloadDropsNil(t *testing.T) {
	payload, err := NewForm().Set("title", "A").Set("parent", nil).Set("is_active", false).Payload()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "A", "is_active": false}, payload)
}
