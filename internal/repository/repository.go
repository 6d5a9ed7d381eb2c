// Package repository is the generic client for one REST collection: list
// with pagination normalization, item CRUD, toggles, bulk operations and
// uploads.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
)

// ErrMissingID is returned by toggles called without an identifier.
var ErrMissingID = errors.New("entity id is required")

// Client is the transport a repository sends requests through.
// *apiclient.Client implements it.
type Client interface {
	Do(ctx context.Context, req apiclient.Request) (json.RawMessage, error)
}

// ListResult is one page of a collection.
type ListResult[T any] struct {
	Items      []T       `json:"items"`
	Pagination *PageInfo `json:"pagination"`
}

type Repository[T any] struct {
	client   Client
	basePath string
	logger   *logging.Logger
}

type Option func(*options)

type options struct {
	logger *logging.Logger
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns a repository for the collection at basePath, for example
// "/api/events/categories/".
func New[T any](client Client, basePath string, opts ...Option) *Repository[T] {
	o := options{logger: logging.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T]{
		client:   client,
		basePath: strings.TrimRight(basePath, "/"),
		logger:   o.logger.With(logging.Resource(basePath)),
	}
}

// BasePath returns the collection path without its trailing slash.
func (r *Repository[T]) BasePath() string {
	return r.basePath
}

func (r *Repository[T]) collection() string {
	return r.basePath + "/"
}

func (r *Repository[T]) item(id int) string {
	return r.basePath + "/" + strconv.Itoa(id) + "/"
}

// Path joins elem below the collection, with a trailing slash.
func (r *Repository[T]) Path(elem ...string) string {
	return r.basePath + "/" + strings.Join(elem, "/") + "/"
}

// Raw sends req unchanged, for endpoints outside the collection.
func (r *Repository[T]) Raw(ctx context.Context, req apiclient.Request) (json.RawMessage, error) {
	return r.client.Do(ctx, req)
}

// List fetches one page. An empty collection is not an error.
func (r *Repository[T]) List(ctx context.Context, q Query) (ListResult[T], error) {
	return r.list(ctx, q.Values())
}

// FetchPage makes a Repository usable as a list controller Fetcher.
func (r *Repository[T]) FetchPage(ctx context.Context, q Query) (ListResult[T], error) {
	return r.List(ctx, q)
}

func (r *Repository[T]) list(ctx context.Context, values url.Values) (ListResult[T], error) {
	raw, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: r.collection(), Query: values})
	if err != nil {
		r.logger.WarnContext(ctx, "list failed", logging.Error(err))
		return ListResult[T]{}, err
	}
	return DecodeList[T](raw)
}

// DecodeList normalizes a list response into typed items.
func DecodeList[T any](raw json.RawMessage) (ListResult[T], error) {
	env, err := Decode(raw)
	if err != nil {
		return ListResult[T]{}, err
	}
	norm, err := Normalize(env)
	if err != nil {
		return ListResult[T]{}, err
	}

	items := make([]T, 0, len(norm.Items))
	for i, item := range norm.Items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return ListResult[T]{}, fmt.Errorf("failed to decode item %d: %w", i, err)
		}
		items = append(items, v)
	}
	return ListResult[T]{Items: items, Pagination: norm.Pagination}, nil
}

// DecodeItem decodes a single resource, unwrapping a "data" envelope.
func DecodeItem[T any](raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(unwrapItem(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &v, nil
}

// Get fetches one resource. A missing one yields an apierr of KindNotFound.
func (r *Repository[T]) Get(ctx context.Context, id int) (*T, error) {
	raw, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: r.item(id)})
	if err != nil {
		return nil, err
	}
	return DecodeItem[T](raw)
}

// Create posts payload, a JSON-marshalable value or an *apiclient.Form.
func (r *Repository[T]) Create(ctx context.Context, payload any) (*T, error) {
	raw, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: r.collection(), Body: payload})
	if err != nil {
		r.logger.WarnContext(ctx, "create failed", logging.Error(err))
		return nil, err
	}
	return DecodeItem[T](raw)
}

// Update sends a partial update (PATCH).
func (r *Repository[T]) Update(ctx context.Context, id int, payload any) (*T, error) {
	raw, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodPatch, Path: r.item(id), Body: payload})
	if err != nil {
		r.logger.WarnContext(ctx, "update failed", logging.Error(err))
		return nil, err
	}
	return DecodeItem[T](raw)
}

// Replace sends a full update (PUT).
func (r *Repository[T]) Replace(ctx context.Context, id int, payload any) (*T, error) {
	raw, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodPut, Path: r.item(id), Body: payload})
	if err != nil {
		return nil, err
	}
	return DecodeItem[T](raw)
}

func (r *Repository[T]) Delete(ctx context.Context, id int) error {
	_, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: r.item(id)})
	if err != nil {
		r.logger.WarnContext(ctx, "delete failed", logging.Error(err))
	}
	return err
}

func (r *Repository[T]) ToggleStatus(ctx context.Context, id int, active bool) (*T, error) {
	if id == 0 {
		return nil, fmt.Errorf("toggle status: %w", ErrMissingID)
	}
	return r.Update(ctx, id, map[string]bool{"is_active": active})
}

func (r *Repository[T]) TogglePublish(ctx context.Context, id int, published bool) (*T, error) {
	if id == 0 {
		return nil, fmt.Errorf("toggle publish: %w", ErrMissingID)
	}
	return r.Update(ctx, id, map[string]bool{"is_published": published})
}

// BulkOperation posts {ids, ...extra} to bulk_<op>/ and returns the
// unwrapped response.
func (r *Repository[T]) BulkOperation(ctx context.Context, op string, ids []int, extra map[string]any) (json.RawMessage, error) {
	payload := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		payload[k] = v
	}
	payload["ids"] = ids

	raw, err := r.client.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   r.Path("bulk_" + op),
		Body:   payload,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "bulk operation failed", "operation", op, logging.Error(err))
		return nil, err
	}
	return unwrapItem(raw), nil
}

// Upload posts a file to <id>/upload/, or upload/ when id is zero.
func (r *Repository[T]) Upload(ctx context.Context, id int, field, filename string, content io.Reader, extra map[string]string) (json.RawMessage, error) {
	if field == "" {
		field = "file"
	}
	path := r.Path("upload")
	if id != 0 {
		path = r.Path(strconv.Itoa(id), "upload")
	}

	form := apiclient.NewForm()
	if err := form.AddFile(field, filename, content); err != nil {
		return nil, err
	}
	for k, v := range extra {
		form.Set(k, v)
	}

	raw, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: path, Body: form})
	if err != nil {
		return nil, err
	}
	return unwrapItem(raw), nil
}

// Search lists with the search filter set to term.
func (r *Repository[T]) Search(ctx context.Context, term string, extra map[string]any) (ListResult[T], error) {
	filters := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		filters[k] = v
	}
	filters["search"] = term
	return r.List(ctx, Query{Filters: filters})
}

func (r *Repository[T]) ByFilter(ctx context.Context, filters map[string]any) (ListResult[T], error) {
	return r.List(ctx, Query{Filters: filters})
}

// Exists reports whether id can be fetched. Only a 404 means false.
func (r *Repository[T]) Exists(ctx context.Context, id int) (bool, error) {
	_, err := r.client.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: r.item(id)})
	if err != nil {
		if apierr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TotalCount asks for a one-item page and reads total_count. Failures are
// logged and count as zero.
func (r *Repository[T]) TotalCount(ctx context.Context, filters map[string]any) int {
	res, err := r.List(ctx, Query{PerPage: 1, Filters: filters})
	if err != nil {
		r.logger.WarnContext(ctx, "total count failed", logging.Error(err))
		return 0
	}
	if res.Pagination == nil {
		return 0
	}
	return res.Pagination.TotalCount
}
