package controller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/repository"
)

const (
	DefaultPerPage  = 30
	MaxPerPage      = 100
	DefaultOrdering = "-created_at"
)

// ErrReadOnly is reported when a mutation is requested from a list whose
// fetcher cannot change records.
var ErrReadOnly = errors.New("list does not support changes")

// Fetcher loads one page of a collection.
// *repository.Repository[T] implements it.
type Fetcher[T any] interface {
	FetchPage(ctx context.Context, q repository.Query) (repository.ListResult[T], error)
}

// Mutator is the part of a repository the list actions need.
type Mutator[T any] interface {
	Delete(ctx context.Context, id int) error
	ToggleStatus(ctx context.Context, id int, active bool) (*T, error)
	TogglePublish(ctx context.Context, id int, published bool) (*T, error)
}

// ListView renders list state.
type ListView[T any] interface {
	SetLoading(loading bool)
	RenderItems(items []T, page, perPage int)
	RenderPagination(info *repository.PageInfo)
	RenderError(msg string)
}

// State is a snapshot of the list.
type State[T any] struct {
	CurrentPage int
	PerPage     int
	Filters     map[string]any
	Items       []T
	Pagination  *repository.PageInfo
	Loading     bool
	// Err is the failure of the last completed load, nil after a success.
	Err error
}

// ListController keeps page, page size and filters for one collection
// and reloads it as they change. Responses to superseded loads are
// dropped, so the last load issued is the one rendered.
type ListController[T any] struct {
	module    string
	itemType  string
	fetcher   Fetcher[T]
	view      ListView[T]
	notifier  Notifier
	confirmer Confirmer
	prefs     FilterPrefs
	logger    *logging.Logger
	search    *Debouncer
	defaults  map[string]any

	mu         sync.Mutex
	state      State[T]
	generation uint64
}

type ListOption[T any] func(*ListController[T])

func WithNotifier[T any](n Notifier) ListOption[T] {
	return func(c *ListController[T]) { c.notifier = n }
}

func WithConfirmer[T any](cf Confirmer) ListOption[T] {
	return func(c *ListController[T]) { c.confirmer = cf }
}

// WithFilterPrefs restores saved filters in Init and saves every change.
func WithFilterPrefs[T any](p FilterPrefs) ListOption[T] {
	return func(c *ListController[T]) { c.prefs = p }
}

func WithListLogger[T any](l *logging.Logger) ListOption[T] {
	return func(c *ListController[T]) { c.logger = l }
}

func WithPerPage[T any](n int) ListOption[T] {
	return func(c *ListController[T]) { c.state.PerPage = clampPerPage(n) }
}

// WithDefaultFilters replaces the initial filters, which otherwise are an
// empty search and newest first ordering.
func WithDefaultFilters[T any](f map[string]any) ListOption[T] {
	return func(c *ListController[T]) { c.defaults = maps.Clone(f) }
}

// WithSearchDebounce sets the quiet period of SearchInput.
func WithSearchDebounce[T any](d time.Duration) ListOption[T] {
	return func(c *ListController[T]) { c.search = NewDebouncer(d) }
}

// WithItemType names the records in messages, e.g. "categories".
func WithItemType[T any](name string) ListOption[T] {
	return func(c *ListController[T]) { c.itemType = name }
}

// NewList creates a controller for module. Saved filters are stored under
// the module name.
func NewList[T any](module string, fetcher Fetcher[T], view ListView[T], opts ...ListOption[T]) *ListController[T] {
	c := &ListController[T]{
		module:    module,
		itemType:  "items",
		fetcher:   fetcher,
		view:      view,
		notifier:  discardNotifier{},
		confirmer: AlwaysConfirm,
		logger:    logging.Default(),
		search:    NewDebouncer(DefaultDebounce),
		defaults:  map[string]any{"search": "", "ordering": DefaultOrdering},
		state:     State[T]{CurrentPage: 1, PerPage: DefaultPerPage},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaults == nil {
		c.defaults = map[string]any{}
	}
	c.state.Filters = maps.Clone(c.defaults)
	return c
}

// Init restores saved filters, if any, and loads the first page.
func (c *ListController[T]) Init(ctx context.Context) {
	c.RestoreFilters(ctx)
	c.Load(ctx, 1)
}

// RestoreFilters merges the saved filters over the defaults without
// loading. It reports whether anything was restored.
func (c *ListController[T]) RestoreFilters(ctx context.Context) bool {
	if c.prefs == nil {
		return false
	}
	saved, err := c.prefs.SavedFilters(ctx, c.module)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to restore saved filters", logging.Resource(c.module), logging.Error(err))
		return false
	}
	if len(saved) == 0 {
		return false
	}
	c.mu.Lock()
	c.state.Filters = maps.Clone(c.defaults)
	maps.Copy(c.state.Filters, saved)
	c.mu.Unlock()
	return true
}

// Dispose drops pending debounced search input.
func (c *ListController[T]) Dispose() {
	c.search.Stop()
}

// Load fetches page (the current page when page < 1) with the current
// filters. Errors are rendered and notified, never returned.
func (c *ListController[T]) Load(ctx context.Context, page int) {
	c.mu.Lock()
	if page < 1 {
		page = c.state.CurrentPage
	}
	c.state.CurrentPage = page
	c.state.Loading = true
	c.generation++
	gen := c.generation
	q := repository.Query{
		Page:    page,
		PerPage: c.state.PerPage,
		Filters: repository.StripEmpty(c.state.Filters),
	}
	c.mu.Unlock()

	c.view.SetLoading(true)
	res, err := c.fetcher.FetchPage(ctx, q)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "dropping superseded list response", logging.Resource(c.module), logging.Page(page))
		return
	}
	c.state.Loading = false
	c.state.Err = err
	if err == nil {
		c.state.Items = res.Items
		c.state.Pagination = res.Pagination
	}
	perPage := c.state.PerPage
	c.mu.Unlock()

	defer c.view.SetLoading(false)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to load list", logging.Resource(c.module), logging.Page(page), logging.Error(err))
		msg := fmt.Sprintf("Failed to load %s. Please try again.", c.itemType)
		c.view.RenderError(msg)
		c.notifier.Error(msg)
		return
	}

	c.view.RenderItems(res.Items, page, perPage)
	if res.Pagination != nil {
		c.view.RenderPagination(res.Pagination)
	}
}

// Reload fetches the current page again.
func (c *ListController[T]) Reload(ctx context.Context) {
	c.Load(ctx, 0)
}

// OnFiltersChange replaces the filters and loads page 1.
func (c *ListController[T]) OnFiltersChange(ctx context.Context, filters map[string]any) {
	c.mu.Lock()
	c.state.Filters = maps.Clone(filters)
	if c.state.Filters == nil {
		c.state.Filters = map[string]any{}
	}
	c.state.CurrentPage = 1
	c.mu.Unlock()

	c.SaveFilters(ctx)
	c.Load(ctx, 1)
}

// UpdateFilter merges one filter into the current ones and loads page 1.
func (c *ListController[T]) UpdateFilter(ctx context.Context, key string, value any) {
	c.mu.Lock()
	c.state.Filters[key] = value
	c.state.CurrentPage = 1
	c.mu.Unlock()

	c.SaveFilters(ctx)
	c.Load(ctx, 1)
}

// SearchInput feeds typed search text through the debouncer, so only the
// last text of a burst reaches UpdateFilter.
func (c *ListController[T]) SearchInput(ctx context.Context, text string) {
	c.search.Call(func() {
		c.UpdateFilter(ctx, "search", strings.TrimSpace(text))
	})
}

// OnPageChange loads page keeping the filters.
func (c *ListController[T]) OnPageChange(ctx context.Context, page int) {
	if page < 1 {
		page = 1
	}
	c.Load(ctx, page)
}

// ResetFilters restores the initial filters and loads page 1.
func (c *ListController[T]) ResetFilters(ctx context.Context) {
	c.search.Stop()
	c.mu.Lock()
	c.state.Filters = maps.Clone(c.defaults)
	c.state.CurrentPage = 1
	c.mu.Unlock()

	c.SaveFilters(ctx)
	c.Load(ctx, 1)
}

// SetPerPage changes the page size, capped at MaxPerPage, and loads page 1.
func (c *ListController[T]) SetPerPage(ctx context.Context, n int) {
	c.mu.Lock()
	c.state.PerPage = clampPerPage(n)
	c.state.CurrentPage = 1
	c.mu.Unlock()

	c.Load(ctx, 1)
}

// State returns a copy of the list state.
func (c *ListController[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Filters = maps.Clone(c.state.Filters)
	s.Items = append([]T(nil), c.state.Items...)
	return s
}

// Delete asks for confirmation, deletes id and reloads the current page.
// It reports whether the record was deleted.
func (c *ListController[T]) Delete(ctx context.Context, id int, title string) bool {
	singular := Singular(c.itemType)
	if !c.confirmer.Confirm(ctx, fmt.Sprintf("Delete %s %q?", singular, title)) {
		return false
	}
	m, ok := c.fetcher.(Mutator[T])
	if !ok {
		c.fail(ctx, "delete", ErrReadOnly, "Failed to delete "+singular)
		return false
	}
	if err := m.Delete(ctx, id); err != nil {
		c.fail(ctx, "delete", err, "Failed to delete "+singular)
		return false
	}
	c.notifier.Success(title + " deleted successfully")
	c.Reload(ctx)
	return true
}

// ToggleStatus asks for confirmation, sets is_active and reloads.
func (c *ListController[T]) ToggleStatus(ctx context.Context, id int, title string, active bool) bool {
	verb := "deactivate"
	if active {
		verb = "activate"
	}
	return c.toggle(ctx, verb, title, func(m Mutator[T]) error {
		_, err := m.ToggleStatus(ctx, id, active)
		return err
	})
}

// TogglePublish asks for confirmation, sets is_published and reloads.
func (c *ListController[T]) TogglePublish(ctx context.Context, id int, title string, published bool) bool {
	verb := "unpublish"
	if published {
		verb = "publish"
	}
	return c.toggle(ctx, verb, title, func(m Mutator[T]) error {
		_, err := m.TogglePublish(ctx, id, published)
		return err
	})
}

func (c *ListController[T]) toggle(ctx context.Context, verb, title string, apply func(Mutator[T]) error) bool {
	if !c.confirmer.Confirm(ctx, fmt.Sprintf("Are you sure you want to %s %q?", verb, title)) {
		return false
	}
	m, ok := c.fetcher.(Mutator[T])
	if !ok {
		c.fail(ctx, verb, ErrReadOnly, "Failed to "+verb+" "+title)
		return false
	}
	if err := apply(m); err != nil {
		c.fail(ctx, verb, err, "Failed to "+verb+" "+title)
		return false
	}
	c.notifier.Success(fmt.Sprintf("%s %s successfully", title, pastTense(verb)))
	c.Reload(ctx)
	return true
}

func (c *ListController[T]) fail(ctx context.Context, action string, err error, fallback string) {
	c.logger.ErrorContext(ctx, "list action failed", logging.Resource(c.module), "action", action, logging.Error(err))
	if _, ok := apierr.As(err); ok {
		c.notifier.Error(fallback + ": " + apierr.UserMessage(err))
		return
	}
	c.notifier.Error(fallback)
}

// SaveFilters stores the current non-empty filters when filter prefs are
// configured. Filter changes call it already.
func (c *ListController[T]) SaveFilters(ctx context.Context) {
	if c.prefs == nil {
		return
	}
	c.mu.Lock()
	filters := repository.StripEmpty(c.state.Filters)
	c.mu.Unlock()
	if err := c.prefs.SaveFilters(ctx, c.module, filters); err != nil {
		c.logger.WarnContext(ctx, "failed to save filters", logging.Resource(c.module), logging.Error(err))
	}
}

// Singular turns a plural item type like "categories" into "category".
func Singular(plural string) string {
	switch {
	case strings.HasSuffix(plural, "ies"):
		return strings.TrimSuffix(plural, "ies") + "y"
	case strings.HasSuffix(plural, "s"):
		return strings.TrimSuffix(plural, "s")
	}
	return plural
}

func pastTense(verb string) string {
	if strings.HasSuffix(verb, "e") {
		return verb + "d"
	}
	return verb + "ed"
}

func clampPerPage(n int) int {
	switch {
	case n < 1:
		return DefaultPerPage
	case n > MaxPerPage:
		return MaxPerPage
	}
	return n
}
