package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/logging"
	"github.com/bmr-systems/bmr-admin/internal/validate"
)

// DefaultRedirectDelay leaves the success message visible before the
// form navigates away.
const DefaultRedirectDelay = 1500 * time.Millisecond

// ErrSubmitInProgress rejects a submit while another one is running.
var ErrSubmitInProgress = errors.New("form submission already in progress")

// Creator creates and partially updates records.
// *repository.Repository[T] implements it.
type Creator[T any] interface {
	Create(ctx context.Context, payload any) (*T, error)
	Update(ctx context.Context, id int, payload any) (*T, error)
}

// FormView shows form state.
type FormView interface {
	ClearErrors()
	ShowFieldErrors(fields map[string][]string)
	SetSubmitting(submitting bool)
}

type fileField struct {
	filename string
	r        io.Reader
}

// Form collects field values in the order they were set. Rules are
// validator tags checked before anything is sent.
type Form struct {
	order    []string
	values   map[string]any
	files    map[string]fileField
	richText map[string]string
	rules    map[string]string
}

func NewForm() *Form {
	return &Form{
		values:   make(map[string]any),
		files:    make(map[string]fileField),
		richText: make(map[string]string),
		rules:    make(map[string]string),
	}
}

func (f *Form) track(name string) {
	for _, n := range f.order {
		if n == name {
			return
		}
	}
	f.order = append(f.order, name)
}

// Set stores a plain value. nil removes the field from the payload.
func (f *Form) Set(name string, value any) *Form {
	f.track(name)
	f.values[name] = value
	return f
}

// SetFile attaches a file input. A nil reader leaves the input empty.
func (f *Form) SetFile(name, filename string, r io.Reader) *Form {
	f.track(name)
	if r == nil {
		delete(f.files, name)
		return f
	}
	f.files[name] = fileField{filename: filename, r: r}
	return f
}

// SetRichText stores editor content for name. It is rendered to
// sanitized HTML when the form is submitted.
func (f *Form) SetRichText(name, content string) *Form {
	f.track(name)
	f.richText[name] = content
	return f
}

// Rule sets the validator tag for name, e.g. "required,max=255".
func (f *Form) Rule(name, tag string) *Form {
	f.rules[name] = tag
	return f
}

// Validate checks every rule and returns field errors, or nil.
func (f *Form) Validate() map[string][]string {
	values := make(map[string]string, len(f.rules))
	for name := range f.rules {
		switch {
		case f.files[name].r != nil:
			values[name] = f.files[name].filename
		case f.hasRichText(name):
			html, err := RichTextHTML(f.richText[name])
			if err != nil {
				return map[string][]string{name: {"Enter valid content."}}
			}
			if !richTextEmpty(html) {
				values[name] = html
			}
		default:
			values[name] = scalar(f.values[name])
		}
	}
	return validate.Fields(values, f.rules)
}

func (f *Form) hasRichText(name string) bool {
	_, ok := f.richText[name]
	return ok
}

// Multipart reports whether the form is sent as multipart: it carries a
// file or rich text content.
func (f *Form) Multipart() bool {
	return len(f.files) > 0 || len(f.richText) > 0
}

// Payload renders rich text into its field and returns a JSON object, or
// an *apiclient.Form when Multipart is true.
func (f *Form) Payload() (any, error) {
	html := make(map[string]string, len(f.richText))
	for name, content := range f.richText {
		out, err := RichTextHTML(content)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		html[name] = out
	}

	if !f.Multipart() {
		body := make(map[string]any, len(f.values))
		for name, v := range f.values {
			if v != nil {
				body[name] = v
			}
		}
		return body, nil
	}

	mf := apiclient.NewForm()
	for _, name := range f.order {
		if content, ok := html[name]; ok {
			mf.Set(name, content)
			continue
		}
		if file, ok := f.files[name]; ok {
			if err := mf.AddFile(name, file.filename, file.r); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			continue
		}
		if v, ok := f.values[name]; ok && v != nil {
			mf.Set(name, scalar(v))
		}
	}
	return mf, nil
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(v)
}

// FormController submits a Form as a create, or as an update once an id
// is bound. Only one submit runs at a time.
type FormController[T any] struct {
	entity     string
	repo       Creator[T]
	view       FormView
	notifier   Notifier
	navigator  Navigator
	redirectTo string
	delay      time.Duration
	logger     *logging.Logger

	mu         sync.Mutex
	id         int
	submitting bool
}

type FormOption[T any] func(*FormController[T])

func WithFormNotifier[T any](n Notifier) FormOption[T] {
	return func(c *FormController[T]) { c.notifier = n }
}

func WithFormLogger[T any](l *logging.Logger) FormOption[T] {
	return func(c *FormController[T]) { c.logger = l }
}

// WithRedirect navigates to target delay after a successful submit.
func WithRedirect[T any](nav Navigator, target string, delay time.Duration) FormOption[T] {
	return func(c *FormController[T]) {
		c.navigator = nav
		c.redirectTo = target
		c.delay = delay
	}
}

// NewFormController creates a form for entity, the singular name used in
// messages ("Post", "Category").
func NewFormController[T any](entity string, repo Creator[T], view FormView, opts ...FormOption[T]) *FormController[T] {
	c := &FormController[T]{
		entity:   entity,
		repo:     repo,
		view:     view,
		notifier: discardNotifier{},
		delay:    DefaultRedirectDelay,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind puts the form in edit mode for id. Zero returns it to create mode.
func (c *FormController[T]) Bind(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

func (c *FormController[T]) BoundID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *FormController[T]) acquire() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return 0, false
	}
	c.submitting = true
	return c.id, true
}

func (c *FormController[T]) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
}

// Submit validates form and sends it. A validation failure sends nothing.
// Every failure has already been shown when Submit returns it.
func (c *FormController[T]) Submit(ctx context.Context, form *Form) (*T, error) {
	id, ok := c.acquire()
	if !ok {
		c.notifier.Warning("Please wait, the form is being submitted.")
		return nil, ErrSubmitInProgress
	}
	defer c.release()

	c.view.SetSubmitting(true)
	defer c.view.SetSubmitting(false)
	c.view.ClearErrors()

	if fields := form.Validate(); len(fields) > 0 {
		c.view.ShowFieldErrors(fields)
		c.notifier.Warning("Please correct the errors in the form.")
		return nil, apierr.Invalid(fields)
	}

	payload, err := form.Payload()
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to build form payload", logging.Resource(c.entity), logging.Error(err))
		c.notifier.Error("Could not prepare the form: " + err.Error())
		return nil, err
	}

	var out *T
	verb := "created"
	if id > 0 {
		verb = "updated"
		out, err = c.repo.Update(ctx, id, payload)
	} else {
		out, err = c.repo.Create(ctx, payload)
	}
	if err != nil {
		c.showError(ctx, err)
		return nil, err
	}

	c.notifier.Success(fmt.Sprintf("%s %s successfully!", c.entity, verb))
	if c.navigator != nil && c.redirectTo != "" {
		nav, target := c.navigator, c.redirectTo
		time.AfterFunc(c.delay, func() { nav.Navigate(target) })
	}
	return out, nil
}

// showError puts server field errors next to their fields; everything
// else becomes one notification.
func (c *FormController[T]) showError(ctx context.Context, err error) {
	c.logger.ErrorContext(ctx, "form submission failed", logging.Resource(c.entity), logging.Error(err))

	apiErr, ok := apierr.As(err)
	if ok && apiErr.Kind == apierr.KindValidation && apiErr.HasFieldErrors() {
		c.view.ShowFieldErrors(apiErr.FieldErrors)
	}
	c.notifier.Error(apierr.UserMessage(err))
}
