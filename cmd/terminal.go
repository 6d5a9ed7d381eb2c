package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/controller"
	"github.com/bmr-systems/bmr-admin/internal/repository"
	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func promptPassword(w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, "Password: "); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// notifier prints controller notifications.
type notifier struct{}

func (notifier) Success(msg string) { output.Success("%s", msg) }
func (notifier) Error(msg string)   { output.Error("%s", msg) }
func (notifier) Warning(msg string) { output.Warn("%s", msg) }
func (notifier) Info(msg string)    { output.Info("%s", msg) }

// prompter asks y/N questions on in.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) prompter {
	return prompter{in: bufio.NewReader(in), out: out}
}

func (p prompter) Confirm(_ context.Context, prompt string) bool {
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// recordView renders a list of records as a table. Structured formats
// are printed by the caller from the controller state.
type recordView struct {
	module resources.Module
	format output.Format
	quiet  bool
}

func (v recordView) SetLoading(bool) {}

func (v recordView) RenderItems(items []resources.Record, page, perPage int) {
	if v.quiet || v.format != output.FormatTable {
		return
	}
	if len(items) == 0 {
		output.Info("No %s found.", strings.ToLower(v.module.Title))
		return
	}
	table := output.NewTable(v.module.Headers())
	for _, rec := range items {
		table.AddRow(v.module.Row(rec))
	}
	table.Render()
}

func (v recordView) RenderPagination(info *repository.PageInfo) {
	if v.quiet || v.format != output.FormatTable {
		return
	}
	output.Pagination(info.CurrentPage, info.TotalPages, info.TotalCount, info.HasNext)
}

// RenderError is a no-op: the notifier already printed the message.
func (v recordView) RenderError(string) {}

// formView prints field errors under the submitted form.
type formView struct{}

func (formView) ClearErrors()       {}
func (formView) SetSubmitting(bool) {}

func (formView) ShowFieldErrors(fields map[string][]string) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, msg := range fields[name] {
			output.Error("%s: %s", apierr.FieldLabel(name), msg)
		}
	}
}

var _ controller.Notifier = notifier{}
var _ controller.Confirmer = prompter{}
var _ controller.ListView[resources.Record] = recordView{}
var _ controller.FormView = formView{}
