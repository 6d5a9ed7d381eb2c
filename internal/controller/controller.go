// Package controller holds the console's list and form state machines.
// Controllers are terminal handlers: failures are logged and shown
// through a Notifier, never left for the caller to discover.
package controller

import "context"

// Notifier shows one-line messages to the operator.
type Notifier interface {
	Success(msg string)
	Error(msg string)
	Warning(msg string)
	Info(msg string)
}

// Confirmer asks a yes/no question before a destructive change.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// Navigator moves the operator to another view after a form succeeds.
type Navigator interface {
	Navigate(target string)
}

// FilterPrefs persists the last used filters per module.
// *tokenstore.TokenStore implements it.
type FilterPrefs interface {
	SavedFilters(ctx context.Context, module string) (map[string]any, error)
	SaveFilters(ctx context.Context, module string, filters map[string]any) error
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}

// AlwaysConfirm answers yes without asking.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) bool { return true })

type discardNotifier struct{}

func (discardNotifier) Success(string) {}
func (discardNotifier) Error(string)   {}
func (discardNotifier) Warning(string) {}
func (discardNotifier) Info(string)    {}
