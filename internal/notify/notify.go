// Package notify delivers user-facing notifications (the storefront's toasts)
// to pluggable sinks and maps API failures to messages by error kind.
package notify

import (
	"context"
	"errors"

	perrors "github.com/p-blackswan/agrostore/internal/errors"
)

// Level describes how a notification is presented.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message for the user.
type Notification struct {
	Level   Level
	Kind    perrors.Kind // empty for non-error notifications
	Title   string
	Message string
	Fields  map[string][]string
	Source  string // operation that produced it, e.g. "cart.add"
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// MultiNotifier fans out to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(ns ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: ns}
}

func (m *MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var lastErr error
	for _, nt := range m.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// ForError builds the notification shown when op fails with err.
func ForError(op string, err error) Notification {
	n := Notification{
		Level:  LevelError,
		Kind:   perrors.KindOf(err),
		Source: op,
	}
	switch n.Kind {
	case perrors.KindRateLimit:
		n.Level = LevelWarning
		n.Title = "Too many requests"
		n.Message = "Please wait a moment and try again."
	case perrors.KindValidation:
		n.Title = "Please check the entered data"
		n.Fields = perrors.FieldErrors(err)
		var e *perrors.Error
		if errors.As(err, &e) && e.Message != "" {
			n.Message = e.Message
		} else {
			n.Message = "Some fields are invalid."
		}
	case perrors.KindAuth:
		n.Title = "Sign in required"
		n.Message = "Your session has expired. Please sign in again."
	case perrors.KindNetwork:
		n.Title = "Connection problem"
		n.Message = "Could not reach the server. Check your connection and try again."
	default:
		n.Title = "Something went wrong"
		n.Message = "The action could not be completed. Please try again later."
	}
	return n
}

// Success builds a confirmation notification.
func Success(op, title, message string) Notification {
	return Notification{Level: LevelSuccess, Title: title, Message: message, Source: op}
}
