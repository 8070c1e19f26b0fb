package services

import (
	"context"

	"github.com/mailzero/mailzero/internal/mail"
)

// Revalidator refreshes a cached view from the remote service
type Revalidator interface {
	Mutate(ctx context.Context) error
}

// Unsubscriber opts the user out of the mailing list behind a message
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, msg mail.Message) error
}

// Notifier delivers user-visible feedback
type Notifier interface {
	ShowProgress(ctx context.Context, msg string)
	ClearProgress()
	ShowInfo(ctx context.Context, msg string)
	ShowSuccess(ctx context.Context, msg string)
	ShowWarning(ctx context.Context, msg string)
	ShowError(ctx context.Context, msg string)
}

// noopRevalidator stands in for optional collaborators
type noopRevalidator struct{}

func (noopRevalidator) Mutate(context.Context) error { return nil }
