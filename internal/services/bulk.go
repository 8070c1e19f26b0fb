package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mailzero/mailzero/internal/mail"
)

// DefaultUnsubscribeDelay is the pause before each item of a bulk unsubscribe
const DefaultUnsubscribeDelay = 499 * time.Millisecond

// UnsubscribeResult summarises a bulk unsubscribe run
type UnsubscribeResult struct {
	Processed int
	Failed    int
	Errors    []error
}

// BulkActions applies actions to every selected thread and resynchronises the views
type BulkActions struct {
	remote       mail.Service
	list         Revalidator
	stats        Revalidator
	selection    *Selection
	notifier     Notifier
	unsubscriber Unsubscriber
	delay        time.Duration
	logger       *log.Logger

	// sleep waits between unsubscribe items; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBulkActions creates a dispatcher over the shared selection
func NewBulkActions(remote mail.Service, list, stats Revalidator, selection *Selection, notifier Notifier) *BulkActions {
	if list == nil {
		list = noopRevalidator{}
	}
	if stats == nil {
		stats = noopRevalidator{}
	}
	return &BulkActions{
		remote:    remote,
		list:      list,
		stats:     stats,
		selection: selection,
		notifier:  notifier,
		delay:     DefaultUnsubscribeDelay,
		sleep:     sleepContext,
	}
}

// SetUnsubscriber sets the per-message unsubscribe action
func (b *BulkActions) SetUnsubscriber(u Unsubscriber) {
	b.unsubscriber = u
}

// SetUnsubscribeDelay changes the pause between unsubscribe items; negative means none
func (b *BulkActions) SetUnsubscribeDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	b.delay = d
}

// SetLogger sets the logger for debug output
func (b *BulkActions) SetLogger(logger *log.Logger) {
	b.logger = logger
}

func (b *BulkActions) logf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

// AvailableActions lists the move targets offered for folder
func (b *BulkActions) AvailableActions(folder mail.Folder) []mail.Destination {
	return mail.AvailableDestinations(folder)
}

// Move sends every selected thread to destination, then revalidates the list,
// then the stats, then clears the selection. A failing step stops the sequence
// and leaves the selection for a retry; nothing is rolled back.
func (b *BulkActions) Move(ctx context.Context, destination mail.Destination) error {
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return nil
	}
	if !destination.Valid() {
		return fmt.Errorf("move to %q: %w", destination, ErrInvalidInput)
	}
	return b.apply(ctx, "move", ids, true, func(ctx context.Context) error {
		return b.remote.MoveThreads(ctx, ids, destination)
	}, fmt.Sprintf("Moved %d thread(s) to %s", len(ids), destination))
}

// MarkRead removes UNREAD from every selected thread
func (b *BulkActions) MarkRead(ctx context.Context) error {
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return nil
	}
	return b.apply(ctx, "mark read", ids, true, func(ctx context.Context) error {
		return b.remote.ModifyLabels(ctx, ids, nil, []string{mail.LabelUnread})
	}, fmt.Sprintf("Marked %d thread(s) as read", len(ids)))
}

// MarkUnread adds UNREAD to every selected thread
func (b *BulkActions) MarkUnread(ctx context.Context) error {
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return nil
	}
	return b.apply(ctx, "mark unread", ids, true, func(ctx context.Context) error {
		return b.remote.ModifyLabels(ctx, ids, []string{mail.LabelUnread}, nil)
	}, fmt.Sprintf("Marked %d thread(s) as unread", len(ids)))
}

// ModifyLabels adds and removes labels on every selected thread
func (b *BulkActions) ModifyLabels(ctx context.Context, add, remove []string) error {
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return nil
	}
	if len(add) == 0 && len(remove) == 0 {
		return fmt.Errorf("modify labels: %w", ErrInvalidInput)
	}
	return b.apply(ctx, "modify labels", ids, false, func(ctx context.Context) error {
		return b.remote.ModifyLabels(ctx, ids, add, remove)
	}, fmt.Sprintf("Updated labels on %d thread(s)", len(ids)))
}

type bulkStep struct {
	name string
	run  func(context.Context) error
}

func (b *BulkActions) apply(ctx context.Context, op string, ids []string, withStats bool, action func(context.Context) error, success string) error {
	b.logf("bulk: %s on %d thread(s)", op, len(ids))
	steps := []bulkStep{{op, action}, {"refresh threads", b.list.Mutate}}
	if withStats {
		steps = append(steps, bulkStep{"refresh stats", b.stats.Mutate})
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			b.logf("bulk: %s failed at %s: %v", op, step.name, err)
			if b.notifier != nil {
				b.notifier.ShowError(ctx, failureMessage(op, err))
			}
			return fmt.Errorf("%s: %s: %w", op, step.name, err)
		}
	}
	b.selection.Clear()
	if b.notifier != nil {
		b.notifier.ShowSuccess(ctx, success)
	}
	return nil
}

// Unsubscribe walks the selection one thread at a time, waiting the configured
// delay before each, and unsubscribes using the thread's first message. Item
// failures are counted and do not stop the run. Only a cancelled context does.
func (b *BulkActions) Unsubscribe(ctx context.Context) (UnsubscribeResult, error) {
	var res UnsubscribeResult
	ids := b.selection.IDs()
	if len(ids) == 0 {
		return res, nil
	}
	if b.unsubscriber == nil {
		return res, fmt.Errorf("unsubscribe: no unsubscriber configured: %w", ErrInvalidInput)
	}

	if b.notifier != nil {
		b.notifier.ShowProgress(ctx, fmt.Sprintf("Unsubscribing from %d mailing list(s)...", len(ids)))
	}
	var runErr error
	for _, id := range ids {
		if err := b.sleep(ctx, b.delay); err != nil {
			runErr = err
			break
		}
		if err := b.unsubscribeOne(ctx, id); err != nil {
			b.logf("bulk: unsubscribe %s failed: %v", id, err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("thread %s: %w", id, err))
			continue
		}
		res.Processed++
	}

	if n := b.notifier; n != nil {
		n.ClearProgress()
		switch {
		case runErr != nil:
			n.ShowError(ctx, fmt.Sprintf("Unsubscribe interrupted after %d of %d", res.Processed+res.Failed, len(ids)))
		case res.Failed > 0:
			n.ShowError(ctx, fmt.Sprintf("Unsubscribe finished with %d error(s) (%d of %d done)", res.Failed, res.Processed, len(ids)))
		default:
			n.ShowSuccess(ctx, "All done! You will no longer receive emails from these mailing lists.")
		}
	}
	return res, runErr
}

func (b *BulkActions) unsubscribeOne(ctx context.Context, threadID string) error {
	msgs, err := b.remote.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("empty thread: %w", ErrNotFound)
	}
	return b.unsubscriber.Unsubscribe(ctx, msgs[0])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
