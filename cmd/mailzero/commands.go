package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mailzero/mailzero/internal/db"
	"github.com/mailzero/mailzero/internal/gmail"
	"github.com/mailzero/mailzero/internal/mail"
	"github.com/mailzero/mailzero/internal/services"
)

// options are the flags shared by every command
type options struct {
	folder string
	search string
	pages  int
	code   string
}

// app runs one command against a mailbox
type app struct {
	out         io.Writer
	logger      *log.Logger
	mailbox     *services.Mailbox
	connections *db.ConnectionStore
	notes       *db.NoteStore
	connection  *db.Connection
	opts        options
}

type command struct {
	name  string
	usage string
	run   func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{"login", "login                     Authorize Gmail access (use --code to finish)", (*app).login},
	{"list", "list                      List threads of --folder, optionally filtered by --search", (*app).list},
	{"show", "show <thread>             Print a thread, newest message first, and mark it read", (*app).show},
	{"star", "star <thread>             Open a thread and toggle its star", (*app).star},
	{"move", "move <dest> <thread>...   Move threads to archive, spam or inbox", (*app).move},
	{"read", "read <thread>...          Mark threads read", (*app).markRead},
	{"unread", "unread <thread>...        Mark threads unread", (*app).markUnread},
	{"label", "label <+L|-L>... -- <thread>...  Add or remove labels", (*app).label},
	{"unsubscribe", "unsubscribe <thread>...   Unsubscribe from the mailing lists behind threads", (*app).unsubscribe},
	{"stats", "stats                     Show folder counters", (*app).stats},
	{"notes", "notes <thread> [text]     List notes of a thread, or add one", (*app).threadNotes},
	{"accounts", "accounts                  List linked accounts", (*app).accounts},
}

func commandHelp() string {
	var b strings.Builder
	for _, c := range commands {
		fmt.Fprintf(&b, "  %s\n", c.usage)
	}
	return b.String()
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command")
	}
	for _, c := range commands {
		if c.name == args[0] {
			a.logger.Printf("command %s %v", c.name, args[1:])
			return c.run(a, ctx, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (a *app) folder() (mail.Folder, error) {
	return mail.ParseFolder(a.opts.folder)
}

func (a *app) login(ctx context.Context, args []string) error {
	fmt.Fprintf(a.out, "Linked %s\n", a.connection.Email)
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	folder, err := a.folder()
	if err != nil {
		return err
	}
	if err := a.mailbox.Start(ctx, folder, a.opts.search); err != nil {
		return err
	}
	for i := 1; i < a.opts.pages && !a.mailbox.List.State().IsReachingEnd; i++ {
		if err := a.mailbox.LoadMore(ctx); err != nil {
			return err
		}
	}
	st := a.mailbox.List.State()
	if st.IsEmpty {
		if q := a.mailbox.Search(); q != "" {
			fmt.Fprintf(a.out, "No threads in %s match %q.\n", folder, q)
		} else {
			fmt.Fprintln(a.out, "No threads.")
		}
		return nil
	}
	renderThreads(a.out, st.Threads, terminalWidth())
	if !st.IsReachingEnd {
		fmt.Fprintf(a.out, "\n%d threads shown, more available (--pages %d)\n", len(st.Threads), a.opts.pages+1)
	}
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <thread>")
	}
	if err := a.mailbox.Thread.Open(ctx, a.mailbox.Identity(), args[0]); err != nil {
		return err
	}
	st := a.mailbox.Thread.State()
	renderMessages(a.out, mail.NewestFirst(st.Messages), terminalWidth())
	if folder, err := a.folder(); err == nil {
		if u, err := gmail.WebURL(folder, args[0]); err == nil {
			fmt.Fprintf(a.out, "\nWeb: %s\n", u)
		}
	}
	a.mailbox.Thread.Wait()
	return nil
}

func (a *app) star(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: star <thread>")
	}
	if err := a.mailbox.Thread.Open(ctx, a.mailbox.Identity(), args[0]); err != nil {
		return err
	}
	a.mailbox.Thread.Wait()
	return a.mailbox.Thread.ToggleStar(ctx)
}

// selectThreads loads the active folder and selects ids in order
func (a *app) selectThreads(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return services.ErrNothingSelected
	}
	folder, err := a.folder()
	if err != nil {
		return err
	}
	if err := a.mailbox.Start(ctx, folder, a.opts.search); err != nil {
		return err
	}
	for _, id := range ids {
		if !a.mailbox.Selection.Contains(id) {
			a.mailbox.Selection.Activate(services.ModeMass, mail.Thread{ID: id}, nil)
		}
	}
	return nil
}

func (a *app) move(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: move <dest> <thread>...")
	}
	dest, err := mail.ParseDestination(args[0])
	if err != nil {
		return err
	}
	folder, err := a.folder()
	if err != nil {
		return err
	}
	if !destinationAllowed(a.mailbox.Bulk.AvailableActions(folder), dest) {
		return fmt.Errorf("%w: cannot move from %s to %s", services.ErrDestinationForbidden, folder, dest)
	}
	if err := a.selectThreads(ctx, args[1:]); err != nil {
		return err
	}
	return a.mailbox.Bulk.Move(ctx, dest)
}

func destinationAllowed(allowed []mail.Destination, d mail.Destination) bool {
	for _, a := range allowed {
		if a == d {
			return true
		}
	}
	return false
}

func (a *app) markRead(ctx context.Context, args []string) error {
	if err := a.selectThreads(ctx, args); err != nil {
		return err
	}
	return a.mailbox.Bulk.MarkRead(ctx)
}

func (a *app) markUnread(ctx context.Context, args []string) error {
	if err := a.selectThreads(ctx, args); err != nil {
		return err
	}
	return a.mailbox.Bulk.MarkUnread(ctx)
}

func (a *app) label(ctx context.Context, args []string) error {
	add, remove, ids, err := parseLabelArgs(args)
	if err != nil {
		return err
	}
	if err := a.selectThreads(ctx, ids); err != nil {
		return err
	}
	return a.mailbox.Bulk.ModifyLabels(ctx, add, remove)
}

// parseLabelArgs splits "+A -B -- t1 t2" into label changes and thread ids
func parseLabelArgs(args []string) (add, remove, ids []string, err error) {
	sep := -1
	for i, arg := range args {
		if arg == "--" {
			sep = i
			break
		}
	}
	if sep < 0 {
		return nil, nil, nil, fmt.Errorf("usage: label <+L|-L>... -- <thread>...")
	}
	for _, arg := range args[:sep] {
		switch {
		case len(arg) > 1 && arg[0] == '+':
			add = append(add, arg[1:])
		case len(arg) > 1 && arg[0] == '-':
			remove = append(remove, arg[1:])
		default:
			return nil, nil, nil, fmt.Errorf("label %q must start with + or -", arg)
		}
	}
	ids = args[sep+1:]
	if len(add)+len(remove) == 0 || len(ids) == 0 {
		return nil, nil, nil, fmt.Errorf("usage: label <+L|-L>... -- <thread>...")
	}
	return add, remove, ids, nil
}

func (a *app) unsubscribe(ctx context.Context, args []string) error {
	if err := a.selectThreads(ctx, args); err != nil {
		return err
	}
	res, err := a.mailbox.Bulk.Unsubscribe(ctx)
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		fmt.Fprintf(a.out, "  %v\n", e)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d unsubscribes failed", res.Failed, res.Processed+res.Failed)
	}
	return nil
}

func (a *app) stats(ctx context.Context, args []string) error {
	if err := a.mailbox.Stats.Load(ctx, a.mailbox.Identity()); err != nil {
		return err
	}
	for _, c := range a.mailbox.Stats.State().Counts {
		fmt.Fprintf(a.out, "%-10s %d\n", c.Label, c.Count)
	}
	return nil
}

func (a *app) threadNotes(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: notes <thread> [text]")
	}
	userID := a.connection.UserID
	if len(args) > 1 {
		n, err := a.notes.Create(ctx, userID, args[0], strings.Join(args[1:], " "), "")
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Added note %s\n", n.ID)
		return nil
	}
	notes, err := a.notes.ListByThread(ctx, userID, args[0])
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Fprintln(a.out, "No notes.")
		return nil
	}
	renderNotes(a.out, notes)
	return nil
}

func (a *app) accounts(ctx context.Context, args []string) error {
	list, err := a.connections.List(ctx, a.connection.UserID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return errors.New("no linked accounts")
	}
	for _, c := range list {
		marker := " "
		if c.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(a.out, "%s %s  %s\n", marker, c.Email, c.ID)
	}
	return nil
}
