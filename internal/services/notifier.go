package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// LogLevel represents the severity of a message
type LogLevel int

const (
	LogLevelInfo LogLevel = iota
	LogLevelWarning
	LogLevelError
	LogLevelSuccess
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelSuccess:
		return "SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// WriterNotifier prints notifications as single lines and mirrors them to the log
type WriterNotifier struct {
	mu       sync.Mutex
	out      io.Writer
	logger   *log.Logger
	progress string
}

// NewWriterNotifier creates a notifier writing to out
func NewWriterNotifier(out io.Writer, logger *log.Logger) *WriterNotifier {
	return &WriterNotifier{out: out, logger: logger}
}

// ShowMessage displays a message to the user
func (n *WriterNotifier) ShowMessage(ctx context.Context, msg string, level LogLevel) {
	if strings.TrimSpace(msg) == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.logger != nil {
		n.logger.Printf("%s: %s", level, msg)
	}
	if n.out != nil {
		fmt.Fprintln(n.out, formatMessage(msg, level))
	}
}

func formatMessage(msg string, level LogLevel) string {
	var icon string
	switch level {
	case LogLevelInfo:
		icon = "ℹ️"
	case LogLevelWarning:
		icon = "⚠️"
	case LogLevelError:
		icon = "❌"
	case LogLevelSuccess:
		icon = "✅"
	default:
		icon = "•"
	}
	return fmt.Sprintf("%s %s", icon, msg)
}

// ShowProgress shows a progress message until ClearProgress
func (n *WriterNotifier) ShowProgress(ctx context.Context, msg string) {
	n.mu.Lock()
	n.progress = msg
	n.mu.Unlock()
	n.ShowMessage(ctx, msg, LogLevelInfo)
}

// ClearProgress clears any progress message
func (n *WriterNotifier) ClearProgress() {
	n.mu.Lock()
	n.progress = ""
	n.mu.Unlock()
}

// Progress returns the active progress message, if any
func (n *WriterNotifier) Progress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress
}

// ShowInfo shows an info message
func (n *WriterNotifier) ShowInfo(ctx context.Context, msg string) {
	n.ShowMessage(ctx, msg, LogLevelInfo)
}

// ShowWarning shows a warning message
func (n *WriterNotifier) ShowWarning(ctx context.Context, msg string) {
	n.ShowMessage(ctx, msg, LogLevelWarning)
}

// ShowError shows an error message
func (n *WriterNotifier) ShowError(ctx context.Context, msg string) {
	n.ShowMessage(ctx, msg, LogLevelError)
}

// ShowSuccess shows a success message
func (n *WriterNotifier) ShowSuccess(ctx context.Context, msg string) {
	n.ShowMessage(ctx, msg, LogLevelSuccess)
}
