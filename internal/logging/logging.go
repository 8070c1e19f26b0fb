// Package logging opens the application log file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

// Prefix tags every log line
const Prefix = "[mailzero] "

// FileName is the default log file inside the log directory
const FileName = "mailzero.log"

// New returns a logger writing to w with the standard prefix and flags
func New(w io.Writer) *log.Logger {
	return log.New(w, Prefix, log.LstdFlags|log.Lmicroseconds)
}

// Discard returns a logger that drops everything
func Discard() *log.Logger {
	return New(io.Discard)
}

// Open creates a file logger at path, or at dir/mailzero.log when path is
// empty. The returned closer must be called on shutdown. When the file cannot
// be opened the logger discards output and the error is returned alongside it.
func Open(path, dir string) (*log.Logger, io.Closer, error) {
	if path == "" {
		if dir == "" {
			return Discard(), nopCloser{}, nil
		}
		path = filepath.Join(dir, FileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Discard(), nopCloser{}, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Discard(), nopCloser{}, err
	}
	return New(f), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
