package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoteNotFound is returned when no note matches
var ErrNoteNotFound = errors.New("note not found")

// NoteColors are the colors a note can carry
var NoteColors = []string{"default", "red", "orange", "yellow", "green", "blue", "purple", "pink"}

// Note is a private annotation attached to a thread
type Note struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ThreadID  string `json:"thread_id"`
	Content   string `json:"content"`
	Color     string `json:"color"`
	IsPinned  bool   `json:"is_pinned"`
	SortOrder int    `json:"sort_order"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// NoteStore handles database operations for thread notes
type NoteStore struct {
	db *sql.DB
}

// NewNoteStore creates a new note store
func NewNoteStore(store *Store) *NoteStore {
	return &NoteStore{db: store.DB()}
}

const noteColumns = `id, user_id, thread_id, content, color, is_pinned, sort_order, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (*Note, error) {
	n := &Note{}
	if err := row.Scan(&n.ID, &n.UserID, &n.ThreadID, &n.Content, &n.Color, &n.IsPinned, &n.SortOrder, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return n, nil
}

func validColor(color string) bool {
	for _, c := range NoteColors {
		if c == color {
			return true
		}
	}
	return false
}

// Create adds a note at the end of the thread's notes
func (s *NoteStore) Create(ctx context.Context, userID, threadID, content, color string) (*Note, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("user_id and thread_id cannot be empty")
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("note content cannot be empty")
	}
	if color == "" {
		color = "default"
	}
	if !validColor(color) {
		return nil, fmt.Errorf("invalid note color: %s", color)
	}

	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sort_order), -1) + 1 FROM notes WHERE user_id = ? AND thread_id = ?`,
		userID, threadID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to compute note order: %w", err)
	}

	now := time.Now().Unix()
	n := &Note{
		ID:        uuid.NewString(),
		UserID:    userID,
		ThreadID:  threadID,
		Content:   content,
		Color:     color,
		SortOrder: next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.ThreadID, n.Content, n.Color, n.IsPinned, n.SortOrder, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return n, nil
}

// Get returns one note of a user
func (s *NoteStore) Get(ctx context.Context, userID, id string) (*Note, error) {
	n, err := scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

// ListByThread returns the notes of a thread, pinned first, then by sort order
func (s *NoteStore) ListByThread(ctx context.Context, userID, threadID string) ([]*Note, error) {
	return s.list(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE user_id = ? AND thread_id = ?
		ORDER BY is_pinned DESC, sort_order ASC, created_at ASC`, userID, threadID)
}

// ListAll returns every note of a user grouped by thread
func (s *NoteStore) ListAll(ctx context.Context, userID string) ([]*Note, error) {
	return s.list(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE user_id = ?
		ORDER BY thread_id ASC, is_pinned DESC, sort_order ASC, created_at ASC`, userID)
}

func (s *NoteStore) list(ctx context.Context, query string, args ...any) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Update replaces the content and color of a note. An empty color keeps the current one.
func (s *NoteStore) Update(ctx context.Context, userID, id, content, color string) (*Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("note content cannot be empty")
	}
	if color != "" && !validColor(color) {
		return nil, fmt.Errorf("invalid note color: %s", color)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET
			content = ?,
			color = CASE WHEN ? = '' THEN color ELSE ? END,
			updated_at = ?
		WHERE id = ? AND user_id = ?`,
		content, color, color, time.Now().Unix(), id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNoteNotFound
	}
	return s.Get(ctx, userID, id)
}

// SetPinned pins or unpins a note
func (s *NoteStore) SetPinned(ctx context.Context, userID, id string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET is_pinned = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		pinned, time.Now().Unix(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to pin note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoteNotFound
	}
	return nil
}

// Reorder assigns sort orders following ids. Every id must belong to the thread.
func (s *NoteStore) Reorder(ctx context.Context, userID, threadID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for i, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE notes SET sort_order = ?, updated_at = ?
			WHERE id = ? AND user_id = ? AND thread_id = ?`,
			i, now, id, userID, threadID)
		if err != nil {
			return fmt.Errorf("failed to reorder notes: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("note %s: %w", id, ErrNoteNotFound)
		}
	}
	return tx.Commit()
}

// Delete removes a note
func (s *NoteStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoteNotFound
	}
	return nil
}
