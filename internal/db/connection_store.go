package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailzero/mailzero/internal/mail"
)

// ErrConnectionNotFound is returned when no connection matches
var ErrConnectionNotFound = errors.New("connection not found")

// Connection is a linked mailbox with its provider tokens
type Connection struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	ProviderID   string `json:"provider_id"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	ExpiresAt    int64  `json:"expires_at"`
	IsDefault    bool   `json:"is_default"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Identity returns the identity the connection browses as
func (c *Connection) Identity() mail.Identity {
	return mail.Identity{UserID: c.UserID, ConnectionID: c.ID}
}

// Expiry returns the access token expiry, zero when unknown
func (c *Connection) Expiry() time.Time {
	if c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.ExpiresAt, 0)
}

// ConnectionStore handles database operations for connections
type ConnectionStore struct {
	db *sql.DB
}

// NewConnectionStore creates a new connection store
func NewConnectionStore(store *Store) *ConnectionStore {
	return &ConnectionStore{db: store.DB()}
}

const connectionColumns = `id, user_id, email, name, provider_id, access_token, refresh_token, expires_at, is_default, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*Connection, error) {
	c := &Connection{}
	err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.Name, &c.ProviderID,
		&c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.IsDefault, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Save inserts a connection, or refreshes name and tokens when the user
// already linked the same email. The first connection of a user becomes the default.
func (s *ConnectionStore) Save(ctx context.Context, c Connection) (*Connection, error) {
	if strings.TrimSpace(c.UserID) == "" || strings.TrimSpace(c.Email) == "" {
		return nil, fmt.Errorf("user_id and email cannot be empty")
	}
	if c.ProviderID == "" {
		c.ProviderID = "google"
	}
	now := time.Now().Unix()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connections WHERE user_id = ?`, c.UserID).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count connections: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, user_id, email, name, provider_id, access_token, refresh_token, expires_at, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, email) DO UPDATE SET
			name = excluded.name,
			provider_id = excluded.provider_id,
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN connections.refresh_token ELSE excluded.refresh_token END,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		uuid.NewString(), c.UserID, c.Email, c.Name, c.ProviderID, c.AccessToken, c.RefreshToken,
		c.ExpiresAt, count == 0, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE user_id = ? AND email = ?`, c.UserID, c.Email)
	saved, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read saved connection: %w", err)
	}
	return saved, nil
}

// Get returns a connection by id
func (s *ConnectionStore) Get(ctx context.Context, id string) (*Connection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

// List returns the connections of a user, default first
func (s *ConnectionStore) List(ctx context.Context, userID string) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE user_id = ?
		ORDER BY is_default DESC, created_at ASC, email ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Default returns the default connection of a user
func (s *ConnectionStore) Default(ctx context.Context, userID string) (*Connection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+` FROM connections
		WHERE user_id = ? AND is_default = TRUE
		LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default connection: %w", err)
	}
	return c, nil
}

// SetDefault makes id the only default connection of its user
func (s *ConnectionStore) SetDefault(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE connections SET is_default = (id = ?) WHERE user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to set default connection: %w", err)
	}
	var found int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM connections WHERE id = ? AND user_id = ?`, id, userID).Scan(&found); err != nil {
		return fmt.Errorf("failed to verify connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 || found == 0 {
		return ErrConnectionNotFound
	}
	return tx.Commit()
}

// UpdateTokens stores a refreshed access token. An empty refresh token keeps the stored one.
func (s *ConnectionStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	var expiresAt int64
	if !expiry.IsZero() {
		expiresAt = expiry.Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET
			access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			expires_at = ?,
			updated_at = ?
		WHERE id = ?`,
		accessToken, refreshToken, refreshToken, expiresAt, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// Delete removes a connection and promotes another one to default if needed
func (s *ConnectionStore) Delete(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConnectionNotFound
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE connections SET is_default = TRUE
		WHERE id = (SELECT id FROM connections WHERE user_id = ? ORDER BY created_at ASC, email ASC LIMIT 1)
		AND NOT EXISTS (SELECT 1 FROM connections WHERE user_id = ? AND is_default = TRUE)`, userID, userID)
	if err != nil {
		return fmt.Errorf("failed to promote default connection: %w", err)
	}
	return tx.Commit()
}
