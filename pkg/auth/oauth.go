package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// ErrTokenMissing means no stored token exists and consent has to be obtained first
var ErrTokenMissing = errors.New("no stored OAuth token")

// DefaultScopes are the Gmail scopes the data layer needs
var DefaultScopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}

// OAuth2Config holds OAuth2 configuration
type OAuth2Config struct {
	CredentialsPath string
	TokenPath       string
	Scopes          []string
}

// NewOAuth2Config creates a new OAuth2 configuration
func NewOAuth2Config(credentialsPath string, tokenPath string, scopes ...string) *OAuth2Config {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &OAuth2Config{
		CredentialsPath: credentialsPath,
		TokenPath:       tokenPath,
		Scopes:          scopes,
	}
}

// LoadCredentials loads OAuth2 credentials from file
func (c *OAuth2Config) LoadCredentials() (*oauth2.Config, error) {
	data, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(data, c.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file: %w", err)
	}

	return config, nil
}

// LoadToken loads cached token from file
func (c *OAuth2Config) LoadToken() (*oauth2.Token, error) {
	f, err := os.Open(c.TokenPath)
	if os.IsNotExist(err) {
		return nil, ErrTokenMissing
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("could not decode OAuth token: %w", err)
	}
	return token, nil
}

// SaveToken saves token to file
func (c *OAuth2Config) SaveToken(token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(c.TokenPath), 0o700); err != nil {
		return err
	}

	f, err := os.OpenFile(c.TokenPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("could not save OAuth token: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(token)
}

// AuthURL returns the consent URL for an offline token
func (c *OAuth2Config) AuthURL(state string) (string, error) {
	config, err := c.LoadCredentials()
	if err != nil {
		return "", err
	}
	return config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a token and stores it
func (c *OAuth2Config) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	config, err := c.LoadCredentials()
	if err != nil {
		return nil, err
	}
	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("could not exchange authorization code for token: %w", err)
	}
	if err := c.SaveToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

// TokenSource returns a refreshing token source backed by the token file.
// Refreshed tokens are written back to the file.
func (c *OAuth2Config) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	return c.TokenSourceWithSave(ctx, c.SaveToken)
}

// TokenSourceWithSave is TokenSource with a custom persistence hook
func (c *OAuth2Config) TokenSourceWithSave(ctx context.Context, save func(*oauth2.Token) error) (oauth2.TokenSource, error) {
	config, err := c.LoadCredentials()
	if err != nil {
		return nil, err
	}
	token, err := c.LoadToken()
	if err != nil {
		return nil, err
	}
	return NewPersistingTokenSource(config.TokenSource(ctx, token), token, save), nil
}

// StoredToken builds a token from persisted fields
func StoredToken(accessToken, refreshToken string, expiry time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
}

// PersistingTokenSource calls save whenever the wrapped source hands out a new access token
type PersistingTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token) error
}

// NewPersistingTokenSource wraps base; initial is the token already persisted
func NewPersistingTokenSource(base oauth2.TokenSource, initial *oauth2.Token, save func(*oauth2.Token) error) *PersistingTokenSource {
	s := &PersistingTokenSource{base: base, save: save}
	if initial != nil {
		s.last = initial.AccessToken
	}
	return s
}

// Token implements oauth2.TokenSource
func (s *PersistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last && s.save != nil {
		if err := s.save(token); err != nil {
			return nil, fmt.Errorf("could not persist refreshed token: %w", err)
		}
	}
	s.last = token.AccessToken
	return token, nil
}

// NewGmailService creates a Gmail service authorized by ts
func NewGmailService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*gmail.Service, error) {
	if ts == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create Gmail service: %w", err)
	}
	return service, nil
}
