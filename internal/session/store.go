// Package session owns the process-wide authentication state: the bearer
// token, its expiry, and the cached profile of the signed-in user.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/insync/internal/credential"
	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/model"
)

// ErrUnauthenticated is returned when there is no valid session.
var ErrUnauthenticated = model.ErrUnauthenticated

// UserFetcher loads a user profile by id using the current token.
type UserFetcher interface {
	User(ctx context.Context, id string) (*model.User, error)
}

// Authenticator exchanges credentials for an access token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Store is the single session slot. It is safe for concurrent use.
type Store struct {
	tokens  credential.TokenStore
	fetcher UserFetcher
	now     func() time.Time
	log     *zap.Logger

	mu       sync.Mutex
	token    string
	user     *model.User
	onLogout []func()
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logging.Component(l, "session") }
}

// New loads the persisted token (if any) from tokens.
func New(tokens credential.TokenStore, fetcher UserFetcher, opts ...Option) (*Store, error) {
	s := &Store{
		tokens:  tokens,
		fetcher: fetcher,
		now:     time.Now,
		log:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	tok, err := tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("loading session token: %w", err)
	}
	s.token = tok
	return s, nil
}

// SaveToken persists token and makes it the current session. The cached
// user is dropped since it may belong to a different identity.
func (s *Store) SaveToken(token string) error {
	if err := s.tokens.Save(token); err != nil {
		return fmt.Errorf("saving session token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.user = nil
	s.mu.Unlock()
	return nil
}

// Token returns the stored token and whether one is present. It does not
// check expiry.
func (s *Store) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// BearerToken returns the stored token or "". It is the TokenFunc handed
// to the API client.
func (s *Store) BearerToken() string {
	if s == nil {
		return ""
	}
	tok, _ := s.Token()
	return tok
}

// IsExpired reports whether token is absent, malformed, missing its
// expiry claim, or past its expiry.
func (s *Store) IsExpired(token string) bool {
	return ExpiredAt(token, s.now())
}

// Valid reports whether the current token is present and unexpired.
func (s *Store) Valid() bool {
	tok, ok := s.Token()
	return ok && !s.IsExpired(tok)
}

// Identity returns the user id of a valid session, or "".
func (s *Store) Identity() string {
	tok, ok := s.Token()
	if !ok || s.IsExpired(tok) {
		return ""
	}
	claims, err := ParseClaims(tok)
	if err != nil {
		return ""
	}
	return claims.Subject
}

// Authorize gates a protected view. It is evaluated on every call; a
// present but expired token is cleared before ErrUnauthenticated is
// returned.
func (s *Store) Authorize() error {
	tok, ok := s.Token()
	if !ok {
		return ErrUnauthenticated
	}
	if s.IsExpired(tok) {
		s.log.Info("session expired")
		if err := s.Logout(); err != nil {
			s.log.Warn("clearing expired session", zap.Error(err))
		}
		return ErrUnauthenticated
	}
	return nil
}

// CurrentUser returns the signed-in user's profile, fetching it once per
// session.
func (s *Store) CurrentUser(ctx context.Context) (*model.User, error) {
	s.mu.Lock()
	tok := s.token
	cached := s.user
	s.mu.Unlock()

	if tok == "" || s.IsExpired(tok) {
		return nil, ErrUnauthenticated
	}
	if cached != nil {
		u := *cached
		return &u, nil
	}

	claims, err := ParseClaims(tok)
	if err != nil || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}

	// The fetcher reads the token back through BearerToken, so the lock
	// is not held here.
	u, err := s.fetcher.User(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}

	s.mu.Lock()
	if s.token == tok {
		cp := *u
		s.user = &cp
	}
	s.mu.Unlock()
	return u, nil
}

// Login authenticates with auth and stores the resulting token.
func (s *Store) Login(ctx context.Context, auth Authenticator, username, password string) error {
	tok, err := auth.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := s.SaveToken(tok); err != nil {
		return err
	}
	s.log.Info("logged in", zap.String("user_id", s.Identity()))
	return nil
}

// OnLogout registers fn to run whenever the session is cleared. Hooks run
// synchronously on the goroutine that cleared the session.
func (s *Store) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// Logout clears the token and cached user and runs the logout hooks.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	hooks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	if err := s.tokens.Clear(); err != nil {
		return fmt.Errorf("clearing session token: %w", err)
	}
	return nil
}
