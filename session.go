package zinc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	toml "github.com/pelletier/go-toml/v2"
)

// ============================================================================
// Token Stores
// ============================================================================

// TokenStore persists the session token across process restarts.
type TokenStore interface {
	// Load returns the stored token, or "" if none is stored.
	Load() (string, error)
	// Save replaces the stored token.
	Save(token string) error
	// Clear removes the stored token entirely.
	Clear() error
}

// sessionFile is the on-disk TOML layout of the token file.
type sessionFile struct {
	Auth struct {
		Token string `toml:"token"`
	} `toml:"auth"`
}

// FileTokenStore stores the token in a TOML file, by default
// ~/.zinc/session.toml.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a store at the given path. An empty path selects
// the default location under the user's home directory.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, ".zinc", "session.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("cannot create session directory: %w", err)
	}
	return &FileTokenStore{path: path}, nil
}

func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("cannot read session file: %w", err)
	}
	var f sessionFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("cannot parse session file: %w", err)
	}
	return f.Auth.Token, nil
}

func (s *FileTokenStore) Save(token string) error {
	var f sessionFile
	f.Auth.Token = token
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("cannot marshal session file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write session file: %w", err)
	}
	return nil
}

func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove session file: %w", err)
	}
	return nil
}

// MemoryTokenStore is a non-durable store for tests and embedding.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryTokenStore) Save(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	return s.Save("")
}

// ============================================================================
// Session
// ============================================================================

// SessionState is the lifecycle phase of a Session.
type SessionState string

const (
	// SessionAnonymous — no token held.
	SessionAnonymous SessionState = "anonymous"
	// SessionPending — a token is held but the identity behind it has not
	// been resolved yet.
	SessionPending SessionState = "pending"
	// SessionAuthenticated — token and identity both resolved.
	SessionAuthenticated SessionState = "authenticated"
)

// Session is the single process-scoped authentication value: the token plus
// the identity it resolves to. Token mutations are persisted through the
// TokenStore and pushed to registered observers, so the API client's auth
// header and the channel manager always follow the current token.
type Session struct {
	store TokenStore

	mu        sync.RWMutex
	token     string
	user      *User
	observers []func(token string)
}

// NewSession restores a session from the store. A stored token puts the
// session in the pending state until the identity is resolved.
func NewSession(store TokenStore) (*Session, error) {
	token, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Session{store: store, token: token}, nil
}

// OnTokenChange registers an observer invoked after every token mutation with
// the new token ("" on clear). Observers run synchronously in mutation order.
func (s *Session) OnTokenChange(fn func(token string)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Token returns the current token and whether one is held.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// SetToken stores a new token durably and notifies observers.
func (s *Session) SetToken(token string) error {
	if err := s.store.Save(token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	observers := append([]func(string){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(token)
	}
	return nil
}

// ClearToken drops the token and identity, returning the session to the
// anonymous state, and notifies observers with "".
func (s *Session) ClearToken() error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = ""
	s.user = nil
	observers := append([]func(string){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn("")
	}
	return nil
}

// Identity returns the resolved user, or nil while anonymous or pending.
func (s *Session) Identity() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetIdentity resolves the session's identity, moving it to authenticated.
func (s *Session) SetIdentity(user *User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// MergeIdentity folds returned profile fields into the held identity without
// discarding fields the response omitted. A no-op while unauthenticated.
func (s *Session) MergeIdentity(update *User) {
	if update == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return
	}
	merged := *s.user
	if update.ID != "" {
		merged.ID = update.ID
	}
	if update.FullName != "" {
		merged.FullName = update.FullName
	}
	if update.Email != "" {
		merged.Email = update.Email
	}
	if update.Bio != "" {
		merged.Bio = update.Bio
	}
	if update.ProfilePic != "" {
		merged.ProfilePic = update.ProfilePic
	}
	s.user = &merged
}

// State reports the lifecycle phase: anonymous, pending, or authenticated.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.token == "":
		return SessionAnonymous
	case s.user == nil:
		return SessionPending
	default:
		return SessionAuthenticated
	}
}

// ExpiresAt extracts the expiry claim from the held token without verifying
// it. The token stays opaque otherwise; this exists so callers can show when
// a re-login will be needed.
func (s *Session) ExpiresAt() (time.Time, bool) {
	token, ok := s.Token()
	if !ok {
		return time.Time{}, false
	}
	return TokenExpiry(token)
}

// TokenExpiry reads the exp claim of a JWT without signature verification.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
