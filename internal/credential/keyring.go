package credential

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/99designs/keyring"
)

const (
	serviceName = "insync"

	// TokenKey is the well-known slot holding the bearer token.
	TokenKey = "access-token"
)

// TokenStore is the single durable slot for the session's bearer token.
// Load returns an empty string and no error when nothing is stored.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// OpenKeyring returns a keyring configured for the InSync client. The file
// backend lives under dir and is only used when no OS keychain is available.
func OpenKeyring(dir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("insync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore keeps the token in a keyring.Keyring under TokenKey.
type KeyringStore struct {
	ring keyring.Keyring
	key  string
}

// NewKeyringStore wraps ring. Tests pass keyring.NewArrayKeyring(nil).
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring, key: TokenKey}
}

// Load retrieves the stored token.
func (s *KeyringStore) Load() (string, error) {
	item, err := s.ring.Get(s.key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("getting credential %q: %w", s.key, err)
	}
	return string(item.Data), nil
}

// Save stores token, replacing any previous value.
func (s *KeyringStore) Save(token string) error {
	err := s.ring.Set(keyring.Item{
		Key:   s.key,
		Data:  []byte(token),
		Label: "InSync access token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", s.key, err)
	}
	return nil
}

// Clear removes the stored token. Clearing an empty slot is not an error.
func (s *KeyringStore) Clear() error {
	err := s.ring.Remove(s.key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", s.key, err)
	}
	return nil
}

// MemoryStore is a process-local TokenStore.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore returns a MemoryStore seeded with token.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
