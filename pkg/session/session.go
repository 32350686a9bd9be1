// Package session manages per-user state. Each user is identified by an
// opaque random key and owns a sectioned settings file plus at most one
// charge-history cache file. Sessions are created on the first successful
// OAuth exchange and persist indefinitely on disk.
package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"path/filepath"
	"strconv"
)

// Settings layout.
const (
	SectionUser     = "User"
	KeyToken        = "Token"
	KeyTimezone     = "Timezone"
	KeyDefaultPrice = "DefaultPrice"

	// Per-device sections are named after the din.
	KeyNickname = "nickname"
	KeyPrice    = "price"
)

const keyLength = 20
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewUserKey returns a fresh 20-character uppercase-alphanumeric user key.
// The keyspace is large enough that collisions are not checked for.
func NewUserKey() (string, error) {
	key := make([]byte, keyLength)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range key {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate user key: %w", err)
		}
		key[i] = keyAlphabet[n.Int64()]
	}
	return string(key), nil
}

// Session is the per-user context passed to every operation touching user
// state. It wraps the user's settings Store and locates the cache file.
type Session struct {
	Key       string
	CacheFile string
	store     Store
}

// New returns a Session backed by an arbitrary Store. The cache file path
// may be empty when the caller never touches charge history.
func New(key string, store Store, cacheFile string) *Session {
	return &Session{Key: key, CacheFile: cacheFile, store: store}
}

// RefreshToken returns the persisted OAuth refresh token, or "" if the user
// has not completed authorization.
func (s *Session) RefreshToken() (string, error) {
	token, _, err := s.store.Get(SectionUser, KeyToken)
	return token, err
}

// SetRefreshToken persists token, replacing any previous value. Tokens
// rotate on every exchange, so only the most recently stored value is valid.
func (s *Session) SetRefreshToken(token string) error {
	return s.store.Set(SectionUser, KeyToken, token)
}

// Timezone returns the user's configured IANA time zone name, or "".
func (s *Session) Timezone() (string, error) {
	tz, _, err := s.store.Get(SectionUser, KeyTimezone)
	return tz, err
}

func (s *Session) SetTimezone(tz string) error {
	return s.store.Set(SectionUser, KeyTimezone, tz)
}

func (s *Session) SetDefaultPrice(price string) error {
	return s.store.Set(SectionUser, KeyDefaultPrice, price)
}

func (s *Session) SetDeviceNickname(din, nickname string) error {
	return s.store.Set(din, KeyNickname, nickname)
}

func (s *Session) SetDevicePrice(din, price string) error {
	return s.store.Set(din, KeyPrice, price)
}

// Nickname returns the configured nickname for din, falling back to the din
// itself.
func (s *Session) Nickname(din string) string {
	nickname, ok, err := s.store.Get(din, KeyNickname)
	if err != nil || !ok || nickname == "" {
		return din
	}
	return nickname
}

// UnitPrice resolves the per-kWh price for din: the device's configured
// override if present, otherwise the user's default price. Prices are
// re-resolved on every call, so a settings change takes effect on the next
// aggregation even against a cached snapshot.
func (s *Session) UnitPrice(din string) (float64, error) {
	raw, ok, err := s.store.Get(din, KeyPrice)
	if err != nil {
		return 0, err
	}
	if !ok || raw == "" {
		raw, ok, err = s.store.Get(SectionUser, KeyDefaultPrice)
		if err != nil {
			return 0, err
		}
		if !ok || raw == "" {
			return 0, fmt.Errorf("%w: no price configured for device %s", ErrCorrupt, din)
		}
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid price %q for device %s", ErrCorrupt, raw, din)
	}
	return price, nil
}

// Manager opens and creates file-backed sessions rooted at a directory.
// Each user key maps to Root/<key>/ containing settings.ini and cache.json.
type Manager struct {
	Root string
}

func (m *Manager) dir(key string) string {
	return filepath.Join(m.Root, key)
}

// Open returns the Session for an existing user key. Opening a key that has
// never been created yields a Session with no refresh token on file.
func (m *Manager) Open(key string) *Session {
	dir := m.dir(key)
	return New(key, &FileStore{Path: filepath.Join(dir, "settings.ini")}, filepath.Join(dir, "cache.json"))
}

// Create generates a fresh user key and returns its Session.
func (m *Manager) Create() (*Session, error) {
	key, err := NewUserKey()
	if err != nil {
		return nil, err
	}
	return m.Open(key), nil
}
