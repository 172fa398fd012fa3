// Package session persists browser login sessions between jobs, keyed by
// credential name. Session contents are opaque: the orchestrator only ever
// learns present, absent or invalid.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned when no usable session exists for a
// credential, whether absent, expired or from an incompatible version.
var ErrSessionNotFound = errors.New("session not found")

// blobVersion tags the envelope so a future session format can be detected
// instead of mis-parsed.
const blobVersion = 1

// Session wraps the driver's serialized state. Blob is never parsed here.
type Session struct {
	Version   int             `json:"version"`
	Blob      json.RawMessage `json:"blob"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Store keeps one session file per credential under the data dir. A save
// replaces any prior session; sessions are superseded, never merged.
type Store struct {
	baseDir string
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(baseDir string, ttl time.Duration) *Store {
	return NewStoreWithClock(baseDir, ttl, time.Now)
}

// NewStoreWithClock is used by tests that control time.
func NewStoreWithClock(baseDir string, ttl time.Duration, now func() time.Time) *Store {
	return &Store{baseDir: baseDir, ttl: ttl, now: now}
}

func (s *Store) path(credentialName string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_session.json", url.PathEscape(credentialName)))
}

// Load returns the live session for a credential. Expired sessions are
// removed on read.
func (s *Store) Load(credentialName string) (*Session, error) {
	data, err := os.ReadFile(s.path(credentialName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("error reading session file: %w", err)
	}

	sess := &Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		logrus.WithError(err).Warnf("Discarding unreadable session for %q", credentialName)
		_ = s.Invalidate(credentialName)
		return nil, ErrSessionNotFound
	}
	if sess.Version != blobVersion {
		logrus.Warnf("Discarding session for %q with unsupported version %d", credentialName, sess.Version)
		_ = s.Invalidate(credentialName)
		return nil, ErrSessionNotFound
	}
	if !s.now().Before(sess.ExpiresAt) {
		logrus.Debugf("Session for %q expired at %s", credentialName, sess.ExpiresAt)
		_ = s.Invalidate(credentialName)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Save replaces any prior session for the credential.
func (s *Store) Save(credentialName string, blob json.RawMessage) error {
	now := s.now()
	sess := Session{
		Version:   blobVersion,
		Blob:      blob,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}
	if err := os.MkdirAll(s.baseDir, 0o700); err != nil {
		return fmt.Errorf("error creating session dir: %w", err)
	}
	if err := os.WriteFile(s.path(credentialName), data, 0o600); err != nil {
		return fmt.Errorf("error saving session: %w", err)
	}
	logrus.Debugf("Saved session for %q, valid until %s", credentialName, sess.ExpiresAt)
	return nil
}

// Invalidate drops the stored session, forcing the next job for this
// credential to re-authenticate. Idempotent.
func (s *Store) Invalidate(credentialName string) error {
	err := os.Remove(s.path(credentialName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing session: %w", err)
	}
	return nil
}
