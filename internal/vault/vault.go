// Package vault stores third-party login credentials under authenticated
// encryption and tracks their login-health signals.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/api/types"
	"github.com/scrapeworks/osint-worker/internal/store"
)

// CredentialStore is the persistence the vault runs on. *store.Store
// implements it against PostgreSQL.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *store.Credential) (int64, error)
	GetCredentialByName(ctx context.Context, name string) (*store.Credential, error)
	ListCredentials(ctx context.Context) ([]*store.Credential, error)
	UpdateCredentialSecret(ctx context.Context, name, encryptedSecret, salt string) error
	SetCredentialActive(ctx context.Context, name string, active bool) error
	RecordLoginOutcome(ctx context.Context, name string, success bool) error
}

// Vault encrypts secrets before they reach the store and decrypts them on
// demand. Each credential gets its own salt, so a derived key compromised
// for one credential opens nothing else.
type Vault struct {
	store     CredentialStore
	masterKey string
}

func New(masterKey string, cs CredentialStore) *Vault {
	if masterKey == "" {
		logrus.Warn("Vault created without a master encryption key; operations will fail")
	}
	return &Vault{store: cs, masterKey: masterKey}
}

// Store registers a new credential and returns its id. The secret is
// encrypted before it leaves this function; a duplicate name fails with
// ErrDuplicateCredential and leaves the original untouched.
func (v *Vault) Store(ctx context.Context, name, username, secret string) (int64, error) {
	if v.masterKey == "" {
		return 0, ErrNoMasterKey
	}
	name = strings.TrimSpace(name)
	if name == "" || username == "" || secret == "" {
		return 0, fmt.Errorf("name, username and secret are all required")
	}

	salt, err := generateSalt()
	if err != nil {
		return 0, err
	}
	encrypted, err := encryptSecret(v.masterKey, salt, secret)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	id, err := v.store.CreateCredential(ctx, &store.Credential{
		Name:            name,
		Username:        username,
		EncryptedSecret: encrypted,
		Salt:            salt,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return 0, ErrDuplicateCredential
		}
		return 0, err
	}
	logrus.Infof("Stored credential %q", name)
	return id, nil
}

// Reveal decrypts the secret stored under a name. Decryption failures are
// security-relevant and logged distinctly before being surfaced.
func (v *Vault) Reveal(ctx context.Context, name string) (username, secret string, err error) {
	if v.masterKey == "" {
		return "", "", ErrNoMasterKey
	}
	cred, err := v.store.GetCredentialByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", ErrCredentialNotFound
		}
		return "", "", err
	}
	if !cred.IsActive {
		return "", "", ErrCredentialInactive
	}

	secret, err = decryptSecret(v.masterKey, cred.Salt, cred.EncryptedSecret)
	if err != nil {
		logrus.WithField("credential", name).Error("SECURITY: stored credential failed authenticated decryption")
		return "", "", err
	}
	return cred.Username, secret, nil
}

// Rotate replaces the stored secret, generating a fresh salt so old
// ciphertext cannot be replayed against the new key.
func (v *Vault) Rotate(ctx context.Context, name, newSecret string) error {
	if v.masterKey == "" {
		return ErrNoMasterKey
	}
	if newSecret == "" {
		return fmt.Errorf("new secret is required")
	}

	salt, err := generateSalt()
	if err != nil {
		return err
	}
	encrypted, err := encryptSecret(v.masterKey, salt, newSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	if err := v.store.UpdateCredentialSecret(ctx, name, encrypted, salt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return err
	}
	logrus.Infof("Rotated credential %q", name)
	return nil
}

// Deactivate soft-deletes a credential. Audit rows may still reference it,
// so the record itself stays.
func (v *Vault) Deactivate(ctx context.Context, name string) error {
	if err := v.store.SetCredentialActive(ctx, name, false); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return err
	}
	return nil
}

// List returns secret-free views of all stored credentials.
func (v *Vault) List(ctx context.Context) ([]types.CredentialView, error) {
	creds, err := v.store.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]types.CredentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, c.View())
	}
	return views, nil
}

// RecordLoginOutcome bumps the matching login counter. Login health is
// best-effort telemetry: a failed counter write is logged, never surfaced
// to the caller.
func (v *Vault) RecordLoginOutcome(ctx context.Context, name string, success bool) {
	if err := v.store.RecordLoginOutcome(ctx, name, success); err != nil {
		logrus.WithError(err).Warnf("Failed to record login outcome for %q", name)
	}
}
