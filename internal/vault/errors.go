package vault

import "errors"

var (
	// ErrDuplicateCredential is returned when a credential name is already taken.
	ErrDuplicateCredential = errors.New("credential name already exists")

	// ErrCredentialNotFound is returned when no credential exists under a name.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialInactive is returned when a soft-deleted credential is used.
	ErrCredentialInactive = errors.New("credential is not active")

	// ErrDecryptionFailed covers tampering, corruption and key mismatch.
	// Callers never see partially decrypted data.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNoMasterKey is returned when the vault is used without a configured
	// master encryption key.
	ErrNoMasterKey = errors.New("master encryption key is not configured")
)
