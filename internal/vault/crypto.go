package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength      = 32
	saltLength     = 32
	kdfIterations  = 100_000
)

// generateSalt produces a unique per-credential salt. Salts are never
// reused across credentials, which keeps ciphertext non-replayable between
// them even under the same master key.
func generateSalt() (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.URLEncoding.EncodeToString(salt), nil
}

// deriveKey stretches the master key with the per-credential salt into a
// 256-bit AES key (PBKDF2-SHA256).
func deriveKey(masterKey, salt string) []byte {
	return pbkdf2.Key([]byte(masterKey), []byte(salt), kdfIterations, keyLength, sha256.New)
}

// encryptSecret seals a plaintext secret with AES-GCM under the derived
// key. The random nonce is prepended to the ciphertext and the whole blob
// is base64 encoded.
func encryptSecret(masterKey, salt, plainText string) (string, error) {
	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return "", err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	cipherText := aesGCM.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(cipherText), nil
}

// decryptSecret opens a sealed secret. Any failure, whether a malformed
// blob, a truncated nonce or a bad auth tag, comes back as
// ErrDecryptionFailed so garbage plaintext can never leak through.
func decryptSecret(masterKey, salt, encryptedText string) (string, error) {
	cipherText, err := base64.StdEncoding.DecodeString(encryptedText)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return "", ErrDecryptionFailed
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := aesGCM.NonceSize()
	if len(cipherText) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, cipherText := cipherText[:nonceSize], cipherText[nonceSize:]
	plainText, err := aesGCM.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plainText), nil
}
