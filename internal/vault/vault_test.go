package vault_test

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scrapeworks/osint-worker/internal/store"
	"github.com/scrapeworks/osint-worker/internal/vault"
)

// memCredentialStore keeps credentials in a map, mirroring the store's
// duplicate/not-found behavior.
type memCredentialStore struct {
	mu     sync.Mutex
	nextID int64
	creds  map[string]*store.Credential
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{creds: map[string]*store.Credential{}}
}

func (m *memCredentialStore) CreateCredential(_ context.Context, c *store.Credential) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.creds[c.Name]; exists {
		return 0, store.ErrAlreadyExists
	}
	m.nextID++
	stored := *c
	stored.ID = m.nextID
	stored.IsActive = true
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.creds[c.Name] = &stored
	return stored.ID, nil
}

func (m *memCredentialStore) GetCredentialByName(_ context.Context, name string) (*store.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCredentialStore) ListCredentials(_ context.Context) ([]*store.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Credential, 0, len(m.creds))
	for _, c := range m.creds {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memCredentialStore) UpdateCredentialSecret(_ context.Context, name, encryptedSecret, salt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[name]
	if !ok {
		return store.ErrNotFound
	}
	c.EncryptedSecret = encryptedSecret
	c.Salt = salt
	c.UpdatedAt = time.Now()
	return nil
}

func (m *memCredentialStore) SetCredentialActive(_ context.Context, name string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[name]
	if !ok {
		return store.ErrNotFound
	}
	c.IsActive = active
	return nil
}

func (m *memCredentialStore) RecordLoginOutcome(_ context.Context, name string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[name]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	c.LastLoginAttempt = &now
	if success {
		c.LoginSuccessCount++
	} else {
		c.LoginFailureCount++
	}
	return nil
}

var _ = Describe("Vault", func() {
	var cs *memCredentialStore
	var v *vault.Vault
	ctx := context.Background()

	BeforeEach(func() {
		cs = newMemCredentialStore()
		v = vault.New("unit-test-master-key", cs)
	})

	It("round-trips a stored secret", func() {
		_, err := v.Store(ctx, "main", "alice", "hunter2")
		Expect(err).ToNot(HaveOccurred())

		username, secret, err := v.Reveal(ctx, "main")
		Expect(err).ToNot(HaveOccurred())
		Expect(username).To(Equal("alice"))
		Expect(secret).To(Equal("hunter2"))
	})

	It("never persists the plaintext secret", func() {
		_, err := v.Store(ctx, "main", "alice", "hunter2")
		Expect(err).ToNot(HaveOccurred())

		stored, err := cs.GetCredentialByName(ctx, "main")
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.EncryptedSecret).ToNot(ContainSubstring("hunter2"))
		Expect(stored.Salt).ToNot(BeEmpty())
	})

	It("rejects a duplicate name and leaves the original untouched", func() {
		_, err := v.Store(ctx, "main", "alice", "hunter2")
		Expect(err).ToNot(HaveOccurred())

		_, err = v.Store(ctx, "main", "mallory", "stolen")
		Expect(err).To(MatchError(vault.ErrDuplicateCredential))

		username, secret, err := v.Reveal(ctx, "main")
		Expect(err).ToNot(HaveOccurred())
		Expect(username).To(Equal("alice"))
		Expect(secret).To(Equal("hunter2"))
	})

	It("uses a distinct salt per credential", func() {
		_, err := v.Store(ctx, "one", "alice", "s3cret")
		Expect(err).ToNot(HaveOccurred())
		_, err = v.Store(ctx, "two", "bob", "s3cret")
		Expect(err).ToNot(HaveOccurred())

		a, _ := cs.GetCredentialByName(ctx, "one")
		b, _ := cs.GetCredentialByName(ctx, "two")
		Expect(a.Salt).ToNot(Equal(b.Salt))
		Expect(a.EncryptedSecret).ToNot(Equal(b.EncryptedSecret))
	})

	It("fails with DecryptionFailed when the ciphertext is tampered", func() {
		_, err := v.Store(ctx, "main", "alice", "hunter2")
		Expect(err).ToNot(HaveOccurred())

		stored, _ := cs.GetCredentialByName(ctx, "main")
		raw, err := base64.StdEncoding.DecodeString(stored.EncryptedSecret)
		Expect(err).ToNot(HaveOccurred())
		raw[len(raw)-1] ^= 0x01
		Expect(cs.UpdateCredentialSecret(ctx, "main",
			base64.StdEncoding.EncodeToString(raw), stored.Salt)).To(Succeed())

		_, _, err = v.Reveal(ctx, "main")
		Expect(err).To(MatchError(vault.ErrDecryptionFailed))
	})

	It("returns NotFound for unknown names", func() {
		_, _, err := v.Reveal(ctx, "ghost")
		Expect(err).To(MatchError(vault.ErrCredentialNotFound))
	})

	It("refuses to reveal a deactivated credential", func() {
		_, err := v.Store(ctx, "main", "alice", "hunter2")
		Expect(err).ToNot(HaveOccurred())
		Expect(v.Deactivate(ctx, "main")).To(Succeed())

		_, _, err = v.Reveal(ctx, "main")
		Expect(err).To(MatchError(vault.ErrCredentialInactive))
	})

	It("rotates the secret under a fresh salt", func() {
		_, err := v.Store(ctx, "main", "alice", "old-secret")
		Expect(err).ToNot(HaveOccurred())
		before, _ := cs.GetCredentialByName(ctx, "main")

		Expect(v.Rotate(ctx, "main", "new-secret")).To(Succeed())
		after, _ := cs.GetCredentialByName(ctx, "main")
		Expect(after.Salt).ToNot(Equal(before.Salt))

		_, secret, err := v.Reveal(ctx, "main")
		Expect(err).ToNot(HaveOccurred())
		Expect(secret).To(Equal("new-secret"))
	})

	It("tracks login outcomes without failing the caller", func() {
		_, err := v.Store(ctx, "main", "alice", "hunter2")
		Expect(err).ToNot(HaveOccurred())

		v.RecordLoginOutcome(ctx, "main", true)
		v.RecordLoginOutcome(ctx, "main", false)
		v.RecordLoginOutcome(ctx, "ghost", true) // logged, not surfaced

		stored, _ := cs.GetCredentialByName(ctx, "main")
		Expect(stored.LoginSuccessCount).To(Equal(1))
		Expect(stored.LoginFailureCount).To(Equal(1))
		Expect(stored.LastLoginAttempt).ToNot(BeNil())
	})

	It("fails closed without a master key", func() {
		empty := vault.New("", cs)
		_, err := empty.Store(ctx, "main", "alice", "hunter2")
		Expect(err).To(MatchError(vault.ErrNoMasterKey))
	})
})
