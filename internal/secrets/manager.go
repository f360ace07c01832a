package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/revittco/toolgate/internal/store"
)

// Manager stores the secret region of an integration's config as a single
// age-encrypted key/value blob on the integration record. Secret values
// never leave this package in any listing; List returns key names only.
type Manager struct {
	store     store.IntegrationStore
	encryptor *AgeEncryptor
}

// NewManager creates a secrets Manager.
func NewManager(s store.IntegrationStore, enc *AgeEncryptor) *Manager {
	return &Manager{store: s, encryptor: enc}
}

// SetAll replaces the whole secret region of an integration.
func (m *Manager) SetAll(ctx context.Context, integrationID string, values map[string]string) error {
	encrypted, err := m.encryptSecrets(values)
	if err != nil {
		return err
	}
	if err := m.store.UpdateEncryptedSecrets(ctx, integrationID, encrypted); err != nil {
		return fmt.Errorf("update secrets for %s: %w", integrationID, err)
	}
	return nil
}

// Seal encrypts a secret region without touching the store. Used when the
// blob is written as part of a larger record upsert.
func (m *Manager) Seal(values map[string]string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return m.encryptSecrets(values)
}

// Put encrypts and stores one secret under the given integration and key.
func (m *Manager) Put(ctx context.Context, integrationID, key string, plaintext []byte) error {
	integ, err := m.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("get integration %s: %w", integrationID, err)
	}

	values, err := m.decryptSecrets(integ.EncryptedSecrets)
	if err != nil {
		return err
	}
	values[key] = string(plaintext)
	return m.SetAll(ctx, integrationID, values)
}

// Get decrypts and returns one secret. Values of the form "env:NAME" are
// indirections resolved from the process environment at use time, so a
// deployment can keep the actual material outside the database.
func (m *Manager) Get(ctx context.Context, integrationID, key string) ([]byte, error) {
	integ, err := m.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("get integration %s: %w", integrationID, err)
	}

	values, err := m.decryptSecrets(integ.EncryptedSecrets)
	if err != nil {
		return nil, err
	}
	val, ok := values[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return resolveValue(val)
}

// List returns all secret key names for the given integration (no values).
func (m *Manager) List(ctx context.Context, integrationID string) ([]string, error) {
	integ, err := m.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("get integration %s: %w", integrationID, err)
	}
	return m.Keys(integ.EncryptedSecrets)
}

// Keys decodes key names from an encrypted blob (no values).
func (m *Manager) Keys(blob []byte) ([]string, error) {
	values, err := m.decryptSecrets(blob)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	return keys, nil
}

// Delete removes a secret key from the given integration.
func (m *Manager) Delete(ctx context.Context, integrationID, key string) error {
	integ, err := m.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("get integration %s: %w", integrationID, err)
	}

	values, err := m.decryptSecrets(integ.EncryptedSecrets)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return store.ErrNotFound
	}
	delete(values, key)
	return m.SetAll(ctx, integrationID, values)
}

// resolveValue dereferences "env:NAME" indirections.
func resolveValue(val string) ([]byte, error) {
	if name, ok := strings.CutPrefix(val, "env:"); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty env name in secret ref")
		}
		resolved := os.Getenv(name)
		if resolved == "" {
			return nil, fmt.Errorf("secret env %q is empty", name)
		}
		return []byte(resolved), nil
	}
	return []byte(val), nil
}

func (m *Manager) decryptSecrets(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return make(map[string]string), nil
	}

	plaintext, err := m.encryptor.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("unmarshal secrets: %w", err)
	}
	return values, nil
}

func (m *Manager) encryptSecrets(values map[string]string) ([]byte, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}

	encrypted, err := m.encryptor.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("encrypt secrets: %w", err)
	}
	return encrypted, nil
}
