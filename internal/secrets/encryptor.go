package secrets

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// AgeEncryptor encrypts and decrypts secret blobs with an age X25519
// identity loaded from a key file.
type AgeEncryptor struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeEncryptor loads an age identity from the given key file. Lines
// starting with '#' are comments, matching age-keygen output.
func NewAgeEncryptor(keyPath string) (*AgeEncryptor, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		return &AgeEncryptor{identity: id, recipient: id.Recipient()}, nil
	}
	return nil, fmt.Errorf("no age identity found in %s", keyPath)
}

// GenerateKeyFile creates a new X25519 identity and writes it to path with
// 0600 permissions. Fails if the file already exists.
func GenerateKeyFile(path string) (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create key file: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "# public key: %s\n%s\n", id.Recipient(), id)
	if err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}
	return id.Recipient().String(), nil
}

// EnsureKeyFile loads the identity at path, generating one first if the
// file does not exist yet.
func EnsureKeyFile(path string) (*AgeEncryptor, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := GenerateKeyFile(path); err != nil {
			return nil, err
		}
	}
	return NewAgeEncryptor(path)
}

// NewEphemeralEncryptor creates an encryptor with a process-lifetime
// identity. Blobs sealed with it cannot be opened after a restart.
func NewEphemeralEncryptor() (*AgeEncryptor, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &AgeEncryptor{identity: id, recipient: id.Recipient()}, nil
}

// Encrypt seals plaintext to the encryptor's recipient.
func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close encryptor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt opens a blob sealed by Encrypt.
func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plaintext: %w", err)
	}
	return plaintext, nil
}
