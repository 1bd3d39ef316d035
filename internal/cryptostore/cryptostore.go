// Package cryptostore implements authenticated encryption for the
// legacy RTMPS stream key, the one durable secret the ingress provisioning
// core hands off to its storage collaborator. No example in the reference
// corpus exercises AES-GCM directly, so this package is built from the
// standard library crypto/aes and crypto/cipher primitives, with key
// derivation delegated to golang.org/x/crypto/hkdf (the sibling of the
// pbkdf2 subpackage the broader dependency pack carries) since there is no
// end-user password to stretch here, only a root secret to expand.
package cryptostore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 16 // serialized as 32 hex chars, matching the spec's "iv(32 hex)" field
)

// Store encrypts and decrypts opaque secrets using AES-256-GCM, with the
// key derived via HKDF-SHA256 from a root secret.
type Store struct {
	key []byte
}

// New derives the encryption key from rootSecret and an application-fixed
// info string, so the same root secret never produces interchangeable keys
// across unrelated uses.
func New(rootSecret []byte) (*Store, error) {
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, rootSecret, nil, []byte("kidstream-ingress.legacy-stream-key"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return &Store{key: key}, nil
}

// Encrypt authenticated-encrypts plaintext, returning
// "iv(32 hex):tag(32 hex):data(hex)".
func (s *Store) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagSize := gcm.Overhead()
	data := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(iv), hex.EncodeToString(tag), hex.EncodeToString(data)), nil
}

// Decrypt reverses Encrypt. Legacy plaintext values (not in ciphertext
// shape) are rejected here; callers that must accept both on read should
// check IsCiphertext first and pass plaintext through unchanged.
func (s *Store) Decrypt(value string) (string, error) {
	iv, tag, data, err := splitCiphertext(value)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	sealed := append(append([]byte{}, data...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsCiphertext reports whether value has the canonical
// "iv(32 hex):tag(32 hex):data(hex)" shape. It returns false for arbitrary
// plaintext (including legacy unencrypted stream keys), so callers can
// branch read-time handling without false positives.
func IsCiphertext(value string) bool {
	_, _, _, err := splitCiphertext(value)
	return err == nil
}

func splitCiphertext(value string) (iv, tag, data []byte, err error) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("not ciphertext shape")
	}
	iv, err = hex.DecodeString(parts[0])
	if err != nil || len(iv) != nonceSize {
		return nil, nil, nil, fmt.Errorf("invalid iv segment")
	}
	tag, err = hex.DecodeString(parts[1])
	if err != nil || len(tag) != 16 {
		return nil, nil, nil, fmt.Errorf("invalid tag segment")
	}
	data, err = hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid data segment")
	}
	return iv, tag, data, nil
}
