package credentials

import (
	"crypto/rand"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// DefaultSalt is used when the configuration does not provide one.
const DefaultSalt = "go-linkd/credentials/v1"

// Sealer encrypts credential material with XChaCha20-Poly1305.
// Sealed format: [24-byte nonce][ciphertext+tag]. The session code is bound
// as additional data so entries cannot be swapped between codes.
type Sealer struct {
	key []byte
}

// NewSealer derives a key from passphrase and salt.
func NewSealer(passphrase, salt string) (*Sealer, error) {
	if passphrase == "" {
		return nil, oops.Errorf("sealer passphrase must not be empty")
	}
	if salt == "" {
		salt = DefaultSalt
	}
	key := argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return &Sealer{key: key}, nil
}

// Seal encrypts data for code.
func (s *Sealer) Seal(code string, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, oops.Errorf("failed to create XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, oops.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, data, []byte(code)), nil
}

// Open decrypts data sealed for code.
func (s *Sealer) Open(code string, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, oops.Errorf("failed to create XChaCha20-Poly1305 cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, oops.Wrapf(ErrSealed, "sealed data too short for %s", code)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(code))
	if err != nil {
		return nil, oops.Wrapf(ErrSealed, "authentication failed for %s", code)
	}
	return plain, nil
}
