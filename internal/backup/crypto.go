package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	saltSize  = 32
	nonceSize = 12
	tagSize   = 16

	serverKeyInfo = "prepflow-backup-v1"
)

// KDFParams are the Argon2id costs stored in password-mode containers.
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

var DefaultKDFParams = KDFParams{Time: 3, MemoryKB: 64 * 1024, Threads: 2}

// Ceilings for Argon2id costs. The header is read before authentication, so
// these cap the work an unauthenticated container can demand.
const (
	MaxKDFTime     = 6
	MaxKDFMemoryKB = 256 * 1024
	MaxKDFThreads  = 16
)

// Validate checks the costs against the bounds Decode accepts.
func (p KDFParams) Validate() error {
	if p.Time < 1 || p.Time > MaxKDFTime {
		return ErrInvalidKDFParams
	}
	if p.MemoryKB < 8 || p.MemoryKB > MaxKDFMemoryKB {
		return ErrInvalidKDFParams
	}
	if p.Threads < 1 || p.Threads > MaxKDFThreads {
		return ErrInvalidKDFParams
	}
	return nil
}

func deriveServerKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("backup: server secret is empty")
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, secret, salt, []byte(serverKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func derivePasswordKey(password string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKB, p.Threads, keySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal returns ciphertext with the 16-byte tag appended.
func seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// open reports any tag mismatch as ErrAuthFailed.
func open(key, nonce, ciphertextAndTag, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertextAndTag, aad)
	if err != nil {
		return nil, errors.Join(ErrAuthFailed, err)
	}
	return plaintext, nil
}
