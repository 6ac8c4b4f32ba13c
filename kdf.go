package fieldcrypt

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyPurpose is the HKDF info string that separates derived keys.
type KeyPurpose string

const (
	// PurposeEncryption derives the AES-256-GCM key.
	PurposeEncryption KeyPurpose = "encryption-aes-gcm-v1"
	// PurposeBlindIndex derives the HMAC-SHA256 blind index key.
	PurposeBlindIndex KeyPurpose = "blind-index-hmac-v1"
)

const (
	// MasterKeySize is the required master key length in bytes.
	MasterKeySize = 32

	derivedKeySize = 32

	// maxDerivedLength is the RFC 5869 output limit for SHA-256 (255 * HashLen).
	maxDerivedLength = 255 * sha256.Size
)

// DefaultSalt is the HKDF salt used unless WithSalt is given.
// Changing it invalidates every stored ciphertext and blind index.
var DefaultSalt = []byte("admin-system-core-encryption-salt-v1")

// derivedKeys holds the two purpose keys, computed once at construction.
type derivedKeys struct {
	encryption [derivedKeySize]byte
	index      [derivedKeySize]byte
}

// KeyDeriver derives purpose-scoped keys from a master key using HKDF-SHA256.
// It is safe for concurrent use.
type KeyDeriver struct {
	masterKey []byte
	salt      []byte
	keys      derivedKeys
}

// NewKeyDeriver creates a KeyDeriver. The master key must be exactly 32 bytes.
// A nil or empty salt selects DefaultSalt. Both inputs are copied.
func NewKeyDeriver(masterKey, salt []byte) (*KeyDeriver, error) {
	if len(masterKey) != MasterKeySize {
		return nil, ErrInvalidKeyLength
	}
	if len(salt) == 0 {
		salt = DefaultSalt
	}

	d := &KeyDeriver{
		masterKey: append([]byte(nil), masterKey...),
		salt:      append([]byte(nil), salt...),
	}

	if err := d.hkdfDerive(PurposeEncryption, d.keys.encryption[:]); err != nil {
		return nil, err
	}
	if err := d.hkdfDerive(PurposeBlindIndex, d.keys.index[:]); err != nil {
		return nil, err
	}

	return d, nil
}

// DeriveKey returns length bytes of HKDF-SHA256(masterKey, salt, info=purpose).
// The result is deterministic for a given master key, salt, purpose and length.
func (d *KeyDeriver) DeriveKey(purpose KeyPurpose, length int) ([]byte, error) {
	if length < 1 || length > maxDerivedLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDerivedLength, length)
	}

	if length == derivedKeySize {
		switch purpose {
		case PurposeEncryption:
			return d.EncryptionKey(), nil
		case PurposeBlindIndex:
			return d.IndexKey(), nil
		}
	}

	out := make([]byte, length)
	if err := d.hkdfDerive(purpose, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncryptionKey returns a copy of the derived encryption key.
func (d *KeyDeriver) EncryptionKey() []byte {
	return append([]byte(nil), d.keys.encryption[:]...)
}

// IndexKey returns a copy of the derived blind index key.
func (d *KeyDeriver) IndexKey() []byte {
	return append([]byte(nil), d.keys.index[:]...)
}

// Close zeros the master key and derived keys.
func (d *KeyDeriver) Close() {
	zero(d.masterKey)
	zero(d.keys.encryption[:])
	zero(d.keys.index[:])
	d.masterKey = nil
}

func (d *KeyDeriver) hkdfDerive(purpose KeyPurpose, out []byte) error {
	reader := hkdf.New(sha256.New, d.masterKey, d.salt, []byte(purpose))
	_, err := io.ReadFull(reader, out)
	return err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
