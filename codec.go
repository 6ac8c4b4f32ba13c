package fieldcrypt

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var errNoCodec = errors.New("fieldcrypt: EncryptedString has no codec")

// ColumnLengthMultiplier is the recommended text column size per expected
// plaintext character for encrypted columns.
const ColumnLengthMultiplier = 16

// Encrypter is the pair of operations the storage codec needs.
// *Service implements it.
type Encrypter interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(envelope []byte) (string, error)
}

// FieldCodec converts field values to and from their stored text form,
// hex(nonce || ciphertext || tag). It has no state of its own and is safe
// for concurrent use if its Encrypter is.
type FieldCodec struct {
	enc Encrypter
}

// NewFieldCodec returns a codec that encrypts with enc.
func NewFieldCodec(enc Encrypter) *FieldCodec {
	return &FieldCodec{enc: enc}
}

// EncodeForStorage encrypts plaintext and hex-encodes the envelope.
// Returns nil if plaintext is nil (NULL preservation).
func (c *FieldCodec) EncodeForStorage(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	envelope, err := c.enc.Encrypt(*plaintext)
	if err != nil {
		return nil, err
	}
	stored := hex.EncodeToString(envelope)
	return &stored, nil
}

// DecodeFromStorage hex-decodes and decrypts a stored value.
// Returns nil if stored is nil (NULL preservation). Authentication and decoding
// failures are returned as-is; a tampered value is never turned into "".
func (c *FieldCodec) DecodeFromStorage(stored *string) (*string, error) {
	if stored == nil {
		return nil, nil
	}
	envelope, err := hex.DecodeString(*stored)
	if err != nil {
		return nil, fmt.Errorf("%w: stored value is not hex: %v", ErrDecoding, err)
	}
	plaintext, err := c.enc.Decrypt(envelope)
	if err != nil {
		return nil, err
	}
	return &plaintext, nil
}

// EncodeString is EncodeForStorage for a non-NULL value.
func (c *FieldCodec) EncodeString(plaintext string) (string, error) {
	stored, err := c.EncodeForStorage(&plaintext)
	if err != nil {
		return "", err
	}
	return *stored, nil
}

// DecodeString is DecodeFromStorage for a non-NULL value.
func (c *FieldCodec) DecodeString(stored string) (string, error) {
	plaintext, err := c.DecodeFromStorage(&stored)
	if err != nil {
		return "", err
	}
	return *plaintext, nil
}

// EncodedLen returns the stored length in hex characters for a plaintext of
// n UTF-8 bytes: 2 * (12 + n + 16), or 0 for the empty string.
func EncodedLen(n int) int {
	return 2 * EnvelopeLen(n)
}

// RecommendedColumnLength returns a text column size for values expected to be
// up to expected characters long. Multi-byte text needs the extra headroom.
func RecommendedColumnLength(expected int) int {
	n := expected * ColumnLengthMultiplier
	if floor := EncodedLen(expected); n < floor {
		return floor
	}
	return n
}

// EncodeJSON marshals data to JSON and encodes it for storage.
func EncodeJSON[T any](c *FieldCodec, data T) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return c.EncodeString(string(b))
}

// DecodeJSON decodes a stored value and unmarshals its JSON.
func DecodeJSON[T any](c *FieldCodec, stored string) (T, error) {
	var zero T
	plaintext, err := c.DecodeString(stored)
	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal([]byte(plaintext), &result); err != nil {
		return zero, err
	}
	return result, nil
}

// EncryptedString is a nullable string column that is encrypted transparently.
// It implements sql.Scanner and driver.Valuer; Codec must be set before use.
//
//	var email = fieldcrypt.EncryptedString{Codec: codec}
//	err := db.QueryRow("SELECT email FROM users WHERE id = ?", id).Scan(&email)
type EncryptedString struct {
	Codec     *FieldCodec
	Plaintext *string
}

// Value implements driver.Valuer.
func (e EncryptedString) Value() (driver.Value, error) {
	if e.Codec == nil {
		return nil, errNoCodec
	}
	stored, err := e.Codec.EncodeForStorage(e.Plaintext)
	if err != nil || stored == nil {
		return nil, err
	}
	return *stored, nil
}

// Scan implements sql.Scanner.
func (e *EncryptedString) Scan(src interface{}) error {
	if e.Codec == nil {
		return errNoCodec
	}

	var stored *string
	switch v := src.(type) {
	case nil:
	case string:
		stored = &v
	case []byte:
		s := string(v)
		stored = &s
	default:
		return fmt.Errorf("%w: cannot scan %T into EncryptedString", ErrDecoding, src)
	}

	plaintext, err := e.Codec.DecodeFromStorage(stored)
	if err != nil {
		return err
	}
	e.Plaintext = plaintext
	return nil
}
