package fieldcrypt

// Envelope format (the at-rest wire format, stable within a key epoch):
// [nonce:12][AES-256-GCM ciphertext][tag:16]
//
// No version byte or key identifier is stored; the key epoch is implied by the
// service configuration that reads the column.

const (
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
	// Overhead is the number of bytes an envelope adds to the plaintext.
	Overhead = NonceSize + TagSize
)

// splitEnvelope separates the nonce from the sealed payload.
// Envelopes shorter than the nonce are rejected with ErrInvalidEnvelope.
func splitEnvelope(envelope []byte) (nonce, sealed []byte, err error) {
	if len(envelope) < NonceSize {
		return nil, nil, ErrInvalidEnvelope
	}
	return envelope[:NonceSize], envelope[NonceSize:], nil
}

// EnvelopeLen returns the envelope size in bytes for a plaintext of n UTF-8 bytes.
// Empty plaintext is never encrypted and has length 0.
func EnvelopeLen(n int) int {
	if n <= 0 {
		return 0
	}
	return Overhead + n
}
