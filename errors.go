package fieldcrypt

import "errors"

var (
	// ErrConfiguration indicates the service could not be built from its configuration.
	// It wraps ErrMissingMasterKey, ErrMalformedMasterKey or ErrInvalidKeyLength.
	ErrConfiguration = errors.New("fieldcrypt: configuration error")

	// ErrMissingMasterKey indicates no master key was supplied or configured.
	ErrMissingMasterKey = errors.New("fieldcrypt: master key not configured (generate with: fieldcrypt keygen)")

	// ErrMalformedMasterKey indicates the configured master key is not valid hex.
	ErrMalformedMasterKey = errors.New("fieldcrypt: master key must be hex encoded")

	// ErrInvalidKeyLength indicates the master key is not exactly 32 bytes.
	ErrInvalidKeyLength = errors.New("fieldcrypt: master key must be exactly 32 bytes (256 bits)")

	// ErrInvalidDerivedLength indicates an HKDF output length outside 1..8160 bytes.
	ErrInvalidDerivedLength = errors.New("fieldcrypt: invalid derived key length")

	// ErrInvalidEnvelope indicates a stored envelope is too short to hold a nonce.
	ErrInvalidEnvelope = errors.New("fieldcrypt: invalid ciphertext envelope")

	// ErrAuthentication indicates GCM tag verification failed (tampering, corruption,
	// wrong key or wrong key epoch).
	ErrAuthentication = errors.New("fieldcrypt: authentication failed")

	// ErrDecoding indicates a stored value is not valid hex or a decrypted value
	// is not valid UTF-8.
	ErrDecoding = errors.New("fieldcrypt: decoding failed")

	// ErrServiceClosed indicates the service was used after Close() was called.
	ErrServiceClosed = errors.New("fieldcrypt: service is closed")

	// ErrEpochMismatch indicates a migration was requested between unusable services.
	ErrEpochMismatch = errors.New("fieldcrypt: source and target key epochs must differ")
)
