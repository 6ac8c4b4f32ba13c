package fieldcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync/atomic"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Service provides authenticated field encryption and blind indexing.
// It is safe for concurrent use.
type Service struct {
	aead        cipher.AEAD
	indexKey    []byte
	epoch       Epoch
	strategy    keyStrategy
	placeholder PlaceholderStyle
	closed      atomic.Bool
}

// New creates a Service.
//
// The master key comes from WithMasterKey or WithHexMasterKey, else from the
// ConfigProvider (EnvProvider by default). The epoch comes from WithLegacyMode,
// else from the provider, else HKDF mode.
//
// Example:
//
//	svc, err := fieldcrypt.New(
//	    fieldcrypt.WithHexMasterKey(os.Getenv("SECURITY_KEY")),
//	)
func New(opts ...Option) (*Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	masterKey, err := resolveMasterKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	defer zero(masterKey)

	legacy, err := resolveLegacyMode(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	var strategy keyStrategy
	if legacy {
		strategy = newLegacyStrategy(masterKey)
	} else {
		strategy, err = newHKDFStrategy(masterKey, cfg.salt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	encKey := strategy.encryptionKey()
	block, err := aes.NewCipher(encKey)
	zero(encKey)
	if err != nil {
		strategy.close()
		return nil, fmt.Errorf("fieldcrypt: creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		strategy.close()
		return nil, fmt.Errorf("fieldcrypt: creating GCM: %w", err)
	}

	s := &Service{
		aead:        aead,
		indexKey:    strategy.indexKey(),
		epoch:       strategy.epoch(),
		strategy:    strategy,
		placeholder: cfg.placeholder,
	}

	logger := cfg.logger
	if logger == nil {
		logger = discardLogger()
	}
	fields := logrus.Fields{"epoch": s.epoch.String()}
	if !legacy {
		fields["default_salt"] = len(cfg.salt) == 0 || bytes.Equal(cfg.salt, DefaultSalt)
	}
	entry := logger.WithFields(fields)
	if legacy {
		entry.Warn("encryption service running in legacy mode; migrate stored data to hkdf")
	} else {
		entry.Debug("encryption service initialized")
	}

	return s, nil
}

// resolveMasterKey returns a private copy of the master key. Explicit options
// take precedence over the provider.
func resolveMasterKey(cfg *config) ([]byte, error) {
	if cfg.masterKey != nil {
		key := cfg.masterKey
		cfg.masterKey = nil
		if len(key) != MasterKeySize {
			zero(key)
			return nil, ErrInvalidKeyLength
		}
		return key, nil
	}

	hexKey := cfg.masterKeyHex
	if hexKey == "" && cfg.provider != nil {
		v, err := cfg.provider.MasterKeyHex()
		if err != nil {
			return nil, err
		}
		hexKey = v
	}
	return ParseMasterKeyHex(hexKey)
}

func resolveLegacyMode(cfg *config) (bool, error) {
	if cfg.legacyMode != nil {
		return *cfg.legacyMode, nil
	}
	if cfg.provider == nil {
		return false, nil
	}
	legacy, set, err := cfg.provider.LegacyMode()
	if err != nil {
		return false, err
	}
	return set && legacy, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
// Returns nonce || ciphertext || tag. The empty string is not encrypted and
// yields an empty result.
func (s *Service) Encrypt(plaintext string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	if plaintext == "" {
		return []byte{}, nil
	}

	envelope := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, envelope); err != nil {
		return nil, fmt.Errorf("fieldcrypt: generating nonce: %w", err)
	}

	return s.aead.Seal(envelope, envelope, []byte(plaintext), nil), nil
}

// Decrypt opens an envelope produced by Encrypt.
// An empty envelope yields "". Tag verification failures return ErrAuthentication
// and never any partial plaintext; invalid UTF-8 returns ErrDecoding.
func (s *Service) Decrypt(envelope []byte) (string, error) {
	if s.closed.Load() {
		return "", ErrServiceClosed
	}
	if len(envelope) == 0 {
		return "", nil
	}

	nonce, sealed, err := splitEnvelope(envelope)
	if err != nil {
		return "", err
	}

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	if !utf8.Valid(plaintext) {
		zero(plaintext)
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecoding)
	}

	return string(plaintext), nil
}

// IsLegacyMode reports whether the service uses the master key directly.
func (s *Service) IsLegacyMode() bool {
	return s.epoch == EpochLegacy
}

// Epoch returns the key epoch the service encrypts and indexes under.
func (s *Service) Epoch() Epoch {
	return s.epoch
}

// Close zeros key material held by the service.
// After calling Close, the Service is no longer usable: Encrypt and Decrypt
// return ErrServiceClosed and BlindIndex panics.
//
// Close must not run concurrently with any other method on s. The key is
// zeroed without waiting for in-flight calls.
func (s *Service) Close() {
	if s.closed.Swap(true) {
		return
	}
	zero(s.indexKey)
	s.strategy.close()
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
