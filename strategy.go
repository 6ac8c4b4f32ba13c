package fieldcrypt

// Epoch identifies which key derivation scheme produced a ciphertext or index.
// Values from different epochs are not interchangeable.
type Epoch int

const (
	// EpochHKDF derives separate encryption and index keys with HKDF-SHA256.
	EpochHKDF Epoch = iota
	// EpochLegacy uses the master key directly for both operations.
	EpochLegacy
)

func (e Epoch) String() string {
	switch e {
	case EpochHKDF:
		return "hkdf"
	case EpochLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// keyStrategy supplies the operational keys for one epoch.
// It is consulted once, when the Service is built. Key accessors return copies.
type keyStrategy interface {
	epoch() Epoch
	encryptionKey() []byte
	indexKey() []byte
	close()
}

// legacyStrategy uses the master key for both encryption and indexing.
type legacyStrategy struct {
	key []byte
}

func newLegacyStrategy(masterKey []byte) *legacyStrategy {
	return &legacyStrategy{key: append([]byte(nil), masterKey...)}
}

func (s *legacyStrategy) epoch() Epoch          { return EpochLegacy }
func (s *legacyStrategy) encryptionKey() []byte { return append([]byte(nil), s.key...) }
func (s *legacyStrategy) indexKey() []byte      { return append([]byte(nil), s.key...) }
func (s *legacyStrategy) close()                { zero(s.key) }

// hkdfStrategy takes both keys from a KeyDeriver.
type hkdfStrategy struct {
	deriver *KeyDeriver
}

func newHKDFStrategy(masterKey, salt []byte) (*hkdfStrategy, error) {
	d, err := NewKeyDeriver(masterKey, salt)
	if err != nil {
		return nil, err
	}
	return &hkdfStrategy{deriver: d}, nil
}

func (s *hkdfStrategy) epoch() Epoch          { return EpochHKDF }
func (s *hkdfStrategy) encryptionKey() []byte { return s.deriver.EncryptionKey() }
func (s *hkdfStrategy) indexKey() []byte      { return s.deriver.IndexKey() }
func (s *hkdfStrategy) close()                { s.deriver.Close() }
