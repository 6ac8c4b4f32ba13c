package fieldcrypt

import "github.com/sirupsen/logrus"

// Option is a functional option for configuring a Service.
type Option func(*config)

// config holds service construction options.
type config struct {
	masterKey    []byte
	masterKeyHex string
	legacyMode   *bool
	salt         []byte
	provider     ConfigProvider
	logger       *logrus.Entry
	placeholder  PlaceholderStyle
}

// defaultConfig returns the default configuration.
func defaultConfig() *config {
	return &config{
		provider:    EnvProvider{},
		placeholder: PlaceholderDollar,
	}
}

// WithMasterKey sets the raw 32-byte master key.
// The key is copied internally; the caller may zero the original after calling New().
func WithMasterKey(masterKey []byte) Option {
	return func(c *config) {
		c.masterKey = append([]byte{}, masterKey...)
	}
}

// WithHexMasterKey sets the master key from its 64-character hex form.
func WithHexMasterKey(hexKey string) Option {
	return func(c *config) {
		c.masterKeyHex = hexKey
	}
}

// WithLegacyMode selects the key epoch explicitly, overriding the provider.
// Legacy mode uses the master key directly for encryption and indexing.
func WithLegacyMode(legacy bool) Option {
	return func(c *config) {
		c.legacyMode = &legacy
	}
}

// WithSalt overrides the HKDF salt. Ignored in legacy mode.
// The salt must stay stable for the lifetime of the stored data.
func WithSalt(salt []byte) Option {
	return func(c *config) {
		c.salt = append([]byte(nil), salt...)
	}
}

// WithConfigProvider sets where the master key and legacy flag are read from
// when they are not given explicitly. Defaults to EnvProvider.
func WithConfigProvider(p ConfigProvider) Option {
	return func(c *config) {
		c.provider = p
	}
}

// WithLogger sets the logger used for construction messages.
// Plaintext, keys and indexes are never logged.
func WithLogger(l *logrus.Entry) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithPlaceholderStyle sets the SQL placeholder style used by SearchCondition.
func WithPlaceholderStyle(style PlaceholderStyle) Option {
	return func(c *config) {
		c.placeholder = style
	}
}
