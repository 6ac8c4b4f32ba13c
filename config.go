package fieldcrypt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables read by EnvProvider.
const (
	EnvMasterKey  = "SECURITY_KEY"
	EnvLegacyMode = "ENCRYPTION_LEGACY_MODE"
)

// ConfigProvider supplies the master key and key epoch selection.
// Implement it to load keys from a secrets manager or any other source.
type ConfigProvider interface {
	// MasterKeyHex returns the hex-encoded master key, or "" if not configured.
	MasterKeyHex() (string, error)

	// LegacyMode reports the configured epoch selection. set is false when the
	// provider has no opinion.
	LegacyMode() (legacy bool, set bool, err error)
}

// EnvProvider reads SECURITY_KEY and ENCRYPTION_LEGACY_MODE from the environment.
type EnvProvider struct {
	// Lookup replaces os.LookupEnv, mainly for tests.
	Lookup func(key string) (string, bool)
}

func (p EnvProvider) lookup(key string) (string, bool) {
	if p.Lookup != nil {
		return p.Lookup(key)
	}
	return os.LookupEnv(key)
}

// MasterKeyHex implements ConfigProvider.
func (p EnvProvider) MasterKeyHex() (string, error) {
	v, _ := p.lookup(EnvMasterKey)
	return v, nil
}

// LegacyMode implements ConfigProvider.
func (p EnvProvider) LegacyMode() (bool, bool, error) {
	v, ok := p.lookup(EnvLegacyMode)
	if !ok || strings.TrimSpace(v) == "" {
		return false, false, nil
	}
	return ParseLegacyFlag(v), true, nil
}

// StaticProvider is a fixed in-memory ConfigProvider.
type StaticProvider struct {
	KeyHex string
	Legacy *bool
}

// MasterKeyHex implements ConfigProvider.
func (p StaticProvider) MasterKeyHex() (string, error) {
	return p.KeyHex, nil
}

// LegacyMode implements ConfigProvider.
func (p StaticProvider) LegacyMode() (bool, bool, error) {
	if p.Legacy == nil {
		return false, false, nil
	}
	return *p.Legacy, true, nil
}

// fileConfig mirrors the "security" section of the application config file.
type fileConfig struct {
	Security struct {
		Key        string `yaml:"key" toml:"key"`
		LegacyMode *bool  `yaml:"legacy_mode" toml:"legacy_mode"`
	} `yaml:"security" toml:"security"`
}

// FileProvider reads security.key and security.legacy_mode from a YAML or TOML
// file, chosen by extension (.toml is TOML, anything else YAML).
// A missing file is treated as an empty configuration.
type FileProvider struct {
	Path string
}

func (p FileProvider) load() (*fileConfig, error) {
	cfg := &fileConfig{}
	if p.Path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(p.Path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(p.Path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("fieldcrypt: parsing %s: %w", p.Path, err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("fieldcrypt: parsing %s: %w", p.Path, err)
	}
	return cfg, nil
}

// MasterKeyHex implements ConfigProvider.
func (p FileProvider) MasterKeyHex() (string, error) {
	cfg, err := p.load()
	if err != nil {
		return "", err
	}
	return cfg.Security.Key, nil
}

// LegacyMode implements ConfigProvider.
func (p FileProvider) LegacyMode() (bool, bool, error) {
	cfg, err := p.load()
	if err != nil {
		return false, false, err
	}
	if cfg.Security.LegacyMode == nil {
		return false, false, nil
	}
	return *cfg.Security.LegacyMode, true, nil
}

// ChainProvider asks each provider in order; the first non-empty answer wins.
type ChainProvider []ConfigProvider

// MasterKeyHex implements ConfigProvider.
func (c ChainProvider) MasterKeyHex() (string, error) {
	for _, p := range c {
		v, err := p.MasterKeyHex()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	return "", nil
}

// LegacyMode implements ConfigProvider.
func (c ChainProvider) LegacyMode() (bool, bool, error) {
	for _, p := range c {
		v, set, err := p.LegacyMode()
		if err != nil {
			return false, false, err
		}
		if set {
			return v, true, nil
		}
	}
	return false, false, nil
}

// ParseLegacyFlag reports whether s enables legacy mode ("true", "1" or "yes",
// case-insensitive). Anything else means HKDF mode.
func ParseLegacyFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// ParseMasterKeyHex decodes a hex master key and checks it is exactly 32 bytes.
// Upper and lower case hex digits are accepted; surrounding whitespace is ignored.
func ParseMasterKeyHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrMissingMasterKey
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMasterKey, err)
	}
	if len(key) != MasterKeySize {
		zero(key)
		return nil, ErrInvalidKeyLength
	}
	return key, nil
}

// GenerateMasterKeyHex returns a fresh random master key in hex form.
func GenerateMasterKeyHex() (string, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("fieldcrypt: generating master key: %w", err)
	}
	defer zero(key)
	return hex.EncodeToString(key), nil
}
