package fieldcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestService(t *testing.T, legacy bool, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithMasterKey(sequentialKey()), WithLegacyMode(legacy)}, opts...)
	svc, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func envLookup(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestNew_KeySources(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"raw key", []Option{WithMasterKey(sequentialKey())}},
		{"hex key", []Option{WithHexMasterKey(testKeyHex)}},
		{"upper case hex", []Option{WithHexMasterKey(strings.ToUpper(testKeyHex))}},
		{"hex with whitespace", []Option{WithHexMasterKey("  " + testKeyHex + "\n")}},
		{"provider", []Option{WithConfigProvider(StaticProvider{KeyHex: testKeyHex})}},
		{"env provider", []Option{WithConfigProvider(EnvProvider{Lookup: envLookup(map[string]string{EnvMasterKey: testKeyHex})})}},
	}

	ref := newTestService(t, false)
	want := ref.BlindIndex("probe")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := New(tt.opts...)
			require.NoError(t, err)
			defer svc.Close()
			require.Equal(t, want, svc.BlindIndex("probe"))
			require.Equal(t, EpochHKDF, svc.Epoch())
		})
	}
}

func TestNew_ExplicitKeyOverridesProvider(t *testing.T) {
	other := strings.Repeat("ab", MasterKeySize)
	svc, err := New(
		WithHexMasterKey(testKeyHex),
		WithConfigProvider(StaticProvider{KeyHex: other}),
	)
	require.NoError(t, err)
	defer svc.Close()

	require.Equal(t, newTestService(t, false).BlindIndex("x"), svc.BlindIndex("x"))
}

func TestNew_InvalidKeys(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{"no key configured", []Option{WithConfigProvider(StaticProvider{})}, ErrMissingMasterKey},
		{"whitespace key", []Option{WithHexMasterKey("   ")}, ErrMissingMasterKey},
		{"not hex", []Option{WithHexMasterKey(strings.Repeat("zz", 32))}, ErrMalformedMasterKey},
		{"odd length hex", []Option{WithHexMasterKey("abc")}, ErrMalformedMasterKey},
		{"short hex", []Option{WithHexMasterKey(strings.Repeat("ab", 16))}, ErrInvalidKeyLength},
		{"long hex", []Option{WithHexMasterKey(strings.Repeat("ab", 33))}, ErrInvalidKeyLength},
		{"short raw", []Option{WithMasterKey(make([]byte, 16))}, ErrInvalidKeyLength},
		{"long raw", []Option{WithMasterKey(make([]byte, 64))}, ErrInvalidKeyLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := New(tt.opts...)
			require.Nil(t, svc)
			require.ErrorIs(t, err, ErrConfiguration)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_LegacySelection(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		opts []Option
		want Epoch
	}{
		{"unset", map[string]string{}, nil, EpochHKDF},
		{"true", map[string]string{EnvLegacyMode: "true"}, nil, EpochLegacy},
		{"TRUE", map[string]string{EnvLegacyMode: "TRUE"}, nil, EpochLegacy},
		{"1", map[string]string{EnvLegacyMode: "1"}, nil, EpochLegacy},
		{"yes", map[string]string{EnvLegacyMode: " yes "}, nil, EpochLegacy},
		{"false", map[string]string{EnvLegacyMode: "false"}, nil, EpochHKDF},
		{"0", map[string]string{EnvLegacyMode: "0"}, nil, EpochHKDF},
		{"garbage", map[string]string{EnvLegacyMode: "enabled"}, nil, EpochHKDF},
		{"empty", map[string]string{EnvLegacyMode: ""}, nil, EpochHKDF},
		{"option overrides env", map[string]string{EnvLegacyMode: "true"}, []Option{WithLegacyMode(false)}, EpochHKDF},
		{"option enables", map[string]string{}, []Option{WithLegacyMode(true)}, EpochLegacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.env[EnvMasterKey] = testKeyHex
			opts := append([]Option{WithConfigProvider(EnvProvider{Lookup: envLookup(tt.env)})}, tt.opts...)
			svc, err := New(opts...)
			require.NoError(t, err)
			defer svc.Close()

			require.Equal(t, tt.want, svc.Epoch())
			require.Equal(t, tt.want == EpochLegacy, svc.IsLegacyMode())
		})
	}
}

func TestNew_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv(EnvMasterKey, testKeyHex)
	t.Setenv(EnvLegacyMode, "yes")

	svc, err := New()
	require.NoError(t, err)
	defer svc.Close()
	require.True(t, svc.IsLegacyMode())
}

func TestNew_LogsEpoch(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	newTestService(t, true, WithLogger(logrus.NewEntry(logger)))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Equal(t, "legacy", entry.Data["epoch"])

	hook.Reset()
	newTestService(t, false, WithLogger(logrus.NewEntry(logger)))
	entry = hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.DebugLevel, entry.Level)
	require.Equal(t, "hkdf", entry.Data["epoch"])
	require.Equal(t, true, entry.Data["default_salt"])
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"ascii", "hello world"},
		{"email", "alice@example.com"},
		{"line user id", "U4af4980629abcdef0123456789abcdef"},
		{"chinese", "員工標準作業程序"},
		{"emoji", "👋🌏"},
		{"mixed", "SOP v2: 請假流程 ✅"},
		{"single byte", "x"},
		{"whitespace", "  \t\n"},
		{"large", strings.Repeat("內容", 50000)},
	}

	for _, legacy := range []bool{false, true} {
		svc := newTestService(t, legacy)
		for _, tt := range tests {
			t.Run(svc.Epoch().String()+"/"+tt.name, func(t *testing.T) {
				envelope, err := svc.Encrypt(tt.plaintext)
				require.NoError(t, err)
				require.Len(t, envelope, EnvelopeLen(len(tt.plaintext)))

				got, err := svc.Decrypt(envelope)
				require.NoError(t, err)
				require.Equal(t, tt.plaintext, got)
			})
		}
	}
}

func TestEncrypt_Empty(t *testing.T) {
	svc := newTestService(t, false)

	envelope, err := svc.Encrypt("")
	require.NoError(t, err)
	require.NotNil(t, envelope)
	require.Empty(t, envelope)

	got, err := svc.Decrypt(envelope)
	require.NoError(t, err)
	require.Equal(t, "", got)

	got, err = svc.Decrypt(nil)
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	svc := newTestService(t, false)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		envelope, err := svc.Encrypt("same value")
		require.NoError(t, err)
		nonce := hex.EncodeToString(envelope[:NonceSize])
		require.False(t, seen[nonce], "nonce reused")
		seen[nonce] = true
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	svc := newTestService(t, false)
	envelope, err := svc.Encrypt("sensitive")
	require.NoError(t, err)

	for _, pos := range []int{0, NonceSize - 1, NonceSize, len(envelope) - TagSize, len(envelope) - 1} {
		tampered := append([]byte(nil), envelope...)
		tampered[pos] ^= 0x01

		got, err := svc.Decrypt(tampered)
		require.ErrorIs(t, err, ErrAuthentication, "flipped byte %d", pos)
		require.Empty(t, got)
	}

	_, err = svc.Decrypt(envelope[:len(envelope)-1])
	require.ErrorIs(t, err, ErrAuthentication)

	_, err = svc.Decrypt(append(append([]byte(nil), envelope...), 0x00))
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestDecrypt_ShortEnvelope(t *testing.T) {
	svc := newTestService(t, false)

	tests := []struct {
		name    string
		length  int
		wantErr error
	}{
		{"1 byte", 1, ErrInvalidEnvelope},
		{"11 bytes", NonceSize - 1, ErrInvalidEnvelope},
		{"nonce only", NonceSize, ErrAuthentication},
		{"nonce and partial tag", NonceSize + TagSize - 1, ErrAuthentication},
		{"nonce and tag, no payload", NonceSize + TagSize, ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Decrypt(make([]byte, tt.length))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecrypt_InvalidUTF8(t *testing.T) {
	svc := newTestService(t, false)

	d, err := NewKeyDeriver(sequentialKey(), nil)
	require.NoError(t, err)
	block, err := aes.NewCipher(d.EncryptionKey())
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := bytes.Repeat([]byte{0x42}, NonceSize)
	envelope := aead.Seal(append([]byte(nil), nonce...), nonce, []byte{0xff, 0xfe, 0xfd}, nil)

	_, err = svc.Decrypt(envelope)
	require.ErrorIs(t, err, ErrDecoding)
	require.NotErrorIs(t, err, ErrAuthentication)
}

func TestDecrypt_CrossEpoch(t *testing.T) {
	hkdfSvc := newTestService(t, false)
	legacySvc := newTestService(t, true)

	envelope, err := legacySvc.Encrypt("alice@example.com")
	require.NoError(t, err)
	_, err = hkdfSvc.Decrypt(envelope)
	require.ErrorIs(t, err, ErrAuthentication)

	envelope, err = hkdfSvc.Encrypt("alice@example.com")
	require.NoError(t, err)
	_, err = legacySvc.Decrypt(envelope)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestDecrypt_WrongKey(t *testing.T) {
	svc := newTestService(t, false)
	other, err := New(WithHexMasterKey(strings.Repeat("ab", MasterKeySize)))
	require.NoError(t, err)
	defer other.Close()

	envelope, err := svc.Encrypt("secret")
	require.NoError(t, err)
	_, err = other.Decrypt(envelope)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestService_Salt(t *testing.T) {
	def := newTestService(t, false)
	salted := newTestService(t, false, WithSalt([]byte("tenant-salt")))

	envelope, err := def.Encrypt("value")
	require.NoError(t, err)
	_, err = salted.Decrypt(envelope)
	require.ErrorIs(t, err, ErrAuthentication)
	require.NotEqual(t, def.BlindIndex("value"), salted.BlindIndex("value"))

	// salt has no effect in legacy mode
	legacy := newTestService(t, true)
	legacySalted := newTestService(t, true, WithSalt([]byte("tenant-salt")))
	require.Equal(t, legacy.BlindIndex("value"), legacySalted.BlindIndex("value"))
}

func TestService_Close(t *testing.T) {
	svc, err := New(WithMasterKey(sequentialKey()))
	require.NoError(t, err)

	envelope, err := svc.Encrypt("before close")
	require.NoError(t, err)

	svc.Close()
	svc.Close() // idempotent

	_, err = svc.Encrypt("after close")
	require.ErrorIs(t, err, ErrServiceClosed)
	_, err = svc.Decrypt(envelope)
	require.ErrorIs(t, err, ErrServiceClosed)
	require.Panics(t, func() { svc.BlindIndex("x") })
	require.Equal(t, make([]byte, MasterKeySize), svc.indexKey)
}

func TestService_ConcurrentUse(t *testing.T) {
	svc := newTestService(t, false)
	want := svc.BlindIndex("alice@example.com")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			plaintext := strings.Repeat("x", i+1)
			envelope, err := svc.Encrypt(plaintext)
			if err != nil {
				errs <- err
				return
			}
			got, err := svc.Decrypt(envelope)
			if err != nil {
				errs <- err
				return
			}
			if got != plaintext || svc.BlindIndex("alice@example.com") != want {
				errs <- ErrAuthentication
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestEpoch_String(t *testing.T) {
	require.Equal(t, "hkdf", EpochHKDF.String())
	require.Equal(t, "legacy", EpochLegacy.String())
	require.Equal(t, "unknown", Epoch(42).String())
}

func TestEnvelopeLen(t *testing.T) {
	require.Equal(t, 0, EnvelopeLen(0))
	require.Equal(t, 0, EnvelopeLen(-1))
	require.Equal(t, 29, EnvelopeLen(1))
	require.Equal(t, 45, EnvelopeLen(17))
}
