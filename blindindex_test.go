package fieldcrypt

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var lowerHex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestBlindIndex_KnownVectors(t *testing.T) {
	hkdfSvc := newTestService(t, false)
	legacySvc := newTestService(t, true)

	tests := []struct {
		value      string
		wantHKDF   string
		wantLegacy string
	}{
		{
			"alice@example.com",
			"8b5dc864f8915f1196b54edf29f5c55d1c48c063a9d3724e7e4bc1a3e5791d71",
			"a59fc578d4cb46faab1d6eb348e7c74b33b85122d6459fdb7bf5654b333acab4",
		},
		{
			"U1234567890",
			"fabba7a62cd9ec574dca548002205139fc731bf7d846044ecfa50ba71105f8cd",
			"1656c08e8b6cf928d8e25a4950beba74f0b37ad67913c3845709b06fd51e96e6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			require.Equal(t, tt.wantHKDF, hkdfSvc.BlindIndex(tt.value))
			require.Equal(t, tt.wantLegacy, legacySvc.BlindIndex(tt.value))
		})
	}
}

func TestBlindIndex_Format(t *testing.T) {
	svc := newTestService(t, false)

	for _, v := range []string{"a", "alice@example.com", "員工", "  spaced  "} {
		idx := svc.BlindIndex(v)
		require.Len(t, idx, BlindIndexLen)
		require.Regexp(t, lowerHex64, idx)
	}
}

func TestBlindIndex_Empty(t *testing.T) {
	svc := newTestService(t, false)
	require.Equal(t, "", svc.BlindIndex(""))
	require.Equal(t, "", svc.BlindIndexNormalized("   ", NormalizeEmail))
}

func TestBlindIndex_Deterministic(t *testing.T) {
	a := newTestService(t, false)
	b := newTestService(t, false)

	require.Equal(t, a.BlindIndex("bob@example.com"), a.BlindIndex("bob@example.com"))
	require.Equal(t, a.BlindIndex("bob@example.com"), b.BlindIndex("bob@example.com"))
	require.NotEqual(t, a.BlindIndex("bob@example.com"), a.BlindIndex("Bob@example.com"))
}

func TestBlindIndex_EpochsDiffer(t *testing.T) {
	hkdfSvc := newTestService(t, false)
	legacySvc := newTestService(t, true)
	require.NotEqual(t, hkdfSvc.BlindIndex("value"), legacySvc.BlindIndex("value"))
}

func TestBlindIndex_IndependentOfEncryptionKey(t *testing.T) {
	svc := newTestService(t, false)
	d, err := NewKeyDeriver(sequentialKey(), nil)
	require.NoError(t, err)

	require.Equal(t, computeHMACHex(d.IndexKey(), []byte("value")), svc.BlindIndex("value"))
	require.NotEqual(t, computeHMACHex(d.EncryptionKey(), []byte("value")), svc.BlindIndex("value"))
}

func TestBlindIndexNormalized(t *testing.T) {
	svc := newTestService(t, false)

	tests := []struct {
		name string
		a, b string
		norm Normalizer
	}{
		{"email case", "Alice@Example.COM", "alice@example.com", NormalizeEmail},
		{"email whitespace", "  alice@example.com\n", "alice@example.com", NormalizeEmail},
		{"line user id whitespace", " U123 ", "U123", NormalizeLineUserID},
		{"phone formatting", "+886 (912) 345-678", "886912345678", NormalizePhone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, svc.BlindIndex(tt.b), svc.BlindIndexNormalized(tt.a, tt.norm))
		})
	}

	require.Equal(t, svc.BlindIndex("As Is"), svc.BlindIndexNormalized("As Is", nil))
}
