package fieldcrypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// BlindIndexLen is the length of a blind index in hex characters.
const BlindIndexLen = 2 * sha256.Size

// BlindIndex computes the HMAC-SHA256 blind index of value as lowercase hex.
// Returns "" for the empty string.
//
// The blind index is deterministic: same value + same key epoch = same index.
// Store it in an unencrypted, indexed column for exact-match lookups.
func (s *Service) BlindIndex(value string) string {
	if s.closed.Load() {
		panic("fieldcrypt: use of closed Service")
	}
	if value == "" {
		return ""
	}
	return computeHMACHex(s.indexKey, []byte(value))
}

// BlindIndexNormalized normalizes value before computing its blind index.
// Use the same normalizer on write and on search.
func (s *Service) BlindIndexNormalized(value string, norm Normalizer) string {
	if norm == nil {
		norm = NormalizeNone
	}
	return s.BlindIndex(norm(value))
}

// computeHMACHex computes HMAC-SHA256 with the given key and hex-encodes it.
func computeHMACHex(key, data []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
