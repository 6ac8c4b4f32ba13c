// Package fieldcrypt provides transparent field-level encryption for personal data
// stored by the admin system (emails, LINE user IDs, phone numbers, SOP content),
// with blind indexes for exact-match lookups on encrypted columns.
//
// # Encryption
//
// Values are sealed with AES-256-GCM under a fresh 12-byte random nonce. The stored
// envelope is nonce || ciphertext || tag, hex encoded for text columns. Keys are
// derived from one 32-byte master key with HKDF-SHA256, using distinct info strings
// for encryption and blind indexing.
//
// # Basic Usage
//
//	svc, err := fieldcrypt.New(
//	    fieldcrypt.WithHexMasterKey(os.Getenv("SECURITY_KEY")), // 64 hex chars
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	codec := fieldcrypt.NewFieldCodec(svc)
//	stored, err := codec.EncodeString("alice@example.com")
//	plaintext, err := codec.DecodeString(stored)
//
// # Blind Indexes
//
// A blind index is the lowercase hex HMAC-SHA256 of the (normalized) value and is
// stored in a separate {column}_hash column:
//
//	emailHash := svc.BlindIndexNormalized("Alice@Example.com", fieldcrypt.NormalizeEmail)
//
//	cond := svc.SearchCondition("email", "alice@example.com", 1, fieldcrypt.NormalizeEmail)
//	rows, _ := db.Query("SELECT id FROM users WHERE "+cond.SQL, cond.Args...)
//
// IMPORTANT: Use the same normalizer on both write and search.
//
// # Key Epochs
//
// Legacy mode (WithLegacyMode(true) or ENCRYPTION_LEGACY_MODE=true) uses the master
// key directly for both operations. Ciphertext and indexes from the legacy and HKDF
// epochs are not interchangeable; decrypting across epochs fails with
// ErrAuthentication. Move data between epochs offline with a Migrator.
//
// # Empty and NULL Values
//
//   - Encrypt("") returns an empty slice and Decrypt of an empty slice returns "".
//   - BlindIndex("") returns "".
//   - The FieldCodec passes nil (database NULL) through unchanged.
//
// # Database Schema
//
// Recommended column structure for encrypted fields:
//
//	-- Non-searchable encrypted field
//	display_name TEXT            -- RecommendedColumnLength(expected)
//
//	-- Searchable encrypted field
//	email TEXT
//	email_hash CHAR(64)
//	CREATE INDEX idx_users_email_hash ON users (email_hash);
package fieldcrypt
