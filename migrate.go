package fieldcrypt

// Migrator re-encrypts stored values from one key epoch to another.
// Migration is an explicit offline step: stored values carry no epoch tag, so
// a value that does not open under From fails with ErrAuthentication and is
// left for the caller to report. Nothing is retried.
type Migrator struct {
	from *Service
	to   *Service
	dec  *FieldCodec
	enc  *FieldCodec
}

// MigratedField holds a re-encrypted value and its recomputed blind index.
type MigratedField struct {
	Stored     *string // new hex envelope, nil for NULL
	BlindIndex string  // new blind index, "" for NULL or empty values
}

// NewMigrator returns a Migrator that reads with from and writes with to.
func NewMigrator(from, to *Service) (*Migrator, error) {
	if from == nil || to == nil || from == to {
		return nil, ErrEpochMismatch
	}
	return &Migrator{
		from: from,
		to:   to,
		dec:  NewFieldCodec(from),
		enc:  NewFieldCodec(to),
	}, nil
}

// NewEpochMigrator builds the legacy -> HKDF migrator for one master key,
// the upgrade path for data written before key derivation was introduced.
func NewEpochMigrator(masterKey []byte, opts ...Option) (*Migrator, error) {
	withEpoch := func(legacy bool) []Option {
		o := make([]Option, 0, len(opts)+2)
		o = append(o, opts...)
		return append(o, WithMasterKey(masterKey), WithLegacyMode(legacy))
	}

	from, err := New(withEpoch(true)...)
	if err != nil {
		return nil, err
	}
	to, err := New(withEpoch(false)...)
	if err != nil {
		from.Close()
		return nil, err
	}
	return NewMigrator(from, to)
}

// From returns the source epoch service.
func (m *Migrator) From() *Service { return m.from }

// To returns the target epoch service.
func (m *Migrator) To() *Service { return m.to }

// MigrateValue decrypts a stored value under the source epoch and re-encrypts
// it under the target epoch. The plaintext is returned for index recomputation.
// Returns nil values if stored is nil (NULL stays NULL).
func (m *Migrator) MigrateValue(stored *string) (newStored *string, plaintext *string, err error) {
	if stored == nil {
		return nil, nil, nil
	}

	plaintext, err = m.dec.DecodeFromStorage(stored)
	if err != nil {
		return nil, nil, err
	}

	newStored, err = m.enc.EncodeForStorage(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return newStored, plaintext, nil
}

// MigrateIndexed re-encrypts a stored value and recomputes its blind index
// under the target epoch.
//
// IMPORTANT: Use the same normalizer that was used originally.
func (m *Migrator) MigrateIndexed(stored *string, norm Normalizer) (*MigratedField, error) {
	newStored, plaintext, err := m.MigrateValue(stored)
	if err != nil {
		return nil, err
	}
	if plaintext == nil {
		return &MigratedField{}, nil
	}
	if norm == nil {
		norm = NormalizeNone
	}
	return &MigratedField{
		Stored:     newStored,
		BlindIndex: m.to.BlindIndex(norm(*plaintext)),
	}, nil
}

// Close closes both services.
func (m *Migrator) Close() {
	m.from.Close()
	m.to.Close()
}
