package fieldcrypt

import "sync"

// Process-wide Service for glue code that cannot take the Service by injection.
// Prefer building one Service with New at startup and passing it down.
var (
	defaultMu       sync.Mutex
	defaultService  *Service
	defaultProvider ConfigProvider = EnvProvider{}
	defaultOptions  []Option
)

// Default returns the process-wide Service, building it on first use from the
// default ConfigProvider. Concurrent first callers share one instance.
// A configuration error is returned and not cached.
func Default() (*Service, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultService != nil {
		return defaultService, nil
	}

	opts := append([]Option{WithConfigProvider(defaultProvider)}, defaultOptions...)
	svc, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defaultService = svc
	return defaultService, nil
}

// MustDefault is like Default but panics on configuration errors.
// Use it at process start, where a missing key must abort startup.
func MustDefault() *Service {
	svc, err := Default()
	if err != nil {
		panic(err)
	}
	return svc
}

// SetDefaultProvider sets the ConfigProvider and extra options used the next
// time Default builds the Service. It does not affect an existing instance.
func SetDefaultProvider(p ConfigProvider, opts ...Option) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultProvider = p
	defaultOptions = opts
}

// ResetDefault closes and forgets the process-wide Service so the next Default
// call rebuilds it, and restores the environment provider.
//
// Test-only: resetting a running process makes ciphertext written by the old
// instance unreadable if the configuration changed in between. The old
// instance is closed, so ResetDefault must not race with callers still
// holding it (including GenerateBlindIndex and the other package helpers).
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultService != nil {
		defaultService.Close()
	}
	defaultService = nil
	defaultProvider = EnvProvider{}
	defaultOptions = nil
}

// GenerateBlindIndex computes a blind index with the process-wide Service.
func GenerateBlindIndex(value string) (string, error) {
	svc, err := Default()
	if err != nil {
		return "", err
	}
	return svc.BlindIndex(value), nil
}
