package core

// NoOpSecretProvider 明文透传的默认实现
// Used when no KEYRING_SECRET_KEY is configured; persisted state then carries
// keys as-is, which is acceptable for local single-user setups only.
type NoOpSecretProvider struct{}

func NewNoOpSecretProvider() *NoOpSecretProvider {
	return &NoOpSecretProvider{}
}

func (s *NoOpSecretProvider) Encrypt(plaintext string) (string, error) {
	return plaintext, nil
}

func (s *NoOpSecretProvider) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}
