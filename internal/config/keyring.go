package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// KeychainService is the service name entries are filed under in the OS keychain
const KeychainService = "fraudgraph"

// Secret names a credential kept in the keychain
type Secret string

const (
	SecretGraphPassword Secret = "neo4j-password"
	SecretRedisPassword Secret = "redis-password"
)

// availabilityItem is read to learn whether a keychain backend answers at all
const availabilityItem = "availability-check"

// Keychain reads and writes fraudgraph credentials in the OS keychain
// (Keychain Access on macOS, Credential Manager on Windows, Secret Service on Linux).
type Keychain struct {
	logger *slog.Logger
}

func NewKeychain() *Keychain {
	return &Keychain{logger: slog.Default().With("component", "keychain")}
}

// Available is false on headless hosts with no keychain backend
func (k *Keychain) Available() bool {
	_, err := keyring.Get(KeychainService, availabilityItem)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return true
	}
	k.logger.Debug("keychain unavailable", "error", err)
	return false
}

// Lookup returns "" when the secret was never stored
func (k *Keychain) Lookup(s Secret) (string, error) {
	value, err := keyring.Get(KeychainService, string(s))
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("keychain read %s: %w", s, err)
	}
	return value, nil
}

func (k *Keychain) Store(s Secret, value string) error {
	if value == "" {
		return fmt.Errorf("keychain write %s: empty value", s)
	}
	if err := keyring.Set(KeychainService, string(s), value); err != nil {
		return fmt.Errorf("keychain write %s: %w", s, err)
	}
	k.logger.Info("secret stored", "secret", string(s))
	return nil
}

// Remove is a no-op for secrets that are not stored
func (k *Keychain) Remove(s Secret) error {
	err := keyring.Delete(KeychainService, string(s))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete %s: %w", s, err)
	}
	return nil
}

// fill sets *dst from the keychain when nothing else supplied a value
func (k *Keychain) fill(dst *string, s Secret) {
	if *dst != "" || k == nil || !k.Available() {
		return
	}
	value, err := k.Lookup(s)
	if err != nil {
		k.logger.Warn("keychain lookup failed", "secret", string(s), "error", err)
		return
	}
	if value != "" {
		*dst = value
	}
}

// MaskSecret keeps the first 3 and last 2 characters of secrets of 8+ characters
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) < 8:
		return "***"
	}
	return secret[:3] + "..." + secret[len(secret)-2:]
}
