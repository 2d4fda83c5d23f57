// Package security keeps the bot's secrets and decides who may talk to it.
package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const (
	keyringService = "dmbot"
	vaultFile      = "vault.json"

	// KeyringPlaceholder is stored in the config in place of a secret kept in the KeyStore.
	KeyringPlaceholder = "[keyring]"
)

// ErrSecretNotFound is returned when neither the keyring nor the vault holds a secret.
var ErrSecretNotFound = errors.New("secret not found")

// KeyStore manages secure storage of API keys and bot tokens.
// Primary: OS keychain. Fallback: a password-encrypted vault file.
type KeyStore struct {
	mu         sync.Mutex
	useKeyring bool
	password   string
	vaultPath  string
	logger     *zap.Logger
}

// vault is the on-disk layout. The key is derived from the password and Salt.
type vault struct {
	Salt []byte `json:"salt"`
	Data []byte `json:"data"`
}

// NewKeyStore creates a key store with its vault under dir. password may be
// empty when only the keyring is used.
func NewKeyStore(dir, password string, useKeyring bool, logger *zap.Logger) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyStore{
		useKeyring: useKeyring,
		password:   password,
		vaultPath:  filepath.Join(dir, vaultFile),
		logger:     logger.Named("keystore"),
	}, nil
}

// Set stores a secret (tries keyring first, falls back to the vault).
func (ks *KeyStore) Set(name, value string) error {
	if ks.useKeyring {
		err := keyring.Set(keyringService, name, value)
		if err == nil {
			return nil
		}
		ks.logger.Debug("keyring unavailable, using vault", zap.String("name", name), zap.Error(err))
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	secrets, salt, err := ks.loadVault()
	if err != nil {
		return err
	}
	secrets[name] = value
	return ks.saveVault(secrets, salt)
}

// Get retrieves a secret.
func (ks *KeyStore) Get(name string) (string, error) {
	if ks.useKeyring {
		val, err := keyring.Get(keyringService, name)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			ks.logger.Debug("keyring unavailable, using vault", zap.String("name", name), zap.Error(err))
		}
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	secrets, _, err := ks.loadVault()
	if err != nil {
		return "", err
	}
	val, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	return val, nil
}

// Delete removes a secret from both backends.
func (ks *KeyStore) Delete(name string) error {
	if ks.useKeyring {
		_ = keyring.Delete(keyringService, name)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, err := os.Stat(ks.vaultPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	secrets, salt, err := ks.loadVault()
	if err != nil {
		return err
	}
	if _, ok := secrets[name]; !ok {
		return nil
	}
	delete(secrets, name)
	return ks.saveVault(secrets, salt)
}

// Resolve returns value unless it is KeyringPlaceholder, in which case the
// secret called name is looked up.
func (ks *KeyStore) Resolve(value, name string) (string, error) {
	if value != KeyringPlaceholder {
		return value, nil
	}
	return ks.Get(name)
}

// MaskKey returns a masked version of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}

// loadVault returns the decrypted secrets and the vault salt. A missing
// vault is empty and has no salt yet.
func (ks *KeyStore) loadVault() (map[string]string, []byte, error) {
	raw, err := os.ReadFile(ks.vaultPath)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if ks.password == "" {
		return nil, nil, errors.New("vault password is not set")
	}

	var v vault
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, nil, fmt.Errorf("parse vault: %w", err)
	}
	plaintext, err := Open(v.Data, DeriveKey(ks.password, v.Salt))
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt vault: %w", err)
	}
	secrets := make(map[string]string)
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, nil, fmt.Errorf("parse vault secrets: %w", err)
	}
	return secrets, v.Salt, nil
}

func (ks *KeyStore) saveVault(secrets map[string]string, salt []byte) error {
	if ks.password == "" {
		return errors.New("vault password is not set")
	}
	if salt == nil {
		var err error
		if salt, err = GenerateSalt(); err != nil {
			return err
		}
	}

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return err
	}
	sealed, err := Seal(plaintext, DeriveKey(ks.password, salt))
	if err != nil {
		return err
	}
	raw, err := json.Marshal(vault{Salt: salt, Data: sealed})
	if err != nil {
		return err
	}
	return os.WriteFile(ks.vaultPath, raw, 0600)
}
