package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

const (
	keyringService = "minutes"
	keyringUser    = "encryption-key"
	keyLength      = 32

	// EnvEncryptionKey holds a hex key for CI.
	EnvEncryptionKey = "MINUTES_ENCRYPTION_KEY"
	// EnvPassphrase enables the passphrase fallback.
	EnvPassphrase = "MINUTES_PASSPHRASE"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// ErrKeyringUnavailable indicates the system keyring is not available.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider supplies the 32-byte file encryption key.
type KeyProvider interface {
	GetKey() ([]byte, error)
	Description() string
}

// KeyringKeyProvider keeps a random key in the system keyring, creating it
// on first use.
type KeyringKeyProvider struct {
	mu sync.Mutex
}

func NewKeyringKeyProvider() *KeyringKeyProvider {
	return &KeyringKeyProvider{}
}

func (p *KeyringKeyProvider) GetKey() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keyHex, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		if key, decErr := hex.DecodeString(keyHex); decErr == nil && len(key) == keyLength {
			return key, nil
		}
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
	}
	return key, nil
}

func (p *KeyringKeyProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// PassphraseKeyProvider derives the key from a passphrase with Argon2id. The
// salt is persisted in the credentials file.
type PassphraseKeyProvider struct {
	passphrase string
	salt       []byte
}

func NewPassphraseKeyProvider(passphrase string, salt []byte) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{passphrase: passphrase, salt: salt}
}

func (p *PassphraseKeyProvider) GetKey() ([]byte, error) {
	if p.passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if len(p.salt) == 0 {
		return nil, errors.New("salt is required")
	}
	return argon2.IDKey([]byte(p.passphrase), p.salt, argon2Time, argon2Memory, argon2Threads, keyLength), nil
}

func (p *PassphraseKeyProvider) Description() string {
	return "Passphrase-derived key (Argon2id)"
}

// GenerateSalt returns 16 random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// EnvKeyProvider reads a hex key from an environment variable.
type EnvKeyProvider struct {
	envVar string
}

func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	keyHex := os.Getenv(p.envVar)
	if keyHex == "" {
		return nil, fmt.Errorf("environment variable %s not set", p.envVar)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", p.envVar, err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", p.envVar, keyLength, len(key))
	}
	return key, nil
}

func (p *EnvKeyProvider) Description() string {
	return fmt.Sprintf("Environment variable (%s)", p.envVar)
}

// storedSalt reads the passphrase salt from an existing credentials file.
func storedSalt(dir string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, DefaultCredentialsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if f.Salt == "" {
		return nil, nil
	}
	return hex.DecodeString(f.Salt)
}

// GetDefaultKeyProvider picks MINUTES_ENCRYPTION_KEY, then the keyring, then
// MINUTES_PASSPHRASE with the salt stored in dir.
func GetDefaultKeyProvider(dir string) (KeyProvider, error) {
	if os.Getenv(EnvEncryptionKey) != "" {
		return NewEnvKeyProvider(EnvEncryptionKey), nil
	}

	kr := NewKeyringKeyProvider()
	_, krErr := kr.GetKey()
	if krErr == nil {
		return kr, nil
	}
	if !errors.Is(krErr, ErrKeyringUnavailable) {
		return nil, krErr
	}

	passphrase := os.Getenv(EnvPassphrase)
	if passphrase == "" {
		return nil, fmt.Errorf("system keyring unavailable; set %s or %s: %w", EnvEncryptionKey, EnvPassphrase, krErr)
	}
	salt, err := storedSalt(dir)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		if salt, err = GenerateSalt(); err != nil {
			return nil, err
		}
	}
	return NewPassphraseKeyProvider(passphrase, salt), nil
}
