// Package credentials stores provider API keys for the minutes service in
// ~/.minutes/credentials.yaml, encrypted at rest with AES-GCM.
//
// The encryption key comes from, in order: MINUTES_ENCRYPTION_KEY (64 hex
// chars), the system keyring, or a passphrase stretched with Argon2id.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCredentialsDir  = ".minutes"
	DefaultCredentialsFile = "credentials.yaml"
)

// Well-known key names.
const (
	KeyOpenAI     = "openai"
	KeyGemini     = "gemini"
	KeyBlobSigner = "blob-signing"
)

var (
	// ErrNotFound is returned when no key is stored under a name.
	ErrNotFound = errors.New("credential not found")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrInvalidName rejects empty or whitespace names.
	ErrInvalidName = errors.New("invalid credential name")
)

// envVars maps key names to the environment variables that override them.
var envVars = map[string][]string{
	KeyOpenAI:     {"MINUTES_OPENAI_API_KEY", "OPENAI_API_KEY"},
	KeyGemini:     {"MINUTES_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
	KeyBlobSigner: {"MINUTES_BLOB_SIGNING_KEY"},
}

// file is the on-disk layout. Keys holds base64 nonce||ciphertext values.
type file struct {
	Salt      string            `yaml:"salt,omitempty"`
	Keys      map[string]string `yaml:"keys"`
	UpdatedAt time.Time         `yaml:"updated_at"`
}

// Store reads and writes the credentials file.
type Store struct {
	dir         string
	key         []byte
	keyProvider KeyProvider

	mu sync.Mutex
}

// Dir returns $MINUTES_HOME, or ~/.minutes.
func Dir() (string, error) {
	if dir := os.Getenv("MINUTES_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultCredentialsDir), nil
}

// Path returns the credentials file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// NewStore opens the store in Dir() with the default key provider.
func NewStore() (*Store, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	kp, err := GetDefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(dir, kp)
}

// NewStoreWithKeyProvider opens the store in dir with an explicit key source.
func NewStoreWithKeyProvider(dir string, kp KeyProvider) (*Store, error) {
	key, err := kp.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{dir: dir, key: key, keyProvider: kp}, nil
}

// Description names the key source backing this store.
func (s *Store) Description() string {
	return s.keyProvider.Description()
}

func (s *Store) path() string {
	return filepath.Join(s.dir, DefaultCredentialsFile)
}

func (s *Store) read() (*file, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return &file{Keys: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if f.Keys == nil {
		f.Keys = map[string]string{}
	}
	return &f, nil
}

func (s *Store) write(f *file) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	f.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return os.Rename(tmp, s.path())
}

func normalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// Set encrypts and stores value under name, replacing any previous value.
func (s *Store) Set(name, value string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	enc, err := encrypt(s.key, value)
	if err != nil {
		return err
	}
	f.Keys[name] = enc
	if p, ok := s.keyProvider.(*PassphraseKeyProvider); ok {
		f.Salt = hex.EncodeToString(p.salt)
	}
	return s.write(f)
}

// Get decrypts the value stored under name.
func (s *Store) Get(name string) (string, error) {
	name, err := normalizeName(name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return "", err
	}
	enc, ok := f.Keys[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return decrypt(s.key, enc)
}

// Delete removes name, reporting whether it was stored.
func (s *Store) Delete(name string) (bool, error) {
	name, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return false, err
	}
	if _, ok := f.Keys[name]; !ok {
		return false, nil
	}
	delete(f.Keys, name)
	return true, s.write(f)
}

// Names lists the stored key names, sorted.
func (s *Store) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.Keys))
	for n := range f.Keys {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Resolve returns the value for name from its environment variables, then
// the store. A nil store only consults the environment.
func Resolve(s *Store, name string) (string, error) {
	for _, env := range envVars[name] {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}
	if s == nil {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return s.Get(name)
}

func encrypt(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// Mask shows the first and last four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
