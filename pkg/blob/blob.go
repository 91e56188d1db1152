// Package blob stores job inputs and narration artifacts. LocalStore keeps
// objects on the filesystem and hands out HMAC-signed, expiring URLs served
// by its Handler.
package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

// URIScheme prefixes blob references stored on jobs.
const URIScheme = "blob://"

// Store is the blob storage port.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Presign(key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// ErrInvalidKey is returned for keys that escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// KeyFromURI strips the blob scheme from a stored reference.
func KeyFromURI(uri string) string {
	return strings.TrimPrefix(uri, URIScheme)
}

// URI formats a key as a stored reference.
func URI(key string) string {
	return URIScheme + key
}

// CleanKey normalises key and rejects paths escaping the root.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(KeyFromURI(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.HasSuffix(cleaned, metaSuffix) {
		return "", fmt.Errorf("%w: reserved suffix in %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

const metaSuffix = ".meta.json"

type objectMeta struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Size        int               `json:"size"`
	UploadedAt  time.Time         `json:"uploaded_at"`
}

// LocalConfig configures a LocalStore.
type LocalConfig struct {
	Root       string
	BaseURL    string
	SigningKey string
}

// LocalStore is a filesystem Store.
type LocalStore struct {
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the root directory if needed.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if cfg.Root == "" {
		return nil, errors.New("blob: root directory required")
	}
	if cfg.SigningKey == "" {
		return nil, errors.New("blob: signing key required")
	}
	if err := os.MkdirAll(cfg.Root, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &LocalStore{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     []byte(cfg.SigningKey),
		now:     time.Now,
	}, nil
}

func (s *LocalStore) pathFor(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Upload writes data under key and returns its unsigned URL.
func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}

	p := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := writeAtomic(p, data); err != nil {
		return "", err
	}

	meta, err := json.Marshal(objectMeta{ContentType: contentType, Metadata: metadata, Size: len(data), UploadedAt: s.now().UTC()})
	if err != nil {
		return "", err
	}
	if err := writeAtomic(p+metaSuffix, meta); err != nil {
		return "", err
	}
	return s.baseURL + "/blobs/" + key, nil
}

func writeAtomic(p string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing blob: %w", err)
	}
	return os.Rename(tmp.Name(), p)
}

// Download reads the object at key.
func (s *LocalStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, mnerrors.ErrNotFound)
	}
	return data, err
}

// Delete removes the object, reporting whether it existed.
func (s *LocalStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(s.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = os.Remove(s.pathFor(key) + metaSuffix)
	return true, nil
}

// Presign returns a URL for key valid for ttl.
func (s *LocalStore) Presign(key string, ttl time.Duration) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))
	return s.baseURL + "/blobs/" + key + "?" + q.Encode(), nil
}

func (s *LocalStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a presigned key, expiry and signature.
func (s *LocalStore) Verify(key, expires, sig string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return false
	}
	want := s.sign(key, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

// Handler serves presigned GETs. Mount it under /blobs/.
func (s *LocalStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key, err := CleanKey(strings.TrimPrefix(r.URL.Path, "/blobs/"))
		if err != nil {
			http.Error(w, "bad key", http.StatusBadRequest)
			return
		}
		if !s.Verify(key, r.URL.Query().Get("expires"), r.URL.Query().Get("sig")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		p := s.pathFor(key)
		if raw, err := os.ReadFile(p + metaSuffix); err == nil {
			var meta objectMeta
			if json.Unmarshal(raw, &meta) == nil && meta.ContentType != "" {
				w.Header().Set("Content-Type", meta.ContentType)
			}
		}
		http.ServeFile(w, r, p)
	})
}
