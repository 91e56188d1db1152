package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(LocalConfig{Root: t.TempDir(), BaseURL: "http://localhost:8080/", SigningKey: "secret"})
	require.NoError(t, err)
	return s
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	u, err := s.Upload(ctx, "jobs/1/narration/summary.wav", []byte("RIFF"), "audio/wav", map[string]string{"job_id": "1"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/jobs/1/narration/summary.wav", u)

	data, err := s.Download(ctx, URI("jobs/1/narration/summary.wav"))
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)

	ok, err := s.Delete(ctx, "jobs/1/narration/summary.wav")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "jobs/1/narration/summary.wav")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Download(ctx, "jobs/1/narration/summary.wav")
	assert.ErrorIs(t, err, mnerrors.ErrNotFound)
}

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "../etc/passwd", "a/../../b", "x.meta.json", "/"} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
	k, err := CleanKey("blob:///uploads//a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.pdf", k)
}

func TestPresignAndHandler(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Upload(ctx, "a/b.txt", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)

	signed, err := s.Presign("a/b.txt", time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/a/b.txt?expires=1&sig=00", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVerify_Expired(t *testing.T) {
	s := newStore(t)
	base := time.Now()
	s.now = func() time.Time { return base }
	signed, err := s.Presign("k", time.Second)
	require.NoError(t, err)
	u, _ := url.Parse(signed)

	s.now = func() time.Time { return base.Add(time.Hour) }
	assert.False(t, s.Verify("k", u.Query().Get("expires"), u.Query().Get("sig")))
}
