package languagetool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/check", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "we was late", r.PostForm.Get("text"))
		assert.Equal(t, "en-GB", r.PostForm.Get("language"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches":[{"message":"Agreement","offset":3,"length":3,
			"replacements":[{"value":"were"}],
			"rule":{"id":"AGREEMENT","issueType":"grammar","category":{"id":"GRAMMAR"}}}]}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL + "/"})
	matches, err := c.Check(context.Background(), "we was late", "en-GB")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "AGREEMENT", matches[0].RuleID)
	assert.Equal(t, "GRAMMAR", matches[0].Category)
	assert.Equal(t, []string{"were"}, matches[0].Replacements)
}

func TestCheck_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Check(context.Background(), "text", "")
	require.Error(t, err)
	assert.True(t, mnerrors.IsTransient(err))
}
