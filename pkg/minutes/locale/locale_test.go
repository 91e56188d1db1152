package locale

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "sao paulo", Fold("  São   Paulo "))
	assert.Equal(t, "zurich", Fold("ZÜRICH"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Kraków", "krakow"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.Equal(t, 1.0, Similarity("", ""))
	// "WIKIMEDIA" vs "WIKIMANIA": 2*7/18.
	assert.InDelta(t, 0.7778, Similarity("WIKIMEDIA", "WIKIMANIA"), 1e-4)
	assert.InDelta(t, 16.0/19.0, Similarity("Saleforse", "Salesforce"), 1e-9)
}

func TestDictionaryLookup(t *testing.T) {
	d := DefaultDictionary()

	e, ok := d.Lookup("zurich")
	require.True(t, ok)
	assert.Equal(t, "Zürich", e.Canonical)

	e, ok = d.Lookup("AWS")
	require.True(t, ok)
	assert.Equal(t, "Amazon Web Services", e.Canonical)

	right, ok := d.Misspelling("Git Hub")
	require.True(t, ok)
	assert.Equal(t, "GitHub", right)

	_, ok = d.Lookup("Atlantis")
	assert.False(t, ok)
}

func TestBestMatch(t *testing.T) {
	d := NewDictionary([]Entry{{Canonical: "Confluence", Kind: KindTerm}}, nil)

	m, ok := d.BestMatch("Confluense", 0.85)
	require.True(t, ok)
	assert.Equal(t, "Confluence", m.Entry.Canonical)
	assert.InDelta(t, 0.9, m.Score, 1e-9)

	_, ok = d.BestMatch("Conference", 0.85)
	assert.False(t, ok)
}

func TestLoadDictionary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - canonical: Aigerim Bekova
    kind: person
    aliases: [Aigerim]
  - canonical: Astana
misspellings:
  astanna: Astana
`), 0o600))

	d, err := LoadDictionary(path)
	require.NoError(t, err)
	require.Len(t, d.Entries, 2)
	assert.Equal(t, KindTerm, d.Entries[1].Kind)

	e, ok := d.Lookup("aigerim")
	require.True(t, ok)
	assert.Equal(t, KindPerson, e.Kind)

	merged := DefaultDictionary().Merge(d)
	_, ok = merged.Misspelling("ASTANNA")
	assert.True(t, ok)
	_, ok = merged.Lookup("Kubernetes")
	assert.True(t, ok)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Rick Eskelsen", NormalizeName("Eskelsen, Rick"))
	assert.Equal(t, "James Brown", NormalizeName(`  "James   Brown" `))
}
