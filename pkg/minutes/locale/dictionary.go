// Package locale holds the curated dictionary of names, organizations,
// places and domain terms used to correct transcribed proper nouns, plus the
// text normalization and similarity helpers the matching relies on.
package locale

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Kind classifies a dictionary entry.
type Kind string

const (
	KindPerson       Kind = "person"
	KindOrganization Kind = "organization"
	KindLocation     Kind = "location"
	KindTerm         Kind = "term"
)

// Entry is one canonical spelling and its accepted variants.
type Entry struct {
	Canonical string   `yaml:"canonical"`
	Kind      Kind     `yaml:"kind"`
	Aliases   []string `yaml:"aliases,omitempty"`
}

// Dictionary is the curated locale dictionary.
type Dictionary struct {
	Entries []Entry `yaml:"entries"`

	// Misspellings maps a known wrong transcription to its canonical form.
	Misspellings map[string]string `yaml:"misspellings"`

	exact map[string]*Entry
	typos map[string]string
}

// NewDictionary indexes entries and misspellings.
func NewDictionary(entries []Entry, misspellings map[string]string) *Dictionary {
	d := &Dictionary{Entries: entries, Misspellings: misspellings}
	d.index()
	return d
}

func (d *Dictionary) index() {
	d.exact = make(map[string]*Entry, len(d.Entries))
	for i := range d.Entries {
		e := &d.Entries[i]
		d.exact[Fold(e.Canonical)] = e
		for _, a := range e.Aliases {
			d.exact[Fold(a)] = e
		}
	}
	d.typos = make(map[string]string, len(d.Misspellings))
	for wrong, right := range d.Misspellings {
		d.typos[Fold(wrong)] = right
	}
}

// LoadDictionary reads a YAML dictionary file.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing dictionary %s: %w", path, err)
	}
	for i, e := range d.Entries {
		if strings.TrimSpace(e.Canonical) == "" {
			return nil, fmt.Errorf("dictionary %s: entry %d has no canonical form", path, i)
		}
		if e.Kind == "" {
			d.Entries[i].Kind = KindTerm
		}
	}
	d.index()
	return &d, nil
}

// Merge returns a dictionary holding the entries of d followed by other's.
func (d *Dictionary) Merge(other *Dictionary) *Dictionary {
	if other == nil {
		return d
	}
	entries := append(append([]Entry{}, d.Entries...), other.Entries...)
	typos := make(map[string]string, len(d.Misspellings)+len(other.Misspellings))
	for k, v := range d.Misspellings {
		typos[k] = v
	}
	for k, v := range other.Misspellings {
		typos[k] = v
	}
	return NewDictionary(entries, typos)
}

// Lookup returns the entry whose canonical form or alias equals term after folding.
func (d *Dictionary) Lookup(term string) (*Entry, bool) {
	e, ok := d.exact[Fold(term)]
	return e, ok
}

// Misspelling returns the canonical form for a known misspelling.
func (d *Dictionary) Misspelling(term string) (string, bool) {
	right, ok := d.typos[Fold(term)]
	return right, ok
}

// MisspellingKeys returns the folded misspellings, for candidate scanning.
func (d *Dictionary) MisspellingKeys() []string {
	out := make([]string, 0, len(d.typos))
	for k := range d.typos {
		out = append(out, k)
	}
	return out
}

// Candidates returns every canonical form and alias for fuzzy matching.
func (d *Dictionary) Candidates() []Candidate {
	var out []Candidate
	for i := range d.Entries {
		e := &d.Entries[i]
		out = append(out, Candidate{Text: e.Canonical, Entry: e})
		for _, a := range e.Aliases {
			out = append(out, Candidate{Text: a, Entry: e})
		}
	}
	return out
}

// Candidate is a spelling a term can be matched against.
type Candidate struct {
	Text  string
	Entry *Entry
}

// Fold lowercases s, strips diacritics and collapses whitespace, so that
// "São  Paulo" and "sao paulo" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// NormalizeName tidies a display name: quotes trimmed, "Last, First"
// reordered, whitespace collapsed.
func NormalizeName(name string) string {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if first, last, ok := strings.Cut(name, ","); ok {
		first, last = strings.TrimSpace(last), strings.TrimSpace(first)
		if first != "" && last != "" {
			name = first + " " + last
		}
	}
	return strings.Join(strings.Fields(name), " ")
}
