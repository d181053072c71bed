// Package lexicon loads the filter lexicon: the policy-term bridge and the
// named denoising term lists.
package lexicon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Well-known denoising list names.
const (
	ProceduralBigramsList  = "procedural_bigrams"
	ProceduralKeywordsList = "procedural_keywords"
	ProceduralStopwords    = "procedural_stopwords"
)

// SubstantiveMinWords is the word count below which a speech is never
// substantive.
const SubstantiveMinWords = 10

// SubstantiveMaxNoise is the procedural bigram density at or above which a
// speech is treated as procedural.
const SubstantiveMaxNoise = 0.30

// Category is one policy-bridge entry.
type Category struct {
	Description     string   `json:"description" yaml:"description"`
	HistoricalTerms []string `json:"historical_terms" yaml:"historical_terms"`
}

type document struct {
	PolicyBridge     map[string]Category `json:"policy_bridge" yaml:"policy_bridge"`
	DenoisingLexicon map[string]any      `json:"denoising_lexicon" yaml:"denoising_lexicon"`
}

// Lexicon is read-only after Load.
type Lexicon struct {
	bridge  map[string]Category
	lists   map[string][]string
	bigrams map[string]struct{}
}

// Load reads a lexicon from a .json, .yaml or .yml file.
func Load(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lexicon: read %s", path)
	}

	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "lexicon: parse %s", path)
	}
	return build(doc), nil
}

// New builds a lexicon in memory.
func New(bridge map[string]Category, lists map[string][]string) *Lexicon {
	denoise := make(map[string]any, len(lists))
	for k, v := range lists {
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		denoise[k] = items
	}
	return build(document{PolicyBridge: bridge, DenoisingLexicon: denoise})
}

func build(doc document) *Lexicon {
	l := &Lexicon{
		bridge:  doc.PolicyBridge,
		lists:   make(map[string][]string),
		bigrams: make(map[string]struct{}),
	}
	if l.bridge == nil {
		l.bridge = make(map[string]Category)
	}
	// Entries that are not string lists are ignored.
	for name, raw := range doc.DenoisingLexicon {
		items, ok := raw.([]any)
		if !ok {
			continue
		}
		terms := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				terms = append(terms, s)
			}
		}
		l.lists[name] = terms
	}
	for _, b := range l.lists[ProceduralBigramsList] {
		l.bigrams[strings.ToLower(strings.TrimSpace(b))] = struct{}{}
	}
	return l
}

// List returns the named denoising list, or nil.
func (l *Lexicon) List(name string) []string {
	return l.lists[name]
}

// ProceduralBigrams returns the bigram list used by IsSubstantive.
func (l *Lexicon) ProceduralBigrams() []string {
	return l.lists[ProceduralBigramsList]
}

// ProceduralKeywords returns the keyword list for the lexical purge.
func (l *Lexicon) ProceduralKeywords() []string {
	return l.lists[ProceduralKeywordsList]
}

// PolicyTerms maps each normalized historical term to its category.
// Underscores become spaces and terms are lowercased.
func (l *Lexicon) PolicyTerms() map[string]string {
	out := make(map[string]string)
	for cat, c := range l.bridge {
		for _, term := range c.HistoricalTerms {
			out[strings.ToLower(strings.ReplaceAll(term, "_", " "))] = cat
		}
	}
	return out
}

// PolicyMatch is one policy-bridge term found in a text.
type PolicyMatch struct {
	Term     string `json:"term"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// MatchPolicyTerms counts whole-word occurrences of every policy-bridge term
// in text. Matches are ordered by category, then term.
func (l *Lexicon) MatchPolicyTerms(text string) []PolicyMatch {
	padded := " " + wordsOnly(text) + " "
	var out []PolicyMatch
	for term, cat := range l.PolicyTerms() {
		w := wordsOnly(term)
		if w == "" {
			continue
		}
		if n := strings.Count(padded, " "+w+" "); n > 0 {
			out = append(out, PolicyMatch{Term: term, Category: cat, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Term < out[j].Term
	})
	return out
}

// wordsOnly lowercases s and reduces it to single-space separated runs of
// letters and digits.
func wordsOnly(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}), " ")
}

// IsSubstantive reports whether text has at least SubstantiveMinWords words
// and fewer than SubstantiveMaxNoise of its adjacent-word bigrams are
// procedural.
func (l *Lexicon) IsSubstantive(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < SubstantiveMinWords {
		return false
	}
	bigrams := len(words) - 1
	noise := 0
	for i := 0; i < bigrams; i++ {
		if _, ok := l.bigrams[words[i]+" "+words[i+1]]; ok {
			noise++
		}
	}
	return float64(noise)/float64(bigrams) < SubstantiveMaxNoise
}

// Summary describes a lexicon section for reporting.
type Summary struct {
	Section string
	Name    string
	Count   int
	Sample  []string
}

// Summary lists policy categories then denoising lists, each sorted by name.
func (l *Lexicon) Summary() []Summary {
	var out []Summary
	for _, name := range sortedKeys(l.bridge) {
		terms := l.bridge[name].HistoricalTerms
		out = append(out, Summary{Section: "policy_bridge", Name: name, Count: len(terms), Sample: sample(terms, 5)})
	}
	for _, name := range sortedKeys(l.lists) {
		terms := l.lists[name]
		out = append(out, Summary{Section: "denoising_lexicon", Name: name, Count: len(terms), Sample: sample(terms, 8)})
	}
	return out
}

func (s Summary) String() string {
	return fmt.Sprintf("%s/%s: %d terms (%s)", s.Section, s.Name, s.Count, strings.Join(s.Sample, ", "))
}

func sample(terms []string, n int) []string {
	if len(terms) <= n {
		return terms
	}
	return terms[:n]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
