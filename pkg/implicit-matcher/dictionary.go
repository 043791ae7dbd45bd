// Package implicitmatcher provides a compiled, case-folding Aho-Corasick
// dictionary for scanning message/content-part text against a fixed lexicon
// (programming keywords, LaTeX commands) in a single linear pass instead of
// one strings.Contains call per term.
//
// Adapted from GoKitt/pkg/implicit-matcher/dictionary.go's RuntimeDictionary:
// this repo has no narrative-entity graph, so the entity-kind taxonomy,
// alias auto-generation, and dictionary-lookup API that file builds for NER
// candidate extraction are dropped. What survives is the part that matters
// for keyword density scanning — CanonicalizeForMatch's case/punctuation
// folding (so "Import" and "import," both match "import") and Scan's
// canonicalized-text-to-original-offset mapping.
package implicitmatcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
)

// isJoiner returns true for punctuation that commonly appears inside a
// multi-word term ("end for", "try/catch") and should not split it.
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

// CanonicalizeForMatch folds text into the normalized form both pattern
// compilation and document scanning match against: lowercase, letters/digits
// and joiners preserved, every other run of characters collapsed to one
// space.
func CanonicalizeForMatch(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true

	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}

	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// RegisteredEntity is one term to compile into a RuntimeDictionary.
type RegisteredEntity struct {
	ID    string
	Label string
}

// RuntimeDictionary is a compiled Aho-Corasick automaton over a fixed term
// list, built once and reused across every Scan call.
type RuntimeDictionary struct {
	ac           *ahocorasick.Automaton
	patternToIDs [][]string
	patternIndex map[string]int
	patterns     []string
}

func newRuntimeDictionary() *RuntimeDictionary {
	return &RuntimeDictionary{
		patternToIDs: [][]string{},
		patternIndex: make(map[string]int),
		patterns:     []string{},
	}
}

// Compile builds a RuntimeDictionary from a fixed term list, normalizing
// each term's surface form with CanonicalizeForMatch before indexing it.
func Compile(entities []RegisteredEntity) (*RuntimeDictionary, error) {
	dict := newRuntimeDictionary()

	for _, e := range entities {
		key := CanonicalizeForMatch(e.Label)
		if key == "" {
			continue
		}
		if idx, exists := dict.patternIndex[key]; exists {
			dict.patternToIDs[idx] = appendUnique(dict.patternToIDs[idx], e.ID)
			continue
		}
		idx := len(dict.patterns)
		dict.patterns = append(dict.patterns, key)
		dict.patternIndex[key] = idx
		dict.patternToIDs = append(dict.patternToIDs, []string{e.ID})
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(dict.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	dict.ac = automaton
	return dict, nil
}

// Match is one detected term, with byte offsets into the original
// (uncanonicalized) text so callers can slice or highlight it directly.
type Match struct {
	Start       int
	End         int
	MatchedText string
	PatternIdx  int
}

// Scan finds every term occurrence in text in O(n), canonicalizing text the
// same way patterns were canonicalized at compile time, then mapping
// matches back to offsets in the original string.
func (d *RuntimeDictionary) Scan(text string) []Match {
	if d.ac == nil {
		return nil
	}

	canonicalized := CanonicalizeForMatch(text)
	haystack := []byte(canonicalized)
	canonToOrig := buildOffsetMap(text)

	matches := d.ac.FindAllOverlapping(haystack)
	result := make([]Match, 0, len(matches))

	for _, m := range matches {
		origStart := mapOffset(m.Start, canonToOrig, len(text))
		origEnd := mapOffset(m.End, canonToOrig, len(text))
		if origStart >= len(text) || origEnd > len(text) || origStart >= origEnd {
			continue
		}
		result = append(result, Match{
			Start:       origStart,
			End:         origEnd,
			MatchedText: text[origStart:origEnd],
			PatternIdx:  m.PatternID,
		})
	}

	return result
}

// buildOffsetMap maps each byte position in the canonicalized string back to
// the byte position in the original string it came from.
func buildOffsetMap(original string) []int {
	mapping := make([]int, 0, len(original)+1)
	lastWasSpace := true
	origPos := 0

	for _, ch := range original {
		runeLen := utf8.RuneLen(ch)
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			canonLen := utf8.RuneLen(c)
			for i := 0; i < canonLen; i++ {
				mapping = append(mapping, origPos)
			}
			lastWasSpace = false
		} else if !lastWasSpace {
			mapping = append(mapping, origPos)
			lastWasSpace = true
		}

		origPos += runeLen
	}

	mapping = append(mapping, origPos)
	return mapping
}

func mapOffset(canonOffset int, mapping []int, originalLen int) int {
	if canonOffset >= len(mapping) {
		return originalLen
	}
	if canonOffset < 0 {
		return 0
	}
	return mapping[canonOffset]
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}
