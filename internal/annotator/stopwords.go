package annotator

import (
	"strings"

	"github.com/orsinium-labs/stopwords"
)

// englishStopwords backs the word-significance filtering shared by
// PromptStatsAnnotator and CodeKeywordDensityAnnotator: raw word counts treat
// "the", "a", "is" the same as domain-bearing terms, which inflates length
// and density scores for filler-heavy prompts. Grounded on the stopword
// checker pattern in GoKitt/pkg/scanner/discovery/registry.go's
// CandidateRegistry (stopwords.MustGet("en") plus a Contains check ahead of
// the token-counting pass).
var englishStopwords = stopwords.MustGet("en")

// significantWordCount counts the words in text that are not common English
// stopwords, so density/consistency metrics reflect meaningful vocabulary
// rather than filler.
func significantWordCount(text string) int {
	n := 0
	for _, w := range strings.Fields(text) {
		if !englishStopwords.Contains(strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))) {
			n++
		}
	}
	return n
}
