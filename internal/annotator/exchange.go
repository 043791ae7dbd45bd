package annotator

import (
	"fmt"
	"strings"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

// ExchangeData is the typed view exchange annotators operate over: the
// same per-role text an exchange's ExchangeContent row carries.
type ExchangeData struct {
	ExchangeID         string
	UserText           string
	AssistantText      string
	UserWordCount      int
	AssistantWordCount int
}

func (d *ExchangeData) asItem() item {
	return item{entityID: d.ExchangeID, data: d}
}

// ---------------------------------------------------------------------------
// ExchangeTypeAnnotator
// ---------------------------------------------------------------------------

type ExchangeTypeAnnotator struct{}

func (ExchangeTypeAnnotator) Spec() Spec {
	return Spec{Key: "ExchangeTypeAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityExchange}
}

func (ExchangeTypeAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangeData)
	exchangeType, confidence := classifyExchangeType(d)
	c := confidence
	return []Result{String("exchange_type", exchangeType, &c, "")}, nil
}

// classifyExchangeType mirrors original_source's ExchangeTypeAnnotator._classify:
// coding and wiki_article are checked first as the strongest signals, then
// short-question/long-answer qa, then long-form generation split into
// article (heading/bold lead) vs plain generation, with discussion as the
// catch-all.
func classifyExchangeType(d *ExchangeData) (string, float64) {
	codeBlocks := strings.Count(d.AssistantText, "```")
	if codeBlocks >= 2 {
		return "coding", 0.8
	}
	if strings.Contains(d.AssistantText, "[[") && strings.Contains(d.AssistantText, "]]") {
		return "wiki_article", 0.9
	}
	if d.UserWordCount < 50 && d.AssistantWordCount > 200 {
		return "qa", 0.6
	}
	if d.AssistantWordCount > 500 {
		if strings.HasPrefix(d.AssistantText, "#") || strings.HasPrefix(d.AssistantText, "**") {
			return "article", 0.7
		}
		return "generation", 0.5
	}
	return "discussion", 0.4
}

// ---------------------------------------------------------------------------
// CodeEvidenceAnnotator
// ---------------------------------------------------------------------------

var (
	strongCodeIndicators   = []string{"```", "#!/", "#include"}
	moderateCodeKeywords   = []string{"def ", "function ", "class ", "import ", "from "}
	codeEvidenceDensityKws = []string{
		"function", "class", "import", "return", "if ", "for ", "while ",
		"const ", "let ", "var ", "async", "await", "try", "catch",
	}
)

type CodeEvidenceAnnotator struct{}

func (CodeEvidenceAnnotator) Spec() Spec {
	return Spec{Key: "CodeEvidenceAnnotator", Version: "1.0", Priority: 40, EntityType: model.EntityExchange}
}

func (CodeEvidenceAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangeData)
	allText := d.UserText + " " + d.AssistantText

	strongCount := 0
	for _, ind := range strongCodeIndicators {
		if strings.Contains(allText, ind) {
			strongCount++
		}
	}
	moderateCount := 0
	for _, kw := range moderateCodeKeywords {
		if strings.Contains(allText, kw) {
			moderateCount++
		}
	}
	lower := strings.ToLower(allText)
	keywordCount := 0
	for _, kw := range codeEvidenceDensityKws {
		if strings.Contains(lower, kw) {
			keywordCount++
		}
	}
	hasHighDensity := len(allText) > 500 && keywordCount >= 5

	switch {
	case strongCount > 0:
		c := 0.95
		reason := fmt.Sprintf("strong_indicators=%d moderate_keywords=%d", strongCount, moderateCount)
		return []Result{String("code_evidence", "strong_code_evidence", &c, reason)}, nil
	case moderateCount >= 2:
		c := 0.7
		reason := fmt.Sprintf("moderate_keywords=%d keyword_density=%d", moderateCount, keywordCount)
		return []Result{String("code_evidence", "moderate_code_evidence", &c, reason)}, nil
	case hasHighDensity:
		c := 0.5
		reason := fmt.Sprintf("keyword_density=%d text_length=%d", keywordCount, len(allText))
		return []Result{String("code_evidence", "weak_code_evidence", &c, reason)}, nil
	default:
		return nil, nil
	}
}

// ---------------------------------------------------------------------------
// TitleExtractionAnnotator
// ---------------------------------------------------------------------------

type TitleExtractionAnnotator struct{}

func (TitleExtractionAnnotator) Spec() Spec {
	return Spec{Key: "TitleExtractionAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityExchange}
}

func (TitleExtractionAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangeData)
	title := extractTitle(d.AssistantText)
	if title == "" {
		return nil, nil
	}
	c := 0.8
	return []Result{String("proposed_title", title, &c, "")}, nil
}

func extractTitle(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 0 {
		return ""
	}
	firstLine := strings.TrimSpace(lines[0])

	if strings.HasPrefix(firstLine, "#") {
		if title := strings.TrimSpace(strings.TrimLeft(firstLine, "#")); title != "" {
			return title
		}
	}
	if strings.HasPrefix(firstLine, "**") && strings.HasSuffix(firstLine, "**") {
		if title := strings.Trim(strings.Trim(firstLine, "*"), " "); title != "" {
			return title
		}
	}
	return ""
}
