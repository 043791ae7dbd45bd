package annotator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmarx/chat2obs-sub000/internal/model"
	implicitmatcher "github.com/dmarx/chat2obs-sub000/pkg/implicit-matcher"
)

// MessageTextData is the typed view message-text annotators operate over:
// one message's role and its content parts' text joined together, the same
// aggregation internal/exchange uses for its own per-role text.
type MessageTextData struct {
	MessageID string
	Role      model.Role
	Text      string
}

func (d *MessageTextData) asItem() item {
	return item{entityID: d.MessageID, role: d.Role, data: d}
}

// ---------------------------------------------------------------------------
// CodeBlockAnnotator
// ---------------------------------------------------------------------------

var codeFenceRe = regexp.MustCompile("```([a-zA-Z0-9_+-]*)")

type CodeBlockAnnotator struct{}

func (CodeBlockAnnotator) Spec() Spec {
	return Spec{Key: "CodeBlockAnnotator", Version: "1.0", Priority: 90, EntityType: model.EntityMessage}
}

func (CodeBlockAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	matches := codeFenceRe.FindAllStringSubmatch(d.Text, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	out := []Result{Flag("has_code", nil, "contains a fenced code block")}
	seen := map[string]bool{}
	for _, m := range matches {
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, String("code_language", lang, nil, "language hint on a fence"))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// ScriptHeaderAnnotator
// ---------------------------------------------------------------------------

type ScriptHeaderAnnotator struct{}

func (ScriptHeaderAnnotator) Spec() Spec {
	return Spec{Key: "ScriptHeaderAnnotator", Version: "1.0", Priority: 90, EntityType: model.EntityMessage}
}

func (ScriptHeaderAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	if strings.Contains(d.Text, "#!/") || strings.Contains(d.Text, "#include <") || strings.Contains(d.Text, `#include "`) {
		return []Result{Flag("has_script_header", nil, "shebang or C/C++ include header")}, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// CodeStructureAnnotator
// ---------------------------------------------------------------------------

var (
	pyDefRe     = regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(.*\)\s*:`)
	classRe     = regexp.MustCompile(`(?m)^\s*class\s+\w+`)
	methodRe    = regexp.MustCompile(`(?m)^\s+def\s+\w+\s*\(`)
	jsFuncRe    = regexp.MustCompile(`function\s*\w*\s*\([^)]*\)\s*\{`)
	letConstVar = regexp.MustCompile(`\b(let|const|var)\s+\w+\s*=`)
)

type CodeStructureAnnotator struct{}

func (CodeStructureAnnotator) Spec() Spec {
	return Spec{Key: "CodeStructureAnnotator", Version: "1.0", Priority: 70, EntityType: model.EntityMessage}
}

func (CodeStructureAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	text := d.Text

	pyShape := pyDefRe.MatchString(text) && strings.Contains(text, "return")
	classShape := classRe.MatchString(text) && methodRe.MatchString(text)
	jsShape := jsFuncRe.MatchString(text)
	multiAssign := len(letConstVar.FindAllString(text, -1)) >= 2

	if pyShape || classShape || jsShape || multiAssign {
		return []Result{Flag("has_code_structure", nil, "balanced code-structure pattern detected")}, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// FunctionDefinitionAnnotator
// ---------------------------------------------------------------------------

var funcDefRes = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(`),
	regexp.MustCompile(`function\s+\w+\s*\(`),
	regexp.MustCompile(`(?m)^\s*func\s+\w+\s*\(`),
	regexp.MustCompile(`(?m)^\s*fn\s+\w+\s*\(`),
}

type FunctionDefinitionAnnotator struct{}

func (FunctionDefinitionAnnotator) Spec() Spec {
	return Spec{Key: "FunctionDefinitionAnnotator", Version: "1.0", Priority: 70, EntityType: model.EntityMessage}
}

func (FunctionDefinitionAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	count := 0
	for _, re := range funcDefRes {
		count += len(re.FindAllString(d.Text, -1))
	}
	if count == 0 {
		return nil, nil
	}
	return []Result{
		Flag("has_function_definition", nil, "function/method definition pattern detected"),
		Numeric("function_definition_count", float64(count), nil, ""),
	}, nil
}

// ---------------------------------------------------------------------------
// ImportStatementAnnotator
// ---------------------------------------------------------------------------

var importRes = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*import\s+[\w.]+`),
	regexp.MustCompile(`(?m)^\s*from\s+[\w.]+\s+import\s+`),
	regexp.MustCompile(`(?m)^\s*require\(['"][^'"]+['"]\)`),
	regexp.MustCompile(`(?m)^\s*#include\s*[<"][^>"]+[>"]`),
}

type ImportStatementAnnotator struct{}

func (ImportStatementAnnotator) Spec() Spec {
	return Spec{Key: "ImportStatementAnnotator", Version: "1.0", Priority: 70, EntityType: model.EntityMessage}
}

func (ImportStatementAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	count := 0
	for _, re := range importRes {
		count += len(re.FindAllString(d.Text, -1))
	}
	if count == 0 {
		return nil, nil
	}
	return []Result{
		Flag("has_import_statement", nil, "import/include/require statement detected"),
		Numeric("import_statement_count", float64(count), nil, ""),
	}, nil
}

// ---------------------------------------------------------------------------
// CodeKeywordDensityAnnotator
// ---------------------------------------------------------------------------

// programmingKeywords is the fixed vocabulary behind CodeKeywordDensityAnnotator's
// density check. Compiled once into an Aho-Corasick dictionary so scanning a
// long message is a single linear pass instead of N separate substring scans.
var programmingKeywords = []string{
	"def", "function", "class", "import", "from", "return", "const", "let", "var",
	"public", "private", "static", "void", "async", "await", "interface", "struct",
	"package", "namespace", "lambda", "yield", "throw", "catch", "foreach",
}

var keywordDictionary = mustCompileKeywordDictionary()

func mustCompileKeywordDictionary() *implicitmatcher.RuntimeDictionary {
	entities := make([]implicitmatcher.RegisteredEntity, 0, len(programmingKeywords))
	for i, kw := range programmingKeywords {
		entities = append(entities, implicitmatcher.RegisteredEntity{
			ID:    fmt.Sprintf("kw-%d", i),
			Label: kw,
		})
	}
	dict, err := implicitmatcher.Compile(entities)
	if err != nil {
		panic("annotator: failed to compile keyword dictionary: " + err.Error())
	}
	return dict
}

type CodeKeywordDensityAnnotator struct{}

func (CodeKeywordDensityAnnotator) Spec() Spec {
	return Spec{Key: "CodeKeywordDensityAnnotator", Version: "1.0", Priority: 30, EntityType: model.EntityMessage}
}

func (CodeKeywordDensityAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	if len(d.Text) <= 500 {
		return nil, nil
	}
	matches := keywordDictionary.Scan(d.Text)
	if len(matches) < 5 {
		return nil, nil
	}
	// Gate on density against significant (stopword-filtered) words, not raw
	// char count: a long message padded with filler prose can accumulate 5
	// scattered keyword hits without actually being code-dense.
	sig := significantWordCount(d.Text)
	if sig == 0 || float64(len(matches))/float64(sig) < 0.02 {
		return nil, nil
	}
	c := 0.3
	return []Result{Flag("code_keyword_dense", &c, fmt.Sprintf("%d programming keyword hits over %d significant words", len(matches), sig))}, nil
}

// ---------------------------------------------------------------------------
// WikiLinkAnnotator
// ---------------------------------------------------------------------------

var wikiLinkRe = regexp.MustCompile(`\[\[([^\]]+)\]\]`)

type WikiLinkAnnotator struct{}

func (WikiLinkAnnotator) Spec() Spec {
	return Spec{Key: "WikiLinkAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityMessage, RoleFilter: []model.Role{model.RoleAssistant}}
}

func (WikiLinkAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	matches := wikiLinkRe.FindAllStringSubmatch(d.Text, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	return []Result{
		Flag("has_wiki_link", nil, "[[wiki link]] syntax present"),
		Numeric("wiki_link_count", float64(len(matches)), nil, ""),
	}, nil
}

// ---------------------------------------------------------------------------
// LatexAnnotator
// ---------------------------------------------------------------------------

var (
	latexDisplayRe = regexp.MustCompile(`\$\$[^$]+\$\$|\\\([^)]*\\\)|\\\[[^\]]*\\\]`)
	latexCommandRe = regexp.MustCompile(`\\(frac|sum|int|alpha|beta|sqrt|partial|infty|cdot|times|leq|geq)\b`)
)

type LatexAnnotator struct{}

func (LatexAnnotator) Spec() Spec {
	return Spec{Key: "LatexAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityMessage, RoleFilter: []model.Role{model.RoleAssistant}}
}

func (LatexAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	if latexDisplayRe.MatchString(d.Text) || latexCommandRe.MatchString(d.Text) {
		return []Result{Flag("has_latex", nil, "LaTeX delimiter or command detected")}, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// ContinuationAnnotator / QuoteElaborateAnnotator
// ---------------------------------------------------------------------------

// continuationPatterns keys a continuation subkind to the phrases that
// signal it; bare or sentence-leading membership counts the same way
// internal/exchange.IsContinuationPrompt treats its own vocabulary.
var continuationPatterns = map[string][]string{
	"continue":  {"continue", "keep going", "go on", "carry on"},
	"elaborate": {"elaborate", "expand", "tell me more", "more details"},
	"finish":    {"finish", "complete", "wrap up"},
	"next":      {"next", "what else", "and then"},
}

var quoteElaborateLastLines = map[string]bool{
	"elaborate": true, "continue": true, "expand": true, "more": true,
}

// ContinuationAnnotator / QuoteElaborateAnnotator: a user message of ten
// words or fewer that either quotes an excerpt and asks to elaborate, or
// opens with one of the fixed "keep going" phrasings, gets tagged with
// the specific subkind it matched. Grounded on
// original_source/llm_archive/annotators/features.py's ContinuationAnnotator,
// the same rule family internal/exchange.IsContinuationPrompt uses for
// merging exchanges, just keyed by subkind instead of collapsed to bool.
type ContinuationAnnotator struct{}

func (ContinuationAnnotator) Spec() Spec {
	return Spec{Key: "ContinuationAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityMessage, RoleFilter: []model.Role{model.RoleUser}}
}

func (ContinuationAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*MessageTextData)
	text := strings.ToLower(strings.TrimSpace(d.Text))
	if text == "" || wordCount(text) > 10 {
		return nil, nil
	}

	if strings.HasPrefix(text, ">") {
		lines := strings.Split(text, "\n")
		last := strings.TrimSpace(lines[len(lines)-1])
		if quoteElaborateLastLines[last] {
			c := 1.0
			return []Result{String("continuation_signal", "quote_elaborate", &c, "")}, nil
		}
	}

	for subkind, keywords := range continuationPatterns {
		for _, kw := range keywords {
			if text == kw || strings.HasPrefix(text, kw+" ") || strings.HasPrefix(text, kw+"?") {
				c := 0.9
				return []Result{String("continuation_signal", subkind, &c, "matched "+kw)}, nil
			}
		}
	}
	return nil, nil
}
