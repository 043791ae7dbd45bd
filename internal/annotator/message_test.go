package annotator

import (
	"strings"
	"testing"
)

func TestCodeKeywordDensityAnnotatorFlagsDenseKeywordUse(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("def function class import return const let var public static ")
	}
	data := &MessageTextData{MessageID: "m1", Text: b.String()}

	results, err := CodeKeywordDensityAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "code_keyword_dense"); !ok {
		t.Fatalf("expected code_keyword_dense flag for a keyword-saturated message, got %+v", results)
	}
}

func TestCodeKeywordDensityAnnotatorIgnoresSparseKeywordsInLongFillerText(t *testing.T) {
	var b strings.Builder
	b.WriteString("def function class import return ")
	for i := 0; i < 200; i++ {
		b.WriteString("the quick brown fox jumps over the lazy dog in the forest ")
	}
	data := &MessageTextData{MessageID: "m1", Text: b.String()}

	results, err := CodeKeywordDensityAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "code_keyword_dense"); ok {
		t.Fatalf("expected no flag when keyword hits are a negligible share of a long filler-heavy message, got %+v", results)
	}
}

func TestCodeKeywordDensityAnnotatorIgnoresShortMessages(t *testing.T) {
	data := &MessageTextData{MessageID: "m1", Text: "def foo(): return 1"}
	results, err := CodeKeywordDensityAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for a message under the 500-char threshold, got %+v", results)
	}
}
