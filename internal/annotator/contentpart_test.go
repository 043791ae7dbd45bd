package annotator

import (
	"testing"
	"time"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

func TestCodeBlockContentAnnotatorDetectsFenceAndLanguage(t *testing.T) {
	data := &ContentPartData{ContentPartID: "cp1", PartType: model.PartText, TextContent: "```go\nfunc f() {}\n```"}
	results, err := CodeBlockContentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "has_code"); !ok {
		t.Fatalf("expected has_code flag, got %+v", results)
	}
	r, ok := resultValue(results, "code_language")
	if !ok {
		t.Fatalf("expected code_language result, got %+v", results)
	}
	if r.Value != "go" {
		t.Errorf("expected language %q, got %q", "go", r.Value)
	}
}

func TestCodeBlockContentAnnotatorTrustsPlatformTypedPart(t *testing.T) {
	data := &ContentPartData{ContentPartID: "cp1", PartType: model.PartCode, Language: "python", TextContent: "print(1)"}
	results, err := CodeBlockContentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "has_code"); !ok {
		t.Fatalf("expected has_code flag for a platform-typed code part with no fence, got %+v", results)
	}
	r, ok := resultValue(results, "code_language")
	if !ok || r.Value != "python" {
		t.Fatalf("expected code_language=python from the part's own Language field, got %+v", results)
	}
}

func TestCodeBlockContentAnnotatorIgnoresPlainTextPart(t *testing.T) {
	data := &ContentPartData{ContentPartID: "cp1", PartType: model.PartText, TextContent: "just prose, no code here"}
	results, err := CodeBlockContentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for a plain-text part, got %+v", results)
	}
}

func TestScriptHeaderContentAnnotatorDetectsShebang(t *testing.T) {
	data := &ContentPartData{ContentPartID: "cp1", TextContent: "#!/usr/bin/env python\nprint(1)"}
	results, err := ScriptHeaderContentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "has_script_header"); !ok {
		t.Fatalf("expected has_script_header flag, got %+v", results)
	}
}

func TestLatexContentAnnotatorDetectsDisplayMath(t *testing.T) {
	data := &ContentPartData{ContentPartID: "cp1", TextContent: "the identity $$e^{i\\pi}+1=0$$ holds"}
	results, err := LatexContentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "has_latex"); !ok {
		t.Fatalf("expected has_latex flag, got %+v", results)
	}
}

func TestWikiLinkContentAnnotatorCountsLinks(t *testing.T) {
	data := &ContentPartData{ContentPartID: "cp1", TextContent: "see [[Topic A]] and [[Topic B]]"}
	results, err := WikiLinkContentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	r, ok := resultValue(results, "wiki_link_count")
	if !ok {
		t.Fatalf("expected wiki_link_count result, got %+v", results)
	}
	if r.Numeric != 2 {
		t.Errorf("expected 2 wiki links, got %v", r.Numeric)
	}
}

func TestPartPositionAnnotatorFlagsFirstAndLast(t *testing.T) {
	first := &ContentPartData{ContentPartID: "cp1", Sequence: 0, TotalParts: 3}
	results, err := PartPositionAnnotator{}.Annotate(first)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "is_first_part"); !ok {
		t.Fatalf("expected is_first_part flag for sequence 0, got %+v", results)
	}
	if _, ok := resultValue(results, "is_last_part"); ok {
		t.Errorf("did not expect is_last_part flag for sequence 0 of 3, got %+v", results)
	}

	last := &ContentPartData{ContentPartID: "cp3", Sequence: 2, TotalParts: 3}
	results, err = PartPositionAnnotator{}.Annotate(last)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "is_last_part"); !ok {
		t.Fatalf("expected is_last_part flag for the final sequence, got %+v", results)
	}
	r, ok := resultValue(results, "part_sequence")
	if !ok || r.Numeric != 2 {
		t.Fatalf("expected part_sequence=2, got %+v", results)
	}
}

func TestRunContentPartCoversEveryPartOfEveryMessage(t *testing.T) {
	s := newTestStore(t)
	m := newManager(t, s)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedMessage(t, s, "m1", "d1", model.RoleAssistant, base, "```go\nfunc f() {}\n```")

	stats, err := m.RunContentPart(CodeBlockContentAnnotator{}, "d1")
	if err != nil {
		t.Fatalf("RunContentPart failed: %v", err)
	}
	if stats.EntitiesProcessed != 1 {
		t.Fatalf("expected 1 content part processed, got %d", stats.EntitiesProcessed)
	}
	if stats.AnnotationsCreated == 0 {
		t.Fatalf("expected at least one annotation created for the code-fenced part")
	}
}
