package annotator

import (
	"strings"
	"testing"
)

func resultValue(results []Result, key string) (Result, bool) {
	for _, r := range results {
		if r.Key == key {
			return r, true
		}
	}
	return Result{}, false
}

func TestDialogueLengthAnnotatorBuckets(t *testing.T) {
	cases := []struct {
		count int
		want  string
	}{
		{0, "empty"},
		{1, "single"},
		{3, "short"},
		{10, "medium"},
		{25, "long"},
		{26, "very_long"},
	}
	for _, c := range cases {
		data := &DialogueData{ExchangeCount: c.count}
		results, err := DialogueLengthAnnotator{}.Annotate(data)
		if err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
		r, ok := resultValue(results, "dialogue_length")
		if !ok {
			t.Fatalf("expected dialogue_length result for count=%d", c.count)
		}
		if r.Value != c.want {
			t.Errorf("count=%d: got category %q, want %q", c.count, r.Value, c.want)
		}
	}
}

func TestPromptStatsAnnotatorNoPrompts(t *testing.T) {
	data := &DialogueData{}
	results, err := PromptStatsAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	r, ok := resultValue(results, "prompt_stats")
	if !ok || r.Value != "none" {
		t.Fatalf("expected prompt_stats=none with no user word counts, got %+v", results)
	}
}

func TestPromptStatsAnnotatorConsistentShortPrompts(t *testing.T) {
	data := &DialogueData{UserWordCounts: []int{5, 5, 5, 5, 5}}
	results, err := PromptStatsAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	r, ok := resultValue(results, "prompt_stats")
	if !ok {
		t.Fatalf("expected a prompt_stats result")
	}
	if r.Value != "very_short_consistent" {
		t.Errorf("expected very_short_consistent for uniform tiny word counts, got %q", r.Value)
	}
}

func TestPromptStatsAnnotatorVariablePrompts(t *testing.T) {
	data := &DialogueData{UserWordCounts: []int{5, 400, 10, 600, 8}}
	results, err := PromptStatsAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	r, ok := resultValue(results, "prompt_stats")
	if !ok {
		t.Fatalf("expected a prompt_stats result")
	}
	if r.Value == "very_short_consistent" {
		t.Errorf("expected a high-variance category for wildly uneven word counts, got %q", r.Value)
	}
}

func TestPromptStatsAnnotatorVocabularyDensityFiltersStopwords(t *testing.T) {
	data := &DialogueData{
		UserWordCounts: []int{6, 6},
		UserTexts:      []string{"the a is of and to", "database migration rollback strategy kubernetes"},
	}
	results, err := PromptStatsAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	r, ok := resultValue(results, "prompt_stats_detail")
	if !ok {
		t.Fatalf("expected a prompt_stats_detail result")
	}
	if !strings.Contains(r.Value, "vocabulary_density") {
		t.Fatalf("expected vocabulary_density in detail JSON, got %s", r.Value)
	}
}

func TestFirstExchangeAnnotatorDetectsCodeStart(t *testing.T) {
	data := &DialogueData{FirstUserText: "```python\nprint('hi')\n```", ExchangeCount: 5}
	results, err := FirstExchangeAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	var sawCodeStart bool
	for _, r := range results {
		if r.Key == "first_exchange" && r.Value == "starts_with_code" {
			sawCodeStart = true
		}
	}
	if !sawCodeStart {
		t.Errorf("expected starts_with_code for a fenced-code first message, got %+v", results)
	}
}

func TestFirstExchangeAnnotatorContextDump(t *testing.T) {
	bigText := make([]byte, largeContentThreshold+1)
	for i := range bigText {
		bigText[i] = 'a'
	}
	data := &DialogueData{FirstUserText: string(bigText), ExchangeCount: 2}
	results, err := FirstExchangeAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	var sawContextDump bool
	for _, r := range results {
		if r.Key == "first_exchange" && r.Value == "context_dump" {
			sawContextDump = true
		}
	}
	if !sawContextDump {
		t.Errorf("expected context_dump for a large first message in a short dialogue, got %+v", results)
	}
}

func TestInteractionPatternAnnotatorBriefAndExtended(t *testing.T) {
	brief, err := InteractionPatternAnnotator{}.Annotate(&DialogueData{ExchangeCount: 2})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if r, ok := resultValue(brief, "interaction_pattern"); !ok || r.Value != "brief_interaction" {
		t.Errorf("expected brief_interaction for 2 exchanges, got %+v", brief)
	}

	extended, err := InteractionPatternAnnotator{}.Annotate(&DialogueData{ExchangeCount: 12})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if r, ok := resultValue(extended, "interaction_pattern"); !ok || r.Value != "extended_conversation" {
		t.Errorf("expected extended_conversation for 12 exchanges, got %+v", extended)
	}
}

func TestCodingAssistanceAnnotatorStrongEvidence(t *testing.T) {
	data := &DialogueData{
		UserTexts:      []string{"can you write a script"},
		AssistantTexts: []string{"```python\nprint(1)\n```", "#!/usr/bin/env python"},
	}
	results, err := CodingAssistanceAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	r, ok := resultValue(results, "coding_assistance")
	if !ok {
		t.Fatalf("expected a coding_assistance result for two strong indicators")
	}
	if r.Confidence == nil || *r.Confidence != 0.95 {
		t.Errorf("expected high confidence for strong evidence, got %+v", r.Confidence)
	}
}

func TestCodingAssistanceAnnotatorNoEvidence(t *testing.T) {
	data := &DialogueData{UserTexts: []string{"what's the weather like"}, AssistantTexts: []string{"sunny today"}}
	results, err := CodingAssistanceAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no coding_assistance result for non-coding text, got %+v", results)
	}
}
