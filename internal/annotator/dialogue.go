package annotator

import (
	"fmt"
	"math"
	"strings"

	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/montanaflynn/stats"
)

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

// DialogueData is the typed view dialogue-level annotators operate over:
// aggregate counts and the full per-role text across every exchange in
// the dialogue. Grounded on
// original_source/llm_archive/annotators/dialogue.py's DialogueData.
type DialogueData struct {
	DialogueID            string
	ExchangeCount         int
	MessageCount          int
	UserMessageCount      int
	AssistantMessageCount int
	UserWordCounts        []int
	FirstUserText         string
	UserTexts             []string
	AssistantTexts        []string
}

func (d *DialogueData) asItem() item {
	return item{entityID: d.DialogueID, data: d}
}

func wordCountsToFloats(counts []int) stats.Float64Data {
	out := make(stats.Float64Data, len(counts))
	for i, c := range counts {
		out[i] = float64(c)
	}
	return out
}

// ---------------------------------------------------------------------------
// DialogueLengthAnnotator
// ---------------------------------------------------------------------------

type DialogueLengthAnnotator struct{}

func (DialogueLengthAnnotator) Spec() Spec {
	return Spec{Key: "DialogueLengthAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityDialogue}
}

func (DialogueLengthAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*DialogueData)
	count := d.ExchangeCount

	var category string
	switch {
	case count == 0:
		category = "empty"
	case count == 1:
		category = "single"
	case count <= 3:
		category = "short"
	case count <= 10:
		category = "medium"
	case count <= 25:
		category = "long"
	default:
		category = "very_long"
	}

	summary := map[string]any{
		"exchange_count":          count,
		"message_count":           d.MessageCount,
		"user_message_count":      d.UserMessageCount,
		"assistant_message_count": d.AssistantMessageCount,
	}
	return []Result{
		String("dialogue_length", category, confident(1.0), ""),
		JSON("dialogue_length_detail", toJSON(summary), confident(1.0), ""),
	}, nil
}

// ---------------------------------------------------------------------------
// PromptStatsAnnotator
// ---------------------------------------------------------------------------

type PromptStatsAnnotator struct{}

func (PromptStatsAnnotator) Spec() Spec {
	return Spec{Key: "PromptStatsAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityDialogue}
}

func (PromptStatsAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*DialogueData)
	if len(d.UserWordCounts) == 0 {
		return []Result{
			String("prompt_stats", "none", confident(1.0), ""),
			JSON("prompt_stats_detail", toJSON(map[string]any{"count": 0}), confident(1.0), ""),
		}, nil
	}

	counts := wordCountsToFloats(d.UserWordCounts)
	n := len(counts)
	meanWC, _ := stats.Mean(counts)
	medianWC, _ := stats.Median(counts)
	var variance float64
	if n > 1 {
		variance, _ = stats.SampleVariance(counts)
	}

	// Stopword-filtered vocabulary density: raw word counts above treat
	// filler words the same as domain terms, so a prompt that's mostly
	// "the", "a", "is" would otherwise look as substantive as one that
	// isn't. vocabularyDensity is the share of each prompt's words that
	// survive stopword filtering, averaged across the dialogue's prompts.
	var vocabularyDensity float64
	if len(d.UserTexts) > 0 {
		var ratioSum float64
		counted := 0
		for _, text := range d.UserTexts {
			total := wordCount(text)
			if total == 0 {
				continue
			}
			ratioSum += float64(significantWordCount(text)) / float64(total)
			counted++
		}
		if counted > 0 {
			vocabularyDensity = ratioSum / float64(counted)
		}
	}

	var lengthCategory string
	switch {
	case meanWC < 10:
		lengthCategory = "very_short"
	case meanWC < 50:
		lengthCategory = "short"
	case meanWC < 200:
		lengthCategory = "medium"
	case meanWC < 500:
		lengthCategory = "long"
	default:
		lengthCategory = "very_long"
	}

	var cv float64
	if meanWC > 0 {
		cv = math.Sqrt(variance) / meanWC
	}
	var consistency string
	switch {
	case cv < 0.3:
		consistency = "consistent"
	case cv < 0.7:
		consistency = "mixed"
	default:
		consistency = "variable"
	}

	value := lengthCategory + "_" + consistency
	detail := map[string]any{
		"count":              n,
		"mean":               roundTo(meanWC, 1),
		"median":             roundTo(medianWC, 1),
		"variance":           roundTo(variance, 1),
		"length_category":    lengthCategory,
		"consistency":        consistency,
		"vocabulary_density": roundTo(vocabularyDensity, 2),
	}
	return []Result{
		String("prompt_stats", value, confident(1.0), ""),
		JSON("prompt_stats_detail", toJSON(detail), confident(1.0), ""),
	}, nil
}

// ---------------------------------------------------------------------------
// FirstExchangeAnnotator
// ---------------------------------------------------------------------------

const largeContentThreshold = 2000

var firstExchangeCodeIndicators = []string{"```", "def ", "function ", "class ", "import ", "#include"}

type FirstExchangeAnnotator struct{}

func (FirstExchangeAnnotator) Spec() Spec {
	return Spec{Key: "FirstExchangeAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityDialogue}
}

func (FirstExchangeAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*DialogueData)
	var out []Result
	firstText := d.FirstUserText

	if len(firstText) > largeContentThreshold {
		out = append(out, String("first_exchange", "starts_large_content", confident(1.0),
			fmt.Sprintf("char_count=%d", len(firstText))))
	}

	var found []string
	for _, ind := range firstExchangeCodeIndicators {
		if strings.Contains(firstText, ind) {
			found = append(found, ind)
		}
	}
	if len(found) > 0 {
		out = append(out, String("first_exchange", "starts_with_code", confident(0.9),
			toJSON(map[string]any{"indicators": found})))
	}

	if d.ExchangeCount <= 3 && len(firstText) > largeContentThreshold {
		out = append(out, String("first_exchange", "context_dump", confident(0.85),
			toJSON(map[string]any{"exchange_count": d.ExchangeCount, "first_message_chars": len(firstText)})))
	}

	return out, nil
}

// ---------------------------------------------------------------------------
// InteractionPatternAnnotator
// ---------------------------------------------------------------------------

type InteractionPatternAnnotator struct{}

func (InteractionPatternAnnotator) Spec() Spec {
	return Spec{Key: "InteractionPatternAnnotator", Version: "1.0", Priority: 40, EntityType: model.EntityDialogue}
}

func (InteractionPatternAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*DialogueData)
	var out []Result

	switch {
	case d.ExchangeCount <= 3:
		out = append(out, String("interaction_pattern", "brief_interaction", confident(1.0), ""))
	case d.ExchangeCount >= 10:
		out = append(out, String("interaction_pattern", "extended_conversation", confident(1.0), ""))
	}

	if d.ExchangeCount >= 5 && len(d.UserWordCounts) >= 5 {
		counts := wordCountsToFloats(d.UserWordCounts)
		meanWC, _ := stats.Mean(counts)
		if meanWC > 0 {
			stdev, _ := stats.StandardDeviationSample(counts)
			cv := stdev / meanWC
			switch {
			case cv < 0.3:
				out = append(out, String("interaction_pattern", "interactive_session", confident(0.8),
					toJSON(map[string]any{"cv": roundTo(cv, 2), "exchanges": d.ExchangeCount})))
			case cv > 0.7:
				out = append(out, String("interaction_pattern", "evolving_discussion", confident(0.8),
					toJSON(map[string]any{"cv": roundTo(cv, 2), "exchanges": d.ExchangeCount})))
			}
		}
	}

	return out, nil
}

// ---------------------------------------------------------------------------
// CodingAssistanceAnnotator
// ---------------------------------------------------------------------------

var (
	codingAssistanceStrong   = []string{"```", "#!/", "#include <", `#include "`}
	codingAssistanceModerate = []string{"def ", "function ", "class ", "import ", "from "}
)

// CodingAssistanceAnnotator runs at a lower priority than the
// platform-specific code-execution annotators: text-pattern analysis over
// the whole dialogue is a weaker signal than an observed execution event.
type CodingAssistanceAnnotator struct{}

func (CodingAssistanceAnnotator) Spec() Spec {
	return Spec{Key: "CodingAssistanceAnnotator", Version: "1.0", Priority: 40, EntityType: model.EntityDialogue}
}

func (CodingAssistanceAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*DialogueData)
	allText := strings.Join(d.UserTexts, " ") + " " + strings.Join(d.AssistantTexts, " ")

	strongCount := 0
	for _, ind := range codingAssistanceStrong {
		if strings.Contains(allText, ind) {
			strongCount++
		}
	}
	moderateCount := 0
	for _, ind := range codingAssistanceModerate {
		if strings.Contains(allText, ind) {
			moderateCount++
		}
	}

	switch {
	case strongCount >= 2:
		return []Result{String("coding_assistance", "coding_assistance", confident(0.95),
			toJSON(map[string]any{"evidence": "strong", "strong_indicators": strongCount, "moderate_indicators": moderateCount}))}, nil
	case strongCount >= 1 || moderateCount >= 3:
		return []Result{String("coding_assistance", "coding_assistance", confident(0.7),
			toJSON(map[string]any{"evidence": "moderate", "strong_indicators": strongCount, "moderate_indicators": moderateCount}))}, nil
	default:
		return nil, nil
	}
}
