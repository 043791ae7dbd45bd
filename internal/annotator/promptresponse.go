package annotator

import (
	"strings"

	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// PromptResponseBuilder materializes the tree-free prompt-response view: one
// row per non-user message pairing it with the user prompt that elicited it,
// using the parent-id chain when present and falling back to the most
// recent preceding user message otherwise. Grounded on spec.md's "Tree-free
// prompt-response view" (§4.H / §9); there is no original_source Python
// equivalent (annotators/prompt_response.py ships no concrete builder), so
// the pairing rule is implemented directly from the distilled spec's
// two-strategy description.
type PromptResponseBuilder struct {
	store store.Storer
}

func NewPromptResponseBuilder(s store.Storer) *PromptResponseBuilder {
	return &PromptResponseBuilder{store: s}
}

// BuildForDialogue pairs every non-user message in a dialogue with its
// eliciting prompt and upserts the result. Returns the number of pairs
// written.
func (b *PromptResponseBuilder) BuildForDialogue(dialogueID string) (int, error) {
	messages, err := b.store.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return 0, errs.StoreUnavailable("list messages for dialogue", err)
	}

	byID := make(map[string]*model.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	count := 0
	var lastUserID string
	for _, m := range messages {
		if m.Role == model.RoleUser {
			lastUserID = m.ID
			continue
		}

		promptID, strategy := findPrompt(m, byID, lastUserID)
		if promptID == "" {
			continue
		}
		pair := &model.PromptResponsePair{
			MessageID:       m.ID,
			PromptMessageID: promptID,
			Strategy:        strategy,
		}
		if err := b.store.UpsertPromptResponsePair(pair); err != nil {
			return count, errs.StoreUnavailable("upsert prompt response pair", err)
		}
		count++
	}
	return count, nil
}

// findPrompt walks m's parent chain looking for the nearest user message;
// if the chain is absent or never reaches one, it falls back to the most
// recent user message seen before m in sequence order.
func findPrompt(m *model.Message, byID map[string]*model.Message, lastUserID string) (string, string) {
	cur := m.ParentID
	seen := map[string]bool{m.ID: true}
	for cur != nil && *cur != "" && !seen[*cur] {
		parent, ok := byID[*cur]
		if !ok {
			break
		}
		if parent.Role == model.RoleUser {
			return parent.ID, "parent_chain"
		}
		seen[*cur] = true
		cur = parent.ParentID
	}
	if lastUserID != "" {
		return lastUserID, "most_recent_user"
	}
	return "", ""
}

// ---------------------------------------------------------------------------
// PromptResponseData / annotators
// ---------------------------------------------------------------------------

// PromptResponseData is the typed view prompt-response annotators operate
// over: a non-user message's text paired with its resolved prompt's text.
type PromptResponseData struct {
	MessageID    string
	PromptText   string
	ResponseText string
}

func (d *PromptResponseData) asItem() item {
	return item{entityID: d.MessageID, data: d}
}

// WikiCandidateAnnotator flags responses that look like a wiki-style
// article: bracketed wikilinks, or a long heading/bold-led response. The
// checks are its own, modelled on exchange.go's classifyExchangeType
// wiki signal but run over a single response text rather than a paired
// exchange.
type WikiCandidateAnnotator struct{}

func (WikiCandidateAnnotator) Spec() Spec {
	return Spec{Key: "WikiCandidateAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityPromptResponse}
}

func (WikiCandidateAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*PromptResponseData)
	text := d.ResponseText
	if text == "" {
		return nil, nil
	}

	hasWikiLinks := strings.Contains(text, "[[") && strings.Contains(text, "]]")
	wordCountResponse := wordCount(text)
	firstLine := firstNonEmptyLine(text)
	headsWithTitle := strings.HasPrefix(firstLine, "#") || (strings.HasPrefix(firstLine, "**") && strings.HasSuffix(firstLine, "**"))

	switch {
	case hasWikiLinks:
		return []Result{Flag("wiki_candidate", confident(0.9), "bracketed wikilinks present")}, nil
	case headsWithTitle && wordCountResponse > 300:
		return []Result{Flag("wiki_candidate", confident(0.6), "heading-led long-form response")}, nil
	default:
		return nil, nil
	}
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// NaiveTitleAnnotator proposes a title for messages WikiCandidateAnnotator
// already flagged, reusing the same heading/bold-line extraction exchange.go
// uses for TitleExtractionAnnotator.
type NaiveTitleAnnotator struct{}

func (NaiveTitleAnnotator) Spec() Spec {
	return Spec{
		Key:           "NaiveTitleAnnotator",
		Version:       "1.0",
		Priority:      30,
		EntityType:    model.EntityPromptResponse,
		RequiresFlags: []string{"wiki_candidate"},
	}
}

func (NaiveTitleAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*PromptResponseData)
	title := extractTitle(d.ResponseText)
	if title == "" {
		return nil, nil
	}
	return []Result{String("proposed_title", title, confident(0.6), "")}, nil
}
