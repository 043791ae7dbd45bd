// Package exchange builds dyadic prompt/response units from a linear
// sequence's ordered messages, grounded on
// original_source/llm_archive/builders/exchanges.py's ExchangeBuilder.
// Continuation prompts ("continue", "go on", a quoted "> elaborate") get
// folded into the exchange they continue rather than starting a new one.
package exchange

import (
	"strings"
	"time"

	"github.com/derekparker/trie/v3"
	"github.com/google/uuid"

	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// ContinuationVocabulary is the fixed set of short phrases that, alone or as
// a sentence-leading clause, signal "don't stop, keep going" rather than a
// fresh topic.
var ContinuationVocabulary = []string{
	"continue", "more", "keep going", "go on", "next",
	"tell me more", "expand", "keep writing", "finish",
	"elaborate", "do go on", "make it so", "yes", "please",
	"do it", "proceed", "carry on", "and then", "what else",
	"go ahead", "sure", "ok", "okay", "yes please",
}

// vocabularyTrie backs the exact-phrase half of IsContinuationPrompt: a
// short, fixed vocabulary checked on every exchange boundary benefits from
// the trie's O(len(text)) lookup over a linear scan of the phrase list.
var vocabularyTrie = buildVocabularyTrie()

func buildVocabularyTrie() *trie.Trie[struct{}] {
	t := trie.New[struct{}]()
	for _, p := range ContinuationVocabulary {
		t.Add(p, struct{}{})
	}
	return t
}

var quoteElaborateFollowups = map[string]bool{
	"elaborate": true, "continue": true, "expand": true, "more": true,
}

// IsContinuationPrompt reports whether text is a short "keep going" nudge:
// a vocabulary phrase (bare, or leading a longer sentence) in a message of
// five words or fewer, or a quoted excerpt whose last line asks to elaborate.
func IsContinuationPrompt(text string) bool {
	if text == "" {
		return false
	}
	text = strings.ToLower(strings.TrimSpace(text))

	if wordCount(text) <= 5 {
		if _, ok := vocabularyTrie.Find(text); ok {
			return true
		}
		for _, p := range ContinuationVocabulary {
			if strings.HasPrefix(text, p+" ") || strings.HasPrefix(text, p+"?") {
				return true
			}
		}
	}

	if strings.HasPrefix(text, ">") {
		lines := strings.Split(text, "\n")
		last := strings.ToLower(strings.TrimSpace(lines[len(lines)-1]))
		if quoteElaborateFollowups[last] {
			return true
		}
	}

	return false
}

func wordCount(s string) int { return len(strings.Fields(s)) }

// messageInfo is the lightweight per-message view the builder works over.
type messageInfo struct {
	id          string
	role        model.Role
	createdAt   *time.Time
	textContent string
}

// dyadicExchange is a pre-merge unit: ideally one user message followed by
// one assistant reply, but trailing unpaired messages collect here too.
type dyadicExchange struct {
	messages []messageInfo
}

func (d *dyadicExchange) firstUserText() string {
	for _, m := range d.messages {
		if m.role == model.RoleUser {
			return m.textContent
		}
	}
	return ""
}

// Builder materializes exchanges into the store for one linear sequence at
// a time.
type Builder struct {
	store store.Storer
}

func NewBuilder(s store.Storer) *Builder {
	return &Builder{store: s}
}

// BuildForSequence clears and rebuilds the exchanges for one linear
// sequence. Returns the number of exchanges materialized.
func (b *Builder) BuildForSequence(sequenceID string) (int, error) {
	if err := b.store.ClearSequenceDerived(sequenceID); err != nil {
		return 0, errs.StoreUnavailable("clear sequence derived", err)
	}

	messages, err := b.loadSequenceMessages(sequenceID)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	dyadic := createDyadicExchanges(messages)
	groups := mergeContinuations(dyadic)

	for position, group := range groups {
		if err := b.persistExchange(sequenceID, position, group); err != nil {
			return position, err
		}
	}
	return len(groups), nil
}

func (b *Builder) loadSequenceMessages(sequenceID string) ([]messageInfo, error) {
	seqMessages, err := b.store.ListSequenceMessages(sequenceID)
	if err != nil {
		return nil, errs.StoreUnavailable("list sequence messages", err)
	}

	out := make([]messageInfo, 0, len(seqMessages))
	for _, sm := range seqMessages {
		msg, err := b.store.GetMessage(sm.MessageID)
		if err != nil {
			return nil, errs.StoreUnavailable("get message", err)
		}
		if msg == nil {
			continue
		}
		text, err := b.messageText(msg.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, messageInfo{
			id:          msg.ID,
			role:        msg.Role,
			createdAt:   msg.CreatedAt,
			textContent: text,
		})
	}
	return out, nil
}

func (b *Builder) messageText(messageID string) (string, error) {
	parts, err := b.store.ListContentParts(messageID)
	if err != nil {
		return "", errs.StoreUnavailable("list content parts", err)
	}
	var texts []string
	for _, p := range parts {
		if p.TextContent != "" {
			texts = append(texts, p.TextContent)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// createDyadicExchanges groups messages into user->assistant pairs; only
// user and assistant roles count toward a dyad, and a trailing run of
// messages that never completes a pair still forms a final group.
func createDyadicExchanges(messages []messageInfo) []*dyadicExchange {
	var dyadic []*dyadicExchange
	current := &dyadicExchange{}

	for _, m := range messages {
		if m.role != model.RoleUser && m.role != model.RoleAssistant {
			continue
		}
		current.messages = append(current.messages, m)

		n := len(current.messages)
		if n >= 2 && current.messages[n-2].role == model.RoleUser && current.messages[n-1].role == model.RoleAssistant {
			dyadic = append(dyadic, current)
			current = &dyadicExchange{}
		}
	}
	if len(current.messages) > 0 {
		dyadic = append(dyadic, current)
	}
	return dyadic
}

// mergeContinuations folds a dyad into the previous group when its leading
// user message is a continuation prompt, so "tell me more" doesn't start a
// fresh exchange of its own.
func mergeContinuations(dyadic []*dyadicExchange) [][]*dyadicExchange {
	if len(dyadic) == 0 {
		return nil
	}

	var merged [][]*dyadicExchange
	currentGroup := []*dyadicExchange{dyadic[0]}

	for _, d := range dyadic[1:] {
		if IsContinuationPrompt(d.firstUserText()) {
			currentGroup = append(currentGroup, d)
		} else {
			merged = append(merged, currentGroup)
			currentGroup = []*dyadicExchange{d}
		}
	}
	merged = append(merged, currentGroup)
	return merged
}

func (b *Builder) persistExchange(sequenceID string, position int, group []*dyadicExchange) error {
	var all []messageInfo
	for _, d := range group {
		all = append(all, d.messages...)
	}
	if len(all) == 0 {
		return errs.ConstraintViolation("empty exchange", nil)
	}

	userCount, assistantCount := 0, 0
	for _, m := range all {
		switch m.role {
		case model.RoleUser:
			userCount++
		case model.RoleAssistant:
			assistantCount++
		}
	}

	ex := &model.Exchange{
		ID:             uuid.NewString(),
		SequenceID:     sequenceID,
		Position:       position,
		FirstMessageID: all[0].id,
		LastMessageID:  all[len(all)-1].id,
		TotalCount:     len(all),
		UserCount:      userCount,
		AssistantCount: assistantCount,
		IsContinuation: len(group) > 1,
		MergedCount:    len(group),
		StartedAt:      all[0].createdAt,
		EndedAt:        all[len(all)-1].createdAt,
	}
	if err := b.store.InsertExchange(ex); err != nil {
		return errs.StoreUnavailable("insert exchange", err)
	}

	for pos, m := range all {
		em := &model.ExchangeMessage{ExchangeID: ex.ID, MessageID: m.id, Position: pos}
		if err := b.store.InsertExchangeMessage(em); err != nil {
			return errs.StoreUnavailable("insert exchange message", err)
		}
	}

	var userTexts, assistantTexts []string
	for _, m := range all {
		if m.textContent == "" {
			continue
		}
		switch m.role {
		case model.RoleUser:
			userTexts = append(userTexts, m.textContent)
		case model.RoleAssistant:
			assistantTexts = append(assistantTexts, m.textContent)
		}
	}
	userText := strings.Join(userTexts, "\n\n")
	assistantText := strings.Join(assistantTexts, "\n\n")
	fullText := strings.Join(nonEmpty(userText, assistantText), "\n\n")

	content := &model.ExchangeContent{
		ExchangeID:         ex.ID,
		UserText:           userText,
		AssistantText:      assistantText,
		FullText:           fullText,
		UserWordCount:      wordCount(userText),
		AssistantWordCount: wordCount(assistantText),
		FullWordCount:      wordCount(fullText),
	}
	if err := b.store.InsertExchangeContent(content); err != nil {
		return errs.StoreUnavailable("insert exchange content", err)
	}
	return nil
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
