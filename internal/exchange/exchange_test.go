package exchange

import (
	"testing"
	"time"

	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

func newTestStore(t *testing.T) store.Storer {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMessage(t *testing.T, s store.Storer, id, dialogueID string, role model.Role, at time.Time, text string) {
	t.Helper()
	m := &model.Message{
		ID:          id,
		DialogueID:  dialogueID,
		SourceID:    id,
		Role:        role,
		CreatedAt:   &at,
		SourceJSON:  "{}",
		ContentHash: "h-" + id,
	}
	if err := s.UpsertMessage(m); err != nil {
		t.Fatalf("seed message %s: %v", id, err)
	}
	if text != "" {
		part := &model.ContentPart{ID: "cp-" + id, MessageID: id, Sequence: 0, PartType: model.PartText, TextContent: text, SourceJSON: "{}"}
		if err := s.ReplaceContentParts(id, []*model.ContentPart{part}); err != nil {
			t.Fatalf("seed content part for %s: %v", id, err)
		}
	}
}

func seedSequence(t *testing.T, s store.Storer, sequenceID, dialogueID string, messageIDs []string) {
	t.Helper()
	seq := &model.LinearSequence{ID: sequenceID, DialogueID: dialogueID, LeafMessageID: messageIDs[len(messageIDs)-1], SequenceLength: len(messageIDs), IsPrimary: true}
	if err := s.InsertLinearSequence(seq); err != nil {
		t.Fatalf("insert linear sequence: %v", err)
	}
	for pos, id := range messageIDs {
		if err := s.InsertSequenceMessage(&model.SequenceMessage{SequenceID: sequenceID, MessageID: id, Position: pos}); err != nil {
			t.Fatalf("insert sequence message: %v", err)
		}
	}
}

func TestIsContinuationPromptVocabulary(t *testing.T) {
	cases := map[string]bool{
		"continue":        true,
		"Continue":        true,
		"continue please": true,
		"go on?":          true,
		"what is rust":    false,
		"":                false,
	}
	for text, want := range cases {
		if got := IsContinuationPrompt(text); got != want {
			t.Errorf("IsContinuationPrompt(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestIsContinuationPromptQuotePattern(t *testing.T) {
	text := "> some earlier excerpt\nelaborate"
	if !IsContinuationPrompt(text) {
		t.Errorf("expected quoted excerpt ending in 'elaborate' to be a continuation prompt")
	}
	notFollowup := "> some earlier excerpt\nwhat about this"
	if IsContinuationPrompt(notFollowup) {
		t.Errorf("did not expect quoted excerpt with unrelated last line to be a continuation prompt")
	}
}

func TestBuildForSequenceSimpleDyad(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "d1", model.RoleUser, base, "what is rust")
	seedMessage(t, s, "m2", "d1", model.RoleAssistant, base.Add(time.Minute), "a systems language")
	seedSequence(t, s, "seq1", "d1", []string{"m1", "m2"})

	b := NewBuilder(s)
	n, err := b.BuildForSequence("seq1")
	if err != nil {
		t.Fatalf("BuildForSequence failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 exchange, got %d", n)
	}

	exs, err := s.ListExchanges("seq1")
	if err != nil {
		t.Fatalf("ListExchanges failed: %v", err)
	}
	if len(exs) != 1 || exs[0].IsContinuation || exs[0].TotalCount != 2 {
		t.Fatalf("unexpected exchange: %+v", exs[0])
	}

	content, err := s.GetExchangeContent(exs[0].ID)
	if err != nil {
		t.Fatalf("GetExchangeContent failed: %v", err)
	}
	if content.UserText != "what is rust" || content.AssistantText != "a systems language" {
		t.Fatalf("unexpected exchange content: %+v", content)
	}
}

func TestBuildForSequenceMergesContinuation(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "d2", model.RoleUser, base, "explain channels")
	seedMessage(t, s, "m2", "d2", model.RoleAssistant, base.Add(time.Minute), "channels let goroutines communicate")
	seedMessage(t, s, "m3", "d2", model.RoleUser, base.Add(2*time.Minute), "continue")
	seedMessage(t, s, "m4", "d2", model.RoleAssistant, base.Add(3*time.Minute), "they can also be buffered")
	seedSequence(t, s, "seq2", "d2", []string{"m1", "m2", "m3", "m4"})

	b := NewBuilder(s)
	n, err := b.BuildForSequence("seq2")
	if err != nil {
		t.Fatalf("BuildForSequence failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the continuation to merge into a single exchange, got %d", n)
	}

	exs, err := s.ListExchanges("seq2")
	if err != nil {
		t.Fatalf("ListExchanges failed: %v", err)
	}
	if !exs[0].IsContinuation || exs[0].MergedCount != 2 || exs[0].TotalCount != 4 {
		t.Fatalf("expected a merged 2-dyad exchange, got %+v", exs[0])
	}
}

func TestBuildForSequenceTrailingUnpairedMessage(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "d3", model.RoleUser, base, "hello")
	seedMessage(t, s, "m2", "d3", model.RoleAssistant, base.Add(time.Minute), "hi there")
	seedMessage(t, s, "m3", "d3", model.RoleUser, base.Add(2*time.Minute), "one more thing, unrelated topic entirely")
	seedSequence(t, s, "seq3", "d3", []string{"m1", "m2", "m3"})

	b := NewBuilder(s)
	n, err := b.BuildForSequence("seq3")
	if err != nil {
		t.Fatalf("BuildForSequence failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected the trailing unpaired user message to form its own exchange, got %d", n)
	}
}

func TestBuildForSequenceIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMessage(t, s, "m1", "d4", model.RoleUser, base, "hi")
	seedMessage(t, s, "m2", "d4", model.RoleAssistant, base.Add(time.Minute), "hello")
	seedSequence(t, s, "seq4", "d4", []string{"m1", "m2"})

	b := NewBuilder(s)
	if _, err := b.BuildForSequence("seq4"); err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	n, err := b.BuildForSequence("seq4")
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected a stable rebuild to still produce 1 exchange, got %d", n)
	}
	exs, err := s.ListExchanges("seq4")
	if err != nil {
		t.Fatalf("ListExchanges failed: %v", err)
	}
	if len(exs) != 1 {
		t.Fatalf("expected the rebuild to clear the prior exchange rather than duplicate it, got %d rows", len(exs))
	}
}
