package annotator

import (
	"testing"
	"time"

	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

func seedMessageWithParent(t *testing.T, s store.Storer, id, dialogueID string, parentID *string, role model.Role, at time.Time, text string) {
	t.Helper()
	m := &model.Message{
		ID:          id,
		DialogueID:  dialogueID,
		SourceID:    id,
		ParentID:    parentID,
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

func strptr(s string) *string { return &s }

func TestBuildForDialoguePrefersParentChain(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMessageWithParent(t, s, "m1", "d1", nil, model.RoleUser, base, "what is rust")
	seedMessageWithParent(t, s, "m2", "d1", strptr("m1"), model.RoleAssistant, base.Add(time.Minute), "a systems language")

	b := NewPromptResponseBuilder(s)
	n, err := b.BuildForDialogue("d1")
	if err != nil {
		t.Fatalf("BuildForDialogue failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pair, got %d", n)
	}

	pairs, err := s.ListPromptResponsePairsForDialogue("d1")
	if err != nil {
		t.Fatalf("ListPromptResponsePairsForDialogue failed: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 stored pair, got %d", len(pairs))
	}
	if pairs[0].PromptMessageID != "m1" || pairs[0].Strategy != "parent_chain" {
		t.Errorf("expected m2 paired with m1 via parent_chain, got %+v", pairs[0])
	}
}

func TestBuildForDialogueFallsBackToMostRecentUser(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// No parent links at all (e.g. a flat linear export) — the most recent
	// user message before each assistant message is the fallback prompt.
	seedMessageWithParent(t, s, "m1", "d2", nil, model.RoleUser, base, "question one")
	seedMessageWithParent(t, s, "m2", "d2", nil, model.RoleAssistant, base.Add(time.Minute), "answer one")
	seedMessageWithParent(t, s, "m3", "d2", nil, model.RoleUser, base.Add(2*time.Minute), "question two")
	seedMessageWithParent(t, s, "m4", "d2", nil, model.RoleAssistant, base.Add(3*time.Minute), "answer two")

	b := NewPromptResponseBuilder(s)
	n, err := b.BuildForDialogue("d2")
	if err != nil {
		t.Fatalf("BuildForDialogue failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pairs, got %d", n)
	}

	pairs, err := s.ListPromptResponsePairsForDialogue("d2")
	if err != nil {
		t.Fatalf("ListPromptResponsePairsForDialogue failed: %v", err)
	}
	byMessage := map[string]*model.PromptResponsePair{}
	for _, p := range pairs {
		byMessage[p.MessageID] = p
	}
	if byMessage["m2"].PromptMessageID != "m1" || byMessage["m2"].Strategy != "most_recent_user" {
		t.Errorf("expected m2 paired with m1 via most_recent_user, got %+v", byMessage["m2"])
	}
	if byMessage["m4"].PromptMessageID != "m3" || byMessage["m4"].Strategy != "most_recent_user" {
		t.Errorf("expected m4 paired with m3 via most_recent_user, got %+v", byMessage["m4"])
	}
}

func TestBuildForDialogueSkipsAssistantMessageWithNoPriorUser(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMessageWithParent(t, s, "m1", "d3", nil, model.RoleAssistant, base, "an opening message with no preceding user turn")

	b := NewPromptResponseBuilder(s)
	n, err := b.BuildForDialogue("d3")
	if err != nil {
		t.Fatalf("BuildForDialogue failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 pairs when no user message precedes the assistant message, got %d", n)
	}
}

func TestWikiCandidateAnnotatorDetectsBracketedLinks(t *testing.T) {
	data := &PromptResponseData{
		MessageID:    "m1",
		PromptText:   "tell me about rust",
		ResponseText: "Rust is a systems language. See also [[Memory Safety]] and [[Ownership]].",
	}
	results, err := WikiCandidateAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	var found bool
	for _, r := range results {
		if r.Key == "wiki_candidate" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected wiki_candidate flag for a response containing wikilinks, got %+v", results)
	}
}
