package hash

import (
	"testing"

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

func TestHashTextWritesAllNormalizations(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s)

	n, err := b.HashText(model.EntityMessage, "m1", model.ScopeFull, "Hello,   World!")
	if err != nil {
		t.Fatalf("HashText failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 normalizations written, got %d", n)
	}

	dupes, err := b.FindDuplicates(model.EntityMessage, model.ScopeFull, model.NormNormalized)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(dupes) != 0 {
		t.Fatalf("expected no duplicates with only one entity hashed, got %+v", dupes)
	}
}

func TestHashTextDetectsNormalizedDuplicates(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s)

	if _, err := b.HashText(model.EntityMessage, "m1", model.ScopeFull, "Hello, World!"); err != nil {
		t.Fatalf("HashText m1 failed: %v", err)
	}
	if _, err := b.HashText(model.EntityMessage, "m2", model.ScopeFull, "hello world"); err != nil {
		t.Fatalf("HashText m2 failed: %v", err)
	}

	dupes, err := b.FindDuplicates(model.EntityMessage, model.ScopeFull, model.NormNormalized)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(dupes) != 1 {
		t.Fatalf("expected exactly one duplicate hash group, got %d", len(dupes))
	}
	for _, ids := range dupes {
		if len(ids) != 2 {
			t.Errorf("expected 2 members in the duplicate group, got %d", len(ids))
		}
	}

	// Exact (unnormalized) scope should NOT see these as duplicates, since
	// punctuation and case differ.
	exact, err := b.FindDuplicates(model.EntityMessage, model.ScopeFull, model.NormNone)
	if err != nil {
		t.Fatalf("FindDuplicates (none) failed: %v", err)
	}
	if len(exact) != 0 {
		t.Fatalf("expected no exact-scope duplicates, got %+v", exact)
	}
}

func TestHashTextSkipsEmptyNormalizations(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s)

	// Pure punctuation normalizes to "" under NormNormalized, so only the
	// none/whitespace scopes should be written.
	n, err := b.HashText(model.EntityMessage, "m1", model.ScopeFull, "!!!")
	if err != nil {
		t.Fatalf("HashText failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 normalizations written for punctuation-only text, got %d", n)
	}
}

func TestHashMessageSkipsMessagesWithNoText(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s)

	hashed, err := b.HashMessage("nonexistent-message")
	if err != nil {
		t.Fatalf("HashMessage failed: %v", err)
	}
	if hashed {
		t.Fatalf("expected HashMessage to report false for a message with no content parts")
	}
}

func TestHashMessageHashesConcatenatedText(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s)

	msg := &model.Message{ID: "m1", DialogueID: "d1", SourceID: "m1", Role: model.RoleUser, SourceJSON: "{}", ContentHash: "h"}
	if err := s.UpsertMessage(msg); err != nil {
		t.Fatalf("UpsertMessage failed: %v", err)
	}
	parts := []*model.ContentPart{
		{ID: "p1", MessageID: "m1", Sequence: 0, PartType: model.PartText, TextContent: "first part", SourceJSON: "{}"},
		{ID: "p2", MessageID: "m1", Sequence: 1, PartType: model.PartText, TextContent: "second part", SourceJSON: "{}"},
	}
	if err := s.ReplaceContentParts("m1", parts); err != nil {
		t.Fatalf("ReplaceContentParts failed: %v", err)
	}

	hashed, err := b.HashMessage("m1")
	if err != nil {
		t.Fatalf("HashMessage failed: %v", err)
	}
	if !hashed {
		t.Fatalf("expected HashMessage to report true for a message with text content")
	}
}

func TestHashExchangeContentHashesPerScope(t *testing.T) {
	s := newTestStore(t)
	b := NewBuilder(s)

	ec := &model.ExchangeContent{
		ExchangeID:    "ex1",
		UserText:      "what is rust",
		AssistantText: "a systems language",
		FullText:      "what is rust\n\na systems language",
	}
	if err := b.HashExchangeContent(ec); err != nil {
		t.Fatalf("HashExchangeContent failed: %v", err)
	}

	for _, scope := range []model.HashScope{model.ScopeUser, model.ScopeAssistant, model.ScopeFull} {
		dupes, err := b.FindDuplicates(model.EntityExchange, scope, model.NormNone)
		if err != nil {
			t.Fatalf("FindDuplicates(%s) failed: %v", scope, err)
		}
		if len(dupes) != 0 {
			t.Fatalf("expected no duplicates for a single hashed exchange at scope %s", scope)
		}
	}
}

func TestSha256CachedIsDeterministic(t *testing.T) {
	b := NewBuilder(nil)
	first := b.sha256Cached("identical text")
	second := b.sha256Cached("identical text")
	if first != second {
		t.Fatalf("expected sha256Cached to be deterministic for identical input, got %q and %q", first, second)
	}
	if first != SHA256Hex("identical text") {
		t.Fatalf("expected cached hash to match SHA256Hex directly")
	}
}
