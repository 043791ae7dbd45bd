package extract

import (
	"testing"

	"github.com/tidwall/gjson"

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

const branchedFixture = `{
	"id": "conv-1",
	"title": "Test conversation",
	"create_time": 1700000000,
	"update_time": 1700000100,
	"mapping": {
		"root": {
			"id": "root",
			"parent": null,
			"message": null
		},
		"n1": {
			"id": "n1",
			"parent": "root",
			"message": {
				"id": "msg-1",
				"author": {"role": "user"},
				"create_time": 1700000000,
				"content": {"parts": ["hello there"]}
			}
		},
		"n2": {
			"id": "n2",
			"parent": "n1",
			"message": {
				"id": "msg-2",
				"author": {"role": "assistant"},
				"create_time": 1700000050,
				"content": {"parts": ["hi, how can I help?"]}
			}
		}
	}
}`

func TestBranchedExtractorNewDialogue(t *testing.T) {
	s := newTestStore(t)
	base := NewBase(s, "chatgpt", false, false)
	ext := NewBranchedExtractor(base)

	res, err := ext.ExtractDialogue(branchedFixture)
	if err != nil {
		t.Fatalf("ExtractDialogue failed: %v", err)
	}
	if res.Outcome != OutcomeNew {
		t.Fatalf("expected new outcome, got %s", res.Outcome)
	}

	msgs, err := s.ListMessagesForDialogue(res.DialogueID)
	if err != nil {
		t.Fatalf("ListMessagesForDialogue failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	var child *string
	for _, m := range msgs {
		if m.SourceID == "msg-2" {
			child = m.ParentID
		}
	}
	if child == nil {
		t.Fatal("expected msg-2 to have a resolved parent")
	}
}

func TestBranchedExtractorSkipsUnchanged(t *testing.T) {
	s := newTestStore(t)
	base := NewBase(s, "chatgpt", false, false)
	ext := NewBranchedExtractor(base)

	if _, err := ext.ExtractDialogue(branchedFixture); err != nil {
		t.Fatalf("first extract failed: %v", err)
	}
	res, err := ext.ExtractDialogue(branchedFixture)
	if err != nil {
		t.Fatalf("second extract failed: %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped outcome on re-import with unchanged update_time, got %s", res.Outcome)
	}
}

const branchedFixtureV2AppendedChild = `{
	"id": "conv-1",
	"title": "Test conversation",
	"create_time": 1700000000,
	"update_time": 1700000200,
	"mapping": {
		"root": {
			"id": "root",
			"parent": null,
			"message": null
		},
		"n1": {
			"id": "n1",
			"parent": "root",
			"children": ["n2"],
			"message": {
				"id": "msg-1",
				"author": {"role": "user"},
				"create_time": 1700000000,
				"content": {"parts": ["hello there"]}
			}
		},
		"n2": {
			"id": "n2",
			"parent": "n1",
			"message": {
				"id": "msg-2",
				"author": {"role": "assistant"},
				"create_time": 1700000050,
				"content": {"parts": ["hi, how can I help?"]}
			}
		},
		"n3": {
			"id": "n3",
			"parent": "n1",
			"message": {
				"id": "msg-3",
				"author": {"role": "assistant"},
				"create_time": 1700000150,
				"content": {"parts": ["a second reply to the same prompt"]}
			}
		}
	}
}`

func findBySourceID(msgs []*model.Message, sourceID string) *model.Message {
	for _, m := range msgs {
		if m.SourceID == sourceID {
			return m
		}
	}
	return nil
}

// TestBranchedExtractorContentHashIgnoresTopology re-imports a mapping where
// an existing node (n1) gains a new sibling under the same parent (a later
// reply, n3) but its own "message" payload is byte-for-byte unchanged. Only
// the node's topology (its place in someone else's mapping) differs between
// imports; msg-1's own content_hash must not change as a result, or every
// ancestor of a branch point would be spuriously rewritten each time a new
// reply is appended.
func TestBranchedExtractorContentHashIgnoresTopology(t *testing.T) {
	s := newTestStore(t)
	base := NewBase(s, "chatgpt", false, false)
	ext := NewBranchedExtractor(base)

	res, err := ext.ExtractDialogue(branchedFixture)
	if err != nil {
		t.Fatalf("first extract failed: %v", err)
	}
	msgsBefore, err := s.ListMessagesForDialogue(res.DialogueID)
	if err != nil {
		t.Fatalf("ListMessagesForDialogue failed: %v", err)
	}
	msg1Before := findBySourceID(msgsBefore, "msg-1")
	if msg1Before == nil {
		t.Fatal("expected msg-1 to exist after the first extract")
	}

	res2, err := ext.ExtractDialogue(branchedFixtureV2AppendedChild)
	if err != nil {
		t.Fatalf("second extract failed: %v", err)
	}
	if res2.Outcome != OutcomeUpdated {
		t.Fatalf("expected an updated outcome once update_time advances, got %s", res2.Outcome)
	}

	msgsAfter, err := s.ListMessagesForDialogue(res2.DialogueID)
	if err != nil {
		t.Fatalf("ListMessagesForDialogue failed: %v", err)
	}
	msg1After := findBySourceID(msgsAfter, "msg-1")
	if msg1After == nil {
		t.Fatal("expected msg-1 to still exist after the second extract")
	}
	if msg1After.ContentHash != msg1Before.ContentHash {
		t.Errorf("expected msg-1's content_hash to stay stable when only a sibling node is appended, got %q before and %q after", msg1Before.ContentHash, msg1After.ContentHash)
	}
}

const linearFixture = `{
	"uuid": "conv-2",
	"name": "Linear test",
	"created_at": "2024-01-01T00:00:00Z",
	"updated_at": "2024-01-01T00:05:00Z",
	"chat_messages": [
		{"uuid": "m1", "sender": "human", "created_at": "2024-01-01T00:00:00Z", "text": "hi"},
		{"uuid": "m2", "sender": "assistant", "created_at": "2024-01-01T00:01:00Z", "text": "hello"}
	]
}`

func TestLinearExtractorChainsParents(t *testing.T) {
	s := newTestStore(t)
	base := NewBase(s, "claude", false, false)
	ext := NewLinearExtractor(base)

	res, err := ext.ExtractDialogue(linearFixture)
	if err != nil {
		t.Fatalf("ExtractDialogue failed: %v", err)
	}
	if res.Outcome != OutcomeNew {
		t.Fatalf("expected new outcome, got %s", res.Outcome)
	}

	msgs, err := s.ListMessagesForDialogue(res.DialogueID)
	if err != nil {
		t.Fatalf("ListMessagesForDialogue failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	var first, second *string
	var firstID string
	for _, m := range msgs {
		if m.SourceID == "m1" {
			first = m.ParentID
			firstID = m.ID
		}
		if m.SourceID == "m2" {
			second = m.ParentID
		}
	}
	if first != nil {
		t.Errorf("expected first message to have no parent, got %v", *first)
	}
	if second == nil || *second != firstID {
		t.Errorf("expected second message's parent to be the first message's id")
	}

	// "human" must normalize to "user".
	for _, m := range msgs {
		if m.SourceID == "m1" && m.Role != "user" {
			t.Errorf("expected human sender normalized to user, got %s", m.Role)
		}
	}
}

// TestLinearExtractorSourceJSONCarriesNormalizedRole checks that the stored
// source_json's own "sender" field is rewritten to the normalized role
// rather than keeping the provider's raw "human" alias, so a reader of
// source_json never sees it disagree with the message's Role column.
func TestLinearExtractorSourceJSONCarriesNormalizedRole(t *testing.T) {
	s := newTestStore(t)
	base := NewBase(s, "claude", false, false)
	ext := NewLinearExtractor(base)

	res, err := ext.ExtractDialogue(linearFixture)
	if err != nil {
		t.Fatalf("ExtractDialogue failed: %v", err)
	}
	msgs, err := s.ListMessagesForDialogue(res.DialogueID)
	if err != nil {
		t.Fatalf("ListMessagesForDialogue failed: %v", err)
	}
	m1 := findBySourceID(msgs, "m1")
	if m1 == nil {
		t.Fatal("expected m1 to exist")
	}
	if gjson.Get(m1.SourceJSON, "sender").String() != "user" {
		t.Errorf("expected source_json's sender field to read the normalized role, got %s", m1.SourceJSON)
	}
}

func TestLinearExtractorSoftDeletesRemovedMessages(t *testing.T) {
	s := newTestStore(t)
	base := NewBase(s, "claude", false, false)
	ext := NewLinearExtractor(base)

	if _, err := ext.ExtractDialogue(linearFixture); err != nil {
		t.Fatalf("first extract failed: %v", err)
	}

	shrunk := `{
		"uuid": "conv-2",
		"name": "Linear test",
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": "2024-01-01T00:10:00Z",
		"chat_messages": [
			{"uuid": "m1", "sender": "human", "created_at": "2024-01-01T00:00:00Z", "text": "hi"}
		]
	}`
	res, err := ext.ExtractDialogue(shrunk)
	if err != nil {
		t.Fatalf("second extract failed: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Fatalf("expected updated outcome, got %s", res.Outcome)
	}

	msgs, err := s.ListMessagesForDialogue(res.DialogueID)
	if err != nil {
		t.Fatalf("ListMessagesForDialogue failed: %v", err)
	}
	for _, m := range msgs {
		if m.SourceID == "m2" && m.DeletedAt == nil {
			t.Errorf("expected m2 to be soft-deleted after disappearing from source")
		}
	}
}
