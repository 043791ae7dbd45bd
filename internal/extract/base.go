// Package extract implements idempotent, identity-preserving ingestion of
// raw provider exports into the raw schema, grounded on
// original_source/llm_archive/extractors/{base,chatgpt,claude}.py.
// BranchedExtractor handles tree-shaped exports (ChatGPT's "mapping"
// object); LinearExtractor handles array-shaped exports (Claude's
// "chat_messages"). Both share identity/hash/soft-delete logic via Base.
package extract

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/hash"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// Outcome reports what an extraction pass did to a single dialogue.
type Outcome string

const (
	OutcomeNew     Outcome = "new"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

// Result is the per-dialogue outcome of Extractor.ExtractDialogue.
type Result struct {
	Outcome    Outcome
	DialogueID string
}

// Extractor ingests one raw conversation export (a JSON object) into the
// raw schema.
type Extractor interface {
	ExtractDialogue(rawJSON string) (*Result, error)
}

// Base holds the extraction state and policy shared by every source:
// the source id, the assume_immutable/incremental flags, and the
// source_id -> internal id map that keeps message identity stable across
// re-imports.
type Base struct {
	Store           store.Storer
	SourceID        string
	AssumeImmutable bool
	Incremental     bool

	idMap              map[string]string
	existingBySourceID map[string]*model.Message
}

func NewBase(s store.Storer, sourceID string, assumeImmutable, incremental bool) *Base {
	return &Base{
		Store:           s,
		SourceID:        sourceID,
		AssumeImmutable: assumeImmutable,
		Incremental:     incremental,
	}
}

// contentHashJSON computes a stable hash over the raw JSON by re-marshaling
// through a generic value, which canonicalizes object key order the same
// way Python's json.dumps(sort_keys=True) does.
func contentHashJSON(rawJSON string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(rawJSON), &v); err != nil {
		return "", errs.SourceMalformed("content hash: invalid JSON", err)
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return "", errs.SourceMalformed("content hash: re-marshal failed", err)
	}
	return hash.SHA256Hex(string(canon)), nil
}

// withNormalizedRole rewrites a single field of the raw provider JSON to the
// already-normalized role before it's persisted as source_json, so a stored
// record's embedded role field always agrees with the message's own Role
// column instead of carrying the provider's raw alias (e.g. "human"). The
// content hash is computed over the untouched source bytes, not this
// rewritten copy, so normalizing here never perturbs change detection.
func withNormalizedRole(rawJSON, fieldPath, normalizedRole string) string {
	out, err := sjson.Set(rawJSON, fieldPath, normalizedRole)
	if err != nil {
		return rawJSON
	}
	return out
}

// resetForDialogue loads the existing message set for dialogueID (if any)
// and clears the per-run identity map, ahead of a fresh extraction pass.
func (b *Base) resetForDialogue(dialogueID string) error {
	b.idMap = map[string]string{}
	b.existingBySourceID = map[string]*model.Message{}
	if dialogueID == "" {
		return nil
	}
	existing, err := b.Store.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return errs.StoreUnavailable("load existing messages", err)
	}
	for _, m := range existing {
		b.existingBySourceID[m.SourceID] = m
	}
	return nil
}

// registerMessageID records the mapping from a source-side key (a tree node
// id, or the message's own source id) to its internal id.
func (b *Base) registerMessageID(key, internalID string) {
	b.idMap[key] = internalID
}

// resolveMessageID looks up a source-side key registered earlier in this
// extraction pass.
func (b *Base) resolveMessageID(key string) (string, bool) {
	id, ok := b.idMap[key]
	return id, ok
}

// messageID returns the internal id a message with this source id should
// use: the one it already has in the store, or a freshly generated one.
func (b *Base) messageID(sourceID string) string {
	if existing, ok := b.existingBySourceID[sourceID]; ok {
		return existing.ID
	}
	return uuid.NewString()
}

// shouldWriteMessage decides whether a message's row (and its content
// parts) need to be written at all. With AssumeImmutable set, any message
// already on record is trusted unchanged and skipped outright. Otherwise a
// message is written only the first time it's seen, or when its content
// hash has changed from what's on record.
func (b *Base) shouldWriteMessage(sourceID, newHash string) bool {
	existing, ok := b.existingBySourceID[sourceID]
	if !ok {
		return true
	}
	if b.AssumeImmutable {
		return false
	}
	return existing.ContentHash != newHash
}

// shouldUpdateDialogue mirrors should_update: a missing timestamp always
// triggers an update (conservative default), and otherwise the new
// timestamp must be strictly newer than what's on record.
func shouldUpdateDialogue(existing *model.Dialogue, newUpdatedAt *time.Time) bool {
	if newUpdatedAt == nil {
		return true
	}
	if existing.UpdatedAt == nil {
		return true
	}
	return newUpdatedAt.After(*existing.UpdatedAt)
}

// softDeleteMissing soft-deletes every existing message whose source id
// was not seen in the current pass, unless running incrementally (where a
// shrinking source payload is assumed to be a partial export, not a
// deletion).
func (b *Base) softDeleteMissing(seen map[string]bool, at time.Time) error {
	if b.Incremental {
		return nil
	}
	for sourceID, m := range b.existingBySourceID {
		if seen[sourceID] {
			continue
		}
		if m.DeletedAt != nil {
			continue
		}
		if err := b.Store.SoftDeleteMessage(m.ID, at); err != nil {
			return errs.StoreUnavailable("soft delete missing message", err)
		}
	}
	return nil
}
