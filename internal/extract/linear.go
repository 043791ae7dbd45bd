package extract

import (
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dmarx/chat2obs-sub000/internal/classify"
	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/normalize"
)

// LinearExtractor ingests array-shaped exports whose messages already carry
// an explicit order ("chat_messages"), grounded on
// original_source/llm_archive/extractors/claude.py. Parent links are
// assigned by chaining each message to the previous one in array order, so
// a single pass suffices.
type LinearExtractor struct {
	*Base
}

func NewLinearExtractor(base *Base) *LinearExtractor {
	return &LinearExtractor{Base: base}
}

var _ Extractor = (*LinearExtractor)(nil)

func (e *LinearExtractor) ExtractDialogue(rawJSON string) (*Result, error) {
	root := gjson.Parse(rawJSON)
	if !root.IsObject() {
		return nil, errs.SourceMalformed("linear extractor: root is not an object", nil)
	}

	sourceID := root.Get("uuid").String()
	if sourceID == "" {
		return nil, errs.SourceMalformed("linear extractor: conversation missing uuid", nil)
	}

	createdAt, hasCreated := normalize.ParseTimestamp(jsonNumberOrString(root.Get("created_at")))
	updatedAt, hasUpdated := normalize.ParseTimestamp(jsonNumberOrString(root.Get("updated_at")))
	var updatedAtPtr *time.Time
	if hasUpdated {
		updatedAtPtr = &updatedAt
	}

	existing, err := e.Store.GetDialogueBySourceID(e.SourceID, sourceID)
	if err != nil {
		return nil, errs.StoreUnavailable("lookup existing dialogue", err)
	}

	dialogueID := ""
	outcome := OutcomeNew
	if existing != nil {
		dialogueID = existing.ID
		if !shouldUpdateDialogue(existing, updatedAtPtr) {
			return &Result{Outcome: OutcomeSkipped, DialogueID: dialogueID}, nil
		}
		outcome = OutcomeUpdated
	} else {
		dialogueID = uuid.NewString()
	}

	dialogue := &model.Dialogue{
		ID:         dialogueID,
		Source:     e.SourceID,
		SourceID:   sourceID,
		Title:      root.Get("name").String(),
		SourceJSON: rawJSON,
		ImportedAt: time.Now().UTC(),
		UpdatedAt:  updatedAtPtr,
	}
	if hasCreated {
		dialogue.CreatedAt = &createdAt
	}

	if existing != nil {
		dialogue.ImportedAt = existing.ImportedAt
		if err := e.Store.UpdateDialogue(dialogue); err != nil {
			return nil, errs.StoreUnavailable("update dialogue", err)
		}
	} else {
		if err := e.Store.InsertDialogue(dialogue); err != nil {
			return nil, errs.StoreUnavailable("insert dialogue", err)
		}
	}

	if err := e.resetForDialogue(dialogueID); err != nil {
		return nil, err
	}

	if err := e.extractChatMessages(dialogueID, root.Get("chat_messages")); err != nil {
		return nil, err
	}

	return &Result{Outcome: outcome, DialogueID: dialogueID}, nil
}

func (e *LinearExtractor) extractChatMessages(dialogueID string, chatMessages gjson.Result) error {
	if !chatMessages.IsArray() {
		return errs.SourceMalformed("linear extractor: chat_messages is not an array", nil)
	}

	seen := map[string]bool{}
	now := time.Now().UTC()
	var prevID *string
	var evalErr error

	chatMessages.ForEach(func(_, msgData gjson.Result) bool {
		sourceMsgID := msgData.Get("uuid").String()
		if sourceMsgID == "" {
			return true
		}
		seen[sourceMsgID] = true

		msgHash, _ := contentHashJSON(msgData.Raw)
		internalID := e.messageID(sourceMsgID)

		sender := msgData.Get("sender").String()
		if sender == "" {
			sender = "unknown"
		}

		if e.shouldWriteMessage(sourceMsgID, msgHash) {
			createdAt, hasCreated := normalize.ParseTimestamp(jsonNumberOrString(msgData.Get("created_at")))
			updatedAt, hasUpdated := normalize.ParseTimestamp(jsonNumberOrString(msgData.Get("updated_at")))

			role := model.Role(normalize.NormalizeRoleString(sender))
			msg := &model.Message{
				ID:          internalID,
				DialogueID:  dialogueID,
				SourceID:    sourceMsgID,
				ParentID:    prevID,
				Role:        role,
				SourceJSON:  withNormalizedRole(msgData.Raw, "sender", string(role)),
				ContentHash: msgHash,
			}
			if hasCreated {
				msg.CreatedAt = &createdAt
			}
			if hasUpdated {
				msg.UpdatedAt = &updatedAt
			}
			if err := e.Store.UpsertMessage(msg); err != nil {
				evalErr = errs.StoreUnavailable("upsert message", err)
				return false
			}
			if err := e.extractContentParts(internalID, msgData); err != nil {
				evalErr = err
				return false
			}
			if err := e.extractAttachments(internalID, msgData); err != nil {
				evalErr = err
				return false
			}
		} else if prevID != nil {
			// Content unchanged, but the parent chain may have shifted if an
			// upstream message in this same pass was soft-deleted and
			// restored; keep the link current regardless.
			if err := e.Store.SetMessageParent(internalID, prevID); err != nil {
				evalErr = errs.StoreUnavailable("update message parent", err)
				return false
			}
		}

		id := internalID
		prevID = &id
		return true
	})
	if evalErr != nil {
		return evalErr
	}

	return e.softDeleteMissing(seen, now)
}

func (e *LinearExtractor) extractContentParts(messageID string, msgData gjson.Result) error {
	contentArr := msgData.Get("content")
	var parts []*model.ContentPart

	if contentArr.IsArray() && len(contentArr.Array()) > 0 {
		idx := 0
		contentArr.ForEach(func(_, part gjson.Result) bool {
			c := classify.Part(part.Raw)
			id := uuid.NewString()
			cp := &model.ContentPart{
				ID:          id,
				MessageID:   messageID,
				Sequence:    idx,
				PartType:    c.PartType,
				TextContent: c.TextContent,
				IsError:     part.Get("is_error").Bool(),
				SourceJSON:  part.Raw,
			}
			parts = append(parts, cp)
			if citations := part.Get("citations"); citations.IsArray() {
				extractClaudeCitations(e, id, citations)
			}
			idx++
			return true
		})
	} else if mainText := msgData.Get("text"); mainText.Exists() && mainText.String() != "" {
		parts = append(parts, &model.ContentPart{
			ID:          uuid.NewString(),
			MessageID:   messageID,
			Sequence:    0,
			PartType:    model.PartText,
			TextContent: mainText.String(),
			SourceJSON:  `{"text":` + mainText.Raw + `}`,
		})
	}

	if err := e.Store.ReplaceContentParts(messageID, parts); err != nil {
		return errs.StoreUnavailable("replace content parts", err)
	}
	return nil
}

func extractClaudeCitations(e *LinearExtractor, contentPartID string, citations gjson.Result) {
	citations.ForEach(func(_, cit gjson.Result) bool {
		details := cit.Get("details")
		c := &model.Citation{
			ID:            uuid.NewString(),
			ContentPartID: contentPartID,
			SourceID:      cit.Get("uuid").String(),
			URL:           details.Get("url").String(),
			StartIndex:    int(cit.Get("start_index").Int()),
			EndIndex:      int(cit.Get("end_index").Int()),
			CitationType:  details.Get("type").String(),
			SourceJSON:    cit.Raw,
		}
		_ = e.Store.InsertCitation(c)
		return true
	})
}

func (e *LinearExtractor) extractAttachments(messageID string, msgData gjson.Result) error {
	var evalErr error
	insertOne := func(name, mimeType string, size int64, raw string) bool {
		a := &model.Attachment{
			ID:         uuid.NewString(),
			MessageID:  messageID,
			Name:       name,
			MimeType:   mimeType,
			SizeBytes:  size,
			SourceJSON: raw,
		}
		if err := e.Store.InsertAttachment(a); err != nil {
			evalErr = errs.StoreUnavailable("insert attachment", err)
			return false
		}
		return true
	}

	msgData.Get("attachments").ForEach(func(_, att gjson.Result) bool {
		return insertOne(att.Get("file_name").String(), att.Get("file_type").String(), att.Get("file_size").Int(), att.Raw)
	})
	if evalErr != nil {
		return evalErr
	}

	msgData.Get("files").ForEach(func(_, f gjson.Result) bool {
		if name := f.Get("file_name").String(); name != "" {
			return insertOne(name, "", 0, f.Raw)
		}
		return true
	})
	return evalErr
}
