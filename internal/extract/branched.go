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

// BranchedExtractor ingests tree-shaped exports keyed by a "mapping" object
// of node id -> {message, parent, children}, grounded on
// original_source/llm_archive/extractors/chatgpt.py. Extraction runs in two
// passes over the mapping because a node's parent can appear later in
// iteration order than the node itself (map iteration has no defined
// order), so parent links are only safe to set once every node has an id.
type BranchedExtractor struct {
	*Base
}

func NewBranchedExtractor(base *Base) *BranchedExtractor {
	return &BranchedExtractor{Base: base}
}

var _ Extractor = (*BranchedExtractor)(nil)

func (e *BranchedExtractor) ExtractDialogue(rawJSON string) (*Result, error) {
	root := gjson.Parse(rawJSON)
	if !root.IsObject() {
		return nil, errs.SourceMalformed("branched extractor: root is not an object", nil)
	}

	sourceID := firstNonEmptyGjson(root.Get("conversation_id"), root.Get("id"))
	if sourceID == "" {
		return nil, errs.SourceMalformed("branched extractor: conversation missing id", nil)
	}

	createdAt, _ := normalize.ParseTimestamp(jsonNumberOrString(root.Get("create_time")))
	updatedAt, hasUpdatedAt := normalize.ParseTimestamp(jsonNumberOrString(root.Get("update_time")))
	var updatedAtPtr *time.Time
	if hasUpdatedAt {
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
		Title:      root.Get("title").String(),
		SourceJSON: rawJSON,
		ImportedAt: time.Now().UTC(),
	}
	if !createdAt.IsZero() {
		dialogue.CreatedAt = &createdAt
	}
	dialogue.UpdatedAt = updatedAtPtr

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

	if err := e.extractMapping(dialogueID, root.Get("mapping")); err != nil {
		return nil, err
	}

	return &Result{Outcome: outcome, DialogueID: dialogueID}, nil
}

func (e *BranchedExtractor) extractMapping(dialogueID string, mapping gjson.Result) error {
	if !mapping.IsObject() {
		return errs.SourceMalformed("branched extractor: mapping is not an object", nil)
	}

	seen := map[string]bool{}
	now := time.Now().UTC()

	// Pass 1: create/update every message, without parent links.
	mapping.ForEach(func(nodeIDKey, node gjson.Result) bool {
		nodeID := nodeIDKey.String()
		msgData := node.Get("message")
		if !msgData.Exists() || !msgData.IsObject() {
			return true
		}
		role := msgData.Get("author.role").String()
		if role == "" {
			return true
		}

		sourceMsgID := firstNonEmptyGjson(msgData.Get("id"), nodeIDKey)
		seen[sourceMsgID] = true

		msgHash, _ := contentHashJSON(msgData.Raw)
		internalID := e.messageID(sourceMsgID)
		e.registerMessageID(nodeID, internalID)
		if sourceMsgID != nodeID {
			e.registerMessageID(sourceMsgID, internalID)
		}

		if !e.shouldWriteMessage(sourceMsgID, msgHash) {
			return true
		}

		createdAt, _ := normalize.ParseTimestamp(jsonNumberOrString(msgData.Get("create_time")))
		updatedAt, hasUpdated := normalize.ParseTimestamp(jsonNumberOrString(msgData.Get("update_time")))

		authorName := msgData.Get("author.name").String()
		normalizedRole := model.Role(normalize.NormalizeRoleString(role))
		msg := &model.Message{
			ID:          internalID,
			DialogueID:  dialogueID,
			SourceID:    sourceMsgID,
			Role:        normalizedRole,
			AuthorID:    authorName,
			AuthorName:  authorName,
			SourceJSON:  withNormalizedRole(node.Raw, "message.author.role", string(normalizedRole)),
			ContentHash: msgHash,
		}
		if !createdAt.IsZero() {
			msg.CreatedAt = &createdAt
		}
		if hasUpdated {
			msg.UpdatedAt = &updatedAt
		}
		if err := e.Store.UpsertMessage(msg); err != nil {
			return false
		}
		if err := e.extractContentParts(internalID, msgData); err != nil {
			return false
		}
		if err := e.extractChatGPTMeta(internalID, msgData); err != nil {
			return false
		}
		if err := e.extractAttachments(internalID, msgData); err != nil {
			return false
		}
		return true
	})

	// Pass 2: set parent links now that every node has a resolvable id.
	mapping.ForEach(func(nodeIDKey, node gjson.Result) bool {
		parentNodeID := node.Get("parent").String()
		if parentNodeID == "" {
			return true
		}
		messageID, ok := e.resolveMessageID(nodeIDKey.String())
		if !ok {
			return true
		}
		parentID, ok := e.resolveMessageID(parentNodeID)
		if !ok {
			return true
		}
		p := parentID
		if err := e.Store.SetMessageParent(messageID, &p); err != nil {
			return false
		}
		return true
	})

	return e.softDeleteMissing(seen, now)
}

func (e *BranchedExtractor) extractContentParts(messageID string, msgData gjson.Result) error {
	partsArr := msgData.Get("content.parts")
	var parts []*model.ContentPart
	var firstPartID string
	if partsArr.IsArray() {
		idx := 0
		partsArr.ForEach(func(_, part gjson.Result) bool {
			c := classify.Part(part.Raw)
			id := uuid.NewString()
			if idx == 0 {
				firstPartID = id
			}
			parts = append(parts, &model.ContentPart{
				ID:          id,
				MessageID:   messageID,
				Sequence:    idx,
				PartType:    c.PartType,
				TextContent: c.TextContent,
				Language:    c.Language,
				MediaType:   c.MediaType,
				URL:         c.URL,
				SourceJSON:  part.Raw,
			})
			if part.IsObject() {
				extractDalleGeneration(e, id, part)
			}
			idx++
			return true
		})
	}
	if err := e.Store.ReplaceContentParts(messageID, parts); err != nil {
		return errs.StoreUnavailable("replace content parts", err)
	}

	citations := msgData.Get("metadata.citations")
	if citations.IsArray() && len(parts) > 0 && firstPartID != "" {
		citations.ForEach(func(_, cit gjson.Result) bool {
			meta := cit.Get("metadata")
			publishedAt, hasPub := normalize.ParseTimestamp(jsonNumberOrString(meta.Get("pub_date")))
			c := &model.Citation{
				ID:            uuid.NewString(),
				ContentPartID: firstPartID,
				URL:           meta.Get("url").String(),
				Title:         meta.Get("title").String(),
				Snippet:       meta.Get("text").String(),
				StartIndex:    int(cit.Get("start_ix").Int()),
				EndIndex:      int(cit.Get("end_ix").Int()),
				CitationType:  meta.Get("type").String(),
				SourceJSON:    cit.Raw,
			}
			if hasPub {
				c.PublishedAt = &publishedAt
			}
			_ = e.Store.InsertCitation(c)
			return true
		})
	}
	return nil
}

func extractDalleGeneration(e *BranchedExtractor, contentPartID string, part gjson.Result) {
	meta := part.Get("metadata")
	dalle := meta.Get("dalle")
	if !dalle.Exists() {
		dalle = meta.Get("generation")
	}
	if !dalle.Exists() {
		return
	}
	d := &model.DalleGeneration{
		ID:            uuid.NewString(),
		ContentPartID: contentPartID,
		Prompt:        dalle.Get("prompt").String(),
		AssetURL:      firstNonEmptyGjson(dalle.Get("asset_pointer"), part.Get("asset_pointer")),
	}
	_ = e.Store.InsertDalleGeneration(d)
}

func (e *BranchedExtractor) extractChatGPTMeta(messageID string, msgData gjson.Result) error {
	meta := msgData.Get("metadata")
	if !meta.Exists() {
		return nil
	}
	gm := &model.GizmoMetadata{
		MessageID: messageID,
		GizmoID:   meta.Get("gizmo_id").String(),
		ModelSlug: meta.Get("model_slug").String(),
		Status:    msgData.Get("status").String(),
		EndTurn:   msgData.Get("end_turn").Bool(),
	}
	if err := e.Store.UpsertGizmoMetadata(gm); err != nil {
		return errs.StoreUnavailable("upsert gizmo metadata", err)
	}

	groups := meta.Get("search_result_groups")
	if groups.IsArray() {
		var evalErr error
		groups.ForEach(func(_, g gjson.Result) bool {
			if err := e.extractSearchGroup(messageID, g); err != nil {
				evalErr = err
				return false
			}
			return true
		})
		if evalErr != nil {
			return evalErr
		}
	}

	if agg := meta.Get("aggregate_result"); agg.Exists() {
		if err := e.extractCodeExecution(messageID, agg); err != nil {
			return err
		}
	}

	if canvas := meta.Get("canvas"); canvas.Exists() {
		if err := e.extractCanvasDoc(messageID, canvas); err != nil {
			return err
		}
	}

	return nil
}

func (e *BranchedExtractor) extractSearchGroup(messageID string, group gjson.Result) error {
	g := &model.SearchGroup{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Query:     group.Get("type").String(),
	}
	if err := e.Store.InsertSearchGroup(g); err != nil {
		return errs.StoreUnavailable("insert search group", err)
	}
	entries := group.Get("entries")
	if entries.IsArray() {
		entries.ForEach(func(_, entry gjson.Result) bool {
			se := &model.SearchEntry{
				ID:            uuid.NewString(),
				SearchGroupID: g.ID,
				URL:           entry.Get("url").String(),
				Title:         entry.Get("title").String(),
				Snippet:       entry.Get("snippet").String(),
			}
			_ = e.Store.InsertSearchEntry(se)
			return true
		})
	}
	return nil
}

func (e *BranchedExtractor) extractCodeExecution(messageID string, agg gjson.Result) error {
	exception := agg.Get("in_kernel_exception")
	var traceback string
	if exception.Exists() {
		var lines []string
		exception.Get("traceback").ForEach(func(_, line gjson.Result) bool {
			lines = append(lines, line.String())
			return true
		})
		if len(lines) > 0 {
			traceback = joinLines(lines)
		}
	}
	ce := &model.CodeExecution{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Code:      agg.Get("code").String(),
		Output:    agg.Get("final_expression_output").String(),
		Traceback: traceback,
		HasError:  exception.Exists(),
	}
	if err := e.Store.InsertCodeExecution(ce); err != nil {
		return errs.StoreUnavailable("insert code execution", err)
	}
	return nil
}

func (e *BranchedExtractor) extractCanvasDoc(messageID string, canvas gjson.Result) error {
	cd := &model.CanvasDocument{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Title:     canvas.Get("title").String(),
		Kind:      canvas.Get("textdoc_type").String(),
	}
	if err := e.Store.InsertCanvasDocument(cd); err != nil {
		return errs.StoreUnavailable("insert canvas document", err)
	}
	return nil
}

func (e *BranchedExtractor) extractAttachments(messageID string, msgData gjson.Result) error {
	attachments := msgData.Get("metadata.attachments")
	if !attachments.IsArray() {
		return nil
	}
	var evalErr error
	attachments.ForEach(func(_, att gjson.Result) bool {
		a := &model.Attachment{
			ID:         uuid.NewString(),
			MessageID:  messageID,
			Name:       att.Get("name").String(),
			MimeType:   firstNonEmptyGjson(att.Get("mime_type"), att.Get("mimeType")),
			SizeBytes:  att.Get("size").Int(),
			SourceJSON: att.Raw,
		}
		if err := e.Store.InsertAttachment(a); err != nil {
			evalErr = errs.StoreUnavailable("insert attachment", err)
			return false
		}
		return true
	})
	return evalErr
}

func firstNonEmptyGjson(values ...gjson.Result) string {
	for _, v := range values {
		if v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func jsonNumberOrString(r gjson.Result) any {
	switch r.Type {
	case gjson.Number:
		return r.Num
	case gjson.String:
		return r.Str
	default:
		return nil
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
