package annotator

import (
	"strings"

	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// messageText concatenates a message's text content parts, mirroring
// internal/exchange's private helper of the same shape (kept separate since
// that package has no reason to export it).
func messageText(s store.Storer, messageID string) (string, error) {
	parts, err := s.ListContentParts(messageID)
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

// RunMessage runs one message-entity annotator over every message in a
// dialogue.
func (m *Manager) RunMessage(a Annotator, dialogueID string) (RunStats, error) {
	s := m.store
	messages, err := s.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return RunStats{}, errs.StoreUnavailable("list messages for dialogue", err)
	}
	items := make([]item, 0, len(messages))
	for _, msg := range messages {
		text, err := messageText(s, msg.ID)
		if err != nil {
			return RunStats{}, err
		}
		data := &MessageTextData{MessageID: msg.ID, Role: msg.Role, Text: text}
		it := data.asItem()
		if msg.CreatedAt != nil {
			it.ts = *msg.CreatedAt
		}
		items = append(items, it)
	}
	return m.run(a, items)
}

// RunExchange runs one exchange-entity annotator (ExchangeData view) over
// every exchange of every linear sequence in a dialogue.
func (m *Manager) RunExchange(a Annotator, dialogueID string) (RunStats, error) {
	s := m.store
	exchanges, err := allExchanges(s, dialogueID)
	if err != nil {
		return RunStats{}, err
	}
	items := make([]item, 0, len(exchanges))
	for _, ex := range exchanges {
		content, err := s.GetExchangeContent(ex.ID)
		if err != nil {
			return RunStats{}, errs.StoreUnavailable("get exchange content", err)
		}
		if content == nil {
			continue
		}
		data := &ExchangeData{
			ExchangeID:         ex.ID,
			UserText:           content.UserText,
			AssistantText:      content.AssistantText,
			UserWordCount:      content.UserWordCount,
			AssistantWordCount: content.AssistantWordCount,
		}
		it := data.asItem()
		if ex.EndedAt != nil {
			it.ts = *ex.EndedAt
		} else if ex.StartedAt != nil {
			it.ts = *ex.StartedAt
		}
		items = append(items, it)
	}
	return m.run(a, items)
}

// RunExchangePlatform runs one exchange-entity annotator (ExchangePlatformData
// view) over every exchange of every linear sequence in a dialogue.
func (m *Manager) RunExchangePlatform(a Annotator, dialogueID string) (RunStats, error) {
	s := m.store
	exchanges, err := allExchanges(s, dialogueID)
	if err != nil {
		return RunStats{}, err
	}
	items := make([]item, 0, len(exchanges))
	for _, ex := range exchanges {
		members, err := s.ListExchangeMessages(ex.ID)
		if err != nil {
			return RunStats{}, errs.StoreUnavailable("list exchange messages", err)
		}
		var messageIDs, userMessageIDs []string
		for _, em := range members {
			messageIDs = append(messageIDs, em.MessageID)
			msg, err := s.GetMessage(em.MessageID)
			if err != nil {
				return RunStats{}, errs.StoreUnavailable("get message", err)
			}
			if msg != nil && msg.Role == model.RoleUser {
				userMessageIDs = append(userMessageIDs, em.MessageID)
			}
		}
		data := &ExchangePlatformData{ExchangeID: ex.ID, MessageIDs: messageIDs, UserMessageIDs: userMessageIDs, store: s}
		it := data.asItem()
		if ex.EndedAt != nil {
			it.ts = *ex.EndedAt
		} else if ex.StartedAt != nil {
			it.ts = *ex.StartedAt
		}
		items = append(items, it)
	}
	return m.run(a, items)
}

// RunDialogue runs one dialogue-entity annotator over a single dialogue.
func (m *Manager) RunDialogue(a Annotator, dialogueID string) (RunStats, error) {
	s := m.store
	dlg, err := s.ListDialogues()
	if err != nil {
		return RunStats{}, errs.StoreUnavailable("list dialogues", err)
	}
	var d *model.Dialogue
	for _, cand := range dlg {
		if cand.ID == dialogueID {
			d = cand
			break
		}
	}
	if d == nil {
		return RunStats{}, errs.ConstraintViolation("dialogue not found: "+dialogueID, nil)
	}

	messages, err := s.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return RunStats{}, errs.StoreUnavailable("list messages for dialogue", err)
	}
	var userMessageCount, assistantMessageCount int
	var firstUserText string
	var userTexts, assistantTexts []string
	var userWordCounts []int
	for _, msg := range messages {
		text, err := messageText(s, msg.ID)
		if err != nil {
			return RunStats{}, err
		}
		switch msg.Role {
		case model.RoleUser:
			userMessageCount++
			userTexts = append(userTexts, text)
			userWordCounts = append(userWordCounts, wordCount(text))
			if firstUserText == "" && text != "" {
				firstUserText = text
			}
		case model.RoleAssistant:
			assistantMessageCount++
			assistantTexts = append(assistantTexts, text)
		}
	}

	exchanges, err := allExchanges(s, dialogueID)
	if err != nil {
		return RunStats{}, err
	}

	data := &DialogueData{
		DialogueID:            dialogueID,
		ExchangeCount:         len(exchanges),
		MessageCount:          len(messages),
		UserMessageCount:      userMessageCount,
		AssistantMessageCount: assistantMessageCount,
		UserWordCounts:        userWordCounts,
		FirstUserText:         firstUserText,
		UserTexts:             userTexts,
		AssistantTexts:        assistantTexts,
	}
	it := data.asItem()
	if d.UpdatedAt != nil {
		it.ts = *d.UpdatedAt
	} else if d.CreatedAt != nil {
		it.ts = *d.CreatedAt
	}
	return m.run(a, []item{it})
}

// RunPromptResponse runs one prompt-response-entity annotator over every
// pair materialized by PromptResponseBuilder for a dialogue.
func (m *Manager) RunPromptResponse(a Annotator, dialogueID string) (RunStats, error) {
	s := m.store
	pairs, err := s.ListPromptResponsePairsForDialogue(dialogueID)
	if err != nil {
		return RunStats{}, errs.StoreUnavailable("list prompt response pairs", err)
	}
	items := make([]item, 0, len(pairs))
	for _, p := range pairs {
		responseText, err := messageText(s, p.MessageID)
		if err != nil {
			return RunStats{}, err
		}
		promptText, err := messageText(s, p.PromptMessageID)
		if err != nil {
			return RunStats{}, err
		}
		data := &PromptResponseData{MessageID: p.MessageID, PromptText: promptText, ResponseText: responseText}
		msg, err := s.GetMessage(p.MessageID)
		if err != nil {
			return RunStats{}, errs.StoreUnavailable("get message", err)
		}
		it := data.asItem()
		if msg != nil && msg.CreatedAt != nil {
			it.ts = *msg.CreatedAt
		}
		items = append(items, it)
	}
	return m.run(a, items)
}

// RunContentPart runs one content-part-entity annotator (ContentPartData
// view) over every content part of every message in a dialogue.
func (m *Manager) RunContentPart(a Annotator, dialogueID string) (RunStats, error) {
	s := m.store
	messages, err := s.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return RunStats{}, errs.StoreUnavailable("list messages for dialogue", err)
	}
	var items []item
	for _, msg := range messages {
		parts, err := s.ListContentParts(msg.ID)
		if err != nil {
			return RunStats{}, errs.StoreUnavailable("list content parts", err)
		}
		for _, p := range parts {
			data := &ContentPartData{
				ContentPartID: p.ID,
				MessageID:     msg.ID,
				DialogueID:    dialogueID,
				Role:          msg.Role,
				Sequence:      p.Sequence,
				PartType:      p.PartType,
				TextContent:   p.TextContent,
				Language:      p.Language,
				TotalParts:    len(parts),
			}
			it := data.asItem()
			if msg.CreatedAt != nil {
				it.ts = *msg.CreatedAt
			}
			items = append(items, it)
		}
	}
	return m.run(a, items)
}

// allExchanges collects every exchange across every linear sequence of a
// dialogue; a dialogue may have more than one sequence (branches), and
// annotators run over all of them, not just the primary path.
func allExchanges(s store.Storer, dialogueID string) ([]*model.Exchange, error) {
	sequences, err := s.ListLinearSequences(dialogueID)
	if err != nil {
		return nil, errs.StoreUnavailable("list linear sequences", err)
	}
	var out []*model.Exchange
	for _, seq := range sequences {
		exs, err := s.ListExchanges(seq.ID)
		if err != nil {
			return nil, errs.StoreUnavailable("list exchanges", err)
		}
		out = append(out, exs...)
	}
	return out, nil
}

// DefaultCatalog returns every concrete annotator grouped by entity type,
// ordered by descending priority within each group, mirroring
// original_source's AnnotationManager registration order.
func DefaultCatalog() map[model.EntityType][]Annotator {
	return map[model.EntityType][]Annotator{
		model.EntityMessage: {
			CodeBlockAnnotator{},
			ScriptHeaderAnnotator{},
			CodeStructureAnnotator{},
			FunctionDefinitionAnnotator{},
			ImportStatementAnnotator{},
			WikiLinkAnnotator{},
			LatexAnnotator{},
			ContinuationAnnotator{},
			CodeKeywordDensityAnnotator{},
		},
		model.EntityExchange: {
			WebSearchAnnotator{},
			CodeExecutionAnnotator{},
			CanvasAnnotator{},
			GizmoAnnotator{},
			AttachmentAnnotator{},
			DalleAnnotator{},
			ExchangeTypeAnnotator{},
			TitleExtractionAnnotator{},
			CodeEvidenceAnnotator{},
		},
		model.EntityDialogue: {
			DialogueLengthAnnotator{},
			PromptStatsAnnotator{},
			FirstExchangeAnnotator{},
			InteractionPatternAnnotator{},
			CodingAssistanceAnnotator{},
		},
		model.EntityPromptResponse: {
			WikiCandidateAnnotator{},
			NaiveTitleAnnotator{},
		},
		model.EntityContentPart: {
			CodeBlockContentAnnotator{},
			ScriptHeaderContentAnnotator{},
			LatexContentAnnotator{},
			WikiLinkContentAnnotator{},
			PartPositionAnnotator{},
		},
	}
}
