package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

// ---------------------------------------------------------------------------
// Dialogues (bulk iteration, for annotators and the pipeline conductor)
// ---------------------------------------------------------------------------

func (s *SQLiteStore) ListDialogues() ([]*model.Dialogue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, source, source_id, title, created_at, updated_at, source_json, imported_at FROM dialogues`)
	if err != nil {
		return nil, fmt.Errorf("store: list dialogues: %w", err)
	}
	defer rows.Close()
	var out []*model.Dialogue
	for rows.Next() {
		d, err := scanDialogueRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// scanDialogueRows mirrors scanDialogue's column order and null handling but
// accepts *sql.Rows (via rowScanner) for multi-row iteration.
func scanDialogueRows(r rowScanner) (*model.Dialogue, error) {
	var d model.Dialogue
	var title, createdAt, updatedAt sql.NullString
	var importedAt string
	if err := r.Scan(&d.ID, &d.Source, &d.SourceID, &title, &createdAt, &updatedAt, &d.SourceJSON, &importedAt); err != nil {
		return nil, fmt.Errorf("store: scan dialogue: %w", err)
	}
	d.Title = title.String
	d.CreatedAt = parseNullTime(createdAt)
	d.UpdatedAt = parseNullTime(updatedAt)
	if t, err := time.Parse(time.RFC3339Nano, importedAt); err == nil {
		d.ImportedAt = t
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// Provider side-table readers, for the exchange-platform annotators
// ---------------------------------------------------------------------------

func (s *SQLiteStore) ListSearchGroupsForMessage(messageID string) ([]*model.SearchGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, message_id, query FROM search_groups WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list search groups: %w", err)
	}
	defer rows.Close()
	var out []*model.SearchGroup
	for rows.Next() {
		var g model.SearchGroup
		var query sql.NullString
		if err := rows.Scan(&g.ID, &g.MessageID, &query); err != nil {
			return nil, fmt.Errorf("store: scan search group: %w", err)
		}
		g.Query = query.String
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSearchEntriesForGroup(groupID string) ([]*model.SearchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, search_group_id, url, title, snippet FROM search_entries WHERE search_group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: list search entries: %w", err)
	}
	defer rows.Close()
	var out []*model.SearchEntry
	for rows.Next() {
		var e model.SearchEntry
		var url, title, snippet sql.NullString
		if err := rows.Scan(&e.ID, &e.SearchGroupID, &url, &title, &snippet); err != nil {
			return nil, fmt.Errorf("store: scan search entry: %w", err)
		}
		e.URL, e.Title, e.Snippet = url.String, title.String, snippet.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCodeExecutionForMessage(messageID string) (*model.CodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT id, message_id, language, code, output, traceback, has_error FROM code_executions WHERE message_id = ?`, messageID)
	var c model.CodeExecution
	var lang, code, output, traceback sql.NullString
	var hasError int
	if err := row.Scan(&c.ID, &c.MessageID, &lang, &code, &output, &traceback, &hasError); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get code execution: %w", err)
	}
	c.Language, c.Code, c.Output, c.Traceback = lang.String, code.String, output.String, traceback.String
	c.HasError = hasError != 0
	return &c, nil
}

func (s *SQLiteStore) GetCanvasDocumentForMessage(messageID string) (*model.CanvasDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT id, message_id, title, content, kind FROM canvas_documents WHERE message_id = ?`, messageID)
	var c model.CanvasDocument
	var title, content, kind sql.NullString
	if err := row.Scan(&c.ID, &c.MessageID, &title, &content, &kind); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get canvas document: %w", err)
	}
	c.Title, c.Content, c.Kind = title.String, content.String, kind.String
	return &c, nil
}

func (s *SQLiteStore) GetGizmoMetadata(messageID string) (*model.GizmoMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT message_id, gizmo_id, model_slug, status, end_turn FROM gizmo_metadata WHERE message_id = ?`, messageID)
	var g model.GizmoMetadata
	var gizmoID, modelSlug, status sql.NullString
	var endTurn int
	if err := row.Scan(&g.MessageID, &gizmoID, &modelSlug, &status, &endTurn); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get gizmo metadata: %w", err)
	}
	g.GizmoID, g.ModelSlug, g.Status = gizmoID.String, modelSlug.String, status.String
	g.EndTurn = endTurn != 0
	return &g, nil
}

func (s *SQLiteStore) ListAttachmentsForMessage(messageID string) ([]*model.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, message_id, name, mime_type, size_bytes, source_json FROM attachments WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list attachments: %w", err)
	}
	defer rows.Close()
	var out []*model.Attachment
	for rows.Next() {
		var a model.Attachment
		var name, mime, sourceJSON sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&a.ID, &a.MessageID, &name, &mime, &size, &sourceJSON); err != nil {
			return nil, fmt.Errorf("store: scan attachment: %w", err)
		}
		a.Name, a.MimeType, a.SourceJSON = name.String, mime.String, sourceJSON.String
		a.SizeBytes = size.Int64
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDalleGenerationsForContentPart(contentPartID string) ([]*model.DalleGeneration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, content_part_id, prompt, asset_url FROM dalle_generations WHERE content_part_id = ?`, contentPartID)
	if err != nil {
		return nil, fmt.Errorf("store: list dalle generations: %w", err)
	}
	defer rows.Close()
	var out []*model.DalleGeneration
	for rows.Next() {
		var d model.DalleGeneration
		var prompt, assetURL sql.NullString
		if err := rows.Scan(&d.ID, &d.ContentPartID, &prompt, &assetURL); err != nil {
			return nil, fmt.Errorf("store: scan dalle generation: %w", err)
		}
		d.Prompt, d.AssetURL = prompt.String, assetURL.String
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Derived: exchange membership + prompt-response bulk read
// ---------------------------------------------------------------------------

func (s *SQLiteStore) ListExchangeMessages(exchangeID string) ([]*model.ExchangeMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT exchange_id, message_id, position FROM exchange_messages WHERE exchange_id = ? ORDER BY position ASC`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("store: list exchange messages: %w", err)
	}
	defer rows.Close()
	var out []*model.ExchangeMessage
	for rows.Next() {
		var em model.ExchangeMessage
		if err := rows.Scan(&em.ExchangeID, &em.MessageID, &em.Position); err != nil {
			return nil, fmt.Errorf("store: scan exchange message: %w", err)
		}
		out = append(out, &em)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPromptResponsePairsForDialogue(dialogueID string) ([]*model.PromptResponsePair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT p.message_id, p.prompt_message_id, p.strategy
		FROM prompt_response_pairs p
		JOIN messages m ON m.id = p.message_id
		WHERE m.dialogue_id = ?`, dialogueID)
	if err != nil {
		return nil, fmt.Errorf("store: list prompt response pairs: %w", err)
	}
	defer rows.Close()
	var out []*model.PromptResponsePair
	for rows.Next() {
		var p model.PromptResponsePair
		if err := rows.Scan(&p.MessageID, &p.PromptMessageID, &p.Strategy); err != nil {
			return nil, fmt.Errorf("store: scan prompt response pair: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
