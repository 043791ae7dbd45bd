// Package store provides SQLite-backed persistence for the conversation
// archive core. Grounded on internal/store/sqlite_store.go +
// internal/store/models.go of the teacher repository: a sync.RWMutex-guarded
// struct over database/sql, a schema-as-constant-string, ON CONFLICT upserts,
// and manual sql.Null* scanning.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

// Storer is the entity-store contract of spec.md §4.A / §6: transactional
// upsert by natural key, indexed lookup, set-based deletion of derived
// scopes. SQLiteStore is the sole implementation.
type Storer interface {
	// Sources
	UpsertSource(s *model.Source) error
	GetSource(id string) (*model.Source, error)

	// Dialogues
	GetDialogueBySourceID(source, sourceID string) (*model.Dialogue, error)
	InsertDialogue(d *model.Dialogue) error
	UpdateDialogue(d *model.Dialogue) error
	ListDialogues() ([]*model.Dialogue, error)

	// Messages
	ListMessagesForDialogue(dialogueID string) ([]*model.Message, error)
	GetMessage(id string) (*model.Message, error)
	UpsertMessage(m *model.Message) error
	SetMessageParent(id string, parentID *string) error
	SoftDeleteMessage(id string, at time.Time) error
	ClearDeletedAt(id string) error

	// Content parts + side tables
	ReplaceContentParts(messageID string, parts []*model.ContentPart) error
	ListContentParts(messageID string) ([]*model.ContentPart, error)
	InsertCitation(c *model.Citation) error
	InsertAttachment(a *model.Attachment) error
	InsertSearchGroup(g *model.SearchGroup) error
	InsertSearchEntry(e *model.SearchEntry) error
	InsertCodeExecution(c *model.CodeExecution) error
	InsertCanvasDocument(c *model.CanvasDocument) error
	InsertDalleGeneration(d *model.DalleGeneration) error
	UpsertGizmoMetadata(g *model.GizmoMetadata) error
	ListSearchGroupsForMessage(messageID string) ([]*model.SearchGroup, error)
	ListSearchEntriesForGroup(groupID string) ([]*model.SearchEntry, error)
	GetCodeExecutionForMessage(messageID string) (*model.CodeExecution, error)
	GetCanvasDocumentForMessage(messageID string) (*model.CanvasDocument, error)
	GetGizmoMetadata(messageID string) (*model.GizmoMetadata, error)
	ListAttachmentsForMessage(messageID string) ([]*model.Attachment, error)
	ListDalleGenerationsForContentPart(contentPartID string) ([]*model.DalleGeneration, error)

	// Derived: tree
	ClearDialogueDerived(dialogueID string) error
	InsertDialogueTree(t *model.DialogueTree) error
	InsertMessagePath(p *model.MessagePath) error
	InsertLinearSequence(s *model.LinearSequence) error
	InsertSequenceMessage(sm *model.SequenceMessage) error
	ListLinearSequences(dialogueID string) ([]*model.LinearSequence, error)
	ListSequenceMessages(sequenceID string) ([]*model.SequenceMessage, error)

	// Derived: exchanges
	ClearSequenceDerived(sequenceID string) error
	InsertExchange(e *model.Exchange) error
	InsertExchangeMessage(em *model.ExchangeMessage) error
	InsertExchangeContent(ec *model.ExchangeContent) error
	ListExchanges(sequenceID string) ([]*model.Exchange, error)
	GetExchangeContent(exchangeID string) (*model.ExchangeContent, error)
	ListExchangeMessages(exchangeID string) ([]*model.ExchangeMessage, error)

	// Derived: hashes
	UpsertContentHash(h *model.ContentHash) error
	FindDuplicateHashes(entityType model.EntityType, scope model.HashScope, norm model.Normalization) (map[string][]string, error)

	// Derived: prompt-response
	UpsertPromptResponsePair(p *model.PromptResponsePair) error
	ListPromptResponsePairsForDialogue(dialogueID string) ([]*model.PromptResponsePair, error)

	// Annotations
	UpsertAnnotation(a *model.Annotation) (bool, error)
	ListAnnotations(entityType model.EntityType, entityID string) ([]*model.Annotation, error)
	ClearAnnotations(entityType model.EntityType, source string) (int, error)

	// Annotator cursors
	GetOrCreateCursor(annotatorName, annotatorVersion string, entityType model.EntityType) (*model.AnnotatorCursor, error)
	UpdateCursor(c *model.AnnotatorCursor, entitiesProcessed, annotationsCreated int, newHighWaterMark time.Time, runtimeSeconds float64) error
	ClearCursor(annotatorName, annotatorVersion string, entityType model.EntityType) error
	ListCursors() ([]*model.AnnotatorCursor, error)

	DB() *sql.DB
	Close() error
}

// SQLiteStore is the reference Storer implementation.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

var _ Storer = (*SQLiteStore)(nil)

// New opens (or creates) a SQLite database at dsn and ensures the full
// schema exists.
func New(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	if _, err := db.Exec(fullSchema()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

func (s *SQLiteStore) UpsertSource(src *model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO sources (id, display_name, has_native_trees, role_vocabulary, source_metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name=excluded.display_name,
			has_native_trees=excluded.has_native_trees,
			role_vocabulary=excluded.role_vocabulary,
			source_metadata=excluded.source_metadata
	`, src.ID, src.DisplayName, boolToInt(src.HasNativeTrees), strings.Join(src.RoleVocabulary, ","), src.SourceMetadata)
	if err != nil {
		return fmt.Errorf("store: upsert source: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSource(id string) (*model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT id, display_name, has_native_trees, role_vocabulary, source_metadata FROM sources WHERE id = ?`, id)
	var src model.Source
	var hasTrees int
	var vocab string
	var meta sql.NullString
	if err := row.Scan(&src.ID, &src.DisplayName, &hasTrees, &vocab, &meta); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get source: %w", err)
	}
	src.HasNativeTrees = hasTrees != 0
	if vocab != "" {
		src.RoleVocabulary = strings.Split(vocab, ",")
	}
	src.SourceMetadata = meta.String
	return &src, nil
}

// ---------------------------------------------------------------------------
// Dialogues
// ---------------------------------------------------------------------------

func (s *SQLiteStore) GetDialogueBySourceID(source, sourceID string) (*model.Dialogue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`
		SELECT id, source, source_id, title, created_at, updated_at, source_json, imported_at
		FROM dialogues WHERE source = ? AND source_id = ?`, source, sourceID)
	return scanDialogue(row)
}

func scanDialogue(row *sql.Row) (*model.Dialogue, error) {
	var d model.Dialogue
	var title, createdAt, updatedAt sql.NullString
	var importedAt string
	if err := row.Scan(&d.ID, &d.Source, &d.SourceID, &title, &createdAt, &updatedAt, &d.SourceJSON, &importedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
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

func (s *SQLiteStore) InsertDialogue(d *model.Dialogue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO dialogues (id, source, source_id, title, created_at, updated_at, source_json, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Source, d.SourceID, d.Title, timePtr(d.CreatedAt), timePtr(d.UpdatedAt), d.SourceJSON, d.ImportedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: insert dialogue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDialogue(d *model.Dialogue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE dialogues SET title=?, created_at=?, updated_at=?, source_json=? WHERE id=?`,
		d.Title, timePtr(d.CreatedAt), timePtr(d.UpdatedAt), d.SourceJSON, d.ID)
	if err != nil {
		return fmt.Errorf("store: update dialogue: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (s *SQLiteStore) ListMessagesForDialogue(dialogueID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, dialogue_id, source_id, parent_id, role, author_id, author_name, created_at, updated_at, source_json, content_hash, deleted_at
		FROM messages WHERE dialogue_id = ? ORDER BY created_at ASC`, dialogueID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMessage(id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`
		SELECT id, dialogue_id, source_id, parent_id, role, author_id, author_name, created_at, updated_at, source_json, content_hash, deleted_at
		FROM messages WHERE id = ?`, id)
	m, err := scanMessageRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(row rowScanner) (*model.Message, error) {
	var m model.Message
	var parentID, authorID, authorName, createdAt, updatedAt, deletedAt sql.NullString
	if err := row.Scan(&m.ID, &m.DialogueID, &m.SourceID, &parentID, &m.Role, &authorID, &authorName, &createdAt, &updatedAt, &m.SourceJSON, &m.ContentHash, &deletedAt); err != nil {
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	if parentID.Valid {
		v := parentID.String
		m.ParentID = &v
	}
	m.AuthorID = authorID.String
	m.AuthorName = authorName.String
	m.CreatedAt = parseNullTime(createdAt)
	m.UpdatedAt = parseNullTime(updatedAt)
	m.DeletedAt = parseNullTime(deletedAt)
	return &m, nil
}

func (s *SQLiteStore) UpsertMessage(m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parentID any
	if m.ParentID != nil {
		parentID = *m.ParentID
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, dialogue_id, source_id, parent_id, role, author_id, author_name, created_at, updated_at, source_json, content_hash, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dialogue_id, source_id) DO UPDATE SET
			parent_id=excluded.parent_id,
			role=excluded.role,
			author_id=excluded.author_id,
			author_name=excluded.author_name,
			created_at=excluded.created_at,
			updated_at=excluded.updated_at,
			source_json=excluded.source_json,
			content_hash=excluded.content_hash,
			deleted_at=excluded.deleted_at
	`, m.ID, m.DialogueID, m.SourceID, parentID, string(m.Role), m.AuthorID, m.AuthorName,
		timePtr(m.CreatedAt), timePtr(m.UpdatedAt), m.SourceJSON, m.ContentHash, timePtr(m.DeletedAt))
	if err != nil {
		return fmt.Errorf("store: upsert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetMessageParent(id string, parentID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p any
	if parentID != nil {
		p = *parentID
	}
	_, err := s.db.Exec(`UPDATE messages SET parent_id=? WHERE id=?`, p, id)
	if err != nil {
		return fmt.Errorf("store: set parent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SoftDeleteMessage(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE messages SET deleted_at=? WHERE id=?`, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("store: soft delete message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearDeletedAt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE messages SET deleted_at=NULL WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("store: clear deleted_at: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Content parts + side tables
// ---------------------------------------------------------------------------

func (s *SQLiteStore) ReplaceContentParts(messageID string, parts []*model.ContentPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin replace content parts: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM content_parts WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("store: clear content parts: %w", err)
	}
	for _, p := range parts {
		_, err := tx.Exec(`
			INSERT INTO content_parts (id, message_id, sequence, part_type, text_content, language, media_type, url, tool_name, tool_use_id, tool_input, is_error, source_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.MessageID, p.Sequence, string(p.PartType), p.TextContent, p.Language, p.MediaType, p.URL, p.ToolName, p.ToolUseID, p.ToolInput, boolToInt(p.IsError), p.SourceJSON)
		if err != nil {
			return fmt.Errorf("store: insert content part: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListContentParts(messageID string) ([]*model.ContentPart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, message_id, sequence, part_type, text_content, language, media_type, url, tool_name, tool_use_id, tool_input, is_error, source_json
		FROM content_parts WHERE message_id = ? ORDER BY sequence ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list content parts: %w", err)
	}
	defer rows.Close()
	var out []*model.ContentPart
	for rows.Next() {
		var p model.ContentPart
		var text, lang, media, url, toolName, toolUseID, toolInput sql.NullString
		var isError int
		if err := rows.Scan(&p.ID, &p.MessageID, &p.Sequence, &p.PartType, &text, &lang, &media, &url, &toolName, &toolUseID, &toolInput, &isError, &p.SourceJSON); err != nil {
			return nil, fmt.Errorf("store: scan content part: %w", err)
		}
		p.TextContent, p.Language, p.MediaType, p.URL = text.String, lang.String, media.String, url.String
		p.ToolName, p.ToolUseID, p.ToolInput = toolName.String, toolUseID.String, toolInput.String
		p.IsError = isError != 0
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertCitation(c *model.Citation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO citations (id, content_part_id, source_id, url, title, snippet, published_at, start_index, end_index, citation_type, source_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContentPartID, c.SourceID, c.URL, c.Title, c.Snippet, timePtr(c.PublishedAt), c.StartIndex, c.EndIndex, c.CitationType, c.SourceJSON)
	if err != nil {
		return fmt.Errorf("store: insert citation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertAttachment(a *model.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO attachments (id, message_id, name, mime_type, size_bytes, source_json) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.MessageID, a.Name, a.MimeType, a.SizeBytes, a.SourceJSON)
	if err != nil {
		return fmt.Errorf("store: insert attachment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertSearchGroup(g *model.SearchGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO search_groups (id, message_id, query) VALUES (?, ?, ?)`, g.ID, g.MessageID, g.Query)
	if err != nil {
		return fmt.Errorf("store: insert search group: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertSearchEntry(e *model.SearchEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO search_entries (id, search_group_id, url, title, snippet) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.SearchGroupID, e.URL, e.Title, e.Snippet)
	if err != nil {
		return fmt.Errorf("store: insert search entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertCodeExecution(c *model.CodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO code_executions (id, message_id, language, code, output, traceback, has_error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MessageID, c.Language, c.Code, c.Output, c.Traceback, boolToInt(c.HasError))
	if err != nil {
		return fmt.Errorf("store: insert code execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertCanvasDocument(c *model.CanvasDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO canvas_documents (id, message_id, title, content, kind) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.MessageID, c.Title, c.Content, c.Kind)
	if err != nil {
		return fmt.Errorf("store: insert canvas document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertDalleGeneration(d *model.DalleGeneration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO dalle_generations (id, content_part_id, prompt, asset_url) VALUES (?, ?, ?, ?)`,
		d.ID, d.ContentPartID, d.Prompt, d.AssetURL)
	if err != nil {
		return fmt.Errorf("store: insert dalle generation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertGizmoMetadata(g *model.GizmoMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO gizmo_metadata (message_id, gizmo_id, model_slug, status, end_turn) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET gizmo_id=excluded.gizmo_id, model_slug=excluded.model_slug, status=excluded.status, end_turn=excluded.end_turn
	`, g.MessageID, g.GizmoID, g.ModelSlug, g.Status, boolToInt(g.EndTurn))
	if err != nil {
		return fmt.Errorf("store: upsert gizmo metadata: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Derived: tree
// ---------------------------------------------------------------------------

// ClearDialogueDerived clears a dialogue's derived scope in dependency order:
// SequenceMessages -> LinearSequences -> MessagePaths -> DialogueTree, per
// spec.md §4.E, so a rebuild for one dialogue is always safe.
func (s *SQLiteStore) ClearDialogueDerived(dialogueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin clear derived: %w", err)
	}
	defer tx.Rollback()
	stmts := []string{
		`DELETE FROM sequence_messages WHERE sequence_id IN (SELECT id FROM linear_sequences WHERE dialogue_id = ?)`,
		`DELETE FROM exchange_contents WHERE exchange_id IN (SELECT id FROM exchanges WHERE sequence_id IN (SELECT id FROM linear_sequences WHERE dialogue_id = ?))`,
		`DELETE FROM exchange_messages WHERE exchange_id IN (SELECT id FROM exchanges WHERE sequence_id IN (SELECT id FROM linear_sequences WHERE dialogue_id = ?))`,
		`DELETE FROM exchanges WHERE sequence_id IN (SELECT id FROM linear_sequences WHERE dialogue_id = ?)`,
		`DELETE FROM linear_sequences WHERE dialogue_id = ?`,
		`DELETE FROM message_paths WHERE dialogue_id = ?`,
		`DELETE FROM dialogue_trees WHERE dialogue_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, dialogueID); err != nil {
			return fmt.Errorf("store: clear derived: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertDialogueTree(t *model.DialogueTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO dialogue_trees (dialogue_id, total_nodes, max_depth, branch_count, leaf_count, primary_leaf_id, primary_path_length, has_regenerations, has_edits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dialogue_id) DO UPDATE SET
			total_nodes=excluded.total_nodes, max_depth=excluded.max_depth, branch_count=excluded.branch_count,
			leaf_count=excluded.leaf_count, primary_leaf_id=excluded.primary_leaf_id, primary_path_length=excluded.primary_path_length,
			has_regenerations=excluded.has_regenerations, has_edits=excluded.has_edits
	`, t.DialogueID, t.TotalNodes, t.MaxDepth, t.BranchCount, t.LeafCount, t.PrimaryLeafID, t.PrimaryPathLength, boolToInt(t.HasRegenerations), boolToInt(t.HasEdits))
	if err != nil {
		return fmt.Errorf("store: insert dialogue tree: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertMessagePath(p *model.MessagePath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO message_paths (message_id, dialogue_id, ancestor_path, depth, is_root, is_leaf, child_count, sibling_index, is_on_primary_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.MessageID, p.DialogueID, strings.Join(p.AncestorPath, ","), p.Depth, boolToInt(p.IsRoot), boolToInt(p.IsLeaf), p.ChildCount, p.SiblingIndex, boolToInt(p.IsOnPrimaryPath))
	if err != nil {
		return fmt.Errorf("store: insert message path: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertLinearSequence(seq *model.LinearSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reason, branchPoint any
	var depth any
	if seq.BranchReason != nil {
		reason = string(*seq.BranchReason)
	}
	if seq.BranchPointID != nil {
		branchPoint = *seq.BranchPointID
	}
	if seq.BranchedAtDepth != nil {
		depth = *seq.BranchedAtDepth
	}
	_, err := s.db.Exec(`
		INSERT INTO linear_sequences (id, dialogue_id, leaf_message_id, sequence_length, is_primary, branch_reason, branch_point_id, branched_at_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		seq.ID, seq.DialogueID, seq.LeafMessageID, seq.SequenceLength, boolToInt(seq.IsPrimary), reason, branchPoint, depth)
	if err != nil {
		return fmt.Errorf("store: insert linear sequence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertSequenceMessage(sm *model.SequenceMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO sequence_messages (sequence_id, message_id, position) VALUES (?, ?, ?)`, sm.SequenceID, sm.MessageID, sm.Position)
	if err != nil {
		return fmt.Errorf("store: insert sequence message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListLinearSequences(dialogueID string) ([]*model.LinearSequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, dialogue_id, leaf_message_id, sequence_length, is_primary, branch_reason, branch_point_id, branched_at_depth
		FROM linear_sequences WHERE dialogue_id = ?`, dialogueID)
	if err != nil {
		return nil, fmt.Errorf("store: list linear sequences: %w", err)
	}
	defer rows.Close()
	var out []*model.LinearSequence
	for rows.Next() {
		var seq model.LinearSequence
		var isPrimary int
		var reason, branchPoint sql.NullString
		var depth sql.NullInt64
		if err := rows.Scan(&seq.ID, &seq.DialogueID, &seq.LeafMessageID, &seq.SequenceLength, &isPrimary, &reason, &branchPoint, &depth); err != nil {
			return nil, fmt.Errorf("store: scan linear sequence: %w", err)
		}
		seq.IsPrimary = isPrimary != 0
		if reason.Valid {
			r := model.BranchReason(reason.String)
			seq.BranchReason = &r
		}
		if branchPoint.Valid {
			seq.BranchPointID = &branchPoint.String
		}
		if depth.Valid {
			d := int(depth.Int64)
			seq.BranchedAtDepth = &d
		}
		out = append(out, &seq)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSequenceMessages(sequenceID string) ([]*model.SequenceMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT sequence_id, message_id, position FROM sequence_messages WHERE sequence_id = ? ORDER BY position ASC`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("store: list sequence messages: %w", err)
	}
	defer rows.Close()
	var out []*model.SequenceMessage
	for rows.Next() {
		var sm model.SequenceMessage
		if err := rows.Scan(&sm.SequenceID, &sm.MessageID, &sm.Position); err != nil {
			return nil, fmt.Errorf("store: scan sequence message: %w", err)
		}
		out = append(out, &sm)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Derived: exchanges
// ---------------------------------------------------------------------------

// ClearSequenceDerived clears ExchangeContent -> ExchangeMessage -> Exchange
// in that order for one sequence, per spec.md §4.F.
func (s *SQLiteStore) ClearSequenceDerived(sequenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin clear sequence derived: %w", err)
	}
	defer tx.Rollback()
	stmts := []string{
		`DELETE FROM exchange_contents WHERE exchange_id IN (SELECT id FROM exchanges WHERE sequence_id = ?)`,
		`DELETE FROM exchange_messages WHERE exchange_id IN (SELECT id FROM exchanges WHERE sequence_id = ?)`,
		`DELETE FROM exchanges WHERE sequence_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, sequenceID); err != nil {
			return fmt.Errorf("store: clear sequence derived: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertExchange(e *model.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO exchanges (id, sequence_id, position, first_message_id, last_message_id, total_count, user_count, assistant_count, is_continuation, merged_count, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SequenceID, e.Position, e.FirstMessageID, e.LastMessageID, e.TotalCount, e.UserCount, e.AssistantCount,
		boolToInt(e.IsContinuation), e.MergedCount, timePtr(e.StartedAt), timePtr(e.EndedAt))
	if err != nil {
		return fmt.Errorf("store: insert exchange: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertExchangeMessage(em *model.ExchangeMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO exchange_messages (exchange_id, message_id, position) VALUES (?, ?, ?)`, em.ExchangeID, em.MessageID, em.Position)
	if err != nil {
		return fmt.Errorf("store: insert exchange message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertExchangeContent(ec *model.ExchangeContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO exchange_contents (exchange_id, user_text, assistant_text, full_text, user_word_count, assistant_word_count, full_word_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ec.ExchangeID, ec.UserText, ec.AssistantText, ec.FullText, ec.UserWordCount, ec.AssistantWordCount, ec.FullWordCount)
	if err != nil {
		return fmt.Errorf("store: insert exchange content: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListExchanges(sequenceID string) ([]*model.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, sequence_id, position, first_message_id, last_message_id, total_count, user_count, assistant_count, is_continuation, merged_count, started_at, ended_at
		FROM exchanges WHERE sequence_id = ? ORDER BY position ASC`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("store: list exchanges: %w", err)
	}
	defer rows.Close()
	var out []*model.Exchange
	for rows.Next() {
		var e model.Exchange
		var isCont int
		var startedAt, endedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.Position, &e.FirstMessageID, &e.LastMessageID, &e.TotalCount, &e.UserCount, &e.AssistantCount, &isCont, &e.MergedCount, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("store: scan exchange: %w", err)
		}
		e.IsContinuation = isCont != 0
		e.StartedAt = parseNullTime(startedAt)
		e.EndedAt = parseNullTime(endedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetExchangeContent(exchangeID string) (*model.ExchangeContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`
		SELECT exchange_id, user_text, assistant_text, full_text, user_word_count, assistant_word_count, full_word_count
		FROM exchange_contents WHERE exchange_id = ?`, exchangeID)
	var ec model.ExchangeContent
	if err := row.Scan(&ec.ExchangeID, &ec.UserText, &ec.AssistantText, &ec.FullText, &ec.UserWordCount, &ec.AssistantWordCount, &ec.FullWordCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get exchange content: %w", err)
	}
	return &ec, nil
}

// ---------------------------------------------------------------------------
// Derived: hashes
// ---------------------------------------------------------------------------

func (s *SQLiteStore) UpsertContentHash(h *model.ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO content_hashes (entity_type, entity_id, hash_scope, normalization, hash_sha256)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, hash_scope, normalization) DO UPDATE SET hash_sha256=excluded.hash_sha256
	`, string(h.EntityType), h.EntityID, string(h.HashScope), string(h.Normalization), h.HashSHA256)
	if err != nil {
		return fmt.Errorf("store: upsert content hash: %w", err)
	}
	return nil
}

// FindDuplicateHashes returns, for the given (entity_type, scope,
// normalization), the hash values shared by more than one entity, mapped to
// their entity ids.
func (s *SQLiteStore) FindDuplicateHashes(entityType model.EntityType, scope model.HashScope, norm model.Normalization) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT hash_sha256, entity_id FROM content_hashes
		WHERE entity_type = ? AND hash_scope = ? AND normalization = ?
		AND hash_sha256 IN (
			SELECT hash_sha256 FROM content_hashes
			WHERE entity_type = ? AND hash_scope = ? AND normalization = ?
			GROUP BY hash_sha256 HAVING COUNT(*) > 1
		)
		ORDER BY hash_sha256`, string(entityType), string(scope), string(norm), string(entityType), string(scope), string(norm))
	if err != nil {
		return nil, fmt.Errorf("store: find duplicates: %w", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var hash, id string
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, fmt.Errorf("store: scan duplicate: %w", err)
		}
		out[hash] = append(out[hash], id)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Derived: prompt-response
// ---------------------------------------------------------------------------

func (s *SQLiteStore) UpsertPromptResponsePair(p *model.PromptResponsePair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO prompt_response_pairs (message_id, prompt_message_id, strategy) VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET prompt_message_id=excluded.prompt_message_id, strategy=excluded.strategy
	`, p.MessageID, p.PromptMessageID, p.Strategy)
	if err != nil {
		return fmt.Errorf("store: upsert prompt response pair: %w", err)
	}
	return nil
}
