package store

import (
	"fmt"
	"strings"
)

// entityTypes and valueTypes drive the generated annotation table matrix:
// one table per (entity_type, value_type) pair, per spec.md §4.H /
// §9's "polymorphic annotation table would collapse indexability" note.
var entityTypes = []string{"message", "exchange", "dialogue", "content_part", "prompt_response"}
var valueTypes = []string{"flag", "string", "numeric", "json"}

func annotationTableName(entityType, valueType string) string {
	return fmt.Sprintf("annotations_%s_%s", entityType, valueType)
}

func valueColumnDDL(valueType string) string {
	switch valueType {
	case "flag":
		return ""
	case "string":
		return "value TEXT NOT NULL,"
	case "numeric":
		return "value REAL NOT NULL,"
	case "json":
		return "value TEXT NOT NULL,"
	default:
		panic("unknown value type " + valueType)
	}
}

func uniqueColumnsDDL(valueType string) string {
	if valueType == "flag" {
		return "UNIQUE(entity_id, key, source)"
	}
	return "UNIQUE(entity_id, key, value, source)"
}

func buildAnnotationSchema() string {
	var b strings.Builder
	for _, et := range entityTypes {
		for _, vt := range valueTypes {
			table := annotationTableName(et, vt)
			b.WriteString(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	entity_id TEXT NOT NULL,
	key TEXT NOT NULL,
	source TEXT NOT NULL,
	source_version TEXT NOT NULL DEFAULT '',
	%s
	confidence REAL,
	reason TEXT,
	created_at TEXT NOT NULL,
	%s
);
CREATE INDEX IF NOT EXISTS idx_%s_entity ON %s(entity_id, key);
CREATE INDEX IF NOT EXISTS idx_%s_key ON %s(key);
`, table, valueColumnDDL(vt), uniqueColumnsDDL(vt), table, table, table, table))
		}
	}
	return b.String()
}

// coreSchema is the raw + derived table set, following the teacher's
// schema-as-constant-string idiom in internal/store/sqlite_store.go.
const coreSchema = `
CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	has_native_trees INTEGER NOT NULL,
	role_vocabulary TEXT NOT NULL,
	source_metadata TEXT
);

CREATE TABLE IF NOT EXISTS dialogues (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	title TEXT,
	created_at TEXT,
	updated_at TEXT,
	source_json TEXT NOT NULL,
	imported_at TEXT NOT NULL,
	UNIQUE(source, source_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	dialogue_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	parent_id TEXT,
	role TEXT NOT NULL,
	author_id TEXT,
	author_name TEXT,
	created_at TEXT,
	updated_at TEXT,
	source_json TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	deleted_at TEXT,
	UNIQUE(dialogue_id, source_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_dialogue ON messages(dialogue_id);
CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);

CREATE TABLE IF NOT EXISTS content_parts (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	part_type TEXT NOT NULL,
	text_content TEXT,
	language TEXT,
	media_type TEXT,
	url TEXT,
	tool_name TEXT,
	tool_use_id TEXT,
	tool_input TEXT,
	is_error INTEGER NOT NULL DEFAULT 0,
	source_json TEXT NOT NULL,
	UNIQUE(message_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_content_parts_message ON content_parts(message_id);

CREATE TABLE IF NOT EXISTS citations (
	id TEXT PRIMARY KEY,
	content_part_id TEXT NOT NULL,
	source_id TEXT,
	url TEXT,
	title TEXT,
	snippet TEXT,
	published_at TEXT,
	start_index INTEGER,
	end_index INTEGER,
	citation_type TEXT,
	source_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_citations_part ON citations(content_part_id);

CREATE TABLE IF NOT EXISTS attachments (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	name TEXT,
	mime_type TEXT,
	size_bytes INTEGER,
	source_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

CREATE TABLE IF NOT EXISTS search_groups (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	query TEXT
);
CREATE TABLE IF NOT EXISTS search_entries (
	id TEXT PRIMARY KEY,
	search_group_id TEXT NOT NULL,
	url TEXT,
	title TEXT,
	snippet TEXT
);
CREATE TABLE IF NOT EXISTS code_executions (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	language TEXT,
	code TEXT,
	output TEXT,
	traceback TEXT,
	has_error INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS canvas_documents (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	title TEXT,
	content TEXT,
	kind TEXT
);
CREATE TABLE IF NOT EXISTS dalle_generations (
	id TEXT PRIMARY KEY,
	content_part_id TEXT NOT NULL,
	prompt TEXT,
	asset_url TEXT
);
CREATE TABLE IF NOT EXISTS gizmo_metadata (
	message_id TEXT PRIMARY KEY,
	gizmo_id TEXT,
	model_slug TEXT,
	status TEXT,
	end_turn INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dialogue_trees (
	dialogue_id TEXT PRIMARY KEY,
	total_nodes INTEGER NOT NULL,
	max_depth INTEGER NOT NULL,
	branch_count INTEGER NOT NULL,
	leaf_count INTEGER NOT NULL,
	primary_leaf_id TEXT,
	primary_path_length INTEGER NOT NULL,
	has_regenerations INTEGER NOT NULL DEFAULT 0,
	has_edits INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS message_paths (
	message_id TEXT PRIMARY KEY,
	dialogue_id TEXT NOT NULL,
	ancestor_path TEXT NOT NULL,
	depth INTEGER NOT NULL,
	is_root INTEGER NOT NULL,
	is_leaf INTEGER NOT NULL,
	child_count INTEGER NOT NULL,
	sibling_index INTEGER NOT NULL,
	is_on_primary_path INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_message_paths_dialogue ON message_paths(dialogue_id);

CREATE TABLE IF NOT EXISTS linear_sequences (
	id TEXT PRIMARY KEY,
	dialogue_id TEXT NOT NULL,
	leaf_message_id TEXT NOT NULL,
	sequence_length INTEGER NOT NULL,
	is_primary INTEGER NOT NULL DEFAULT 0,
	branch_reason TEXT,
	branch_point_id TEXT,
	branched_at_depth INTEGER
);
CREATE INDEX IF NOT EXISTS idx_linear_sequences_dialogue ON linear_sequences(dialogue_id);

CREATE TABLE IF NOT EXISTS sequence_messages (
	sequence_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY(sequence_id, position)
);
CREATE INDEX IF NOT EXISTS idx_sequence_messages_seq ON sequence_messages(sequence_id);

CREATE TABLE IF NOT EXISTS exchanges (
	id TEXT PRIMARY KEY,
	sequence_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	first_message_id TEXT NOT NULL,
	last_message_id TEXT NOT NULL,
	total_count INTEGER NOT NULL,
	user_count INTEGER NOT NULL,
	assistant_count INTEGER NOT NULL,
	is_continuation INTEGER NOT NULL DEFAULT 0,
	merged_count INTEGER NOT NULL DEFAULT 1,
	started_at TEXT,
	ended_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_exchanges_sequence ON exchanges(sequence_id);

CREATE TABLE IF NOT EXISTS exchange_messages (
	exchange_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY(exchange_id, position)
);
CREATE INDEX IF NOT EXISTS idx_exchange_messages_exchange ON exchange_messages(exchange_id);

CREATE TABLE IF NOT EXISTS exchange_contents (
	exchange_id TEXT PRIMARY KEY,
	user_text TEXT NOT NULL DEFAULT '',
	assistant_text TEXT NOT NULL DEFAULT '',
	full_text TEXT NOT NULL DEFAULT '',
	user_word_count INTEGER NOT NULL DEFAULT 0,
	assistant_word_count INTEGER NOT NULL DEFAULT 0,
	full_word_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS content_hashes (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	hash_scope TEXT NOT NULL,
	normalization TEXT NOT NULL,
	hash_sha256 TEXT NOT NULL,
	PRIMARY KEY(entity_type, entity_id, hash_scope, normalization)
);
CREATE INDEX IF NOT EXISTS idx_content_hashes_lookup ON content_hashes(entity_type, hash_scope, normalization, hash_sha256);

CREATE TABLE IF NOT EXISTS prompt_response_pairs (
	message_id TEXT PRIMARY KEY,
	prompt_message_id TEXT NOT NULL,
	strategy TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS annotator_cursors (
	annotator_name TEXT NOT NULL,
	annotator_version TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	high_water_mark TEXT NOT NULL,
	entities_processed INTEGER NOT NULL DEFAULT 0,
	annotations_created INTEGER NOT NULL DEFAULT 0,
	cumulative_runtime_seconds REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	PRIMARY KEY(annotator_name, annotator_version, entity_type)
);
`

func fullSchema() string {
	return coreSchema + buildAnnotationSchema()
}
