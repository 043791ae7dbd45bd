// Package model defines the raw and derived record shapes shared across the
// extraction, analysis, and annotation passes. Raw entities mirror what a
// provider export actually contains; derived entities are rebuildable from
// raw ones by their owning builder.
package model

import "time"

// Source is a registry row describing one supported conversation provider.
type Source struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"displayName"`
	HasNativeTrees  bool     `json:"hasNativeTrees"`
	RoleVocabulary  []string `json:"roleVocabulary"`
	SourceMetadata  string   `json:"sourceMetadata,omitempty"` // opaque JSON blob
}

// Dialogue is one imported conversation, identified by (Source, SourceID).
type Dialogue struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	SourceID   string     `json:"sourceId"`
	Title      string     `json:"title,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	SourceJSON string     `json:"sourceJson"`
	ImportedAt time.Time  `json:"importedAt"`
}

// Role is the normalized role vocabulary. See internal/normalize.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleUnknown   Role = "unknown"
)

// Message belongs to exactly one dialogue and optionally has a parent in the
// same dialogue (nil for roots).
type Message struct {
	ID          string     `json:"id"`
	DialogueID  string     `json:"dialogueId"`
	SourceID    string     `json:"sourceId"`
	ParentID    *string    `json:"parentId,omitempty"`
	Role        Role       `json:"role"`
	AuthorID    string     `json:"authorId,omitempty"`
	AuthorName  string     `json:"authorName,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	SourceJSON  string     `json:"sourceJson"`
	ContentHash string     `json:"contentHash"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// PartType is the discriminated variant a ContentPart belongs to.
type PartType string

const (
	PartText     PartType = "text"
	PartCode     PartType = "code"
	PartImage    PartType = "image"
	PartAudio    PartType = "audio"
	PartVideo    PartType = "video"
	PartToolUse  PartType = "tool_use"
	PartToolRes  PartType = "tool_result"
	PartThinking PartType = "thinking"
	PartUnknown  PartType = "unknown"
)

// ContentPart is one ordered fragment of a message's content.
type ContentPart struct {
	ID          string   `json:"id"`
	MessageID   string   `json:"messageId"`
	Sequence    int      `json:"sequence"`
	PartType    PartType `json:"partType"`
	TextContent string   `json:"textContent,omitempty"`
	Language    string   `json:"language,omitempty"`
	MediaType   string   `json:"mediaType,omitempty"`
	URL         string   `json:"url,omitempty"`
	ToolName    string   `json:"toolName,omitempty"`
	ToolUseID   string   `json:"toolUseId,omitempty"`
	ToolInput   string   `json:"toolInput,omitempty"` // opaque JSON
	IsError     bool     `json:"isError,omitempty"`
	SourceJSON  string   `json:"sourceJson"`
}

// Citation is a side record attached to a content part.
type Citation struct {
	ID            string     `json:"id"`
	ContentPartID string     `json:"contentPartId"`
	SourceID      string     `json:"sourceId,omitempty"`
	URL           string     `json:"url,omitempty"`
	Title         string     `json:"title,omitempty"`
	Snippet       string     `json:"snippet,omitempty"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	StartIndex    int        `json:"startIndex,omitempty"`
	EndIndex      int        `json:"endIndex,omitempty"`
	CitationType  string     `json:"citationType,omitempty"`
	SourceJSON    string     `json:"sourceJson,omitempty"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID         string `json:"id"`
	MessageID  string `json:"messageId"`
	Name       string `json:"name,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	SizeBytes  int64  `json:"sizeBytes,omitempty"`
	SourceJSON string `json:"sourceJson,omitempty"`
}

// Provider-specific side tables, supplemented from original_source/.

type SearchGroup struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Query     string `json:"query,omitempty"`
}

type SearchEntry struct {
	ID            string `json:"id"`
	SearchGroupID string `json:"searchGroupId"`
	URL           string `json:"url,omitempty"`
	Title         string `json:"title,omitempty"`
	Snippet       string `json:"snippet,omitempty"`
}

type CodeExecution struct {
	ID          string `json:"id"`
	MessageID   string `json:"messageId"`
	Language    string `json:"language,omitempty"`
	Code        string `json:"code,omitempty"`
	Output      string `json:"output,omitempty"`
	Traceback   string `json:"traceback,omitempty"`
	HasError    bool   `json:"hasError,omitempty"`
}

type CanvasDocument struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

type DalleGeneration struct {
	ID            string `json:"id"`
	ContentPartID string `json:"contentPartId"`
	Prompt        string `json:"prompt,omitempty"`
	AssetURL      string `json:"assetUrl,omitempty"`
}

type GizmoMetadata struct {
	MessageID string `json:"messageId"`
	GizmoID   string `json:"gizmoId,omitempty"`
	ModelSlug string `json:"modelSlug,omitempty"`
	Status    string `json:"status,omitempty"`
	EndTurn   bool   `json:"endTurn,omitempty"`
}

// ---------------------------------------------------------------------------
// Derived entities
// ---------------------------------------------------------------------------

// DialogueTree is the one-per-dialogue tree-shape summary.
type DialogueTree struct {
	DialogueID        string `json:"dialogueId"`
	TotalNodes        int    `json:"totalNodes"`
	MaxDepth          int    `json:"maxDepth"`
	BranchCount       int    `json:"branchCount"`
	LeafCount         int    `json:"leafCount"`
	PrimaryLeafID     string `json:"primaryLeafId"`
	PrimaryPathLength int    `json:"primaryPathLength"`
	HasRegenerations  bool   `json:"hasRegenerations"`
	HasEdits          bool   `json:"hasEdits"`
}

// MessagePath is the one-per-message position summary within its dialogue's tree.
type MessagePath struct {
	MessageID      string   `json:"messageId"`
	DialogueID     string   `json:"dialogueId"`
	AncestorPath   []string `json:"ancestorPath"`
	Depth          int      `json:"depth"`
	IsRoot         bool     `json:"isRoot"`
	IsLeaf         bool     `json:"isLeaf"`
	ChildCount     int      `json:"childCount"`
	SiblingIndex   int      `json:"siblingIndex"`
	IsOnPrimaryPath bool    `json:"isOnPrimaryPath"`
}

type BranchReason string

const (
	BranchRegeneration BranchReason = "regeneration"
	BranchEdit         BranchReason = "edit"
)

// LinearSequence is one root-to-leaf path through a dialogue's tree.
type LinearSequence struct {
	ID              string        `json:"id"`
	DialogueID      string        `json:"dialogueId"`
	LeafMessageID   string        `json:"leafMessageId"`
	SequenceLength  int           `json:"sequenceLength"`
	IsPrimary       bool          `json:"isPrimary"`
	BranchReason    *BranchReason `json:"branchReason,omitempty"`
	BranchPointID   *string       `json:"branchPointId,omitempty"`
	BranchedAtDepth *int          `json:"branchedAtDepth,omitempty"`
}

// SequenceMessage links a LinearSequence to its member messages in order.
type SequenceMessage struct {
	SequenceID string `json:"sequenceId"`
	MessageID  string `json:"messageId"`
	Position   int    `json:"position"`
}

// Exchange is a logical prompt/response unit within a linear sequence.
type Exchange struct {
	ID               string     `json:"id"`
	SequenceID       string     `json:"sequenceId"`
	Position         int        `json:"position"`
	FirstMessageID   string     `json:"firstMessageId"`
	LastMessageID    string     `json:"lastMessageId"`
	TotalCount       int        `json:"totalCount"`
	UserCount        int        `json:"userCount"`
	AssistantCount   int        `json:"assistantCount"`
	IsContinuation   bool       `json:"isContinuation"`
	MergedCount      int        `json:"mergedCount"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
}

// ExchangeMessage links an Exchange to its member messages in order.
type ExchangeMessage struct {
	ExchangeID string `json:"exchangeId"`
	MessageID  string `json:"messageId"`
	Position   int    `json:"position"`
}

// ExchangeContent carries the concatenated per-role text for an exchange.
type ExchangeContent struct {
	ExchangeID     string `json:"exchangeId"`
	UserText       string `json:"userText"`
	AssistantText  string `json:"assistantText"`
	FullText       string `json:"fullText"`
	UserWordCount  int    `json:"userWordCount"`
	AssistantWordCount int `json:"assistantWordCount"`
	FullWordCount  int    `json:"fullWordCount"`
}

type HashScope string

const (
	ScopeFull      HashScope = "full"
	ScopeUser      HashScope = "user"
	ScopeAssistant HashScope = "assistant"
)

type Normalization string

const (
	NormNone       Normalization = "none"
	NormWhitespace Normalization = "whitespace"
	NormNormalized Normalization = "normalized"
)

type EntityType string

const (
	EntityMessage        EntityType = "message"
	EntityExchange       EntityType = "exchange"
	EntityDialogue       EntityType = "dialogue"
	EntityContentPart    EntityType = "content_part"
	EntityPromptResponse EntityType = "prompt_response"
)

// ContentHash is a polymorphic row keyed by (entity_type, entity_id, scope, normalization).
type ContentHash struct {
	EntityType    EntityType    `json:"entityType"`
	EntityID      string        `json:"entityId"`
	HashScope     HashScope     `json:"hashScope"`
	Normalization Normalization `json:"normalization"`
	HashSHA256    string        `json:"hashSha256"`
}

// PromptResponsePair pairs a non-user message with its eliciting user prompt.
type PromptResponsePair struct {
	MessageID       string `json:"messageId"`
	PromptMessageID string `json:"promptMessageId"`
	Strategy        string `json:"strategy"` // "parent_chain" | "most_recent_user"
}

// PipelineRun is a bookkeeping record for one pipeline run; no pass in this
// module writes one, the optional chunker pass included.
type PipelineRun struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ValueType selects which of the value-type-partitioned annotation tables a
// given Annotation belongs in.
type ValueType string

const (
	ValueFlag    ValueType = "flag"
	ValueString  ValueType = "string"
	ValueNumeric ValueType = "numeric"
	ValueJSON    ValueType = "json"
)

// Annotation is one derived fact about an entity, produced by a single
// annotator and namespaced by Key. A flag annotation carries no Value (its
// mere presence is the fact); string/json annotations carry Value; numeric
// annotations carry NumericValue.
type Annotation struct {
	EntityType    EntityType
	EntityID      string
	ValueType     ValueType
	Key           string
	Value         string
	NumericValue  float64
	Source        string
	SourceVersion string
	Confidence    *float64
	Reason        string
	CreatedAt     time.Time
}

// AnnotatorCursor tracks one annotator version's incremental-processing
// high-water mark for one entity type.
type AnnotatorCursor struct {
	AnnotatorName             string
	AnnotatorVersion          string
	EntityType                EntityType
	HighWaterMark             time.Time
	EntitiesProcessed         int
	AnnotationsCreated        int
	CumulativeRuntimeSeconds  float64
	UpdatedAt                 time.Time
}
