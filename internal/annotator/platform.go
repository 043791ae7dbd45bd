package annotator

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// ExchangePlatformData is the typed view exchange-platform annotators
// operate over: an exchange's member message ids (split by role) plus
// store access, since the provider-specific side tables (search groups,
// code executions, canvas docs, gizmo metadata, attachments, DALL-E
// generations) are keyed by message / content-part id, not exchange id.
// Grounded on original_source/llm_archive/annotators/chatgpt.py's
// ExchangePlatformAnnotator/ExchangePlatformData.
type ExchangePlatformData struct {
	ExchangeID     string
	MessageIDs     []string
	UserMessageIDs []string
	store          store.Storer
}

func (d *ExchangePlatformData) asItem() item {
	return item{entityID: d.ExchangeID, data: d}
}

func confident(c float64) *float64 { return &c }

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ---------------------------------------------------------------------------
// WebSearchAnnotator
// ---------------------------------------------------------------------------

type WebSearchAnnotator struct{}

func (WebSearchAnnotator) Spec() Spec {
	return Spec{Key: "WebSearchAnnotator", Version: "1.0", Priority: 100, EntityType: model.EntityExchange}
}

func (WebSearchAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangePlatformData)
	var groups []*model.SearchGroup
	for _, mid := range d.MessageIDs {
		gs, err := d.store.ListSearchGroupsForMessage(mid)
		if err != nil {
			return nil, errs.StoreUnavailable("list search groups", err)
		}
		groups = append(groups, gs...)
	}
	if len(groups) == 0 {
		return nil, nil
	}
	queries := map[string]bool{}
	for _, g := range groups {
		if g.Query != "" {
			queries[g.Query] = true
		}
	}
	summary := map[string]any{"search_group_count": len(groups), "queries": sortedKeys(queries)}
	return []Result{
		Flag("has_web_search", confident(1.0), ""),
		JSON("web_search_summary", toJSON(summary), confident(1.0), ""),
	}, nil
}

// ---------------------------------------------------------------------------
// CodeExecutionAnnotator
// ---------------------------------------------------------------------------

type CodeExecutionAnnotator struct{}

func (CodeExecutionAnnotator) Spec() Spec {
	return Spec{Key: "CodeExecutionAnnotator", Version: "1.0", Priority: 100, EntityType: model.EntityExchange}
}

func (CodeExecutionAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangePlatformData)
	var executions []*model.CodeExecution
	for _, mid := range d.MessageIDs {
		e, err := d.store.GetCodeExecutionForMessage(mid)
		if err != nil {
			return nil, errs.StoreUnavailable("get code execution", err)
		}
		if e != nil {
			executions = append(executions, e)
		}
	}
	if len(executions) == 0 {
		return nil, nil
	}
	failed := 0
	for _, e := range executions {
		if e.HasError {
			failed++
		}
	}
	summary := map[string]any{
		"execution_count": len(executions),
		"successful":      len(executions) - failed,
		"failed":          failed,
	}
	return []Result{
		Flag("has_code_execution", confident(1.0), ""),
		JSON("code_execution_summary", toJSON(summary), confident(1.0), ""),
	}, nil
}

// ---------------------------------------------------------------------------
// CanvasAnnotator
// ---------------------------------------------------------------------------

type CanvasAnnotator struct{}

func (CanvasAnnotator) Spec() Spec {
	return Spec{Key: "CanvasAnnotator", Version: "1.0", Priority: 100, EntityType: model.EntityExchange}
}

func (CanvasAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangePlatformData)
	var docs []*model.CanvasDocument
	for _, mid := range d.MessageIDs {
		c, err := d.store.GetCanvasDocumentForMessage(mid)
		if err != nil {
			return nil, errs.StoreUnavailable("get canvas document", err)
		}
		if c != nil {
			docs = append(docs, c)
		}
	}
	if len(docs) == 0 {
		return nil, nil
	}
	kinds := map[string]bool{}
	for _, c := range docs {
		if c.Kind != "" {
			kinds[c.Kind] = true
		}
	}
	summary := map[string]any{"doc_count": len(docs), "doc_kinds": sortedKeys(kinds)}
	return []Result{
		Flag("has_canvas_operations", confident(1.0), ""),
		JSON("canvas_summary", toJSON(summary), confident(1.0), ""),
	}, nil
}

// ---------------------------------------------------------------------------
// GizmoAnnotator
// ---------------------------------------------------------------------------

type GizmoAnnotator struct{}

func (GizmoAnnotator) Spec() Spec {
	return Spec{Key: "GizmoAnnotator", Version: "1.0", Priority: 100, EntityType: model.EntityExchange}
}

func (GizmoAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangePlatformData)
	gizmoIDs := map[string]bool{}
	for _, mid := range d.MessageIDs {
		g, err := d.store.GetGizmoMetadata(mid)
		if err != nil {
			return nil, errs.StoreUnavailable("get gizmo metadata", err)
		}
		if g != nil && g.GizmoID != "" {
			gizmoIDs[g.GizmoID] = true
		}
	}
	if len(gizmoIDs) == 0 {
		return nil, nil
	}
	ids := sortedKeys(gizmoIDs)
	out := []Result{
		Flag("has_gizmo_usage", confident(1.0), ""),
		JSON("gizmo_summary", toJSON(map[string]any{"gizmo_count": len(ids), "gizmo_ids": ids}), confident(1.0), ""),
	}
	for _, id := range ids {
		out = append(out, String("gizmo_id", id, confident(1.0), ""))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// AttachmentAnnotator
// ---------------------------------------------------------------------------

var codeAttachmentExtensions = []string{
	".py", ".js", ".ts", ".java", ".cpp", ".c", ".h", ".go", ".rs",
	".jsx", ".tsx", ".sql", ".sh", ".rb", ".php", ".swift", ".kt",
}

var codeAttachmentMimes = []string{
	"text/x-python", "text/x-java", "application/javascript",
	"text/x-script", "text/x-c", "text/x-c++",
}

type AttachmentAnnotator struct{}

func (AttachmentAnnotator) Spec() Spec {
	return Spec{Key: "AttachmentAnnotator", Version: "1.0", Priority: 100, EntityType: model.EntityExchange}
}

func (AttachmentAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangePlatformData)
	var attachments []*model.Attachment
	for _, mid := range d.UserMessageIDs {
		as, err := d.store.ListAttachmentsForMessage(mid)
		if err != nil {
			return nil, errs.StoreUnavailable("list attachments", err)
		}
		attachments = append(attachments, as...)
	}
	if len(attachments) == 0 {
		return nil, nil
	}

	mimeTypes := map[string]bool{}
	var codeFiles []string
	for _, a := range attachments {
		if a.MimeType != "" {
			mimeTypes[a.MimeType] = true
		}
		name := strings.ToLower(a.Name)
		mime := strings.ToLower(a.MimeType)
		isCode := false
		for _, ext := range codeAttachmentExtensions {
			if strings.HasSuffix(name, ext) {
				isCode = true
				break
			}
		}
		if !isCode {
			for _, m := range codeAttachmentMimes {
				if strings.Contains(mime, m) {
					isCode = true
					break
				}
			}
		}
		if isCode {
			codeFiles = append(codeFiles, a.Name)
		}
	}

	out := []Result{
		Flag("has_attachments", confident(1.0), ""),
		JSON("attachment_summary", toJSON(map[string]any{"count": len(attachments), "mime_types": sortedKeys(mimeTypes)}), confident(1.0), ""),
	}
	if len(codeFiles) > 0 {
		out = append(out, JSON("code", toJSON(map[string]any{"count": len(codeFiles), "files": codeFiles}), confident(1.0), "code_attachments"))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// DalleAnnotator
// ---------------------------------------------------------------------------

type DalleAnnotator struct{}

func (DalleAnnotator) Spec() Spec {
	return Spec{Key: "DalleAnnotator", Version: "1.0", Priority: 100, EntityType: model.EntityExchange}
}

func (DalleAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ExchangePlatformData)
	var generations []*model.DalleGeneration
	for _, mid := range d.MessageIDs {
		parts, err := d.store.ListContentParts(mid)
		if err != nil {
			return nil, errs.StoreUnavailable("list content parts", err)
		}
		for _, p := range parts {
			gs, err := d.store.ListDalleGenerationsForContentPart(p.ID)
			if err != nil {
				return nil, errs.StoreUnavailable("list dalle generations", err)
			}
			generations = append(generations, gs...)
		}
	}
	if len(generations) == 0 {
		return nil, nil
	}
	summary := map[string]any{"generation_count": len(generations)}
	return []Result{
		Flag("has_dalle_generation", confident(1.0), ""),
		JSON("image_generation_summary", toJSON(summary), confident(1.0), ""),
	}, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
