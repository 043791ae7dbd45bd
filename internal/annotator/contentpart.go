package annotator

import (
	"strings"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

// ContentPartData is the typed view content-part annotators operate over:
// the fine-grained counterpart of MessageTextData that carries one content
// part's own text and its location within its owning message, grounded on
// original_source/llm_archive/annotators/content_part.py's ContentPartData
// dataclass (content_part_id, message_id, dialogue_id, sequence, part_type,
// text_content, language, role, created_at).
type ContentPartData struct {
	ContentPartID string
	MessageID     string
	DialogueID    string
	Role          model.Role
	Sequence      int
	PartType      model.PartType
	TextContent   string
	Language      string
	TotalParts    int
}

func (d *ContentPartData) asItem() item {
	return item{entityID: d.ContentPartID, role: d.Role, partType: d.PartType, data: d}
}

// ---------------------------------------------------------------------------
// CodeBlockContentAnnotator
// ---------------------------------------------------------------------------

// CodeBlockContentAnnotator is CodeBlockAnnotator's per-part counterpart:
// instead of flagging a whole message that contains a fenced block anywhere
// in its joined text, it attributes the flag to the specific content part
// the fence lives in (or to a part the platform already typed as code),
// which is the distinction a message-level view can't make once a message
// has more than one part.
type CodeBlockContentAnnotator struct{}

func (CodeBlockContentAnnotator) Spec() Spec {
	return Spec{Key: "CodeBlockContentAnnotator", Version: "1.0", Priority: 90, EntityType: model.EntityContentPart}
}

func (CodeBlockContentAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ContentPartData)
	matches := codeFenceRe.FindAllStringSubmatch(d.TextContent, -1)
	if d.PartType != model.PartCode && len(matches) == 0 {
		return nil, nil
	}
	out := []Result{Flag("has_code", nil, "content part is a code fence or platform-typed code")}
	lang := strings.ToLower(strings.TrimSpace(d.Language))
	if lang != "" {
		out = append(out, String("code_language", lang, confident(1.0), "platform-supplied language on the part"))
	}
	seen := map[string]bool{lang: true}
	for _, m := range matches {
		hint := strings.ToLower(strings.TrimSpace(m[1]))
		if hint == "" || seen[hint] {
			continue
		}
		seen[hint] = true
		out = append(out, String("code_language", hint, nil, "language hint on a fence"))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// ScriptHeaderContentAnnotator
// ---------------------------------------------------------------------------

type ScriptHeaderContentAnnotator struct{}

func (ScriptHeaderContentAnnotator) Spec() Spec {
	return Spec{Key: "ScriptHeaderContentAnnotator", Version: "1.0", Priority: 90, EntityType: model.EntityContentPart}
}

func (ScriptHeaderContentAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ContentPartData)
	if strings.Contains(d.TextContent, "#!/") || strings.Contains(d.TextContent, "#include <") || strings.Contains(d.TextContent, `#include "`) {
		return []Result{Flag("has_script_header", nil, "shebang or C/C++ include header")}, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// LatexContentAnnotator
// ---------------------------------------------------------------------------

type LatexContentAnnotator struct{}

func (LatexContentAnnotator) Spec() Spec {
	return Spec{
		Key: "LatexContentAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityContentPart,
		RoleFilter: []model.Role{model.RoleAssistant},
	}
}

func (LatexContentAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ContentPartData)
	if latexDisplayRe.MatchString(d.TextContent) || latexCommandRe.MatchString(d.TextContent) {
		return []Result{Flag("has_latex", nil, "LaTeX delimiter or command detected in this part")}, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// WikiLinkContentAnnotator
// ---------------------------------------------------------------------------

type WikiLinkContentAnnotator struct{}

func (WikiLinkContentAnnotator) Spec() Spec {
	return Spec{
		Key: "WikiLinkContentAnnotator", Version: "1.0", Priority: 50, EntityType: model.EntityContentPart,
		RoleFilter: []model.Role{model.RoleAssistant},
	}
}

func (WikiLinkContentAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ContentPartData)
	matches := wikiLinkRe.FindAllStringSubmatch(d.TextContent, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	return []Result{
		Flag("has_wiki_link", nil, "[[wiki link]] syntax present in this part"),
		Numeric("wiki_link_count", float64(len(matches)), nil, ""),
	}, nil
}

// ---------------------------------------------------------------------------
// PartPositionAnnotator
// ---------------------------------------------------------------------------

// PartPositionAnnotator is the one annotator in this family with no
// message-level analogue: a message-text view collapses every part into one
// joined string and loses where in the message a given fragment sat.
// PartPositionAnnotator records that position directly, so later passes (or
// a human reading the annotation table) can tell a message's lead part from
// a trailing tool-result without re-reading the message.
type PartPositionAnnotator struct{}

func (PartPositionAnnotator) Spec() Spec {
	return Spec{Key: "PartPositionAnnotator", Version: "1.0", Priority: 10, EntityType: model.EntityContentPart}
}

func (PartPositionAnnotator) Annotate(raw any) ([]Result, error) {
	d := raw.(*ContentPartData)
	out := []Result{Numeric("part_sequence", float64(d.Sequence), nil, "")}
	if d.Sequence == 0 {
		out = append(out, Flag("is_first_part", nil, "first content part of its message"))
	}
	if d.TotalParts > 0 && d.Sequence == d.TotalParts-1 {
		out = append(out, Flag("is_last_part", nil, "last content part of its message"))
	}
	return out, nil
}
