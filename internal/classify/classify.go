// Package classify maps a single platform-specific content fragment to a
// typed ContentPart, grounded on
// original_source/llm_archive/extractors/chatgpt.py's _classify_content_part
// and the equivalent type_map branch in claude.py. Rules are applied in
// order; the first match wins, per spec.md §4.C.
package classify

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

// Classified is the (part_type, fields...) tuple the classifier produces.
type Classified struct {
	PartType    model.PartType
	TextContent string
	Language    string
	MediaType   string
	URL         string
	ToolName    string
	ToolUseID   string
	ToolInput   string
	IsError     bool
}

// Part classifies a single raw JSON fragment (as it appears inside a
// message's content/parts array). rawJSON may encode a bare string or an
// object; anything else (number, bool, array, null) is unknown.
func Part(rawJSON string) Classified {
	trimmed := strings.TrimSpace(rawJSON)
	if trimmed == "" {
		return Classified{PartType: model.PartUnknown}
	}

	r := gjson.Parse(rawJSON)

	// Rule 1: bare string.
	if r.Type == gjson.String {
		return Classified{PartType: model.PartText, TextContent: r.String()}
	}

	if !r.IsObject() {
		return Classified{PartType: model.PartUnknown, TextContent: stringify(rawJSON)}
	}

	contentType := strings.ToLower(r.Get("content_type").String())
	typ := r.Get("type").String()

	// Rule 2/3: content_type containing image/audio/video.
	if contentType != "" {
		switch {
		case strings.Contains(contentType, "image"):
			return Classified{
				PartType:  model.PartImage,
				MediaType: contentType,
				URL:       firstNonEmpty(r.Get("url").String(), r.Get("asset_pointer").String()),
			}
		case strings.Contains(contentType, "audio"):
			return Classified{
				PartType:  model.PartAudio,
				MediaType: contentType,
				URL:       firstNonEmpty(r.Get("url").String(), r.Get("asset_pointer").String()),
			}
		case strings.Contains(contentType, "video"):
			return Classified{
				PartType:  model.PartVideo,
				MediaType: contentType,
				URL:       firstNonEmpty(r.Get("url").String(), r.Get("asset_pointer").String()),
			}
		}
	}

	// Rule 4: content_type == "code", or a language key is present.
	if contentType == "code" || r.Get("language").Exists() {
		return Classified{
			PartType:    model.PartCode,
			Language:    r.Get("language").String(),
			TextContent: firstNonEmpty(r.Get("text").String(), r.Get("code").String()),
		}
	}

	// Rule 5: type == "text".
	if typ == "text" {
		return Classified{PartType: model.PartText, TextContent: r.Get("text").String()}
	}

	// Rule 6: type == "thinking".
	if typ == "thinking" {
		return Classified{PartType: model.PartThinking, TextContent: r.Get("thinking").String()}
	}

	// Rule 7: type == "tool_use".
	if typ == "tool_use" {
		input := r.Get("input")
		text := ""
		if input.Exists() {
			text = firstNonEmpty(input.Get("query").String(), input.Get("text").String())
		}
		return Classified{
			PartType:    model.PartToolUse,
			ToolName:    r.Get("name").String(),
			ToolUseID:   r.Get("id").String(),
			ToolInput:   input.Raw,
			TextContent: text,
		}
	}

	// Rule 8: type == "tool_result".
	if typ == "tool_result" {
		content := r.Get("content")
		return Classified{
			PartType:    model.PartToolRes,
			ToolUseID:   r.Get("tool_use_id").String(),
			IsError:     r.Get("is_error").Bool(),
			TextContent: joinToolResultContent(content),
		}
	}

	// Rule 9: type == "image".
	if typ == "image" {
		source := r.Get("source")
		url := ""
		if source.Exists() && source.Get("type").String() == "url" {
			url = source.Get("url").String()
		}
		return Classified{
			PartType:  model.PartImage,
			MediaType: source.Get("media_type").String(),
			URL:       url,
		}
	}

	// Rule 10: a text/result/content string field.
	if s := firstNonEmpty(r.Get("text").String(), r.Get("result").String(), r.Get("content").String()); s != "" {
		return Classified{PartType: model.PartText, TextContent: s}
	}

	// Rule 11: otherwise.
	if contentType != "" {
		return Classified{PartType: model.PartType(contentType)}
	}
	return Classified{PartType: model.PartUnknown}
}

// joinToolResultContent handles tool_result's content being either a string
// or a list of dicts/strings, joined by newlines; each element contributes
// its "text" field if present, else the element itself when it's a string.
func joinToolResultContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, elem gjson.Result) bool {
			if elem.Type == gjson.String {
				parts = append(parts, elem.String())
			} else if elem.IsObject() {
				if t := elem.Get("text"); t.Exists() {
					parts = append(parts, t.String())
				}
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringify(rawJSON string) string {
	var v any
	if err := json.Unmarshal([]byte(rawJSON), &v); err != nil {
		return rawJSON
	}
	b, err := json.Marshal(v)
	if err != nil {
		return rawJSON
	}
	return string(b)
}
