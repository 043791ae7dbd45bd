package annotator

import (
	"strings"
	"testing"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

func TestWebSearchAnnotatorSummarizesQueries(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertSearchGroup(&model.SearchGroup{ID: "sg1", MessageID: "m1", Query: "golang errgroup"}); err != nil {
		t.Fatalf("seed search group: %v", err)
	}

	data := &ExchangePlatformData{ExchangeID: "ex1", MessageIDs: []string{"m1"}, UserMessageIDs: nil}
	data.store = s

	results, err := WebSearchAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	r, ok := resultValue(results, "has_web_search")
	if !ok {
		t.Fatalf("expected has_web_search flag, got %+v", results)
	}
	if r.ValueType != model.ValueFlag {
		t.Errorf("expected a flag result, got %+v", r)
	}
}

func TestWebSearchAnnotatorNoSearches(t *testing.T) {
	s := newTestStore(t)
	data := &ExchangePlatformData{ExchangeID: "ex1", MessageIDs: []string{"m1"}}
	data.store = s

	results, err := WebSearchAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results when no search groups exist, got %+v", results)
	}
}

func TestCodeExecutionAnnotatorCountsFailures(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertCodeExecution(&model.CodeExecution{ID: "ce1", MessageID: "m1", HasError: false}); err != nil {
		t.Fatalf("seed code execution: %v", err)
	}
	if err := s.InsertCodeExecution(&model.CodeExecution{ID: "ce2", MessageID: "m2", HasError: true}); err != nil {
		t.Fatalf("seed code execution: %v", err)
	}

	data := &ExchangePlatformData{ExchangeID: "ex1", MessageIDs: []string{"m1", "m2"}}
	data.store = s

	results, err := CodeExecutionAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "has_code_execution"); !ok {
		t.Fatalf("expected has_code_execution flag, got %+v", results)
	}
	detail, ok := resultValue(results, "code_execution_summary")
	if !ok {
		t.Fatalf("expected code_execution_summary, got %+v", results)
	}
	if detail.ValueType != model.ValueJSON {
		t.Errorf("expected a JSON result, got %+v", detail)
	}
}

func TestAttachmentAnnotatorFlagsCodeFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertAttachment(&model.Attachment{ID: "a1", MessageID: "m1", Name: "script.py", MimeType: "text/x-python"}); err != nil {
		t.Fatalf("seed attachment: %v", err)
	}
	if err := s.InsertAttachment(&model.Attachment{ID: "a2", MessageID: "m1", Name: "notes.txt", MimeType: "text/plain"}); err != nil {
		t.Fatalf("seed attachment: %v", err)
	}

	data := &ExchangePlatformData{ExchangeID: "ex1", MessageIDs: []string{"m1"}, UserMessageIDs: []string{"m1"}}
	data.store = s

	results, err := AttachmentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if _, ok := resultValue(results, "has_attachments"); !ok {
		t.Fatalf("expected has_attachments flag, got %+v", results)
	}
	codeResult, ok := resultValue(results, "code")
	if !ok {
		t.Fatalf("expected a code-keyed result for the .py attachment, got %+v", results)
	}
	if !strings.Contains(codeResult.Value, "script.py") {
		t.Errorf("expected code attachment summary to mention script.py, got %s", codeResult.Value)
	}
}

func TestAttachmentAnnotatorOnlyScansUserMessages(t *testing.T) {
	s := newTestStore(t)
	// Attachment on an assistant message (m2) is outside UserMessageIDs and
	// must not be picked up.
	if err := s.InsertAttachment(&model.Attachment{ID: "a1", MessageID: "m2", Name: "out.py"}); err != nil {
		t.Fatalf("seed attachment: %v", err)
	}

	data := &ExchangePlatformData{ExchangeID: "ex1", MessageIDs: []string{"m1", "m2"}, UserMessageIDs: []string{"m1"}}
	data.store = s

	results, err := AttachmentAnnotator{}.Annotate(data)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no attachment results when the attachment is on a non-user message, got %+v", results)
	}
}
