// Package annotation is the substrate annotators write into and read from:
// a thin wrapper over the store's value-type-partitioned annotation tables,
// plus per-annotator-version progress cursors for incremental runs.
// Grounded on original_source/llm_archive/annotators/base.py's Annotator /
// AnnotationManager and original_source/llm_archive/annotations/cursor.py's
// CursorManager.
package annotation

import (
	"time"

	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// Writer is the interface an annotator uses to record its findings. It
// never needs to know which of the four value-type tables a finding lands
// in beyond setting ValueType on the call.
type Writer struct {
	store         store.Storer
	source        string
	sourceVersion string
}

func NewWriter(s store.Storer, source, sourceVersion string) *Writer {
	return &Writer{store: s, source: source, sourceVersion: sourceVersion}
}

// Flag records a boolean fact's presence (e.g. "contains_code").
func (w *Writer) Flag(entityType model.EntityType, entityID, key string, confidence *float64, reason string) (bool, error) {
	return w.upsert(entityType, entityID, model.ValueFlag, key, "", 0, confidence, reason)
}

// String records a string-valued fact (e.g. a detected title).
func (w *Writer) String(entityType model.EntityType, entityID, key, value string, confidence *float64, reason string) (bool, error) {
	return w.upsert(entityType, entityID, model.ValueString, key, value, 0, confidence, reason)
}

// Numeric records a numeric-valued fact (e.g. a code-keyword density).
func (w *Writer) Numeric(entityType model.EntityType, entityID, key string, value float64, confidence *float64, reason string) (bool, error) {
	return w.upsert(entityType, entityID, model.ValueNumeric, key, "", value, confidence, reason)
}

// JSON records a structured fact serialized as a JSON string (e.g. a list
// of detected imports).
func (w *Writer) JSON(entityType model.EntityType, entityID, key, jsonValue string, confidence *float64, reason string) (bool, error) {
	return w.upsert(entityType, entityID, model.ValueJSON, key, jsonValue, 0, confidence, reason)
}

func (w *Writer) upsert(entityType model.EntityType, entityID string, vt model.ValueType, key, value string, numeric float64, confidence *float64, reason string) (bool, error) {
	a := &model.Annotation{
		EntityType:    entityType,
		EntityID:      entityID,
		ValueType:     vt,
		Key:           key,
		Value:         value,
		NumericValue:  numeric,
		Source:        w.source,
		SourceVersion: w.sourceVersion,
		Confidence:    confidence,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}
	created, err := w.store.UpsertAnnotation(a)
	if err != nil {
		return false, errs.StoreUnavailable("upsert annotation", err)
	}
	return created, nil
}

// Reader queries annotations back out for downstream consumers (exports,
// search).
type Reader struct {
	store store.Storer
}

func NewReader(s store.Storer) *Reader {
	return &Reader{store: s}
}

// ForEntity returns every annotation recorded for one entity.
func (r *Reader) ForEntity(entityType model.EntityType, entityID string) ([]*model.Annotation, error) {
	out, err := r.store.ListAnnotations(entityType, entityID)
	if err != nil {
		return nil, errs.StoreUnavailable("list annotations", err)
	}
	return out, nil
}

// Tags returns the "tag" key's values for one entity, the conventional way
// annotators attach multiple free-form labels.
func (r *Reader) Tags(entityType model.EntityType, entityID string) ([]string, error) {
	all, err := r.ForEntity(entityType, entityID)
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, a := range all {
		if a.Key == "tag" {
			tags = append(tags, a.Value)
		}
	}
	return tags, nil
}

// Title returns the first "title" annotation's value for one entity, if any.
func (r *Reader) Title(entityType model.EntityType, entityID string) (string, bool, error) {
	all, err := r.ForEntity(entityType, entityID)
	if err != nil {
		return "", false, err
	}
	for _, a := range all {
		if a.Key == "title" {
			return a.Value, true, nil
		}
	}
	return "", false, nil
}

// ClearSource hard-deletes every annotation of one entity type attributed
// to one source, forcing a clean re-run of that annotator.
func (r *Reader) ClearSource(entityType model.EntityType, source string) (int, error) {
	n, err := r.store.ClearAnnotations(entityType, source)
	if err != nil {
		return 0, errs.StoreUnavailable("clear annotations", err)
	}
	return n, nil
}

// CursorManager tracks each (annotator, version, entity type)'s
// incremental-processing high-water mark so re-runs only touch entities
// created or updated since the last pass.
type CursorManager struct {
	store store.Storer
}

func NewCursorManager(s store.Storer) *CursorManager {
	return &CursorManager{store: s}
}

// GetCursor returns the existing cursor, or a freshly created one seeded at
// the Unix epoch so the first run processes everything.
func (c *CursorManager) GetCursor(annotatorName, annotatorVersion string, entityType model.EntityType) (*model.AnnotatorCursor, error) {
	cur, err := c.store.GetOrCreateCursor(annotatorName, annotatorVersion, entityType)
	if err != nil {
		return nil, errs.StoreUnavailable("get or create cursor", err)
	}
	return cur, nil
}

// Advance records one run's stats against the cursor's running totals.
func (c *CursorManager) Advance(cur *model.AnnotatorCursor, entitiesProcessed, annotationsCreated int, newHighWaterMark time.Time, runtime time.Duration) error {
	if err := c.store.UpdateCursor(cur, entitiesProcessed, annotationsCreated, newHighWaterMark, runtime.Seconds()); err != nil {
		return errs.StoreUnavailable("update cursor", err)
	}
	return nil
}

// Reset deletes a cursor, forcing the next run to reprocess everything.
func (c *CursorManager) Reset(annotatorName, annotatorVersion string, entityType model.EntityType) error {
	if err := c.store.ClearCursor(annotatorName, annotatorVersion, entityType); err != nil {
		return errs.StoreUnavailable("clear cursor", err)
	}
	return nil
}

// All returns every cursor, ordered by cumulative runtime descending, for
// diagnostics.
func (c *CursorManager) All() ([]*model.AnnotatorCursor, error) {
	cursors, err := c.store.ListCursors()
	if err != nil {
		return nil, errs.StoreUnavailable("list cursors", err)
	}
	return cursors, nil
}
