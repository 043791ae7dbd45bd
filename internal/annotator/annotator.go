// Package annotator is the catalog of derived-fact detectors described by
// spec.md §4.I, built over the annotation substrate in internal/annotation.
// Each annotator is a pure function over one entity's typed data view;
// a Manager iterates entities through a cursor, checks prerequisites, and
// writes results. Grounded on
// original_source/llm_archive/annotators/base.py's Annotator /
// AnnotationManager (register once, run_all catches one annotator's
// failure and continues with the rest).
package annotator

import (
	"strings"
	"time"

	"github.com/dmarx/chat2obs-sub000/internal/annotation"
	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// Result is one fact an annotator produces for the entity it was called
// with; the Manager dispatches it to the right Writer method by ValueType.
type Result struct {
	Key        string
	ValueType  model.ValueType
	Value      string
	Numeric    float64
	Confidence *float64
	Reason     string
}

func Flag(key string, confidence *float64, reason string) Result {
	return Result{Key: key, ValueType: model.ValueFlag, Confidence: confidence, Reason: reason}
}

func String(key, value string, confidence *float64, reason string) Result {
	return Result{Key: key, ValueType: model.ValueString, Value: value, Confidence: confidence, Reason: reason}
}

func Numeric(key string, value float64, confidence *float64, reason string) Result {
	return Result{Key: key, ValueType: model.ValueNumeric, Numeric: value, Confidence: confidence, Reason: reason}
}

func JSON(key, jsonValue string, confidence *float64, reason string) Result {
	return Result{Key: key, ValueType: model.ValueJSON, Value: jsonValue, Confidence: confidence, Reason: reason}
}

// Spec is the set of static declarations every annotator publishes, mirroring
// the Python Annotator ABC's class-level constants (ANNOTATION_KEY, VERSION,
// PRIORITY, REQUIRES_*, SKIP_IF_*, ROLE_FILTER, PART_TYPE_FILTER).
type Spec struct {
	Key             string
	Version         string
	Priority        int
	EntityType      model.EntityType
	RequiresFlags   []string
	RequiresStrings []string
	SkipIfFlags     []string
	SkipIfStrings   []string
	RoleFilter      []model.Role
	PartTypeFilter  []model.PartType
}

// Annotator is a pure function over one entity's typed data view. The
// concrete data type passed to Annotate varies by Spec().EntityType; each
// concrete annotator type-asserts to the view it expects.
type Annotator interface {
	Spec() Spec
	Annotate(data any) ([]Result, error)
}

// item is one entity queued for a single annotator run: its sort timestamp
// (for the cursor's high-water mark), its role/part type (for filtering),
// and the typed data view to hand the annotator.
type item struct {
	entityID string
	ts       time.Time
	role     model.Role
	partType model.PartType
	data     any
}

func roleAllowed(spec Spec, role model.Role) bool {
	if len(spec.RoleFilter) == 0 {
		return true
	}
	for _, r := range spec.RoleFilter {
		if r == role {
			return true
		}
	}
	return false
}

func partTypeAllowed(spec Spec, pt model.PartType) bool {
	if len(spec.PartTypeFilter) == 0 {
		return true
	}
	for _, p := range spec.PartTypeFilter {
		if p == pt {
			return true
		}
	}
	return false
}

func prerequisitesMet(reader *annotation.Reader, entityType model.EntityType, entityID string, spec Spec) (bool, error) {
	if len(spec.RequiresFlags) == 0 && len(spec.RequiresStrings) == 0 && len(spec.SkipIfFlags) == 0 && len(spec.SkipIfStrings) == 0 {
		return true, nil
	}
	anns, err := reader.ForEntity(entityType, entityID)
	if err != nil {
		return false, err
	}
	has := func(key string, vt model.ValueType) bool {
		for _, a := range anns {
			if a.Key == key && a.ValueType == vt {
				return true
			}
		}
		return false
	}
	for _, k := range spec.RequiresFlags {
		if !has(k, model.ValueFlag) {
			return false, nil
		}
	}
	for _, k := range spec.RequiresStrings {
		if !has(k, model.ValueString) {
			return false, nil
		}
	}
	for _, k := range spec.SkipIfFlags {
		if has(k, model.ValueFlag) {
			return false, nil
		}
	}
	for _, k := range spec.SkipIfStrings {
		if has(k, model.ValueString) {
			return false, nil
		}
	}
	return true, nil
}

func writeResult(writer *annotation.Writer, entityType model.EntityType, entityID string, r Result) (bool, error) {
	switch r.ValueType {
	case model.ValueFlag:
		return writer.Flag(entityType, entityID, r.Key, r.Confidence, r.Reason)
	case model.ValueString:
		return writer.String(entityType, entityID, r.Key, r.Value, r.Confidence, r.Reason)
	case model.ValueNumeric:
		return writer.Numeric(entityType, entityID, r.Key, r.Numeric, r.Confidence, r.Reason)
	case model.ValueJSON:
		return writer.JSON(entityType, entityID, r.Key, r.Value, r.Confidence, r.Reason)
	default:
		return false, errs.ConstraintViolation("unknown annotation value type", nil)
	}
}

// RunStats summarizes one annotator's pass over one entity type.
type RunStats struct {
	EntitiesProcessed  int
	AnnotationsCreated int
	Failures           int
}

// Manager owns the annotation substrate and runs a registered catalog of
// annotators over a dialogue's entities, a single annotator's failure on one
// entity never aborting the rest (per original_source's run_all/run_one
// try/except-and-continue shape).
type Manager struct {
	store   store.Storer
	reader  *annotation.Reader
	cursors *annotation.CursorManager
}

func NewManager(s store.Storer, reader *annotation.Reader, cursors *annotation.CursorManager) *Manager {
	return &Manager{store: s, reader: reader, cursors: cursors}
}

// run drives one annotator over its pre-gathered items, honoring the
// cursor's high-water mark, the annotator's role/part-type filters, and its
// prerequisite checks, then advances the cursor with this run's stats.
func (m *Manager) run(a Annotator, items []item) (RunStats, error) {
	spec := a.Spec()
	cur, err := m.cursors.GetCursor(spec.Key, spec.Version, spec.EntityType)
	if err != nil {
		return RunStats{}, err
	}
	writer := annotation.NewWriter(m.store, spec.Key, spec.Version)

	start := time.Now()
	highWater := cur.HighWaterMark
	var stats RunStats
	var failFloor *time.Time

	for _, it := range items {
		if !it.ts.After(cur.HighWaterMark) {
			continue
		}
		if it.role != "" && !roleAllowed(spec, it.role) {
			continue
		}
		if it.partType != "" && !partTypeAllowed(spec, it.partType) {
			continue
		}
		ok, err := prerequisitesMet(m.reader, spec.EntityType, it.entityID, spec)
		if err != nil {
			return stats, err
		}
		stats.EntitiesProcessed++
		if !ok {
			continue
		}

		results, err := a.Annotate(it.data)
		if err != nil {
			// The cursor is not advanced past a failing entity: it stays
			// eligible for retry on the next run, regardless of whether a
			// later-timestamped entity in this same run succeeds.
			stats.Failures++
			_ = errs.AnnotatorFailure(spec.Key+": annotate "+it.entityID, err)
			if failFloor == nil || it.ts.Before(*failFloor) {
				ts := it.ts
				failFloor = &ts
			}
			continue
		}
		if it.ts.After(highWater) {
			highWater = it.ts
		}
		for _, r := range results {
			created, err := writeResult(writer, spec.EntityType, it.entityID, r)
			if err != nil {
				return stats, err
			}
			if created {
				stats.AnnotationsCreated++
			}
		}
	}

	// Clamp the high-water mark so it never reaches (let alone passes) the
	// earliest failure seen this run: the failing entity's own timestamp
	// must still be strictly after the new mark, or it would never be
	// retried on the next pass.
	if failFloor != nil {
		cap := failFloor.Add(-time.Nanosecond)
		if highWater.After(cap) {
			highWater = cap
		}
	}

	if err := m.cursors.Advance(cur, stats.EntitiesProcessed, stats.AnnotationsCreated, highWater, time.Since(start)); err != nil {
		return stats, err
	}
	return stats, nil
}

// wordCount mirrors internal/exchange's helper; kept local since that one
// is unexported and this package does not import internal/exchange.
func wordCount(s string) int { return len(strings.Fields(s)) }
