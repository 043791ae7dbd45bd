package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dmarx/chat2obs-sub000/internal/model"
)

// annotationTable validates (entityType, valueType) against the generated
// matrix and returns the backing table name, grounded on spec.md §4.H's
// value-type-partitioned design (see schema.go's buildAnnotationSchema).
func annotationTable(entityType model.EntityType, valueType model.ValueType) (string, error) {
	et, vt := string(entityType), string(valueType)
	validEntity, validValue := false, false
	for _, e := range entityTypes {
		if e == et {
			validEntity = true
		}
	}
	for _, v := range valueTypes {
		if v == vt {
			validValue = true
		}
	}
	if !validEntity || !validValue {
		return "", fmt.Errorf("store: no annotation table for entity_type=%q value_type=%q", et, vt)
	}
	return annotationTableName(et, vt), nil
}

// UpsertAnnotation records one annotator's finding about an entity. An
// existing annotation at the same (entity_id, key, value, source), or
// (entity_id, key, source) for flags, has its confidence/reason refreshed in place when the confidence
// moved by more than 0.01; otherwise nothing changes. Returns true only
// when a new row was created, mirroring add_annotation's return contract.
func (s *SQLiteStore) UpsertAnnotation(a *model.Annotation) (bool, error) {
	table, err := annotationTable(a.EntityType, a.ValueType)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	selectSQL, selectArgs, insertSQL, insertArgs, updateSQL, updateArgs := annotationStatements(table, a, createdAt)

	var existingConfidence sql.NullFloat64
	err = s.db.QueryRow(selectSQL, selectArgs...).Scan(&existingConfidence)
	switch {
	case err == nil:
		if a.Confidence != nil && (!existingConfidence.Valid || math.Abs(existingConfidence.Float64-*a.Confidence) > 0.01) {
			if _, err := s.db.Exec(updateSQL, updateArgs...); err != nil {
				return false, fmt.Errorf("store: update annotation: %w", err)
			}
		}
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(insertSQL, insertArgs...); err != nil {
			return false, fmt.Errorf("store: insert annotation: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("store: lookup annotation: %w", err)
	}
}

// annotationStatements builds the select/insert/update SQL + args for one
// annotation, branching on whether the table carries a value column (flag
// tables don't).
func annotationStatements(table string, a *model.Annotation, createdAt time.Time) (selectSQL string, selectArgs []any, insertSQL string, insertArgs []any, updateSQL string, updateArgs []any) {
	var confidence any
	if a.Confidence != nil {
		confidence = *a.Confidence
	}
	var value any
	switch a.ValueType {
	case model.ValueNumeric:
		value = a.NumericValue
	case model.ValueString, model.ValueJSON:
		value = a.Value
	}

	if a.ValueType == model.ValueFlag {
		selectSQL = fmt.Sprintf(`SELECT confidence FROM %s WHERE entity_id=? AND key=? AND source=?`, table)
		selectArgs = []any{a.EntityID, a.Key, a.Source}
		insertSQL = fmt.Sprintf(`
			INSERT INTO %s (entity_id, key, source, source_version, confidence, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, table)
		insertArgs = []any{a.EntityID, a.Key, a.Source, a.SourceVersion, confidence, a.Reason, createdAt.Format(time.RFC3339Nano)}
		updateSQL = fmt.Sprintf(`UPDATE %s SET confidence=?, reason=? WHERE entity_id=? AND key=? AND source=?`, table)
		updateArgs = []any{confidence, a.Reason, a.EntityID, a.Key, a.Source}
		return
	}

	selectSQL = fmt.Sprintf(`SELECT confidence FROM %s WHERE entity_id=? AND key=? AND value=? AND source=?`, table)
	selectArgs = []any{a.EntityID, a.Key, value, a.Source}
	insertSQL = fmt.Sprintf(`
		INSERT INTO %s (entity_id, key, value, source, source_version, confidence, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table)
	insertArgs = []any{a.EntityID, a.Key, value, a.Source, a.SourceVersion, confidence, a.Reason, createdAt.Format(time.RFC3339Nano)}
	updateSQL = fmt.Sprintf(`UPDATE %s SET confidence=?, reason=? WHERE entity_id=? AND key=? AND value=? AND source=?`, table)
	updateArgs = []any{confidence, a.Reason, a.EntityID, a.Key, value, a.Source}
	return
}

// ListAnnotations returns every annotation recorded for one entity across
// all four value-type-partitioned tables for its entity type.
func (s *SQLiteStore) ListAnnotations(entityType model.EntityType, entityID string) ([]*model.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Annotation
	for _, vt := range valueTypes {
		table, err := annotationTable(entityType, model.ValueType(vt))
		if err != nil {
			return nil, err
		}
		rows, err := s.listOneAnnotationTable(table, model.ValueType(vt), entityType, entityID)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *SQLiteStore) listOneAnnotationTable(table string, vt model.ValueType, entityType model.EntityType, entityID string) ([]*model.Annotation, error) {
	hasValue := vt != model.ValueFlag
	var query string
	if hasValue {
		query = fmt.Sprintf(`SELECT key, value, source, source_version, confidence, reason, created_at FROM %s WHERE entity_id=?`, table)
	} else {
		query = fmt.Sprintf(`SELECT key, source, source_version, confidence, reason, created_at FROM %s WHERE entity_id=?`, table)
	}
	rows, err := s.db.Query(query, entityID)
	if err != nil {
		return nil, fmt.Errorf("store: list annotations: %w", err)
	}
	defer rows.Close()

	var out []*model.Annotation
	for rows.Next() {
		a := &model.Annotation{EntityType: entityType, EntityID: entityID, ValueType: vt}
		var confidence sql.NullFloat64
		var reason sql.NullString
		var createdAt string
		if hasValue {
			var rawValue any
			if vt == model.ValueNumeric {
				var numeric float64
				if err := rows.Scan(&a.Key, &numeric, &a.Source, &a.SourceVersion, &confidence, &reason, &createdAt); err != nil {
					return nil, fmt.Errorf("store: scan annotation: %w", err)
				}
				a.NumericValue = numeric
			} else {
				if err := rows.Scan(&a.Key, &rawValue, &a.Source, &a.SourceVersion, &confidence, &reason, &createdAt); err != nil {
					return nil, fmt.Errorf("store: scan annotation: %w", err)
				}
				switch v := rawValue.(type) {
				case string:
					a.Value = v
				case []byte:
					a.Value = string(v)
				}
			}
		} else {
			if err := rows.Scan(&a.Key, &a.Source, &a.SourceVersion, &confidence, &reason, &createdAt); err != nil {
				return nil, fmt.Errorf("store: scan annotation: %w", err)
			}
		}
		if confidence.Valid {
			c := confidence.Float64
			a.Confidence = &c
		}
		a.Reason = reason.String
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			a.CreatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClearAnnotations hard-deletes every annotation for one entity type, across
// all four of its value-type tables, optionally restricted to one source.
// Returns the total row count removed.
func (s *SQLiteStore) ClearAnnotations(entityType model.EntityType, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, vt := range valueTypes {
		table, err := annotationTable(entityType, model.ValueType(vt))
		if err != nil {
			return total, err
		}
		var res sql.Result
		if source == "" {
			res, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %s`, table))
		} else {
			res, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE source=?`, table), source)
		}
		if err != nil {
			return total, fmt.Errorf("store: clear annotations: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// ---------------------------------------------------------------------------
// Annotator cursors
// ---------------------------------------------------------------------------

// GetOrCreateCursor returns the existing cursor for (name, version,
// entityType), creating one at the Unix epoch high-water mark if absent.
func (s *SQLiteStore) GetOrCreateCursor(annotatorName, annotatorVersion string, entityType model.EntityType) (*model.AnnotatorCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT annotator_name, annotator_version, entity_type, high_water_mark, entities_processed, annotations_created, cumulative_runtime_seconds, updated_at
		FROM annotator_cursors WHERE annotator_name=? AND annotator_version=? AND entity_type=?`,
		annotatorName, annotatorVersion, string(entityType))

	c, err := scanCursorRow(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get cursor: %w", err)
	}

	epoch := time.Unix(0, 0).UTC()
	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO annotator_cursors (annotator_name, annotator_version, entity_type, high_water_mark, entities_processed, annotations_created, cumulative_runtime_seconds, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, ?)`,
		annotatorName, annotatorVersion, string(entityType), epoch.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: create cursor: %w", err)
	}

	return &model.AnnotatorCursor{
		AnnotatorName:    annotatorName,
		AnnotatorVersion: annotatorVersion,
		EntityType:       entityType,
		HighWaterMark:    epoch,
		UpdatedAt:        now,
	}, nil
}

func scanCursorRow(row *sql.Row) (*model.AnnotatorCursor, error) {
	var c model.AnnotatorCursor
	var entityType, highWaterMark, updatedAt string
	if err := row.Scan(&c.AnnotatorName, &c.AnnotatorVersion, &entityType, &highWaterMark, &c.EntitiesProcessed, &c.AnnotationsCreated, &c.CumulativeRuntimeSeconds, &updatedAt); err != nil {
		return nil, err
	}
	c.EntityType = model.EntityType(entityType)
	if t, err := time.Parse(time.RFC3339Nano, highWaterMark); err == nil {
		c.HighWaterMark = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

// UpdateCursor accumulates this run's stats onto the cursor's running
// totals and advances its high-water mark.
func (s *SQLiteStore) UpdateCursor(c *model.AnnotatorCursor, entitiesProcessed, annotationsCreated int, newHighWaterMark time.Time, runtimeSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE annotator_cursors
		SET high_water_mark=?, entities_processed=entities_processed+?, annotations_created=annotations_created+?,
		    cumulative_runtime_seconds=cumulative_runtime_seconds+?, updated_at=?
		WHERE annotator_name=? AND annotator_version=? AND entity_type=?`,
		newHighWaterMark.UTC().Format(time.RFC3339Nano), entitiesProcessed, annotationsCreated, runtimeSeconds, now.Format(time.RFC3339Nano),
		c.AnnotatorName, c.AnnotatorVersion, string(c.EntityType))
	if err != nil {
		return fmt.Errorf("store: update cursor: %w", err)
	}
	c.HighWaterMark = newHighWaterMark
	c.EntitiesProcessed += entitiesProcessed
	c.AnnotationsCreated += annotationsCreated
	c.CumulativeRuntimeSeconds += runtimeSeconds
	c.UpdatedAt = now
	return nil
}

// ClearCursor deletes a cursor, forcing full reprocessing on the next run.
func (s *SQLiteStore) ClearCursor(annotatorName, annotatorVersion string, entityType model.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM annotator_cursors WHERE annotator_name=? AND annotator_version=? AND entity_type=?`,
		annotatorName, annotatorVersion, string(entityType))
	if err != nil {
		return fmt.Errorf("store: clear cursor: %w", err)
	}
	return nil
}

// ListCursors returns every cursor, ordered by cumulative runtime
// descending, for diagnostics.
func (s *SQLiteStore) ListCursors() ([]*model.AnnotatorCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT annotator_name, annotator_version, entity_type, high_water_mark, entities_processed, annotations_created, cumulative_runtime_seconds, updated_at
		FROM annotator_cursors ORDER BY cumulative_runtime_seconds DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list cursors: %w", err)
	}
	defer rows.Close()

	var out []*model.AnnotatorCursor
	for rows.Next() {
		var c model.AnnotatorCursor
		var entityType, highWaterMark, updatedAt string
		if err := rows.Scan(&c.AnnotatorName, &c.AnnotatorVersion, &entityType, &highWaterMark, &c.EntitiesProcessed, &c.AnnotationsCreated, &c.CumulativeRuntimeSeconds, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan cursor: %w", err)
		}
		c.EntityType = model.EntityType(entityType)
		if t, err := time.Parse(time.RFC3339Nano, highWaterMark); err == nil {
			c.HighWaterMark = t
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			c.UpdatedAt = t
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
