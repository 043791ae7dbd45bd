package annotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

func newTestStore(t *testing.T) store.Storer {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriterFlagRoundTrip(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, "heuristic", "1.0")
	r := NewReader(s)

	created, err := w.Flag(model.EntityMessage, "m1", "contains_code", nil, "")
	require.NoError(t, err)
	require.True(t, created, "expected the first write to report created=true")

	anns, err := r.ForEntity(model.EntityMessage, "m1")
	require.NoError(t, err)
	require.Len(t, anns, 1)
	require.Equal(t, "contains_code", anns[0].Key)
	require.Equal(t, model.ValueFlag, anns[0].ValueType)
}

func TestWriterFlagIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, "heuristic", "1.0")

	_, err := w.Flag(model.EntityMessage, "m1", "contains_code", nil, "")
	require.NoError(t, err)

	created, err := w.Flag(model.EntityMessage, "m1", "contains_code", nil, "")
	require.NoError(t, err)
	require.False(t, created, "expected the repeated write to report created=false")

	r := NewReader(s)
	anns, err := r.ForEntity(model.EntityMessage, "m1")
	require.NoError(t, err)
	require.Len(t, anns, 1)
}

func TestWriterStringAndTags(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, "heuristic", "1.0")
	r := NewReader(s)

	_, err := w.String(model.EntityDialogue, "d1", "tag", "golang", nil, "")
	require.NoError(t, err)
	_, err = w.String(model.EntityDialogue, "d1", "tag", "concurrency", nil, "")
	require.NoError(t, err)
	_, err = w.String(model.EntityDialogue, "d1", "title", "Channels deep dive", nil, "")
	require.NoError(t, err)

	tags, err := r.Tags(model.EntityDialogue, "d1")
	require.NoError(t, err)
	require.Len(t, tags, 2)

	title, ok, err := r.Title(model.EntityDialogue, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Channels deep dive", title)
}

func TestWriterNumeric(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, "heuristic", "1.0")
	r := NewReader(s)

	_, err := w.Numeric(model.EntityMessage, "m1", "code_density", 0.42, nil, "")
	require.NoError(t, err)

	anns, err := r.ForEntity(model.EntityMessage, "m1")
	require.NoError(t, err)
	require.Len(t, anns, 1)
	require.Equal(t, 0.42, anns[0].NumericValue)
}

func TestWriterConfidenceUpdateThreshold(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, "heuristic", "1.0")
	r := NewReader(s)

	c1 := 0.50
	_, err := w.Flag(model.EntityMessage, "m1", "contains_code", &c1, "")
	require.NoError(t, err)

	c2 := 0.505 // within the 0.01 threshold: should not register as a change
	_, err = w.Flag(model.EntityMessage, "m1", "contains_code", &c2, "")
	require.NoError(t, err)

	anns, err := r.ForEntity(model.EntityMessage, "m1")
	require.NoError(t, err)
	require.NotNil(t, anns[0].Confidence)
	require.Equal(t, c1, *anns[0].Confidence)

	c3 := 0.90 // beyond the threshold: should update
	_, err = w.Flag(model.EntityMessage, "m1", "contains_code", &c3, "")
	require.NoError(t, err)

	anns, err = r.ForEntity(model.EntityMessage, "m1")
	require.NoError(t, err)
	require.NotNil(t, anns[0].Confidence)
	require.Equal(t, c3, *anns[0].Confidence)
}

func TestReaderClearSource(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, "heuristic", "1.0")
	r := NewReader(s)

	_, err := w.Flag(model.EntityMessage, "m1", "contains_code", nil, "")
	require.NoError(t, err)

	n, err := r.ClearSource(model.EntityMessage, "heuristic")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	anns, err := r.ForEntity(model.EntityMessage, "m1")
	require.NoError(t, err)
	require.Empty(t, anns)
}

func TestCursorManagerLifecycle(t *testing.T) {
	s := newTestStore(t)
	cm := NewCursorManager(s)

	cur, err := cm.GetCursor("CodeBlockAnnotator", "1.0", model.EntityMessage)
	require.NoError(t, err)
	require.Equal(t, 0, cur.EntitiesProcessed)
	require.True(t, cur.HighWaterMark.Before(time.Unix(1, 0)), "expected a fresh cursor at the epoch")

	mark := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cm.Advance(cur, 10, 4, mark, 2500*time.Millisecond))

	refetched, err := cm.GetCursor("CodeBlockAnnotator", "1.0", model.EntityMessage)
	require.NoError(t, err)
	require.Equal(t, 10, refetched.EntitiesProcessed)
	require.Equal(t, 4, refetched.AnnotationsCreated)
	require.InDelta(t, 2.5, refetched.CumulativeRuntimeSeconds, 0.1)
	require.True(t, refetched.HighWaterMark.Equal(mark))

	require.NoError(t, cm.Reset("CodeBlockAnnotator", "1.0", model.EntityMessage))

	afterReset, err := cm.GetCursor("CodeBlockAnnotator", "1.0", model.EntityMessage)
	require.NoError(t, err)
	require.Equal(t, 0, afterReset.EntitiesProcessed)
}

func TestCursorManagerAll(t *testing.T) {
	s := newTestStore(t)
	cm := NewCursorManager(s)

	_, err := cm.GetCursor("A", "1.0", model.EntityMessage)
	require.NoError(t, err)
	_, err = cm.GetCursor("B", "1.0", model.EntityDialogue)
	require.NoError(t, err)

	all, err := cm.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
