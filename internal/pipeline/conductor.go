// Package pipeline wires the transformation core's independent passes
// (extraction, tree analysis, exchange building, content hashing, and
// annotation) into one orchestrator, the way
// pkg/scanner/conductor/conductor.go wires its own pipeline's stages behind
// a single Conductor entry point. Cross-dialogue work is embarrassingly
// parallel — messages within one dialogue are written by a single
// goroutine at a time, but independent dialogues run concurrently up to a
// bounded worker pool.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dmarx/chat2obs-sub000/internal/annotation"
	"github.com/dmarx/chat2obs-sub000/internal/annotator"
	"github.com/dmarx/chat2obs-sub000/internal/chunker"
	"github.com/dmarx/chat2obs-sub000/internal/config"
	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/exchange"
	"github.com/dmarx/chat2obs-sub000/internal/extract"
	"github.com/dmarx/chat2obs-sub000/internal/hash"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
	"github.com/dmarx/chat2obs-sub000/internal/tree"
)

// Shape is which extractor a source's raw export needs: branched exports
// carry a tree-shaped "mapping" object (ChatGPT), linear exports carry a
// flat message array (Claude).
type Shape string

const (
	ShapeBranched Shape = "branched"
	ShapeLinear   Shape = "linear"
)

// DialogueResult is the outcome of running the full pipeline over one raw
// conversation export.
type DialogueResult struct {
	ExtractResult     *extract.Result
	SequencesBuilt    int
	ExchangesBuilt    int
	PromptResponses   int
	MessagesHashed    int
	ExchangesHashed   int
	AnnotationResults map[string]annotator.RunStats
}

// Conductor owns every stage's builder and the annotator catalog, and runs
// them end to end for one dialogue at a time.
type Conductor struct {
	store   store.Storer
	cfg     config.Config
	catalog map[model.EntityType][]annotator.Annotator
	manager *annotator.Manager
	chunks  *chunker.Chunker
}

// New builds a Conductor over s using cfg's settings and the default
// annotator catalog.
func New(s store.Storer, cfg config.Config) *Conductor {
	reader := annotation.NewReader(s)
	cursors := annotation.NewCursorManager(s)
	return &Conductor{
		store:   s,
		cfg:     cfg,
		catalog: annotator.DefaultCatalog(),
		manager: annotator.NewManager(s, reader, cursors),
		chunks:  chunker.New(),
	}
}

// ProcessOneLinear runs the whole pipeline — extraction, tree analysis,
// exchange building, hashing, and annotation — over a single linear-shaped
// export (Claude-style flat message arrays).
func (c *Conductor) ProcessOneLinear(rawJSON, sourceID string) (*DialogueResult, error) {
	base := extract.NewBase(c.store, sourceID, c.cfg.AssumeImmutable(), c.cfg.Incremental())
	extractor := extract.NewLinearExtractor(base)
	res, err := extractor.ExtractDialogue(rawJSON)
	if err != nil {
		return nil, err
	}
	return c.finishAfterExtract(res)
}

// ProcessOneBranched is the explicit branched-shape counterpart to
// ProcessOneLinear.
func (c *Conductor) ProcessOneBranched(rawJSON, sourceID string) (*DialogueResult, error) {
	base := extract.NewBase(c.store, sourceID, c.cfg.AssumeImmutable(), c.cfg.Incremental())
	extractor := extract.NewBranchedExtractor(base)
	res, err := extractor.ExtractDialogue(rawJSON)
	if err != nil {
		return nil, err
	}
	return c.finishAfterExtract(res)
}

func (c *Conductor) finishAfterExtract(res *extract.Result) (*DialogueResult, error) {
	dr := &DialogueResult{ExtractResult: res, AnnotationResults: map[string]annotator.RunStats{}}
	if res.Outcome == extract.OutcomeSkipped {
		return dr, nil
	}

	treeBuilder := tree.NewBuilder(c.store)
	sequencesBuilt, err := treeBuilder.BuildForDialogue(res.DialogueID)
	if err != nil {
		return dr, err
	}
	dr.SequencesBuilt = sequencesBuilt

	sequences, err := c.store.ListLinearSequences(res.DialogueID)
	if err != nil {
		return dr, errs.StoreUnavailable("list linear sequences", err)
	}

	exchangeBuilder := exchange.NewBuilder(c.store)
	for _, seq := range sequences {
		n, err := exchangeBuilder.BuildForSequence(seq.ID)
		if err != nil {
			return dr, err
		}
		dr.ExchangesBuilt += n
	}

	promptResponseBuilder := annotator.NewPromptResponseBuilder(c.store)
	prCount, err := promptResponseBuilder.BuildForDialogue(res.DialogueID)
	if err != nil {
		return dr, err
	}
	dr.PromptResponses = prCount

	hashBuilder := hash.NewBuilder(c.store)
	if err := c.hashDialogue(hashBuilder, res.DialogueID, dr); err != nil {
		return dr, err
	}

	if c.cfg.Chunking() {
		if err := c.runChunkerPass(res.DialogueID); err != nil {
			return dr, err
		}
	}

	if err := c.runAnnotators(res.DialogueID, dr); err != nil {
		return dr, err
	}
	return dr, nil
}

func (c *Conductor) hashDialogue(hashBuilder *hash.Builder, dialogueID string, dr *DialogueResult) error {
	messages, err := c.store.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return errs.StoreUnavailable("list messages for dialogue", err)
	}
	for _, msg := range messages {
		if _, err := hashBuilder.HashMessage(msg.ID); err != nil {
			return err
		}
		dr.MessagesHashed++
	}

	sequences, err := c.store.ListLinearSequences(dialogueID)
	if err != nil {
		return errs.StoreUnavailable("list linear sequences", err)
	}
	for _, seq := range sequences {
		exs, err := c.store.ListExchanges(seq.ID)
		if err != nil {
			return errs.StoreUnavailable("list exchanges", err)
		}
		for _, ex := range exs {
			content, err := c.store.GetExchangeContent(ex.ID)
			if err != nil {
				return errs.StoreUnavailable("get exchange content", err)
			}
			if content == nil {
				continue
			}
			if err := hashBuilder.HashExchangeContent(content); err != nil {
				return err
			}
			dr.ExchangesHashed++
		}
	}
	return nil
}

// runChunkerPass splits every content part's text into markdown blocks and
// records each block's kind as a content-part-level annotation. This pass
// is optional and additive: it never affects any core table, only the
// annotation substrate.
func (c *Conductor) runChunkerPass(dialogueID string) error {
	writer := annotation.NewWriter(c.store, "ChunkerPass", "1.0")
	messages, err := c.store.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return errs.StoreUnavailable("list messages for dialogue", err)
	}
	for _, msg := range messages {
		parts, err := c.store.ListContentParts(msg.ID)
		if err != nil {
			return errs.StoreUnavailable("list content parts", err)
		}
		for _, part := range parts {
			if part.TextContent == "" {
				continue
			}
			blocks := c.chunks.Chunk(part.TextContent)
			for _, b := range blocks {
				if _, err := writer.String(model.EntityContentPart, part.ID, "markdown_block", string(b.Kind), confident(1.0), ""); err != nil {
					return errs.StoreUnavailable("write markdown block annotation", err)
				}
			}
		}
	}
	return nil
}

func confident(c float64) *float64 { return &c }

func (c *Conductor) runAnnotators(dialogueID string, dr *DialogueResult) error {
	for _, a := range c.catalog[model.EntityMessage] {
		stats, err := c.manager.RunMessage(a, dialogueID)
		if err != nil {
			return err
		}
		dr.AnnotationResults[a.Spec().Key] = stats
	}
	for _, a := range c.catalog[model.EntityExchange] {
		stats, err := c.runExchangeAnnotator(a, dialogueID)
		if err != nil {
			return err
		}
		dr.AnnotationResults[a.Spec().Key] = stats
	}
	for _, a := range c.catalog[model.EntityDialogue] {
		stats, err := c.manager.RunDialogue(a, dialogueID)
		if err != nil {
			return err
		}
		dr.AnnotationResults[a.Spec().Key] = stats
	}
	for _, a := range c.catalog[model.EntityPromptResponse] {
		stats, err := c.manager.RunPromptResponse(a, dialogueID)
		if err != nil {
			return err
		}
		dr.AnnotationResults[a.Spec().Key] = stats
	}
	for _, a := range c.catalog[model.EntityContentPart] {
		stats, err := c.manager.RunContentPart(a, dialogueID)
		if err != nil {
			return err
		}
		dr.AnnotationResults[a.Spec().Key] = stats
	}
	return nil
}

// runExchangeAnnotator dispatches to RunExchange or RunExchangePlatform
// depending on which data view the annotator expects, since both run
// against the same EntityExchange cursor namespace but gather different
// item shapes.
func (c *Conductor) runExchangeAnnotator(a annotator.Annotator, dialogueID string) (annotator.RunStats, error) {
	switch a.(type) {
	case annotator.WebSearchAnnotator, annotator.CodeExecutionAnnotator, annotator.CanvasAnnotator,
		annotator.GizmoAnnotator, annotator.AttachmentAnnotator, annotator.DalleAnnotator:
		return c.manager.RunExchangePlatform(a, dialogueID)
	default:
		return c.manager.RunExchange(a, dialogueID)
	}
}

// ProcessBatch runs ProcessOneLinear or ProcessOneBranched (chosen by shape)
// over every raw export in parallel, up to cfg.Workers() concurrent
// dialogues. A failing export does not stop the others: every export is
// processed, results holds nil for each one that failed, and the first
// error is returned once all have finished. The workers do not observe ctx
// cancellation.
func (c *Conductor) ProcessBatch(ctx context.Context, rawExports []string, sourceID string, shape Shape) ([]*DialogueResult, error) {
	results := make([]*DialogueResult, len(rawExports))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers())

	for i, raw := range rawExports {
		i, raw := i, raw
		g.Go(func() error {
			var (
				res *DialogueResult
				err error
			)
			switch shape {
			case ShapeLinear:
				res, err = c.ProcessOneLinear(raw, sourceID)
			default:
				res, err = c.ProcessOneBranched(raw, sourceID)
			}
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
