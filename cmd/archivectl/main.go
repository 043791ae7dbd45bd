// Command archivectl ingests raw conversation exports into an archive
// database and runs the normalization and annotation pipeline over them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmarx/chat2obs-sub000/internal/config"
	"github.com/dmarx/chat2obs-sub000/internal/pipeline"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "archivectl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("archivectl", flag.ExitOnError)
	dsn := fs.String("dsn", "archive.sqlite3", "path to the archive SQLite database")
	sourceID := fs.String("source", "", "source identifier for the imported export (required)")
	shape := fs.String("shape", "branched", "export shape: branched (ChatGPT-style tree) or linear (Claude-style flat array)")
	assumeImmutable := fs.Bool("assume-immutable", false, "keep already-known messages unchanged without content-hash change detection; new messages are still inserted")
	incremental := fs.Bool("incremental", true, "do not soft-delete stored messages that are missing from a re-imported dialogue")
	chunking := fs.Bool("chunking", false, "run the optional markdown block chunking pass")
	workers := fs.Int("workers", 4, "max dialogues processed concurrently")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sourceID == "" {
		return fmt.Errorf("-source is required")
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: archivectl [flags] <export.json> [export.json ...]")
	}

	cfg := config.New(
		config.WithDSN(*dsn),
		config.WithAssumeImmutable(*assumeImmutable),
		config.WithIncremental(*incremental),
		config.WithChunking(*chunking),
		config.WithWorkers(*workers),
	)

	s, err := store.New(cfg.DSN())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	conductor := pipeline.New(s, cfg)

	var pipelineShape pipeline.Shape
	switch *shape {
	case "linear":
		pipelineShape = pipeline.ShapeLinear
	case "branched":
		pipelineShape = pipeline.ShapeBranched
	default:
		return fmt.Errorf("unknown -shape %q: want branched or linear", *shape)
	}

	rawExports := make([]string, 0, fs.NArg())
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rawExports = append(rawExports, string(data))
	}

	results, err := conductor.ProcessBatch(context.Background(), rawExports, *sourceID, pipelineShape)
	if err != nil {
		return fmt.Errorf("process batch: %w", err)
	}

	for i, res := range results {
		name := filepath.Base(fs.Args()[i])
		if res == nil {
			fmt.Printf("%s: failed\n", name)
			continue
		}
		fmt.Printf("%s: outcome=%s exchanges=%d hashed=%d/%d prompt_response_pairs=%d\n",
			name, res.ExtractResult.Outcome, res.ExchangesBuilt, res.MessagesHashed, res.ExchangesHashed, res.PromptResponses)
	}

	return nil
}
