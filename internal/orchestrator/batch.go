package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"legal-rag/internal/models"
)

// Source is a file path, or inline text with a filename
type Source struct {
	Path     string
	Text     string
	Filename string
}

func (s Source) label() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Filename
}

// BatchIngest ingests sources on a bounded worker pool. Results keep the
// input order and one failure never stops the others.
func (o *Orchestrator) BatchIngest(ctx context.Context, sources []Source) []models.BatchResult {
	results := make([]models.BatchResult, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.BatchWorkers)
	for i, src := range sources {
		g.Go(func() error {
			var res *models.IngestResult
			if src.Path != "" {
				res = o.IngestFile(ctx, src.Path)
			} else {
				res = o.Ingest(ctx, src.Text, src.Filename)
			}

			br := models.BatchResult{Source: src.label(), Success: res.Success, Error: res.Error}
			if res.Document != nil {
				br.DocumentID = res.Document.ID
				br.ChunkCount = len(res.Chunks)
			}
			results[i] = br
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	log.Info().Int("documents", len(sources)).Int("failed", failed).Msg("Batch ingest finished")
	return results
}
