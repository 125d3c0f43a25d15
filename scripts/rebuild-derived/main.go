// rebuild-derived recomputes data derived from the notebook store: the
// full-text search index, per-notebook summaries, code cell fingerprints
// and the similarity edges built from them.
//
// Usage: go run ./scripts/rebuild-derived [flags]
//
// Reads config.yaml from the working directory, like the server.
//
// Flags:
//
//	-index     Rebuild the search index (default: true)
//	-metrics   Recompute every notebook summary (default: false)
//	-cells     Rehash every notebook's code cells (default: false)
//	-similar   Relink similarity edges from shared code cells (default: false)
//	-dry-run   Only count the notebooks that would be processed
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/config"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/logging"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
	"github.com/ekaya-inc/ekaya-gallery/pkg/retry"
	"github.com/ekaya-inc/ekaya-gallery/pkg/search"
	"github.com/ekaya-inc/ekaya-gallery/pkg/services"
)

const pageSize = 500

func main() {
	rebuildIndex := flag.Bool("index", true, "Rebuild the search index")
	recompute := flag.Bool("metrics", false, "Recompute every notebook summary")
	rehash := flag.Bool("cells", false, "Rehash every notebook's code cells")
	link := flag.Bool("similar", false, "Relink similarity edges from shared code cells")
	dryRun := flag.Bool("dry-run", false, "Only count the notebooks that would be processed")
	flag.Parse()

	cfg, err := config.Load("script")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, _ := logConfig.Build()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{URL: cfg.Database.ConnectionString()})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %s\n", logging.SanitizeError(err))
		os.Exit(1)
	}
	defer db.Close()

	index, err := search.Open(ctx, cfg.Search.IndexPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open search index: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = index.Close() }()

	withScope := database.NewScopeFunc(db)
	notebooks := repositories.NewNotebookRepository()
	summaries := repositories.NewSummaryRepository()
	indexer := services.NewIndexService(withScope, notebooks, summaries, index, logger)

	ids, err := allNotebookIDs(ctx, withScope, notebooks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list notebooks: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Notebooks: %d\n", len(ids))
	if *dryRun {
		fmt.Println("DRY RUN - nothing rebuilt")
		return
	}

	failed := false

	fp := services.NewFingerprintService(withScope, notebooks, repositories.NewCodeCellRepository(),
		repositories.NewSimilarityRepository(), indexer, cfg.Fingerprint.FuzzyThreshold, logger)

	if *rehash {
		rehashed := 0
		for _, id := range ids {
			if _, err := fp.Rehash(ctx, id); err != nil {
				fmt.Fprintf(os.Stderr, "  notebook %d: %v\n", id, err)
				failed = true
				continue
			}
			rehashed++
		}
		fmt.Printf("Rehashed: %d\n", rehashed)
	}

	// Edges read every notebook's cells, so link only after all are rehashed.
	if *link {
		edges := 0
		for _, id := range ids {
			linked, err := fp.LinkSimilar(ctx, id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  notebook %d: %v\n", id, err)
				failed = true
				continue
			}
			edges += len(linked)
		}
		fmt.Printf("Similarity edges: %d\n", edges)
	}

	if *recompute {
		agg := services.NewMetricsAggregator(withScope, summaries, repositories.NewClickRepository(),
			repositories.NewExecutionRepository(), notebooks, index, cfg.Health,
			services.DefaultRecomputeConcurrency, logger)
		changed, err := agg.RecomputeMany(ctx, ids)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Recompute errors: %v\n", err)
			failed = true
		}
		fmt.Printf("Summaries changed: %d\n", changed)
	}

	if *rebuildIndex {
		var n int
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			var err error
			n, err = indexer.Rebuild(ctx)
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Index rebuild failed after %d documents: %v\n", n, err)
			os.Exit(1)
		}
		fmt.Printf("Indexed: %d\n", n)
	}

	if failed {
		os.Exit(1)
	}
}

func allNotebookIDs(ctx context.Context, withScope database.ScopeFunc, notebooks repositories.NotebookRepository) ([]int64, error) {
	ctx, release, err := withScope(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var ids []int64
	for page := 1; ; page++ {
		batch, err := notebooks.List(ctx, repositories.ListQuery{
			Filter:   access.Const(true),
			Sort:     models.Sort{Field: models.SortCreated},
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range batch.Items {
			ids = append(ids, item.Notebook.ID)
		}
		if len(batch.Items) < pageSize {
			return ids, nil
		}
	}
}
