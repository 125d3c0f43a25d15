package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/keylock"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
)

// DefaultRecomputeConcurrency bounds RecomputeMany when no limit is configured.
const DefaultRecomputeConcurrency = 4

// HealthReport is a notebook's classified execution health.
type HealthReport struct {
	Status      models.HealthStatus `json:"status"`
	Score       *float64            `json:"score,omitempty"`
	FailedCells int64               `json:"failed_cells"`
}

// MetricsAggregator folds the click and execution logs into per-notebook summaries.
type MetricsAggregator interface {
	// Recompute rebuilds the notebook's summary from the event logs. When the
	// result equals the stored summary nothing is written and changed is false.
	// Otherwise the summary is saved and its ranking fields are pushed to the
	// search index. If that push fails, the saved summary is returned together
	// with the error.
	Recompute(ctx context.Context, notebookID int64) (*models.Summary, bool, error)

	// RecomputeMany recomputes several notebooks concurrently and returns how
	// many summaries changed. Every notebook is attempted; failures are joined.
	RecomputeMany(ctx context.Context, notebookIDs []int64) (int, error)

	// HealthStatus classifies the notebook with the configured policy.
	HealthStatus(ctx context.Context, notebookID int64) (*HealthReport, error)
}

type metricsAggregator struct {
	withScope   database.ScopeFunc
	summaries   repositories.SummaryRepository
	clicks      repositories.ClickRepository
	executions  repositories.ExecutionRepository
	notebooks   repositories.NotebookRepository
	index       SearchIndex
	policy      models.HealthPolicy
	concurrency int
	locks       *keylock.Map[int64]
	logger      *zap.Logger
}

func NewMetricsAggregator(
	withScope database.ScopeFunc,
	summaries repositories.SummaryRepository,
	clicks repositories.ClickRepository,
	executions repositories.ExecutionRepository,
	notebooks repositories.NotebookRepository,
	index SearchIndex,
	policy models.HealthPolicy,
	concurrency int,
	logger *zap.Logger,
) MetricsAggregator {
	if concurrency <= 0 {
		concurrency = DefaultRecomputeConcurrency
	}
	return &metricsAggregator{
		withScope:   withScope,
		summaries:   summaries,
		clicks:      clicks,
		executions:  executions,
		notebooks:   notebooks,
		index:       index,
		policy:      policy,
		concurrency: concurrency,
		locks:       keylock.New[int64](),
		logger:      logger.Named("metrics-aggregator"),
	}
}

var _ MetricsAggregator = (*metricsAggregator)(nil)

func (s *metricsAggregator) Recompute(ctx context.Context, notebookID int64) (*models.Summary, bool, error) {
	unlock, err := s.locks.Lock(ctx, notebookID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock notebook %d: %w", notebookID, err)
	}
	defer unlock()

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	stored, err := s.summaries.GetOrCreate(ctx, notebookID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load summary: %w", err)
	}

	computed, err := s.compute(ctx, notebookID)
	if err != nil {
		s.logger.Warn("Event data unavailable, keeping stored summary",
			zap.Int64("notebook_id", notebookID),
			zap.Error(err))
		return nil, false, err
	}

	if stored.SameCounters(computed) {
		return stored, false, nil
	}

	if err := s.summaries.Save(ctx, computed); err != nil {
		return nil, false, fmt.Errorf("failed to save summary: %w", err)
	}

	if err := s.index.UpdateRankingFields(ctx, computed); err != nil {
		s.logger.Error("Failed to propagate ranking fields",
			zap.Int64("notebook_id", notebookID),
			zap.Error(err))
		return computed, true, fmt.Errorf("failed to propagate ranking fields: %w", err)
	}

	s.logger.Debug("Summary recomputed",
		zap.Int64("notebook_id", notebookID),
		zap.Int64("views", computed.Views),
		zap.Int64("runs", computed.Runs),
		zap.Int64("stars", computed.Stars))
	return computed, true, nil
}

// compute reads the event logs. Any read failure is reported as
// ErrDataUnavailable so the caller leaves the stored summary alone.
func (s *metricsAggregator) compute(ctx context.Context, notebookID int64) (*models.Summary, error) {
	counts, err := s.clicks.CountByAction(ctx, notebookID, models.AggregatedActions)
	if err != nil {
		return nil, fmt.Errorf("%w: clicks: %w", apperrors.ErrDataUnavailable, err)
	}
	execs, err := s.executions.Counts(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("%w: executions: %w", apperrors.ErrDataUnavailable, err)
	}
	stars, err := s.notebooks.CountStars(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("%w: stars: %w", apperrors.ErrDataUnavailable, err)
	}

	summary := &models.Summary{
		NotebookID: notebookID,
		Stars:      stars,
		Health:     models.HealthRatio(execs.Successes, execs.Total),
	}
	for _, c := range counts {
		switch c.Action {
		case models.ActionViewed:
			summary.Views, summary.UniqueViews = c.Total, c.Distinct
		case models.ActionDownloaded:
			summary.Downloads, summary.UniqueDownloads = c.Total, c.Distinct
		case models.ActionRan:
			summary.Runs, summary.UniqueRuns = c.Total, c.Distinct
		}
	}
	return summary, nil
}

func (s *metricsAggregator) RecomputeMany(ctx context.Context, notebookIDs []int64) (int, error) {
	var (
		mu      sync.Mutex
		changed int
		errs    []error
	)

	// Each notebook gets its own connection; pooled connections are not
	// safe for concurrent use.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range notebookIDs {
		g.Go(func() error {
			scoped, release, err := s.withScope(ctx)
			if err == nil {
				defer release()
				var ok bool
				_, ok, err = s.Recompute(scoped, id)
				if ok {
					mu.Lock()
					changed++
					mu.Unlock()
				}
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("notebook %d: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		s.logger.Warn("Some summaries could not be recomputed",
			zap.Int("failed", len(errs)),
			zap.Int("total", len(notebookIDs)))
	}
	return changed, errors.Join(errs...)
}

func (s *metricsAggregator) HealthStatus(ctx context.Context, notebookID int64) (*HealthReport, error) {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	execs, err := s.executions.Counts(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("%w: executions: %w", apperrors.ErrDataUnavailable, err)
	}
	score := models.HealthRatio(execs.Successes, execs.Total)
	return &HealthReport{
		Status:      s.policy.Classify(score, execs.FailedCells),
		Score:       score,
		FailedCells: execs.FailedCells,
	}, nil
}
