package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/fingerprint"
	"github.com/ekaya-inc/ekaya-gallery/pkg/keylock"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
)

// CellMatch pairs two code cells whose fuzzy digests are within the
// configured distance.
type CellMatch struct {
	CellA    int  `json:"cell_a"`
	CellB    int  `json:"cell_b"`
	Distance int  `json:"distance"`
	Exact    bool `json:"exact"`
}

// FingerprintService maintains the per-notebook code cell fingerprints.
type FingerprintService interface {
	// Rehash re-fingerprints the stored document and replaces the cell set.
	// On failure the previous set is left in place.
	Rehash(ctx context.Context, notebookID int64) ([]models.CodeCell, error)

	// ContentChanged stores a new document together with its cell set and
	// then reindexes the notebook. The document is parsed before anything is
	// written, and document and cells commit together, so a failure leaves
	// both as they were.
	ContentChanged(ctx context.Context, notebookID int64, content []byte) ([]models.CodeCell, error)

	// CompareNotebooks reports cell pairs of a and b that are near duplicates.
	CompareNotebooks(ctx context.Context, a, b int64) ([]CellMatch, error)

	// LinkSimilar rewrites the similarity edges leaving notebookID. Each
	// notebook sharing an exact cell digest gets an edge scored by the
	// fraction of notebookID's cells it shares.
	LinkSimilar(ctx context.Context, notebookID int64) ([]models.Similarity, error)
}

type fingerprintService struct {
	withScope      database.ScopeFunc
	notebooks      repositories.NotebookRepository
	cells          repositories.CodeCellRepository
	similarities   repositories.SimilarityRepository
	indexer        IndexService
	fuzzyThreshold int
	locks          *keylock.Map[int64]
	logger         *zap.Logger
}

func NewFingerprintService(
	withScope database.ScopeFunc,
	notebooks repositories.NotebookRepository,
	cells repositories.CodeCellRepository,
	similarities repositories.SimilarityRepository,
	indexer IndexService,
	fuzzyThreshold int,
	logger *zap.Logger,
) FingerprintService {
	return &fingerprintService{
		withScope:      withScope,
		notebooks:      notebooks,
		cells:          cells,
		similarities:   similarities,
		indexer:        indexer,
		fuzzyThreshold: fuzzyThreshold,
		locks:          keylock.New[int64](),
		logger:         logger.Named("fingerprint-service"),
	}
}

var _ FingerprintService = (*fingerprintService)(nil)

func (s *fingerprintService) Rehash(ctx context.Context, notebookID int64) ([]models.CodeCell, error) {
	unlock, err := s.locks.Lock(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock notebook %d: %w", notebookID, err)
	}
	defer unlock()

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	content, err := s.notebooks.Content(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	cells, err := s.parse(notebookID, content)
	if err != nil {
		return nil, err
	}
	if err := s.cells.ReplaceAll(ctx, notebookID, cells); err != nil {
		return nil, fmt.Errorf("failed to replace code cells: %w", err)
	}

	s.logger.Debug("Notebook rehashed",
		zap.Int64("notebook_id", notebookID),
		zap.Int("cells", len(cells)))
	return cells, nil
}

func (s *fingerprintService) ContentChanged(ctx context.Context, notebookID int64, content []byte) ([]models.CodeCell, error) {
	cells, err := s.parse(notebookID, content)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock notebook %d: %w", notebookID, err)
	}
	defer unlock()

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	if _, err := s.notebooks.UpdateContent(ctx, notebookID, content, cells); err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}
	if err := s.indexer.Reindex(ctx, notebookID); err != nil {
		s.logger.Error("Content stored but index is stale",
			zap.Int64("notebook_id", notebookID),
			zap.Error(err))
		return cells, err
	}
	return cells, nil
}

func (s *fingerprintService) parse(notebookID int64, content []byte) ([]models.CodeCell, error) {
	cells, err := fingerprint.Cells(notebookID, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFingerprintFailure, err)
	}
	return cells, nil
}

func (s *fingerprintService) CompareNotebooks(ctx context.Context, a, b int64) ([]CellMatch, error) {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	left, err := s.cells.List(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells of notebook %d: %w", a, err)
	}
	right, err := s.cells.List(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells of notebook %d: %w", b, err)
	}

	var matches []CellMatch
	for _, l := range left {
		for _, r := range right {
			d, err := fingerprint.FuzzyDistance(l.FuzzyDigest, r.FuzzyDigest)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", apperrors.ErrFingerprintFailure, err)
			}
			if d > s.fuzzyThreshold {
				continue
			}
			matches = append(matches, CellMatch{
				CellA:    l.CellNumber,
				CellB:    r.CellNumber,
				Distance: d,
				Exact:    l.Digest == r.Digest,
			})
		}
	}
	return matches, nil
}

func (s *fingerprintService) LinkSimilar(ctx context.Context, notebookID int64) ([]models.Similarity, error) {
	unlock, err := s.locks.Lock(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock notebook %d: %w", notebookID, err)
	}
	defer unlock()

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	cells, err := s.cells.List(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells of notebook %d: %w", notebookID, err)
	}

	var edges []models.Similarity
	if len(cells) > 0 {
		shared, err := s.cells.SharedDigests(ctx, notebookID)
		if err != nil {
			return nil, fmt.Errorf("failed to find shared cells: %w", err)
		}
		for other, n := range shared {
			edges = append(edges, models.Similarity{
				NotebookID:      notebookID,
				OtherNotebookID: other,
				Score:           float64(n) / float64(len(cells)),
			})
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Score != edges[j].Score {
				return edges[i].Score > edges[j].Score
			}
			return edges[i].OtherNotebookID < edges[j].OtherNotebookID
		})
	}

	if err := s.similarities.ReplaceFrom(ctx, notebookID, edges); err != nil {
		return nil, fmt.Errorf("failed to store similarities: %w", err)
	}
	s.logger.Debug("Similarity edges linked",
		zap.Int64("notebook_id", notebookID),
		zap.Int("edges", len(edges)))
	return edges, nil
}
