package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/artifacts"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/wordcloud"
)

const leasePollInterval = 250 * time.Millisecond

// ArtifactStore persists generated artifacts. *artifacts.Store implements it.
type ArtifactStore interface {
	Stat(id uuid.UUID) (artifacts.Paths, bool, error)
	Publish(id uuid.UUID, image, imageMap []byte) (artifacts.Paths, error)
	Remove(id uuid.UUID) error
}

// CloudGenerator renders a word cloud. *wordcloud.Generator implements it.
type CloudGenerator interface {
	Generate(ctx context.Context, keywords []models.Keyword) (*wordcloud.Cloud, error)
	ImageMap(name string, regions []wordcloud.Region) []byte
}

var (
	_ ArtifactStore  = (*artifacts.Store)(nil)
	_ CloudGenerator = (*wordcloud.Generator)(nil)
)

// ArtifactCacheConfig holds the cache timings.
type ArtifactCacheConfig struct {
	TTL               time.Duration
	GenerationTimeout time.Duration
}

// ArtifactCache serves per-notebook word clouds, regenerating them when stale.
type ArtifactCache interface {
	// EnsureCurrent returns fresh artifacts, generating them first if needed.
	// Concurrent callers for the same notebook share one generation. A
	// caller whose context ends stops waiting without affecting the others.
	EnsureCurrent(ctx context.Context, nb *models.Notebook, keywords []models.Keyword) (artifacts.Paths, error)

	// Current looks the artifacts up without generating. fresh is false when
	// they are missing or stale.
	Current(nb *models.Notebook) (paths artifacts.Paths, fresh bool, err error)

	// Remove deletes the notebook's artifacts. Missing artifacts are not an error.
	Remove(nb *models.Notebook) error
}

type artifactCache struct {
	store     ArtifactStore
	generator CloudGenerator
	lease     Lease
	cfg       ArtifactCacheConfig
	flights   singleflight.Group
	now       func() time.Time
	logger    *zap.Logger
}

func NewArtifactCache(
	store ArtifactStore,
	generator CloudGenerator,
	lease Lease,
	cfg ArtifactCacheConfig,
	logger *zap.Logger,
) ArtifactCache {
	if lease == nil {
		lease = NopLease{}
	}
	return &artifactCache{
		store:     store,
		generator: generator,
		lease:     lease,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Named("artifact-cache"),
	}
}

var _ ArtifactCache = (*artifactCache)(nil)

func (c *artifactCache) Current(nb *models.Notebook) (artifacts.Paths, bool, error) {
	p, ok, err := c.store.Stat(nb.UUID)
	if err != nil {
		return artifacts.Paths{}, false, fmt.Errorf("failed to stat artifacts: %w", err)
	}
	return p, ok && c.isFresh(nb, p), nil
}

// isFresh applies the staleness rules: older than the TTL, or generated
// before the notebook's content last changed.
func (c *artifactCache) isFresh(nb *models.Notebook, p artifacts.Paths) bool {
	if c.now().Sub(p.GeneratedAt) > c.cfg.TTL {
		return false
	}
	return !p.GeneratedAt.Before(nb.ContentUpdatedAt)
}

func (c *artifactCache) EnsureCurrent(ctx context.Context, nb *models.Notebook, keywords []models.Keyword) (artifacts.Paths, error) {
	p, fresh, err := c.Current(nb)
	if err != nil {
		return artifacts.Paths{}, err
	}
	if fresh {
		return p, nil
	}

	// The flight outlives any single waiter, so it runs detached from the
	// caller's cancellation and is bounded by the generation timeout alone.
	ch := c.flights.DoChan(nb.UUID.String(), func() (any, error) {
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.GenerationTimeout)
		defer cancel()
		return c.regenerate(genCtx, nb, keywords)
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return artifacts.Paths{}, fmt.Errorf("%w: %w", apperrors.ErrGenerationTimeout, ctx.Err())
		}
		return artifacts.Paths{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return artifacts.Paths{}, res.Err
		}
		return res.Val.(artifacts.Paths), nil
	}
}

func (c *artifactCache) regenerate(ctx context.Context, nb *models.Notebook, keywords []models.Keyword) (artifacts.Paths, error) {
	// A flight that finished just before this one started may already have
	// published.
	if p, fresh, err := c.Current(nb); err == nil && fresh {
		return p, nil
	}

	release, p, done, err := c.acquireLease(ctx, nb)
	if err != nil {
		return artifacts.Paths{}, err
	}
	if done {
		return p, nil
	}
	defer release()

	start := c.now()
	cloud, err := c.generator.Generate(ctx, keywords)
	if ctx.Err() != nil {
		c.logger.Warn("Word cloud generation timed out",
			zap.String("notebook_id", nb.UUID.String()),
			zap.Duration("timeout", c.cfg.GenerationTimeout))
		return artifacts.Paths{}, fmt.Errorf("%w: %w", apperrors.ErrGenerationTimeout, ctx.Err())
	}
	if err != nil {
		return artifacts.Paths{}, fmt.Errorf("failed to generate word cloud: %w", err)
	}

	imageMap := c.generator.ImageMap("wordcloud-"+nb.UUID.String(), cloud.Regions)
	p, err = c.store.Publish(nb.UUID, cloud.PNG, imageMap)
	if err != nil {
		return artifacts.Paths{}, fmt.Errorf("failed to publish word cloud: %w", err)
	}

	c.logger.Info("Word cloud generated",
		zap.String("notebook_id", nb.UUID.String()),
		zap.Int("words", len(cloud.Regions)),
		zap.Duration("elapsed", c.now().Sub(start)))
	return p, nil
}

// acquireLease takes the cross-process lease. While another process holds
// it, acquireLease polls until either the lease frees up or that process
// has published fresh artifacts (done is then true). A lease backend
// failure degrades to in-process deduplication only.
func (c *artifactCache) acquireLease(ctx context.Context, nb *models.Notebook) (func(), artifacts.Paths, bool, error) {
	key := "wordcloud:" + nb.UUID.String()
	for {
		release, ok, err := c.lease.Acquire(ctx, key)
		if err != nil {
			c.logger.Warn("Lease unavailable, generating without it",
				zap.String("notebook_id", nb.UUID.String()),
				zap.Error(err))
			return func() {}, artifacts.Paths{}, false, nil
		}
		if ok {
			return release, artifacts.Paths{}, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, artifacts.Paths{}, false, fmt.Errorf("%w: waiting for lease: %w", apperrors.ErrGenerationTimeout, ctx.Err())
		case <-time.After(leasePollInterval):
		}
		if p, fresh, err := c.Current(nb); err == nil && fresh {
			return nil, p, true, nil
		}
	}
}

func (c *artifactCache) Remove(nb *models.Notebook) error {
	if err := c.store.Remove(nb.UUID); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}
	return nil
}
