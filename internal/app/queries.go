package app

import (
	"context"
	"fmt"
	"time"

	"staysync/internal/domain"
)

// QueryService serves the review queue. Reads are cached; the import service
// and resolver invalidate the batch key whenever they change what the queue
// should show.
type QueryService struct {
	conflicts domain.ConflictStore
	cache     domain.Cache
	cacheTTL  time.Duration
}

func NewQueryService(c domain.ConflictStore, cache domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{conflicts: c, cache: cache, cacheTTL: ttl}
}

func (s *QueryService) ListConflicts(ctx context.Context, batchID string) ([]domain.ConflictReport, error) {
	key := conflictsCacheKey(batchID)
	var out []domain.ConflictReport
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}

	reports, err := s.conflicts.ListConflicts(ctx, batchID)
	if err != nil {
		return nil, err
	}

	// copy before caching so callers mutating the result cannot poison the
	// cached value
	cp := make([]domain.ConflictReport, len(reports))
	copy(cp, reports)
	_ = s.cache.Set(ctx, key, cp, int(s.cacheTTL.Seconds()))
	return reports, nil
}

func conflictsCacheKey(batchID string) string {
	return fmt.Sprintf("conflicts:%s", batchID)
}
