package memory

import (
	"context"
	"fmt"
	"time"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
	"vigia/pkg/cache"
)

// HintStore keeps recovery hints in process memory. Useful for single-host
// deployments and tests; the redis implementation covers everything else.
type HintStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewHintStore(ttl time.Duration) *HintStore {
	return &HintStore{
		cache: cache.New(ttl),
		ttl:   ttl,
	}
}

func hintKey(category int64) string {
	return fmt.Sprintf("watching:%d", category)
}

func (s *HintStore) Load(ctx context.Context, category int64) (*domain.WatchingHint, error) {
	v, ok := s.cache.Get(hintKey(category))
	if !ok {
		return nil, nil
	}

	hint := v.(domain.WatchingHint)
	// The cache TTL already bounds age; the checks below also reject hints
	// carried over from a different category or clock skew.
	if hint.Category != category || time.Since(hint.SavedAt) > s.ttl {
		return nil, nil
	}
	return &hint, nil
}

func (s *HintStore) Save(ctx context.Context, hint domain.WatchingHint) error {
	s.cache.Set(hintKey(hint.Category), hint)
	return nil
}

// Close stops the backing cache's cleanup goroutine.
func (s *HintStore) Close() {
	s.cache.Stop()
}

var _ ports.HintStore = (*HintStore)(nil)
