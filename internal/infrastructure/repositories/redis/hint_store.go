package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vigia/internal/core/domain"
	"vigia/internal/core/ports"
)

// HintStore persists observer recovery hints in Redis so an observer can
// resume its watching set after a reload from any host. Keys carry the
// category; the entry TTL matches the hint TTL so stale intent simply ages
// out.
type HintStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewHintStore(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *HintStore {
	return &HintStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(category int64) string {
	return fmt.Sprintf("vigia:watching:%d", category)
}

func (s *HintStore) Load(ctx context.Context, category int64) (*domain.WatchingHint, error) {
	data, err := s.client.Get(ctx, key(category)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watching hint: %w", err)
	}

	var hint domain.WatchingHint
	if err := json.Unmarshal(data, &hint); err != nil {
		// A corrupt hint is treated as absent, not fatal: recovery is
		// best-effort by contract.
		s.logger.Warnw("discarding corrupt watching hint", "category", category, "error", err)
		return nil, nil
	}

	if hint.Category != category || time.Since(hint.SavedAt) > s.ttl {
		return nil, nil
	}
	return &hint, nil
}

func (s *HintStore) Save(ctx context.Context, hint domain.WatchingHint) error {
	data, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("failed to marshal watching hint: %w", err)
	}

	if err := s.client.Set(ctx, key(hint.Category), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save watching hint: %w", err)
	}
	return nil
}

var _ ports.HintStore = (*HintStore)(nil)
