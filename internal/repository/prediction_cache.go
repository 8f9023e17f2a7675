package repository

import (
	"context"
	"errors"
	"time"

	"BizHealth/internal/domain/models"
	"BizHealth/internal/domain/repository"
	"BizHealth/pkg/cache"
)

// PredictionCache implements ResultCache on top of a cache.Service.
type PredictionCache struct {
	svc cache.Service
}

func NewPredictionCache(svc cache.Service) repository.ResultCache {
	return &PredictionCache{svc: svc}
}

func (c *PredictionCache) Get(ctx context.Context, key string) (*models.PredictionResult, bool, error) {
	var res models.PredictionResult
	err := c.svc.Get(ctx, key, &res)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

func (c *PredictionCache) Set(ctx context.Context, key string, res *models.PredictionResult, ttl time.Duration) error {
	return c.svc.Set(ctx, key, res, ttl)
}
