package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"productstream/internal/pkg/redis"
	"productstream/internal/service/productstream/domain"
)

const streamCacheKeyPattern = "productstream:stream:{%d}"

type cachedStream struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Conditions  *domain.Conditions `json:"conditions"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// CachedStreamRepository 在 StreamRepository 前加一层 Redis 读穿缓存。
// 缓存故障只记录日志，不影响读写主流程。
type CachedStreamRepository struct {
	inner domain.StreamRepository
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedStreamRepository(inner domain.StreamRepository, client *redis.Client, ttl time.Duration) *CachedStreamRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStreamRepository{inner: inner, redis: client, ttl: ttl}
}

func streamCacheKey(id int64) string {
	return fmt.Sprintf(streamCacheKeyPattern, id)
}

func (r *CachedStreamRepository) FindByID(ctx context.Context, id int64) (*domain.ProductStream, error) {
	key := streamCacheKey(id)

	raw, err := r.redis.GetClient().Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedStream
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return &domain.ProductStream{
				StreamID:    cached.ID,
				Name:        cached.Name,
				Description: cached.Description,
				Filters:     cached.Conditions,
				CreatedAt:   cached.CreatedAt,
				UpdatedAt:   cached.UpdatedAt,
			}, nil
		}
		zlog.Warn().Str("key", key).Msg("corrupt product stream cache entry, reloading")
	case !errors.Is(err, goredis.Nil):
		zlog.Warn().Err(err).Str("key", key).Msg("product stream cache read failed")
	}

	stream, err := r.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, stream)
	return stream, nil
}

func (r *CachedStreamRepository) Save(ctx context.Context, stream *domain.ProductStream) error {
	if err := r.inner.Save(ctx, stream); err != nil {
		return err
	}
	if err := r.Invalidate(ctx, stream.StreamID); err != nil {
		zlog.Warn().Err(err).Int64("stream", stream.StreamID).Msg("product stream cache invalidation failed")
	}
	return nil
}

// Invalidate 删除一个商品流的缓存。
func (r *CachedStreamRepository) Invalidate(ctx context.Context, id int64) error {
	if err := r.redis.GetClient().Del(ctx, streamCacheKey(id)).Err(); err != nil {
		return pkgerrors.Wrapf(err, "invalidate product stream %d", id)
	}
	return nil
}

func (r *CachedStreamRepository) store(ctx context.Context, stream *domain.ProductStream) {
	raw, err := json.Marshal(cachedStream{
		ID:          stream.StreamID,
		Name:        stream.Name,
		Description: stream.Description,
		Conditions:  stream.Conditions(),
		CreatedAt:   stream.CreatedAt,
		UpdatedAt:   stream.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := r.redis.GetClient().Set(ctx, streamCacheKey(stream.StreamID), raw, r.ttl).Err(); err != nil {
		zlog.Warn().Err(err).Int64("stream", stream.StreamID).Msg("product stream cache write failed")
	}
}
