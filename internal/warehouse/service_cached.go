package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"mall/internal/event"
)

type cachedService struct {
	next        Service
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewCachedService(next Service, redisClient *redis.Client) Service {
	return &cachedService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    time.Minute,
	}
}

func stockKey(skuid string) string {
	return fmt.Sprintf("stock:%s", skuid)
}

func (s *cachedService) StockBySKU(ctx context.Context, skuid string) (*StockSummary, error) {
	key := stockKey(skuid)

	val, err := s.redisClient.Get(ctx, key).Result()
	if err == nil {
		var summary StockSummary
		if err := json.Unmarshal([]byte(val), &summary); err == nil {
			return &summary, nil
		}
	}

	summary, err := s.next.StockBySKU(ctx, skuid)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(summary); err == nil {
		s.redisClient.Set(ctx, key, data, s.cacheTTL)
	}

	return summary, nil
}

func (s *cachedService) ReserveAndDeduct(ctx context.Context, tx pgx.Tx, evt *event.SettlementEvent) error {
	if err := s.next.ReserveAndDeduct(ctx, tx, evt); err != nil {
		return err
	}

	// Invalidation is best effort: the delete runs before the surrounding
	// transaction commits, so a read racing the commit can re-cache the
	// pre-deduction summary. Any such staleness lasts at most cacheTTL.
	for _, item := range evt.Data.Items {
		s.redisClient.Del(ctx, stockKey(item.SKUID))
	}

	return nil
}
