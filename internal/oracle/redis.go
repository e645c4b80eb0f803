package oracle

import (
	"LendLedger/internal/event"
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads prices and NFT metadata published into Redis.
//
// Key schema:
//
//	price:{mint}  - hash with "mantissa" and "scale"
//	nft:{mint}    - hash with "creator"
type RedisSource struct {
	rdb *redis.Client
}

// NewRedisSource connects and pings Redis.
func NewRedisSource(ctx context.Context, addr, password string, db int) (*RedisSource, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisSource{rdb: rdb}, nil
}

func priceKey(mint string) string { return "price:" + mint }
func nftKey(mint string) string   { return "nft:" + mint }

func (s *RedisSource) Price(ctx context.Context, mint string) (event.OraclePrice, error) {
	fields, err := s.rdb.HGetAll(ctx, priceKey(mint)).Result()
	if err != nil {
		return event.OraclePrice{}, fmt.Errorf("redis: price %s: %w", mint, err)
	}
	return parsePrice(mint, fields)
}

func (s *RedisSource) Creator(ctx context.Context, nftMint string) (string, error) {
	creator, err := s.rdb.HGet(ctx, nftKey(nftMint), "creator").Result()
	if err == redis.Nil {
		return "", fmt.Errorf("nft %s: %w", nftMint, ErrNoMetadata)
	}
	if err != nil {
		return "", fmt.Errorf("redis: nft %s: %w", nftMint, err)
	}
	return creator, nil
}

// PublishPrice writes a price; used by operators and local tooling.
func (s *RedisSource) PublishPrice(ctx context.Context, mint string, p event.OraclePrice) error {
	return s.rdb.HSet(ctx, priceKey(mint),
		"mantissa", strconv.FormatInt(p.Mantissa, 10),
		"scale", strconv.FormatUint(uint64(p.Scale), 10),
	).Err()
}

func (s *RedisSource) PublishCreator(ctx context.Context, nftMint, creator string) error {
	return s.rdb.HSet(ctx, nftKey(nftMint), "creator", creator).Err()
}

func (s *RedisSource) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (s *RedisSource) Close() error {
	return s.rdb.Close()
}
