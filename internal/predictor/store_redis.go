package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix 制品键前缀
const DefaultRedisPrefix = "queue:model:"

// RedisArtifactStore Redis 制品存储
//
//	<prefix><name>           制品 JSON
//	<prefix>index            ZSET，member = name，score = 发布时间（毫秒）
//	<prefix>archive:<name>   归档后的制品
type RedisArtifactStore struct {
	client *redis.Client
	prefix string
}

// NewRedisArtifactStore 创建 Redis 制品存储
func NewRedisArtifactStore(client *redis.Client, prefix string) *RedisArtifactStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisArtifactStore{client: client, prefix: prefix}
}

func (s *RedisArtifactStore) indexKey() string           { return s.prefix + "index" }
func (s *RedisArtifactStore) key(name string) string     { return s.prefix + name }
func (s *RedisArtifactStore) archiveKey(n string) string { return s.prefix + "archive:" + n }

func (s *RedisArtifactStore) List(ctx context.Context) ([]ArtifactRef, error) {
	members, err := s.client.ZRangeWithScores(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	refs := make([]ArtifactRef, 0, len(members))
	for _, m := range members {
		name, ok := m.Member.(string)
		if !ok {
			continue
		}
		scope, version, err := ParseArtifactName(name)
		if err != nil {
			continue
		}
		refs = append(refs, ArtifactRef{
			Name:        name,
			Scope:       scope,
			Version:     version,
			PublishedAt: time.UnixMilli(int64(m.Score)),
		})
	}
	return refs, nil
}

func (s *RedisArtifactStore) Load(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(ref.Name)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("artifact %s: key missing", ref.Name)
	}
	return raw, err
}

func (s *RedisArtifactStore) Archive(ctx context.Context, ref ArtifactRef) error {
	pipe := s.client.TxPipeline()
	pipe.Rename(ctx, s.key(ref.Name), s.archiveKey(ref.Name))
	pipe.ZRem(ctx, s.indexKey(), ref.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to archive %s: %w", ref.Name, err)
	}
	return nil
}

// Publish 写入制品并更新索引
func (s *RedisArtifactStore) Publish(ctx context.Context, a Artifact) (ArtifactRef, error) {
	scope, err := ParseScope(a.Scope)
	if err != nil {
		return ArtifactRef{}, err
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = time.Now()
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return ArtifactRef{}, err
	}

	name := ArtifactName(scope, a.Version)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(name), raw, 0)
	pipe.ZAdd(ctx, s.indexKey(), &redis.Z{Score: float64(a.PublishedAt.UnixMilli()), Member: name})
	if _, err := pipe.Exec(ctx); err != nil {
		return ArtifactRef{}, fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return ArtifactRef{Name: name, Scope: scope, Version: a.Version, PublishedAt: time.UnixMilli(a.PublishedAt.UnixMilli())}, nil
}
