// Package cache keeps search pages in Redis so repeated pipelines skip the database.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/internal/logger"
	"github.com/davidschrooten/atlas-search-query/internal/query"
)

const keyPrefix = "asq:search:"

// kv is the subset of redis.Cmdable the store needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store wraps a query.Store and caches successful aggregation results for ttl.
// Cache failures are logged and fall through to the wrapped store.
type Store struct {
	next   query.Store
	kv     kv
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore creates a caching store in front of next.
func NewStore(next query.Store, client redis.Cmdable, ttl time.Duration, log *zap.Logger) *Store {
	return &Store{next: next, kv: client, ttl: ttl, logger: logger.OrNop(log)}
}

type entry struct {
	Results []bson.M `bson:"results"`
}

// Aggregate implements query.Store.
func (s *Store) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	log := logger.FromContext(ctx, s.logger)

	key, err := Key(collection, pipeline)
	if err != nil {
		log.Warn("pipeline not cacheable", zap.Error(err))
		return s.next.Aggregate(ctx, collection, pipeline)
	}

	raw, err := s.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached entry
		if err := bson.Unmarshal(raw, &cached); err == nil {
			log.Debug("search cache hit", zap.String("key", key))
			return cached.Results, nil
		}
		log.Warn("discarding unreadable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		log.Warn("search cache read failed", zap.Error(err))
	}

	results, err := s.next.Aggregate(ctx, collection, pipeline)
	if err != nil {
		return nil, err
	}

	data, err := bson.Marshal(entry{Results: results})
	if err != nil {
		log.Warn("failed to encode cache entry", zap.Error(err))
		return results, nil
	}
	if err := s.kv.Set(ctx, key, data, s.ttl).Err(); err != nil {
		log.Warn("search cache write failed", zap.Error(err))
	}
	return results, nil
}

// Key derives the cache key of a pipeline on collection. Maps are hashed with
// sorted keys so equal pipelines share a key.
func Key(collection string, pipeline mongo.Pipeline) (string, error) {
	stages := make(bson.A, 0, len(pipeline))
	for _, st := range pipeline {
		stages = append(stages, canonical(st))
	}
	data, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: stages}}, true, false)
	if err != nil {
		return "", fmt.Errorf("failed to encode pipeline: %w", err)
	}
	sum := sha256.Sum256(data)
	return keyPrefix + collection + ":" + hex.EncodeToString(sum[:]), nil
}

// canonical rewrites maps as key-sorted documents, recursively.
func canonical(v any) any {
	switch val := v.(type) {
	case bson.M:
		return sortedDoc(val)
	case map[string]any:
		return sortedDoc(val)
	case bson.D:
		out := make(bson.D, len(val))
		for i, e := range val {
			out[i] = bson.E{Key: e.Key, Value: canonical(e.Value)}
		}
		return out
	case bson.A:
		return canonicalList(val)
	case []any:
		return canonicalList(val)
	case []bson.M:
		out := make(bson.A, len(val))
		for i, m := range val {
			out[i] = sortedDoc(m)
		}
		return out
	case []bson.D:
		out := make(bson.A, len(val))
		for i, d := range val {
			out[i] = canonical(d)
		}
		return out
	default:
		return v
	}
}

func sortedDoc(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: canonical(m[k])})
	}
	return out
}

func canonicalList(items []any) bson.A {
	out := make(bson.A, len(items))
	for i, item := range items {
		out[i] = canonical(item)
	}
	return out
}
