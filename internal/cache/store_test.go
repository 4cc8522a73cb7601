package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/davidschrooten/atlas-search-query/internal/query"
)

type memoryKV struct {
	data    map[string]string
	ttls    map[string]time.Duration
	readErr error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Get(_ context.Context, key string) *redis.StringCmd {
	if m.readErr != nil {
		return redis.NewStringResult("", m.readErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = string(value.([]byte))
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

type countingStore struct {
	calls   int
	results []bson.M
	err     error
}

func (c *countingStore) Aggregate(context.Context, string, mongo.Pipeline) ([]bson.M, error) {
	c.calls++
	return c.results, c.err
}

var pipeline = mongo.Pipeline{{{Key: "$search", Value: bson.D{{Key: "index", Value: "content"}}}}}

func newTestStore(next *countingStore, kv *memoryKV) *Store {
	return &Store{next: next, kv: kv, ttl: time.Minute}
}

func TestStore_CachesResults(t *testing.T) {
	next := &countingStore{results: []bson.M{{"docs": bson.A{}, "meta": bson.A{}}}}
	kv := newMemoryKV()
	s := newTestStore(next, kv)

	first, err := s.Aggregate(context.Background(), "content", pipeline)
	require.NoError(t, err)
	second, err := s.Aggregate(context.Background(), "content", pipeline)
	require.NoError(t, err)

	require.Equal(t, 1, next.calls)
	require.Len(t, second, 1)
	require.Len(t, first, 1)

	key, err := Key("content", pipeline)
	require.NoError(t, err)
	require.Equal(t, time.Minute, kv.ttls[key])
}

func TestStore_DoesNotCacheFailures(t *testing.T) {
	next := &countingStore{err: errors.New("boom")}
	kv := newMemoryKV()
	s := newTestStore(next, kv)

	_, err := s.Aggregate(context.Background(), "content", pipeline)
	require.Error(t, err)
	_, err = s.Aggregate(context.Background(), "content", pipeline)
	require.Error(t, err)
	require.Equal(t, 2, next.calls)
	require.Empty(t, kv.data)
}

func TestStore_FallsThroughOnCacheErrors(t *testing.T) {
	next := &countingStore{results: []bson.M{{"docs": bson.A{}}}}
	kv := newMemoryKV()
	kv.readErr = errors.New("redis down")
	s := newTestStore(next, kv)

	results, err := s.Aggregate(context.Background(), "content", pipeline)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, next.calls)

	key, _ := Key("content", pipeline)
	kv.readErr = nil
	kv.data[key] = "not bson"
	_, err = s.Aggregate(context.Background(), "content", pipeline)
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestNewStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	s := NewStore(&countingStore{}, client, 30*time.Second, nil)
	require.Equal(t, 30*time.Second, s.ttl)
	require.NotNil(t, s.kv)
	require.NotNil(t, s.logger)
}

func TestKey(t *testing.T) {
	a, err := Key("content", pipeline)
	require.NoError(t, err)
	b, err := Key("other", pipeline)
	require.NoError(t, err)
	c, err := Key("content", mongo.Pipeline{{{Key: "$search", Value: bson.D{{Key: "index", Value: "other"}}}}})
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
	require.Contains(t, a, keyPrefix+"content:")
}

func TestKey_StableForMapClauses(t *testing.T) {
	text := query.BuildTextSearch("red widget", bson.D{{Key: "name", Value: 1}}, []string{"name", "description"})
	build := func() mongo.Pipeline {
		return mongo.Pipeline{
			{{Key: "$search", Value: bson.D{
				{Key: "index", Value: "content"},
				{Key: "compound", Value: bson.M{
					"must":               text.Must,
					"should":             text.Should,
					"minimumShouldMatch": 0,
				}},
			}}},
			{{Key: "$sort", Value: text.Sort}},
		}
	}

	want, err := Key("content", build())
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := Key("content", build())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	changed := build()
	changed[1] = bson.D{{Key: "$sort", Value: bson.D{{Key: "name", Value: -1}}}}
	other, err := Key("content", changed)
	require.NoError(t, err)
	require.NotEqual(t, want, other)
}
