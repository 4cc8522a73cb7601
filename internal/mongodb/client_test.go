package mongodb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davidschrooten/atlas-search-query/config"
)

func TestNewClient(t *testing.T) {
	c := NewClient(config.MongoDBConfig{Database: "search", Timeout: 5}, nil)
	require.Equal(t, "mongodb://localhost:27017", c.uri)
	require.Equal(t, "search", c.Database())
	require.Equal(t, 5*time.Second, c.timeout)

	c = NewClient(config.MongoDBConfig{URI: "mongodb://db:27017"}, nil)
	require.Equal(t, "mongodb://db:27017", c.uri)
	require.Equal(t, 30*time.Second, c.timeout)
}

func TestConnect_DialsOnceUnderConcurrency(t *testing.T) {
	driver, err := mongo.NewClient(options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)

	var dials int32
	c := NewClient(config.MongoDBConfig{Database: "search"}, nil)
	c.dial = func(ctx context.Context, uri string) (*mongo.Client, error) {
		atomic.AddInt32(&dials, 1)
		time.Sleep(10 * time.Millisecond)
		return driver, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&dials))
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestConnect_RetriesAfterFailure(t *testing.T) {
	driver, err := mongo.NewClient(options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)

	dialErr := errors.New("server selection timeout")
	var dials int32
	c := NewClient(config.MongoDBConfig{Database: "search"}, nil)
	c.dial = func(context.Context, string) (*mongo.Client, error) {
		if atomic.AddInt32(&dials, 1) == 1 {
			return nil, dialErr
		}
		return driver, nil
	}

	require.ErrorIs(t, c.Connect(context.Background()), dialErr)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, int32(2), atomic.LoadInt32(&dials))

	coll, err := c.collection(context.Background(), "content")
	require.NoError(t, err)
	require.Equal(t, "content", coll.Name())
}

func TestConnect_IgnoresCallerCancellation(t *testing.T) {
	driver, err := mongo.NewClient(options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)

	c := NewClient(config.MongoDBConfig{Database: "search", Timeout: 5}, nil)
	c.dial = func(ctx context.Context, _ string) (*mongo.Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		require.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
		return driver, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(context.Background()))
}

func TestOperations_SurfaceConnectError(t *testing.T) {
	dialErr := errors.New("auth failed")
	c := NewClient(config.MongoDBConfig{Database: "search"}, nil)
	c.dial = func(context.Context, string) (*mongo.Client, error) { return nil, dialErr }

	ctx := context.Background()

	_, err := c.Aggregate(ctx, "content", mongo.Pipeline{})
	require.ErrorIs(t, err, dialErr)

	_, err = c.FindByField(ctx, "content", "indexedDocumentId", "1")
	require.ErrorIs(t, err, dialErr)

	require.ErrorIs(t, c.InsertOne(ctx, "content", nil), dialErr)
	require.ErrorIs(t, c.UpdateByID(ctx, "content", 1, nil), dialErr)
	require.ErrorIs(t, c.DeleteByID(ctx, "content", 1), dialErr)

	_, err = c.DeleteMany(ctx, "content", "indexedDocumentId", "1")
	require.ErrorIs(t, err, dialErr)

	require.NoError(t, c.Disconnect(ctx))
}

func TestConnect_SharesClient(t *testing.T) {
	// mongo.NewClient does not touch the network.
	driver, err := mongo.NewClient(options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)

	var dials int32
	c := NewClient(config.MongoDBConfig{Database: "search"}, nil)
	c.dial = func(context.Context, string) (*mongo.Client, error) {
		atomic.AddInt32(&dials, 1)
		return driver, nil
	}

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, int32(1), dials)

	coll, err := c.collection(context.Background(), "content")
	require.NoError(t, err)
	require.Equal(t, "content", coll.Name())
	require.Equal(t, "search", coll.Database().Name())
}
