package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/logger"
)

// ErrNotConnected is returned when the connection was closed while in use.
var ErrNotConnected = errors.New("mongodb client is not connected")

type dialFunc func(ctx context.Context, uri string) (*mongo.Client, error)

// Client wraps the MongoDB driver. The connection is established lazily on first use.
// Concurrent callers share one attempt; only a successful connection is kept, so a
// failed attempt is retried by the next call.
type Client struct {
	uri      string
	database string
	timeout  time.Duration
	logger   *zap.Logger
	dial     dialFunc

	mu       sync.Mutex
	client   *mongo.Client
	inflight *attempt
}

// attempt is a connection attempt in progress; done is closed once err is set.
type attempt struct {
	done chan struct{}
	err  error
}

// NewClient creates a MongoDB client without connecting.
func NewClient(cfg config.MongoDBConfig, log *zap.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		uri:      cfg.GetMongoURI(),
		database: cfg.Database,
		timeout:  timeout,
		logger:   logger.OrNop(log),
		dial:     dial,
	}
}

func dial(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// Connect establishes the connection if there is none yet. The dial is detached
// from the caller's cancellation and bounded by the configured timeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	if a := c.inflight; a != nil {
		c.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &attempt{done: make(chan struct{})}
	c.inflight = a
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	client, err := c.dial(dialCtx, c.uri)
	cancel()

	c.mu.Lock()
	if err == nil {
		c.client = client
	}
	c.inflight = nil
	a.err = err
	c.mu.Unlock()
	close(a.done)

	if err != nil {
		c.logger.Error("mongodb connection failed", zap.Error(err))
		return err
	}
	c.logger.Info("connected to mongodb", zap.String("database", c.database))
	return nil
}

// Disconnect closes the MongoDB connection if one was opened.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	coll, err := c.collection(ctx, "")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return coll.Database().Client().Ping(ctx, nil)
}

// Database returns the configured database name.
func (c *Client) Database() string { return c.database }

func (c *Client) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client.Database(c.database).Collection(name), nil
}

// Aggregate runs pipeline against collection and decodes every result record.
func (c *Client) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	coll, err := c.collection(ctx, collection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", collection, err)
	}

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode aggregation results: %w", err)
	}
	return results, nil
}

// FindByField returns every document whose field equals value.
func (c *Client) FindByField(ctx context.Context, collection, field string, value any) ([]bson.M, error) {
	coll, err := c.collection(ctx, collection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cursor, err := coll.Find(ctx, bson.M{field: value})
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

// InsertOne inserts doc into collection.
func (c *Client) InsertOne(ctx context.Context, collection string, doc bson.M) error {
	coll, err := c.collection(ctx, collection)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// UpdateByID sets the fields of doc on the document with the given _id, inserting it if missing.
func (c *Client) UpdateByID(ctx context.Context, collection string, id any, doc bson.M) error {
	coll, err := c.collection(ctx, collection)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	set := make(bson.M, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		set[k] = v
	}

	opts := options.Update().SetUpsert(true)
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts); err != nil {
		return fmt.Errorf("failed to update document %v: %w", id, err)
	}
	return nil
}

// DeleteByID removes the document with the given _id.
func (c *Client) DeleteByID(ctx context.Context, collection string, id any) error {
	coll, err := c.collection(ctx, collection)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete document %v: %w", id, err)
	}
	return nil
}

// DeleteMany removes every document whose field equals value and returns how many were removed.
func (c *Client) DeleteMany(ctx context.Context, collection, field string, value any) (int64, error) {
	coll, err := c.collection(ctx, collection)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := coll.DeleteMany(ctx, bson.M{field: value})
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return result.DeletedCount, nil
}
