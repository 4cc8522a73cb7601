package query

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/internal/logger"
	"github.com/davidschrooten/atlas-search-query/internal/metrics"
)

// Query runs paginated searches for one Domain.
type Query struct {
	store  Store
	domain Domain
	index  string
	logger *zap.Logger
}

// Option configures a Query.
type Option func(*Query)

// WithIndex overrides the search index name, which defaults to the collection name.
func WithIndex(name string) Option {
	return func(q *Query) { q.index = name }
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(q *Query) { q.logger = l }
}

// New creates a Query running domain searches against store.
func New(store Store, domain Domain, opts ...Option) *Query {
	q := &Query{store: store, domain: domain}
	for _, opt := range opts {
		opt(q)
	}
	if q.index == "" {
		q.index = domain.Collection()
	}
	q.logger = logger.OrNop(q.logger)
	return q
}

// Collection returns the searched collection.
func (q *Query) Collection() string { return q.domain.Collection() }

// Pipeline builds the aggregation pipeline for req without running it.
func (q *Query) Pipeline(ctx context.Context, req Request) (mongo.Pipeline, error) {
	if req.PageSize <= 0 {
		return nil, invalidRequest(fmt.Sprintf("pageSize must be positive, got %d", req.PageSize))
	}
	if req.PageNum < 0 {
		return nil, invalidRequest(fmt.Sprintf("pageNum must not be negative, got %d", req.PageNum))
	}

	clauses, err := q.domain.BuildSearchOptions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build search options for %s: %w", q.domain.Collection(), err)
	}
	if len(clauses.Sort) == 0 {
		return nil, invalidRequest("search options for " + q.domain.Collection() + " define no sort")
	}

	return buildPipeline(q.index, req, clauses), nil
}

// Run builds the pipeline for req, executes it once and formats the single result record.
func (q *Query) Run(ctx context.Context, req Request) (*Page, error) {
	log := logger.FromContext(ctx, q.logger).With(zap.String("collection", q.Collection()))

	pipeline, err := q.Pipeline(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Verbose {
		log.Info("search params", zap.Any("request", req))
		log.Info("atlas search query", zap.String("pipeline", explain(pipeline)))
	}

	start := time.Now()
	results, err := q.store.Aggregate(ctx, q.Collection(), pipeline)
	metrics.QueryDuration.WithLabelValues(q.Collection()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(q.Collection(), "error").Inc()
		log.Error("mongo query error", zap.Error(err))
		return nil, executionError(err)
	}

	page, err := q.formatResults(results, req, log)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(q.Collection(), "bad_shape").Inc()
		return nil, err
	}
	metrics.QueriesTotal.WithLabelValues(q.Collection(), "ok").Inc()
	return page, nil
}

type aggregationResult struct {
	Docs []bson.M `bson:"docs"`
	Meta []bson.M `bson:"meta"`
}

func (q *Query) formatResults(results []bson.M, req Request, log *zap.Logger) (*Page, error) {
	if len(results) != 1 {
		return nil, shapeError(fmt.Sprintf("expected 1 result record, got %d", len(results)))
	}

	raw, err := bson.Marshal(results[0])
	if err != nil {
		return nil, shapeError(err.Error())
	}
	var result aggregationResult
	if err := bson.Unmarshal(raw, &result); err != nil {
		return nil, shapeError(err.Error())
	}

	if req.Verbose {
		log.Info("mongo search results", zap.String("result", explain(results[0])))
	}

	items := q.domain.FormatDocuments(result.Docs, req)
	if items == nil {
		items = []any{}
	}

	return &Page{
		Meta: PageMeta{
			Count:    len(items),
			Page:     req.PageNum,
			PageSize: req.PageSize,
			Total:    metaTotal(result.Meta),
			Verbose:  req.Verbose,
		},
		Items: items,
	}, nil
}

// metaTotal reads meta[0].count.total, returning 0 for any other shape.
func metaTotal(meta []bson.M) int64 {
	if len(meta) == 0 {
		return 0
	}
	count, ok := field(meta[0], "count")
	if !ok {
		return 0
	}
	total, ok := field(count, "total")
	if !ok {
		return 0
	}
	n, _ := ToInt64(total)
	return n
}

func field(v any, key string) (any, bool) {
	switch doc := v.(type) {
	case bson.M:
		val, ok := doc[key]
		return val, ok
	case map[string]any:
		val, ok := doc[key]
		return val, ok
	case bson.D:
		for _, e := range doc {
			if e.Key == key {
				return e.Value, true
			}
		}
	}
	return nil, false
}

// ToInt64 converts BSON numeric values to int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}

// explain renders v as relaxed extended JSON for logging.
func explain(v any) string {
	out, err := bson.MarshalExtJSON(bson.D{{Key: "value", Value: v}}, false, false)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
