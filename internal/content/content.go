// Package content is the general purpose search domain driven by index configuration.
package content

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/logger"
	"github.com/davidschrooten/atlas-search-query/internal/query"
)

// Defaults applied when the index configuration leaves a field empty.
const (
	DefaultSort            = "name"
	DefaultOrder           = "desc"
	DefaultIDField         = "id"
	DefaultPrimaryKeyField = "primaryKeyId"
)

// Item is the public shape of one search hit.
type Item struct {
	ObjectID any     `json:"objectId"`
	Score    float64 `json:"score"`
	Source   bson.M  `json:"source,omitempty"`
}

// Domain searches one configured collection.
type Domain struct {
	cfg    config.IndexConfig
	logger *zap.Logger
}

// New creates a Domain for cfg.
func New(cfg config.IndexConfig, log *zap.Logger) *Domain {
	if cfg.DefaultSort == "" {
		cfg.DefaultSort = DefaultSort
	}
	if cfg.DefaultOrder == "" {
		cfg.DefaultOrder = DefaultOrder
	}
	if cfg.IDField == "" {
		cfg.IDField = DefaultIDField
	}
	if cfg.PrimaryKeyField == "" {
		cfg.PrimaryKeyField = DefaultPrimaryKeyField
	}
	if len(cfg.TextPaths) == 0 {
		cfg.TextPaths = []string{cfg.DefaultSort}
	}
	return &Domain{cfg: cfg, logger: logger.OrNop(log)}
}

// Collection implements query.Domain.
func (d *Domain) Collection() string { return d.cfg.Collection }

// BuildSearchOptions sorts by the requested field, adds fuzzy and wildcard text
// clauses when a search string is given, and filters on the numeric id.
func (d *Domain) BuildSearchOptions(ctx context.Context, req query.Request) (query.ClauseSet, error) {
	log := logger.FromContext(ctx, d.logger)

	field := req.SortField
	if field == "" {
		field = d.cfg.DefaultSort
	}
	order := req.SortOrder
	if order == "" {
		order = d.cfg.DefaultOrder
	}

	clauses := query.ClauseSet{Sort: query.BuildSort(field, order, log)}

	if text := strings.TrimSpace(req.Search); text != "" {
		ts := query.BuildTextSearch(text, clauses.Sort, d.cfg.TextPaths)
		clauses.Should = append(clauses.Should, ts.Should...)
		clauses.Must = append(clauses.Must, ts.Must...)
		clauses.Sort = ts.Sort
	}

	if req.ID != nil {
		clauses.Filter = append(clauses.Filter, query.Clause{
			"range": bson.M{
				"path": d.cfg.IDField,
				"gte":  *req.ID,
				"lte":  *req.ID,
			},
		})
	}

	return clauses, nil
}

// FormatDocuments implements query.Domain.
func (d *Domain) FormatDocuments(docs []bson.M, req query.Request) []any {
	items := make([]any, 0, len(docs))
	for _, doc := range docs {
		item := Item{ObjectID: doc[d.cfg.PrimaryKeyField]}
		if score, ok := doc["score"].(float64); ok {
			item.Score = score
		} else if n, ok := query.ToInt64(doc["score"]); ok {
			item.Score = float64(n)
		}
		if req.IncludeSource {
			item.Source = doc
		}
		items = append(items, item)
	}
	return items
}
