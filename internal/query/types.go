// Package query builds and runs paginated Atlas Search aggregations.
//
// A Domain supplies the clauses for one collection and formats the matching
// documents; Query turns them into a single $search/$sort/$project/$facet
// pipeline, runs it once against a Store and shapes the result into a Page.
package query

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Clause is an opaque Atlas Search operator document such as {text: {...}} or {range: {...}}.
type Clause = bson.M

// ClauseSet holds the compound clauses and sort a Domain builds for one run.
type ClauseSet struct {
	Must    []Clause
	MustNot []Clause
	Should  []Clause
	Filter  []Clause
	Sort    bson.D
}

// Empty reports whether no must, mustNot, should or filter clause is set.
func (c ClauseSet) Empty() bool {
	return len(c.Must) == 0 && len(c.MustNot) == 0 && len(c.Should) == 0 && len(c.Filter) == 0
}

// Request is a paginated search request. It is not modified by Run.
type Request struct {
	SortField     string `json:"sort"`
	SortOrder     string `json:"order"`
	Search        string `json:"search,omitempty"`
	ID            *int64 `json:"id,omitempty"`
	IncludeSource bool   `json:"includeSource"`
	PageNum       int    `json:"pageNum" validate:"min=0"`
	PageSize      int    `json:"pageSize" validate:"min=1"`
	Verbose       bool   `json:"verbose"`
}

// PageMeta describes the page returned by Run.
type PageMeta struct {
	Count    int   `json:"count"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
	Verbose  bool  `json:"verbose"`
}

// Page is the formatted result of a run.
type Page struct {
	Meta  PageMeta `json:"meta"`
	Items []any    `json:"items"`
}

// Domain supplies the collection specific parts of a search.
type Domain interface {
	// Collection is the collection searched, and the default search index name.
	Collection() string
	// BuildSearchOptions returns the compound clauses and sort for req.
	BuildSearchOptions(ctx context.Context, req Request) (ClauseSet, error)
	// FormatDocuments maps raw result documents to their public shape.
	FormatDocuments(docs []bson.M, req Request) []any
}

// Store executes aggregation pipelines.
type Store interface {
	Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error)
}
