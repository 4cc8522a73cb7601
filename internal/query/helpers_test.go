package query

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type fakeDomain struct {
	collection string
	clauses    ClauseSet
	err        error
}

func (d *fakeDomain) Collection() string { return d.collection }

func (d *fakeDomain) BuildSearchOptions(_ context.Context, _ Request) (ClauseSet, error) {
	return d.clauses, d.err
}

func (d *fakeDomain) FormatDocuments(docs []bson.M, req Request) []any {
	items := make([]any, 0, len(docs))
	for _, doc := range docs {
		item := map[string]any{"objectId": doc["primaryKeyId"]}
		if req.IncludeSource {
			item["source"] = doc
		}
		items = append(items, item)
	}
	return items
}

type fakeStore struct {
	results      []bson.M
	err          error
	calls        int
	collection   string
	lastPipeline mongo.Pipeline
}

func (s *fakeStore) Aggregate(_ context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	s.calls++
	s.collection = collection
	s.lastPipeline = pipeline
	return s.results, s.err
}

var errStoreDown = errors.New("connection refused")

// get walks nested bson.D documents by key.
func get(d bson.D, keys ...string) (any, bool) {
	var cur any = d
	for _, key := range keys {
		doc, ok := cur.(bson.D)
		if !ok {
			return nil, false
		}
		found := false
		for _, e := range doc {
			if e.Key == key {
				cur, found = e.Value, true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return cur, true
}

func sortedBy(field string) bson.D {
	return bson.D{{Key: field, Value: Ascending}}
}
