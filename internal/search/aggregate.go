package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/internal/query"
)

// row is one document flowing through the pipeline with its search score.
type row struct {
	doc   bson.M
	score float64
}

// rowSet is the pipeline state: the documents and the $search metadata.
type rowSet struct {
	rows  []row
	total int64
}

// Aggregate runs pipeline against coll. The first stage must be $search; the
// supported stages after it are $sort, $project, $skip, $limit and $facet.
func (e *Engine) Aggregate(ctx context.Context, coll string, pipeline mongo.Pipeline) ([]bson.M, error) {
	if len(pipeline) == 0 {
		return nil, fmt.Errorf("empty pipeline")
	}

	first, err := decodeStage(pipeline[0])
	if err != nil {
		return nil, err
	}
	if first.name != "$search" {
		return nil, fmt.Errorf("first stage must be $search, got %s", first.name)
	}

	set, err := e.search(ctx, coll, first.spec)
	if err != nil {
		return nil, err
	}

	var records []bson.M
	faceted := false
	for _, raw := range pipeline[1:] {
		st, err := decodeStage(raw)
		if err != nil {
			return nil, err
		}
		if faceted {
			return nil, fmt.Errorf("stage %s after $facet is not supported", st.name)
		}
		if st.name == "$facet" {
			record, err := facet(set, st.spec)
			if err != nil {
				return nil, err
			}
			records = []bson.M{record}
			faceted = true
			continue
		}
		if err := set.apply(st); err != nil {
			return nil, err
		}
	}

	if !faceted {
		records = make([]bson.M, 0, len(set.rows))
		for _, r := range set.rows {
			records = append(records, r.doc)
		}
	}
	return records, nil
}

type stage struct {
	name string
	spec bson.M
	sort bson.D // $sort keeps key order
	raw  any
}

// decodeStage round-trips a stage through BSON so nested documents are bson.M.
func decodeStage(d bson.D) (stage, error) {
	if len(d) != 1 {
		return stage{}, fmt.Errorf("stage must have exactly one key, got %d", len(d))
	}

	out := stage{name: d[0].Key}
	data, err := bson.Marshal(d)
	if err != nil {
		return stage{}, fmt.Errorf("failed to encode %s: %w", out.name, err)
	}

	if out.name == "$sort" {
		var ordered bson.D
		if err := bson.Unmarshal(data, &ordered); err != nil {
			return stage{}, fmt.Errorf("failed to decode $sort: %w", err)
		}
		sortSpec, ok := ordered[0].Value.(bson.D)
		if !ok {
			return stage{}, fmt.Errorf("$sort must be a document")
		}
		out.sort = sortSpec
		return out, nil
	}

	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return stage{}, fmt.Errorf("failed to decode %s: %w", out.name, err)
	}
	out.raw = m[out.name]
	out.spec, _ = out.raw.(bson.M)
	return out, nil
}

// search executes the $search stage and loads the matching documents.
func (e *Engine) search(ctx context.Context, coll string, spec bson.M) (*rowSet, error) {
	if spec == nil {
		return nil, fmt.Errorf("$search must be a document")
	}

	op := bson.M{}
	for _, name := range []string{"compound", "text", "wildcard", "range", "equals", "phrase"} {
		if v, ok := spec[name]; ok {
			op[name] = v
		}
	}
	if len(op) != 1 {
		return nil, fmt.Errorf("$search needs exactly one operator, got %d", len(op))
	}

	q, err := convertQuery(op)
	if err != nil {
		return nil, fmt.Errorf("failed to convert query: %w", err)
	}

	e.mutex.RLock()
	defer e.mutex.RUnlock()

	c, ok := e.collections[coll]
	if !ok {
		e.logger.Debug("search on unknown collection", zap.String("collection", coll))
		return &rowSet{}, nil
	}

	size := len(c.docs)
	if size == 0 {
		return &rowSet{}, nil
	}

	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	result, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	set := &rowSet{rows: make([]row, 0, len(result.Hits)), total: int64(result.Total)}
	for _, hit := range result.Hits {
		doc, ok := c.docs[hit.ID]
		if !ok {
			continue
		}
		set.rows = append(set.rows, row{doc: copyDoc(doc), score: hit.Score})
	}
	return set, nil
}

func (s *rowSet) apply(st stage) error {
	switch st.name {
	case "$sort":
		s.sortBy(st.sort)
	case "$project":
		return s.project(st.spec)
	case "$skip":
		n, ok := query.ToInt64(st.raw)
		if !ok || n < 0 {
			return fmt.Errorf("$skip must be a non-negative integer")
		}
		s.skip(n)
	case "$limit":
		n, ok := query.ToInt64(st.raw)
		if !ok || n <= 0 {
			return fmt.Errorf("$limit must be a positive integer")
		}
		s.limit(n)
	case "$replaceWith":
		if st.raw != query.SearchMetaVariable {
			return fmt.Errorf("$replaceWith only supports %s", query.SearchMetaVariable)
		}
		s.rows = []row{{doc: bson.M{"count": bson.M{"total": s.total}}}}
	default:
		return fmt.Errorf("unsupported stage %s", st.name)
	}
	return nil
}

// sortBy orders rows by the keys of spec in turn. The key score refers to the search score.
func (s *rowSet) sortBy(spec bson.D) {
	sort.SliceStable(s.rows, func(i, j int) bool {
		for _, key := range spec {
			dir, _ := query.ToInt64(key.Value)
			var c int
			if key.Key == "score" {
				c = compareValues(s.rows[i].score, s.rows[j].score)
			} else {
				a, _ := lookup(s.rows[i].doc, key.Key)
				b, _ := lookup(s.rows[j].doc, key.Key)
				c = compareValues(a, b)
			}
			if c == 0 {
				continue
			}
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// project applies exclusions (field: 0) and {$meta: "searchScore"} fields.
// Inclusion projections keep only the listed fields.
func (s *rowSet) project(spec bson.M) error {
	if spec == nil {
		return fmt.Errorf("$project must be a document")
	}

	var include []string
	for field, v := range spec {
		if _, isMeta := v.(bson.M); isMeta || field == "_id" {
			continue
		}
		if truthy(v) {
			include = append(include, field)
		}
	}

	for i := range s.rows {
		doc := s.rows[i].doc
		if len(include) > 0 {
			kept := bson.M{}
			if id, ok := doc["_id"]; ok {
				kept["_id"] = id
			}
			for _, field := range include {
				if v, ok := doc[field]; ok {
					kept[field] = v
				}
			}
			doc = kept
		}

		for field, v := range spec {
			if meta, ok := v.(bson.M); ok {
				switch meta["$meta"] {
				case "searchScore":
					doc[field] = s.rows[i].score
				default:
					return fmt.Errorf("unsupported $meta %v", meta["$meta"])
				}
				continue
			}
			if !truthy(v) {
				delete(doc, field)
			}
		}
		s.rows[i].doc = doc
	}
	return nil
}

func (s *rowSet) skip(n int64) {
	if n >= int64(len(s.rows)) {
		s.rows = nil
		return
	}
	s.rows = s.rows[n:]
}

func (s *rowSet) limit(n int64) {
	if n < int64(len(s.rows)) {
		s.rows = s.rows[:n]
	}
}

// facet runs each sub-pipeline on its own copy of the rows.
func facet(set *rowSet, spec bson.M) (bson.M, error) {
	if spec == nil {
		return nil, fmt.Errorf("$facet must be a document")
	}

	record := bson.M{}
	for name, raw := range spec {
		stages, ok := raw.(bson.A)
		if !ok {
			return nil, fmt.Errorf("$facet.%s must be an array of stages", name)
		}

		branch := &rowSet{rows: append([]row(nil), set.rows...), total: set.total}
		for _, item := range stages {
			m, ok := item.(bson.M)
			if !ok || len(m) != 1 {
				return nil, fmt.Errorf("$facet.%s contains an invalid stage", name)
			}
			for key, value := range m {
				st := stage{name: key, raw: value}
				st.spec, _ = value.(bson.M)
				if key == "$sort" {
					return nil, fmt.Errorf("$sort inside $facet is not supported")
				}
				if err := branch.apply(st); err != nil {
					return nil, fmt.Errorf("$facet.%s: %w", name, err)
				}
			}
		}

		docs := make([]bson.M, 0, len(branch.rows))
		for _, r := range branch.rows {
			docs = append(docs, r.doc)
		}
		record[name] = docs
	}
	return record, nil
}

func truthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	n, ok := toFloat(v)
	return ok && n != 0
}
