package search

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// convertQuery converts an Atlas Search operator to a bleve query.
func convertQuery(op bson.M) (bq.Query, error) {
	if len(op) != 1 {
		return nil, fmt.Errorf("operator document must have exactly one key, got %d", len(op))
	}

	for name, raw := range op {
		spec, ok := raw.(bson.M)
		if !ok {
			return nil, fmt.Errorf("operator %s must be a document", name)
		}

		var (
			q   bq.Query
			err error
		)
		switch name {
		case "compound":
			q, err = convertCompound(spec)
		case "text":
			q, err = convertText(spec)
		case "wildcard":
			q, err = convertWildcard(spec)
		case "range":
			q, err = convertRange(spec)
		case "equals":
			q, err = convertEquals(spec)
		case "phrase":
			q, err = convertPhrase(spec)
		default:
			return nil, fmt.Errorf("unsupported search operator %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		applyBoost(q, spec)
		return q, nil
	}
	return nil, nil
}

// convertCompound maps must, should and mustNot directly and treats filter as must.
func convertCompound(spec bson.M) (bq.Query, error) {
	boolQuery := bleve.NewBooleanQuery()
	clauses := 0

	for _, part := range []struct {
		key string
		add func(...bq.Query)
	}{
		{"must", boolQuery.AddMust},
		{"filter", boolQuery.AddMust},
		{"should", boolQuery.AddShould},
		{"mustNot", boolQuery.AddMustNot},
	} {
		ops, err := operatorList(spec[part.key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", part.key, err)
		}
		for _, op := range ops {
			sub, err := convertQuery(op)
			if err != nil {
				return nil, err
			}
			part.add(sub)
			clauses++
		}
	}

	if clauses == 0 {
		return bleve.NewMatchAllQuery(), nil
	}
	if msm, ok := toFloat(spec["minimumShouldMatch"]); ok {
		boolQuery.SetMinShould(msm)
	}
	return boolQuery, nil
}

func operatorList(v any) ([]bson.M, error) {
	if v == nil {
		return nil, nil
	}
	var items []any
	switch list := v.(type) {
	case bson.A:
		items = list
	case []any:
		items = list
	case []bson.M:
		return list, nil
	default:
		return nil, fmt.Errorf("expected an array of operators, got %T", v)
	}

	ops := make([]bson.M, 0, len(items))
	for _, item := range items {
		op, ok := item.(bson.M)
		if !ok {
			return nil, fmt.Errorf("expected an operator document, got %T", item)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// paths reads the path of an operator as a list of field names. A wildcard
// path document such as {wildcard: "*"} yields nil, meaning any field.
func paths(v any) ([]string, error) {
	switch p := v.(type) {
	case string:
		return []string{p}, nil
	case bson.A:
		out := make([]string, 0, len(p))
		for _, item := range p {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("path entries must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return p, nil
	case bson.M:
		if w, ok := p["wildcard"].(string); ok && w == "*" {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("unsupported path %v", v)
}

// perPath builds one query per path and ORs them together.
func perPath(fields []string, build func(field string) bq.Query) bq.Query {
	if len(fields) == 0 {
		return build("")
	}
	if len(fields) == 1 {
		return build(fields[0])
	}
	disjuncts := make([]bq.Query, 0, len(fields))
	for _, f := range fields {
		disjuncts = append(disjuncts, build(f))
	}
	return bleve.NewDisjunctionQuery(disjuncts...)
}

func convertText(spec bson.M) (bq.Query, error) {
	text, ok := spec["query"].(string)
	if !ok {
		return nil, fmt.Errorf("query must be a string")
	}
	fields, err := paths(spec["path"])
	if err != nil {
		return nil, err
	}

	var fuzziness, prefix int64
	if fuzzy, ok := spec["fuzzy"].(bson.M); ok {
		fuzziness, _ = asInt(fuzzy["maxEdits"], 2)
		prefix, _ = asInt(fuzzy["prefixLength"], 0)
	}

	return perPath(fields, func(field string) bq.Query {
		mq := bleve.NewMatchQuery(text)
		if field != "" {
			mq.SetField(field)
		}
		mq.SetFuzziness(int(fuzziness))
		mq.SetPrefix(int(prefix))
		return mq
	}), nil
}

// convertWildcard lowercases the pattern to match analyzed terms. A * pattern
// on any field matches every document.
func convertWildcard(spec bson.M) (bq.Query, error) {
	pattern, ok := spec["query"].(string)
	if !ok {
		return nil, fmt.Errorf("query must be a string")
	}
	fields, err := paths(spec["path"])
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 && strings.Trim(pattern, "*") == "" {
		return bleve.NewMatchAllQuery(), nil
	}

	pattern = strings.ToLower(pattern)
	return perPath(fields, func(field string) bq.Query {
		wq := bleve.NewWildcardQuery(pattern)
		if field != "" {
			wq.SetField(field)
		}
		return wq
	}), nil
}

func convertRange(spec bson.M) (bq.Query, error) {
	fields, err := paths(spec["path"])
	if err != nil || len(fields) == 0 {
		return nil, fmt.Errorf("range needs a field path")
	}

	var (
		lo, hi                     *float64
		minInclusive, maxInclusive *bool
	)
	bound := func(key string, inclusive bool) (*float64, *bool, error) {
		v, ok := spec[key]
		if !ok {
			return nil, nil, nil
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, nil, fmt.Errorf("%s must be numeric, got %T", key, v)
		}
		return &f, &inclusive, nil
	}
	for _, b := range []struct {
		key       string
		inclusive bool
		lower     bool
	}{
		{"gt", false, true}, {"gte", true, true}, {"lt", false, false}, {"lte", true, false},
	} {
		val, incl, err := bound(b.key, b.inclusive)
		if err != nil {
			return nil, err
		}
		if val == nil {
			continue
		}
		if b.lower {
			lo, minInclusive = val, incl
		} else {
			hi, maxInclusive = val, incl
		}
	}
	if lo == nil && hi == nil {
		return nil, fmt.Errorf("range needs at least one bound")
	}

	return perPath(fields, func(field string) bq.Query {
		rq := bleve.NewNumericRangeInclusiveQuery(lo, hi, minInclusive, maxInclusive)
		rq.SetField(field)
		return rq
	}), nil
}

func convertEquals(spec bson.M) (bq.Query, error) {
	field, ok := spec["path"].(string)
	if !ok {
		return nil, fmt.Errorf("equals needs a single field path")
	}

	value := spec["value"]
	switch v := value.(type) {
	case bool:
		q := bleve.NewBoolFieldQuery(v)
		q.SetField(field)
		return q, nil
	case string:
		q := bleve.NewTermQuery(v)
		q.SetField(field)
		return q, nil
	case primitive.ObjectID:
		q := bleve.NewTermQuery(v.Hex())
		q.SetField(field)
		return q, nil
	}

	if f, ok := toFloat(value); ok {
		inclusive := true
		q := bleve.NewNumericRangeInclusiveQuery(&f, &f, &inclusive, &inclusive)
		q.SetField(field)
		return q, nil
	}
	return nil, fmt.Errorf("unsupported equals value %T", value)
}

func convertPhrase(spec bson.M) (bq.Query, error) {
	text, ok := spec["query"].(string)
	if !ok {
		return nil, fmt.Errorf("query must be a string")
	}
	fields, err := paths(spec["path"])
	if err != nil {
		return nil, err
	}
	return perPath(fields, func(field string) bq.Query {
		pq := bleve.NewMatchPhraseQuery(text)
		if field != "" {
			pq.SetField(field)
		}
		return pq
	}), nil
}

// applyBoost honours score.boost.value on operators that support boosting.
func applyBoost(q bq.Query, spec bson.M) {
	score, ok := spec["score"].(bson.M)
	if !ok {
		return
	}
	boost, ok := score["boost"].(bson.M)
	if !ok {
		return
	}
	value, ok := toFloat(boost["value"])
	if !ok {
		return
	}
	if bqq, ok := q.(bq.BoostableQuery); ok {
		bqq.SetBoost(value)
	}
}

func asInt(v any, fallback int64) (int64, bool) {
	if v == nil {
		return fallback, false
	}
	if f, ok := toFloat(v); ok {
		return int64(f), true
	}
	return fallback, false
}
