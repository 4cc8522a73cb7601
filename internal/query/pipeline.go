package query

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// SearchMetaVariable is the aggregation variable holding $search metadata.
const SearchMetaVariable = "$$SEARCH_META"

// matchAll is the wildcard operator used when no clause constrains the search.
func matchAll() bson.D {
	return bson.D{
		{Key: "query", Value: "*"},
		{Key: "path", Value: bson.D{{Key: "wildcard", Value: "*"}}},
		{Key: "allowAnalyzedField", Value: true},
	}
}

// buildPipeline assembles $search, $sort, $project and $facet in that order.
func buildPipeline(index string, req Request, clauses ClauseSet) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$search", Value: searchStage(index, req, clauses)}},
		{{Key: "$sort", Value: clauses.Sort}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "_source", Value: 0},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "searchScore"}}},
		}}},
		{{Key: "$facet", Value: bson.D{
			{Key: "docs", Value: bson.A{
				bson.D{{Key: "$skip", Value: int64(req.PageNum) * int64(req.PageSize)}},
				bson.D{{Key: "$limit", Value: int64(req.PageSize)}},
			}},
			{Key: "meta", Value: bson.A{
				bson.D{{Key: "$replaceWith", Value: SearchMetaVariable}},
				bson.D{{Key: "$limit", Value: 1}},
			}},
		}}},
	}
}

func searchStage(index string, req Request, clauses ClauseSet) bson.D {
	stage := bson.D{{Key: "index", Value: index}}

	decision := Normalize(clauses)
	if decision == UseWildcard {
		stage = append(stage, bson.E{Key: "wildcard", Value: matchAll()})
	} else {
		stage = append(stage, bson.E{Key: "compound", Value: compound(clauses, decision)})
	}

	return append(stage,
		bson.E{Key: "count", Value: bson.D{{Key: "type", Value: "total"}}},
		bson.E{Key: "returnStoredSource", Value: req.IncludeSource},
	)
}

// compound renders the non-empty clause arrays; Atlas rejects empty ones.
func compound(clauses ClauseSet, decision Decision) bson.D {
	var doc bson.D
	for _, part := range []struct {
		key     string
		clauses []Clause
	}{
		{"must", clauses.Must},
		{"mustNot", clauses.MustNot},
		{"should", clauses.Should},
		{"filter", clauses.Filter},
	} {
		if len(part.clauses) > 0 {
			doc = append(doc, bson.E{Key: part.key, Value: part.clauses})
		}
	}

	switch decision {
	case UseCompoundMinShouldZero:
		doc = append(doc, bson.E{Key: "minimumShouldMatch", Value: 0})
	case UseCompoundMinShouldOne:
		doc = append(doc, bson.E{Key: "minimumShouldMatch", Value: 1})
	}
	return doc
}
