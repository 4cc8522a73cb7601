package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Fuzzy matching parameters for the text clause.
const (
	FuzzyMaxEdits      = 2
	FuzzyPrefixLength  = 1
	FuzzyMaxExpansions = 100
	WildcardBoost      = 10
)

// TextSearch holds the clauses produced for a free text query.
type TextSearch struct {
	Should []Clause
	Must   []Clause
	Sort   bson.D
}

// BuildTextSearch builds one fuzzy text should clause over paths and one boosted
// *term* wildcard must clause per whitespace separated term. The returned sort
// ranks by descending search score first, then by sort.
func BuildTextSearch(text string, sort bson.D, paths []string) TextSearch {
	ts := TextSearch{
		Should: []Clause{{
			"text": bson.M{
				"path":  paths,
				"query": text,
				"fuzzy": bson.M{
					"maxEdits":      FuzzyMaxEdits,
					"prefixLength":  FuzzyPrefixLength,
					"maxExpansions": FuzzyMaxExpansions,
				},
			},
		}},
		Sort: scoreFirst(sort),
	}

	for _, term := range strings.Fields(text) {
		ts.Must = append(ts.Must, Clause{
			"wildcard": bson.M{
				"path":               paths,
				"query":              "*" + term + "*",
				"allowAnalyzedField": true,
				"score": bson.M{
					"boost": bson.M{"value": WildcardBoost},
				},
			},
		})
	}

	return ts
}

// scoreFirst puts score:-1 ahead of the keys of sort. A score key already in
// sort keeps the leading position but takes the value from sort.
func scoreFirst(sort bson.D) bson.D {
	out := bson.D{{Key: "score", Value: Descending}}
	for _, e := range sort {
		if e.Key == "score" {
			out[0].Value = e.Value
			continue
		}
		out = append(out, e)
	}
	return out
}
