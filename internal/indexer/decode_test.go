package indexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestReadDocuments(t *testing.T) {
	docs, err := ReadDocuments(strings.NewReader(`[
		{"indexName": "content__v1", "indexedDocumentId": 12, "document": {"id": 12, "price": 9.5, "tags": [1, "a"], "nested": {"n": 3}}},
		{"indexName": "content__v1", "indexedDocumentId": "abc", "document": {}}
	]`))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	require.Equal(t, int64(12), docs[0].IndexedDocumentID)
	require.Equal(t, bson.M{
		"id":     int64(12),
		"price":  9.5,
		"tags":   []any{int64(1), "a"},
		"nested": map[string]any{"n": int64(3)},
	}, docs[0].Document)
	require.Equal(t, "abc", docs[1].IndexedDocumentID)

	_, err = ReadDocuments(strings.NewReader(`{"not": "an array"}`))
	require.Error(t, err)
}

func TestParseID(t *testing.T) {
	require.Equal(t, int64(42), ParseID("42"))
	require.Equal(t, "a42", ParseID("a42"))
}
