package indexer

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
)

// ReadDocuments decodes a JSON array of prepared documents. Numbers are kept
// as int64 when integral so ids and numeric fields store as BSON integers.
func ReadDocuments(r io.Reader) ([]PreparedDocument, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var docs []PreparedDocument
	if err := decoder.Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	for i := range docs {
		docs[i] = Normalize(docs[i])
	}
	return docs, nil
}

// Normalize converts json.Number values in the id and document.
func Normalize(doc PreparedDocument) PreparedDocument {
	doc.IndexedDocumentID = normalizeValue(doc.IndexedDocumentID)
	doc.Document = normalizeDocument(doc.Document)
	return doc
}

// ParseID reads a document id given as text; integral ids are numeric.
func ParseID(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		return map[string]any(normalizeDocument(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func normalizeDocument(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}
