package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/atlas"
	"github.com/davidschrooten/atlas-search-query/internal/content"
	"github.com/davidschrooten/atlas-search-query/internal/indexer"
	"github.com/davidschrooten/atlas-search-query/internal/query"
)

type mockStore struct {
	results  []bson.M
	err      error
	pipeline mongo.Pipeline
}

func (m *mockStore) Aggregate(_ context.Context, _ string, pipeline mongo.Pipeline) ([]bson.M, error) {
	m.pipeline = pipeline
	return m.results, m.err
}

type mockIndexes struct {
	created map[string]any
	ids     map[string]string
	deleted []string
	err     error
}

func (m *mockIndexes) CreateIndex(_ context.Context, name, collection string, settings map[string]any) (*atlas.Index, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.created = settings
	return &atlas.Index{IndexID: "idx-1", Name: name, CollectionName: collection, Database: "search"}, nil
}

func (m *mockIndexes) FindIndexByName(_ context.Context, name, collection string) (string, error) {
	return m.ids[collection+"/"+name], m.err
}

func (m *mockIndexes) DeleteIndex(_ context.Context, name, collection string) error {
	m.deleted = append(m.deleted, collection+"/"+name)
	return m.err
}

type mockDocuments struct {
	received []indexer.PreparedDocument
	deleted  []any
	ignored  bool
	status   indexer.DocumentStatus
}

func (m *mockDocuments) BulkIndex(_ context.Context, docs []indexer.PreparedDocument) (indexer.BulkResult, error) {
	m.received = docs
	return indexer.BulkResult{DocumentCount: len(docs), SuccessCount: len(docs), Errors: []string{}}, nil
}

func (m *mockDocuments) DeleteIndexedDocument(_ context.Context, _ string, id any, ignoreNotFound bool) indexer.DocumentStatus {
	m.deleted = append(m.deleted, id)
	m.ignored = ignoreNotFound
	return m.status
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

type fixture struct {
	server    *Server
	store     *mockStore
	indexes   *mockIndexes
	documents *mockDocuments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{Search: config.SearchConfig{DefaultPageSize: 20, MaxPageSize: 50}}
	store := &mockStore{results: []bson.M{{
		"docs": []bson.M{{"primaryKeyId": "p-1", "score": 1.5}},
		"meta": []bson.M{{"count": bson.M{"total": int64(31)}}},
	}}}
	f := &fixture{
		store:     store,
		indexes:   &mockIndexes{ids: map[string]string{}},
		documents: &mockDocuments{status: indexer.DocumentStatus{Status: indexer.StatusOK}},
	}
	queries := map[string]*query.Query{
		"content": query.New(store, content.New(config.IndexConfig{Name: "content", Collection: "content"}, nil)),
	}
	f.server = NewServer(cfg, queries, f.indexes, f.documents, mockPinger{}, nil)
	return f
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestHandleSearch(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/search/content", map[string]any{"sort": "name", "order": "asc", "pageNum": 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	body := decode(t, w)
	require.Equal(t, map[string]any{
		"count": 1.0, "page": 1.0, "pageSize": 20.0, "total": 31.0, "verbose": false,
	}, body["meta"])
	require.Equal(t, []any{map[string]any{"objectId": "p-1", "score": 1.5}}, body["items"])
	require.Len(t, f.store.pipeline, 4)
}

func TestHandleSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    any
		code    int
		message string
	}{
		{"unknown domain", "/search/missing", map[string]any{}, http.StatusNotFound, `unknown search domain "missing"`},
		{"bad payload", "/search/content", "not an object", http.StatusBadRequest, "invalid request payload"},
		{"negative page", "/search/content", map[string]any{"pageNum": -1}, http.StatusBadRequest, "value of field 'pageNum' is not in the expected range"},
		{"page too large", "/search/content", map[string]any{"pageSize": 51}, http.StatusBadRequest, "pageSize must not exceed 50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newFixture(t).do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.code, w.Code)
			require.Equal(t, map[string]any{"code": float64(tt.code), "error": tt.message}, decode(t, w))
		})
	}
}

func TestHandleSearch_QueryFailure(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("connection reset")

	w := f.do(http.MethodPost, "/search/content", map[string]any{})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "Mongodb Query Error: connection reset", decode(t, w)["error"])

	f.store.err = nil
	f.store.results = nil
	w = f.do(http.MethodPost, "/search/content", map[string]any{})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, decode(t, w)["error"], "Unexpected Atlas Search return format")
}

func TestHandleIndexes(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/indexes/", map[string]any{
		"name":       "content",
		"collection": "content",
		"settings":   map[string]any{"mappings": map[string]any{"dynamic": true}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "idx-1", decode(t, w)["indexID"])
	require.Equal(t, map[string]any{"mappings": map[string]any{"dynamic": true}}, f.indexes.created)

	w = f.do(http.MethodPost, "/indexes/", map[string]any{"name": "content"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "missing required field 'collection'", decode(t, w)["error"])

	w = f.do(http.MethodGet, "/indexes/content/content", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	f.indexes.ids["content/content"] = "idx-1"
	w = f.do(http.MethodGet, "/indexes/content/content", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "idx-1", decode(t, w)["indexID"])

	w = f.do(http.MethodDelete, "/indexes/content/content", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, []string{"content/content"}, f.indexes.deleted)
}

func TestHandleIndexes_APIError(t *testing.T) {
	f := newFixture(t)
	f.indexes.err = &atlas.APIError{Code: http.StatusBadRequest, Message: atlas.MsgCommunication}

	w := f.do(http.MethodPost, "/indexes/", map[string]any{"name": "content", "collection": "content"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, map[string]any{"code": 400.0, "error": atlas.MsgCommunication}, decode(t, w))
}

func TestHandleDocuments(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/documents/bulk", map[string]any{
		"documents": []map[string]any{
			{"indexName": "content__v1", "indexedDocumentId": 12, "document": map[string]any{"id": 12, "price": 9.5, "tags": []any{1, "a"}}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1.0, decode(t, w)["successCount"])

	require.Len(t, f.documents.received, 1)
	doc := f.documents.received[0]
	require.Equal(t, int64(12), doc.IndexedDocumentID)
	require.Equal(t, bson.M{"id": int64(12), "price": 9.5, "tags": []any{int64(1), "a"}}, doc.Document)

	w = f.do(http.MethodPost, "/documents/bulk", map[string]any{
		"documents": []map[string]any{{"indexName": "content"}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/documents/content/42?ignoreNotFound=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []any{int64(42)}, f.documents.deleted)
	require.True(t, f.documents.ignored)

	f.documents.status = indexer.DocumentStatus{Status: indexer.StatusBAD, Error: "not found"}
	w = f.do(http.MethodDelete, "/documents/content/abc", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "abc", f.documents.deleted[1])
	require.False(t, f.documents.ignored)
}

func TestHandleHealthAndReady(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", decode(t, w)["status"])

	w = f.do(http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)

	f.server.store = mockPinger{err: errors.New("down")}
	w = f.do(http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.server.store = nil
	w = f.do(http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	w := newFixture(t).do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestResponse_LogsEncodeFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := NewServer(&config.Config{}, nil, nil, nil, nil, zap.New(core))

	w := httptest.NewRecorder()
	s.response(w, http.StatusOK, map[string]any{"callback": func() {}})

	require.Equal(t, http.StatusOK, w.Code)
	entries := logs.FilterMessage("unable to encode response").All()
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].ContextMap()["error"], "unsupported type")
}
