package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/internal/logger"
	"github.com/davidschrooten/atlas-search-query/internal/metrics"
)

// Field names stamped on every indexed document.
const (
	FieldIndexedDocumentID = "indexedDocumentId"
	FieldIndexName         = "indexName"
)

// indexSeparator splits a versioned index name from its collection,
// e.g. content__2022_7_22__14_57_40 is stored in content.
const indexSeparator = "__"

// Document statuses.
const (
	StatusOK  = "OK"
	StatusBAD = "BAD"
)

// ErrDocumentNotFound is reported when a delete matches nothing.
var ErrDocumentNotFound = errors.New("indexed document not found")

// Store is the document persistence the service writes through.
type Store interface {
	FindByField(ctx context.Context, collection, field string, value any) ([]bson.M, error)
	InsertOne(ctx context.Context, collection string, doc bson.M) error
	UpdateByID(ctx context.Context, collection string, id any, doc bson.M) error
	DeleteByID(ctx context.Context, collection string, id any) error
	DeleteMany(ctx context.Context, collection, field string, value any) (int64, error)
}

// PreparedDocument is one document queued for indexing.
type PreparedDocument struct {
	IndexName         string `json:"indexName" validate:"required"`
	IndexedDocumentID any    `json:"indexedDocumentId" validate:"required"`
	Document          bson.M `json:"document" validate:"required"`
}

// BulkResult summarizes a bulk indexing run.
type BulkResult struct {
	DocumentCount int      `json:"documentCount"`
	SuccessCount  int      `json:"successCount"`
	Errors        []string `json:"errors"`
}

// DocumentStatus is the outcome for a single document.
type DocumentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the operation succeeded.
func (s DocumentStatus) OK() bool { return s.Status == StatusOK }

func ok() DocumentStatus { return DocumentStatus{Status: StatusOK} }

func bad(err error) DocumentStatus { return DocumentStatus{Status: StatusBAD, Error: err.Error()} }

// Service upserts documents into search collections, keeping at most one
// stored copy per indexed document id.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new indexer service
func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, logger: logger.OrNop(log)}
}

// CollectionFor returns the collection backing indexName.
func CollectionFor(indexName string) string {
	collection, _, _ := strings.Cut(indexName, indexSeparator)
	return collection
}

// BulkIndex indexes docs one after another. Individual failures are collected
// in the result and do not stop the run.
func (s *Service) BulkIndex(ctx context.Context, docs []PreparedDocument) (BulkResult, error) {
	result := BulkResult{DocumentCount: len(docs), Errors: []string{}}

	for _, prepared := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc := make(bson.M, len(prepared.Document)+2)
		for k, v := range prepared.Document {
			doc[k] = v
		}
		doc[FieldIndexedDocumentID] = prepared.IndexedDocumentID
		doc[FieldIndexName] = prepared.IndexName

		collection := CollectionFor(prepared.IndexName)
		status := s.IndexSingleDocument(ctx, collection, doc)
		metrics.IndexedDocumentsTotal.WithLabelValues(collection, status.Status).Inc()

		if status.OK() {
			result.SuccessCount++
			continue
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%v: %s", prepared.IndexedDocumentID, status.Error))
	}

	s.logger.Info("bulk indexing finished",
		zap.Int("documents", result.DocumentCount),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", len(result.Errors)))
	return result, nil
}

// IndexSingleDocument inserts doc into collection, or updates the existing
// copy with the same indexedDocumentId and removes any duplicates.
func (s *Service) IndexSingleDocument(ctx context.Context, collection string, doc bson.M) DocumentStatus {
	id, exists := doc[FieldIndexedDocumentID]
	if !exists || id == nil {
		return bad(fmt.Errorf("document has no %s", FieldIndexedDocumentID))
	}

	existing, err := s.store.FindByField(ctx, collection, FieldIndexedDocumentID, id)
	if err != nil {
		s.logger.Error("failed to look up indexed document", zap.Any("id", id), zap.Error(err))
		return bad(err)
	}

	if len(existing) == 0 {
		if err := s.store.InsertOne(ctx, collection, doc); err != nil {
			s.logger.Error("failed to insert document", zap.Any("id", id), zap.Error(err))
			return bad(err)
		}
		return ok()
	}

	if err := s.store.UpdateByID(ctx, collection, existing[0]["_id"], doc); err != nil {
		s.logger.Error("failed to update document", zap.Any("id", id), zap.Error(err))
		return bad(err)
	}

	for _, dup := range existing[1:] {
		if err := s.store.DeleteByID(ctx, collection, dup["_id"]); err != nil {
			s.logger.Error("failed to remove duplicate document", zap.String("_id", idString(dup["_id"])), zap.Error(err))
			return bad(err)
		}
	}
	if len(existing) > 1 {
		s.logger.Warn("removed duplicate indexed documents", zap.Any("id", id), zap.Int("removed", len(existing)-1))
	}
	return ok()
}

// DeleteIndexedDocument removes every stored copy of id from the collection
// backing indexName. With ignoreNotFound a failed or empty delete reports OK.
func (s *Service) DeleteIndexedDocument(ctx context.Context, indexName string, id any, ignoreNotFound bool) DocumentStatus {
	collection := CollectionFor(indexName)

	deleted, err := s.store.DeleteMany(ctx, collection, FieldIndexedDocumentID, id)
	if err != nil {
		if ignoreNotFound {
			s.logger.Warn("ignoring failed delete", zap.Any("id", id), zap.Error(err))
			return ok()
		}
		return bad(err)
	}
	if deleted == 0 && !ignoreNotFound {
		return bad(fmt.Errorf("%w: %v in %s", ErrDocumentNotFound, id, collection))
	}
	return ok()
}

// idString renders a stored _id for logs.
func idString(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", v)
}
