package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/atlas"
	"github.com/davidschrooten/atlas-search-query/internal/indexer"
	"github.com/davidschrooten/atlas-search-query/internal/logger"
	"github.com/davidschrooten/atlas-search-query/internal/metrics"
	"github.com/davidschrooten/atlas-search-query/internal/query"
)

// IndexManager creates, finds and deletes search indexes.
type IndexManager interface {
	CreateIndex(ctx context.Context, name, collection string, settings map[string]any) (*atlas.Index, error)
	FindIndexByName(ctx context.Context, name, collection string) (string, error)
	DeleteIndex(ctx context.Context, name, collection string) error
}

// DocumentIndexer writes documents into search collections.
type DocumentIndexer interface {
	BulkIndex(ctx context.Context, docs []indexer.PreparedDocument) (indexer.BulkResult, error)
	DeleteIndexedDocument(ctx context.Context, indexName string, id any, ignoreNotFound bool) indexer.DocumentStatus
}

// Pinger reports whether the document store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	config    *config.Config
	queries   map[string]*query.Query
	indexes   IndexManager
	documents DocumentIndexer
	store     Pinger
	validator *Validator
	logger    *zap.Logger
}

// NewServer creates a new API server. queries maps the {domain} path segment to its query.
func NewServer(cfg *config.Config, queries map[string]*query.Query, indexes IndexManager, documents DocumentIndexer, store Pinger, log *zap.Logger) *Server {
	log = logger.OrNop(log)
	return &Server{
		config:    cfg,
		queries:   queries,
		indexes:   indexes,
		documents: documents,
		store:     store,
		validator: NewValidator(log),
		logger:    log,
	}
}

// Router setups the API routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware)

	r.Post("/search/{domain}", s.handleSearch)

	r.Route("/indexes", func(r chi.Router) {
		r.Post("/", s.handleCreateIndex)
		r.Get("/{collection}/{name}", s.handleFindIndex)
		r.Delete("/{collection}/{name}", s.handleDeleteIndex)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/bulk", s.handleBulkIndex)
		r.Delete("/{index}/{id}", s.handleDeleteDocument)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger tags each request with an id and stores a request scoped logger in the context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		log := s.logger.With(zap.String("request_id", requestID))
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(logger.ContextWithLogger(r.Context(), log)))
		log.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	q, ok := s.queries[domain]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown search domain "+strconv.Quote(domain))
		return
	}

	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.PageSize == 0 {
		req.PageSize = s.config.Search.DefaultPageSize
	}
	if err := s.validator.Validate(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PageSize > s.config.Search.MaxPageSize {
		s.writeError(w, http.StatusBadRequest, "pageSize must not exceed "+strconv.Itoa(s.config.Search.MaxPageSize))
		return
	}

	page, err := q.Run(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.response(w, http.StatusOK, page)
}

type createIndexRequest struct {
	Name       string         `json:"name" validate:"required"`
	Collection string         `json:"collection" validate:"required"`
	Settings   map[string]any `json:"settings"`
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req createIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	index, err := s.indexes.CreateIndex(r.Context(), req.Name, req.Collection, req.Settings)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.response(w, http.StatusCreated, index)
}

func (s *Server) handleFindIndex(w http.ResponseWriter, r *http.Request) {
	collection, name := chi.URLParam(r, "collection"), chi.URLParam(r, "name")

	id, err := s.indexes.FindIndexByName(r.Context(), name, collection)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if id == "" {
		s.writeError(w, http.StatusNotFound, "index not found")
		return
	}
	s.response(w, http.StatusOK, map[string]string{
		"indexID":        id,
		"name":           name,
		"collectionName": collection,
	})
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	collection, name := chi.URLParam(r, "collection"), chi.URLParam(r, "name")

	if err := s.indexes.DeleteIndex(r.Context(), name, collection); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkIndexRequest struct {
	Documents []indexer.PreparedDocument `json:"documents" validate:"required,dive"`
}

func (s *Server) handleBulkIndex(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()

	var req bulkIndexRequest
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range req.Documents {
		req.Documents[i] = indexer.Normalize(req.Documents[i])
	}

	result, err := s.documents.BulkIndex(r.Context(), req.Documents)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.response(w, http.StatusOK, result)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	id := indexer.ParseID(chi.URLParam(r, "id"))
	ignoreNotFound, _ := strconv.ParseBool(r.URL.Query().Get("ignoreNotFound"))

	status := s.documents.DeleteIndexedDocument(r.Context(), index, id, ignoreNotFound)
	if !status.OK() {
		s.response(w, http.StatusBadRequest, status)
		return
	}
	s.response(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.response(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "document store not initialized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		logger.FromContext(r.Context(), s.logger).Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "document store not ready")
		return
	}

	s.response(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": map[string]string{
			"documentStore": "ok",
		},
	})
}

// writeFailure renders known error types with their own status code.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), s.logger)

	var queryErr *query.Error
	var apiErr *atlas.APIError
	switch {
	case errors.As(err, &queryErr):
		log.Warn("search failed", zap.String("kind", string(queryErr.Kind)), zap.Error(err))
		s.writeError(w, queryErr.Code, queryErr.Message)
	case errors.As(err, &apiErr):
		log.Warn("index management failed", zap.Int("code", apiErr.Code), zap.Error(err))
		s.writeError(w, apiErr.Code, apiErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("request timed out", zap.Error(err))
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		log.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.response(w, status, errorResponse{Code: status, Error: message})
}

func (s *Server) response(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("unable to encode response", zap.Error(err))
	}
}
