// Package search is a local stand-in for Atlas Search. It keeps each collection
// in a bleve index and interprets the aggregation pipelines built by the query
// package, so searches can run without an Atlas cluster.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/logger"
)

// collection is one bleve index plus the stored documents it was built from.
type collection struct {
	index bleve.Index
	docs  map[string]bson.M
	order []string // insertion order of doc keys
}

// Engine manages one bleve index per collection
type Engine struct {
	mutex       sync.RWMutex
	collections map[string]*collection
	definitions map[string]config.IndexDefinition // by collection
	indexes     map[string]*searchIndex           // by collection/name
	indexPath   string
	database    string
	logger      *zap.Logger
}

// NewEngine creates a new search engine. Configured index definitions decide
// the field mappings of their collections.
func NewEngine(cfg config.SearchConfig, database string, indexes []config.IndexConfig, log *zap.Logger) (*Engine, error) {
	if cfg.IndexPath != "" {
		if err := os.MkdirAll(cfg.IndexPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	e := &Engine{
		collections: make(map[string]*collection),
		definitions: make(map[string]config.IndexDefinition),
		indexes:     make(map[string]*searchIndex),
		indexPath:   cfg.IndexPath,
		database:    database,
		logger:      logger.OrNop(log),
	}
	for _, idx := range indexes {
		e.definitions[idx.Collection] = idx.Definition
		e.register(idx.Name, idx.Collection, nil)
	}
	return e, nil
}

// Ping always succeeds; the engine has no remote dependency.
func (e *Engine) Ping(context.Context) error { return nil }

// Close closes all indexes
func (e *Engine) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var errs []error
	for name, c := range e.collections {
		if err := c.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index %s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing indexes: %v", errs)
	}
	return nil
}

// collectionLocked returns the named collection, creating its index if needed.
// The caller holds the write lock.
func (e *Engine) collectionLocked(name string) (*collection, error) {
	if c, ok := e.collections[name]; ok {
		return c, nil
	}

	index, err := e.openIndex(name, createMapping(e.definitions[name]))
	if err != nil {
		return nil, err
	}
	c := &collection{index: index, docs: make(map[string]bson.M)}
	e.collections[name] = c
	return c, nil
}

func (e *Engine) openIndex(name string, m mapping.IndexMapping) (bleve.Index, error) {
	if e.indexPath == "" {
		index, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", name, err)
		}
		return index, nil
	}

	indexPath := filepath.Join(e.indexPath, name)
	if err := os.RemoveAll(indexPath); err != nil {
		return nil, fmt.Errorf("failed to reset index directory %s: %w", indexPath, err)
	}
	index, err := bleve.New(indexPath, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", name, err)
	}
	return index, nil
}

// remap rebuilds the index of a collection with a new definition and reindexes its documents.
func (e *Engine) remap(name string, def config.IndexDefinition) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.definitions[name] = def
	c, ok := e.collections[name]
	if !ok {
		return nil
	}

	if err := c.index.Close(); err != nil {
		return fmt.Errorf("failed to close index %s: %w", name, err)
	}
	index, err := e.openIndex(name, createMapping(def))
	if err != nil {
		return err
	}
	c.index = index

	batch := index.NewBatch()
	for _, key := range c.order {
		if err := batch.Index(key, plain(c.docs[key])); err != nil {
			return fmt.Errorf("failed to reindex %s: %w", key, err)
		}
	}
	return index.Batch(batch)
}

// createMapping creates a Bleve mapping from configuration
func createMapping(def config.IndexDefinition) mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	// Without explicit fields every document field is indexed.
	indexMapping.DefaultMapping.Dynamic = def.Mappings.Dynamic || len(def.Mappings.Fields) == 0
	indexMapping.StoreDynamic = false

	for _, fieldCfg := range def.Mappings.Fields {
		indexMapping.DefaultMapping.AddFieldMappingsAt(fieldCfg.Name, createFieldMapping(fieldCfg))
	}

	return indexMapping
}

// createFieldMapping creates a field mapping from configuration
func createFieldMapping(cfg config.FieldConfig) *mapping.FieldMapping {
	var fieldMapping *mapping.FieldMapping

	switch cfg.Type {
	case "keyword", "token":
		fieldMapping = bleve.NewKeywordFieldMapping()
	case "numeric", "number":
		fieldMapping = bleve.NewNumericFieldMapping()
	case "date":
		fieldMapping = bleve.NewDateTimeFieldMapping()
	case "boolean":
		fieldMapping = bleve.NewBooleanFieldMapping()
	default:
		fieldMapping = bleve.NewTextFieldMapping()
	}

	if cfg.Analyzer != "" {
		fieldMapping.Analyzer = cfg.Analyzer
	}
	return fieldMapping
}

// docKey is the bleve document id for a stored _id.
func docKey(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
