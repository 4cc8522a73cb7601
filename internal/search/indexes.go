package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/atlas"
)

// searchIndex is a search index descriptor registered with the engine.
type searchIndex struct {
	id         string
	name       string
	collection string
	mappings   map[string]any
}

func indexKey(collection, name string) string { return collection + "/" + name }

// register records an index. The caller holds the write lock or owns the engine.
func (e *Engine) register(name, collection string, mappings map[string]any) *searchIndex {
	idx := &searchIndex{
		id:         uuid.NewString(),
		name:       name,
		collection: collection,
		mappings:   mappings,
	}
	e.indexes[indexKey(collection, name)] = idx
	return idx
}

func (e *Engine) descriptor(idx *searchIndex) *atlas.Index {
	return &atlas.Index{
		IndexID:        idx.id,
		Name:           idx.name,
		CollectionName: idx.collection,
		Database:       e.database,
		Status:         "STEADY",
		Mappings:       idx.mappings,
	}
}

// CreateIndex registers a search index. When settings carry Atlas mappings the
// collection is re-indexed with the equivalent bleve field mappings.
func (e *Engine) CreateIndex(_ context.Context, name, collection string, settings map[string]any) (*atlas.Index, error) {
	if name == "" || collection == "" {
		return nil, &atlas.APIError{Code: 400, Message: "index name and collection are required"}
	}

	mappings, _ := settings["mappings"].(map[string]any)

	e.mutex.Lock()
	if _, exists := e.indexes[indexKey(collection, name)]; exists {
		e.mutex.Unlock()
		return nil, &atlas.APIError{Code: 400, Message: fmt.Sprintf("Duplicate Index: an index named %s already exists on %s", name, collection)}
	}
	idx := e.register(name, collection, mappings)
	e.mutex.Unlock()

	if mappings != nil {
		if err := e.remap(collection, definitionFromMappings(mappings)); err != nil {
			return nil, err
		}
	}

	e.logger.Info("created local search index", zap.String("name", name), zap.String("collection", collection))
	return e.descriptor(idx), nil
}

// FindIndexByName returns the id of the named index on collection, or "".
func (e *Engine) FindIndexByName(_ context.Context, name, collection string) (string, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if idx, ok := e.indexes[indexKey(collection, name)]; ok {
		return idx.id, nil
	}
	return "", nil
}

// DeleteIndex unregisters the named index. Stored documents are kept.
func (e *Engine) DeleteIndex(_ context.Context, name, collection string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	delete(e.indexes, indexKey(collection, name))
	return nil
}

// Atlas field types and analyzers mapped to their bleve equivalents.
var (
	atlasFieldTypes = map[string]string{
		"string":  "text",
		"token":   "keyword",
		"number":  "numeric",
		"date":    "date",
		"boolean": "boolean",
	}
	atlasAnalyzers = map[string]string{
		"lucene.standard": "standard",
		"lucene.simple":   "simple",
		"lucene.keyword":  "keyword",
		"lucene.english":  "en",
	}
)

// definitionFromMappings converts an Atlas mappings document, e.g.
// {dynamic: false, fields: {title: {type: string}}}, to an index definition.
func definitionFromMappings(mappings map[string]any) config.IndexDefinition {
	var def config.IndexDefinition
	def.Mappings.Dynamic, _ = mappings["dynamic"].(bool)

	fields, _ := mappings["fields"].(map[string]any)
	for name, raw := range fields {
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := spec["type"].(string)
		analyzer, _ := spec["analyzer"].(string)

		field := config.FieldConfig{Name: name, Type: atlasFieldTypes[strings.ToLower(typ)]}
		if field.Type == "" {
			field.Type = "text"
		}
		field.Analyzer = atlasAnalyzers[analyzer]
		def.Mappings.Fields = append(def.Mappings.Fields, field)
	}
	return def
}
