package search

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FindByField returns copies of the documents whose field equals value, in insertion order.
func (e *Engine) FindByField(_ context.Context, coll, field string, value any) ([]bson.M, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	c, ok := e.collections[coll]
	if !ok {
		return nil, nil
	}

	var out []bson.M
	for _, key := range c.order {
		doc := c.docs[key]
		if v, found := lookup(doc, field); found && equalValues(v, value) {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

// InsertOne stores doc, assigning an ObjectID when it has no _id.
func (e *Engine) InsertOne(_ context.Context, coll string, doc bson.M) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	c, err := e.collectionLocked(coll)
	if err != nil {
		return err
	}

	stored := copyDoc(doc)
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = primitive.NewObjectID()
	}
	key := docKey(stored["_id"])
	if _, exists := c.docs[key]; exists {
		return fmt.Errorf("duplicate key error: _id %s already exists in %s", key, coll)
	}
	return c.put(key, stored)
}

// UpdateByID sets the fields of doc on the document with the given _id, inserting it if missing.
func (e *Engine) UpdateByID(_ context.Context, coll string, id any, doc bson.M) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	c, err := e.collectionLocked(coll)
	if err != nil {
		return err
	}

	key := docKey(id)
	stored, exists := c.docs[key]
	if exists {
		stored = copyDoc(stored)
	} else {
		stored = bson.M{"_id": id}
	}
	for k, v := range doc {
		if k != "_id" {
			stored[k] = v
		}
	}
	return c.put(key, stored)
}

// DeleteByID removes the document with the given _id.
func (e *Engine) DeleteByID(_ context.Context, coll string, id any) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	c, ok := e.collections[coll]
	if !ok {
		return nil
	}
	return c.remove(docKey(id))
}

// DeleteMany removes every document whose field equals value.
func (e *Engine) DeleteMany(_ context.Context, coll, field string, value any) (int64, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	c, ok := e.collections[coll]
	if !ok {
		return 0, nil
	}

	var matched []string
	for _, key := range c.order {
		if v, found := lookup(c.docs[key], field); found && equalValues(v, value) {
			matched = append(matched, key)
		}
	}
	for _, key := range matched {
		if err := c.remove(key); err != nil {
			return 0, err
		}
	}
	return int64(len(matched)), nil
}

func (c *collection) put(key string, doc bson.M) error {
	if err := c.index.Index(key, plain(doc)); err != nil {
		return fmt.Errorf("failed to index document %s: %w", key, err)
	}
	if _, exists := c.docs[key]; !exists {
		c.order = append(c.order, key)
	}
	c.docs[key] = doc
	return nil
}

func (c *collection) remove(key string) error {
	if _, exists := c.docs[key]; !exists {
		return nil
	}
	if err := c.index.Delete(key); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", key, err)
	}
	delete(c.docs, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
