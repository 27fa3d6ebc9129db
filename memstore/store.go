// Package memstore is an in-process document store implementing the
// lightodm Connector and Collection contracts. It understands the commonly
// used subset of MongoDB filters, update operators and aggregation stages,
// and is meant for tests and for embedding where a server is not available.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/likearthian/lightodm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const idKey = "_id"

// Store holds named collections. The zero value is not usable; use New.
type Store struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

func New() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(_ context.Context, name string) (lightodm.Collection, error) {
	return s.collection(name), nil
}

func (s *Store) collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &Collection{name: name}
		s.collections[name] = c
	}

	return c
}

// Drop removes the named collection and its documents.
func (s *Store) Drop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections, name)
}

// Names returns the names of the existing collections, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Collection is one in-memory collection. Documents are kept in insertion
// order as normalized BSON documents; callers always receive copies.
type Collection struct {
	name string

	mu   sync.RWMutex
	docs []bson.M
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) FindOne(ctx context.Context, filter any, opts lightodm.FindOptions) (bson.M, error) {
	opts.Limit = 1
	docs, err := c.find(ctx, filter, opts)
	if err != nil || len(docs) == 0 {
		return nil, err
	}

	return docs[0], nil
}

func (c *Collection) Find(ctx context.Context, filter any, opts lightodm.FindOptions) (lightodm.Cursor, error) {
	docs, err := c.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	return newCursor(docs), nil
}

func (c *Collection) find(ctx context.Context, filter any, opts lightodm.FindOptions) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, err := normalize(filter)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var docs []bson.M
	for _, doc := range c.docs {
		ok, err := matches(doc, query)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}

	sortDocs(docs, sortKeys(opts.Sort))
	docs = page(docs, opts.Skip, opts.Limit)

	return copyDocs(docs), nil
}

func (c *Collection) InsertOne(ctx context.Context, doc any) (any, error) {
	ids, err := c.InsertMany(ctx, []any{doc})
	if err != nil {
		return nil, err
	}

	return ids[0], nil
}

// InsertMany inserts docs in order and stops at the first failure, keeping
// the documents inserted before it.
func (c *Collection) InsertMany(ctx context.Context, docs []any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		doc, err := normalize(d)
		if err != nil {
			return ids, err
		}

		if _, ok := doc[idKey]; !ok {
			doc[idKey] = primitive.NewObjectID()
		}

		if c.indexOf(doc[idKey]) >= 0 {
			return ids, fmt.Errorf("%w: collection %s already holds _id %v", lightodm.ErrDuplicateKey, c.name, doc[idKey])
		}

		c.docs = append(c.docs, doc)
		ids = append(ids, doc[idKey])
	}

	return ids, nil
}

func (c *Collection) ReplaceOne(ctx context.Context, filter any, replacement any, upsert bool) (lightodm.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return lightodm.UpdateResult{}, err
	}

	query, err := normalize(filter)
	if err != nil {
		return lightodm.UpdateResult{}, err
	}

	doc, err := normalize(replacement)
	if err != nil {
		return lightodm.UpdateResult{}, err
	}

	for key := range doc {
		if isOperator(key) {
			return lightodm.UpdateResult{}, fmt.Errorf("replacement document must not contain update operator %s", key)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.first(query)
	if err != nil {
		return lightodm.UpdateResult{}, err
	}

	if pos >= 0 {
		old := c.docs[pos]
		doc[idKey] = old[idKey]
		c.docs[pos] = doc

		res := lightodm.UpdateResult{MatchedCount: 1}
		if !reflect.DeepEqual(old, doc) {
			res.ModifiedCount = 1
		}
		return res, nil
	}

	if !upsert {
		return lightodm.UpdateResult{}, nil
	}

	if _, ok := doc[idKey]; !ok {
		seed := seedFromFilter(query)
		if id, ok := seed[idKey]; ok {
			doc[idKey] = id
		} else {
			doc[idKey] = primitive.NewObjectID()
		}
	}

	return c.insertUpserted(doc)
}

func (c *Collection) UpdateOne(ctx context.Context, filter any, update any, upsert bool) (lightodm.UpdateResult, error) {
	return c.update(ctx, filter, update, upsert, false)
}

func (c *Collection) UpdateMany(ctx context.Context, filter any, update any) (lightodm.UpdateResult, error) {
	return c.update(ctx, filter, update, false, true)
}

func (c *Collection) update(ctx context.Context, filter any, update any, upsert, multi bool) (lightodm.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return lightodm.UpdateResult{}, err
	}

	query, err := normalize(filter)
	if err != nil {
		return lightodm.UpdateResult{}, err
	}

	changes, err := normalize(update)
	if err != nil {
		return lightodm.UpdateResult{}, err
	}
	if !isOperatorDoc(changes) {
		return lightodm.UpdateResult{}, errReplacementUpdate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := lightodm.UpdateResult{}
	pending := make(map[int]bson.M)
	for i, doc := range c.docs {
		ok, err := matches(doc, query)
		if err != nil {
			return lightodm.UpdateResult{}, err
		}
		if !ok {
			continue
		}

		res.MatchedCount++
		updated, err := applyUpdate(doc, changes, false)
		if err != nil {
			return lightodm.UpdateResult{}, err
		}

		if !reflect.DeepEqual(doc, updated) {
			pending[i] = updated
		}

		if !multi {
			break
		}
	}

	for i, doc := range pending {
		c.docs[i] = doc
	}
	res.ModifiedCount = int64(len(pending))

	if res.MatchedCount > 0 || !upsert {
		return res, nil
	}

	doc, err := applyUpdate(seedFromFilter(query), changes, true)
	if err != nil {
		return res, err
	}

	if _, ok := doc[idKey]; !ok {
		doc[idKey] = primitive.NewObjectID()
	}

	return c.insertUpserted(doc)
}

func (c *Collection) insertUpserted(doc bson.M) (lightodm.UpdateResult, error) {
	if c.indexOf(doc[idKey]) >= 0 {
		return lightodm.UpdateResult{}, fmt.Errorf("%w: collection %s already holds _id %v", lightodm.ErrDuplicateKey, c.name, doc[idKey])
	}

	c.docs = append(c.docs, doc)
	return lightodm.UpdateResult{UpsertedCount: 1, UpsertedID: doc[idKey]}, nil
}

func (c *Collection) DeleteOne(ctx context.Context, filter any) (int64, error) {
	return c.delete(ctx, filter, false)
}

func (c *Collection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	return c.delete(ctx, filter, true)
}

func (c *Collection) delete(ctx context.Context, filter any, multi bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	query, err := normalize(filter)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var deleted int64
	kept := make([]bson.M, 0, len(c.docs))
	for _, doc := range c.docs {
		if deleted > 0 && !multi {
			kept = append(kept, doc)
			continue
		}

		ok, err := matches(doc, query)
		if err != nil {
			return 0, err
		}
		if ok {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}

	c.docs = kept

	return deleted, nil
}

func (c *Collection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	query, err := normalize(filter)
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int64
	for _, doc := range c.docs {
		ok, err := matches(doc, query)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}

	return n, nil
}

func (c *Collection) Aggregate(ctx context.Context, pipeline any, _ lightodm.AggregateOptions) (lightodm.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stages, err := parsePipeline(pipeline)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	docs := copyDocs(c.docs)
	c.mu.RUnlock()

	for _, st := range stages {
		docs, err = st.run(docs)
		if err != nil {
			return nil, err
		}
	}

	return newCursor(docs), nil
}

func (c *Collection) first(query bson.M) (int, error) {
	for i, doc := range c.docs {
		ok, err := matches(doc, query)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}

	return -1, nil
}

func (c *Collection) indexOf(id any) int {
	for i, doc := range c.docs {
		if equal(doc[idKey], id) {
			return i
		}
	}

	return -1
}

func page(docs []bson.M, skip, limit int64) []bson.M {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}

	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}

	return docs
}

func copyDocs(docs []bson.M) []bson.M {
	out := make([]bson.M, len(docs))
	for i, doc := range docs {
		out[i] = deepCopy(doc).(bson.M)
	}

	return out
}
