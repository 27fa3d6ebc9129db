package lightodm

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Mapper binds model type T to its collection and runs store operations on
// the caller's goroutine.
type Mapper[T any] struct {
	conn       Connector
	collection Collection
	logger     Logger
}

// NewMapper creates a mapper for T. Nothing is resolved up front: a model
// without a collection name fails on its first operation.
func NewMapper[T any](conn Connector, options ...MapperOption) *Mapper[T] {
	opt := &mapperOption{}
	for _, op := range options {
		op(opt)
	}

	return &Mapper[T]{
		conn:       conn,
		collection: opt.collection,
		logger:     opt.logger,
	}
}

// Async returns the non-blocking view of the mapper.
func (m *Mapper[T]) Async() *AsyncMapper[T] {
	return &AsyncMapper[T]{mapper: m}
}

func (m *Mapper[T]) Descriptor() (*Descriptor, error) {
	return Describe[T]()
}

// CollectionName returns the name declared in the model settings.
func (m *Mapper[T]) CollectionName() (string, error) {
	d, err := Describe[T]()
	if err != nil {
		return "", err
	}

	return d.CollectionName()
}

// Collection resolves the collection handle of T. A handle given with
// WithCollection wins, then a model implementing CollectionResolver, then the
// connector with the declared collection name.
func (m *Mapper[T]) Collection(ctx context.Context) (Collection, error) {
	if m.collection != nil {
		return m.collection, nil
	}

	var zero T
	if r, ok := any(zero).(CollectionResolver); ok {
		return r.ResolveCollection(ctx, m.conn)
	}

	if r, ok := any(&zero).(CollectionResolver); ok {
		return r.ResolveCollection(ctx, m.conn)
	}

	name, err := m.CollectionName()
	if err != nil {
		return nil, err
	}

	if m.conn == nil {
		return nil, fmt.Errorf("%w: no connector configured for collection %s", ErrConfiguration, name)
	}

	return m.conn.Collection(ctx, name)
}

func (m *Mapper[T]) observe(ctx context.Context, op string, start time.Time, err error) {
	if m.logger == nil {
		return
	}

	name, nameErr := m.CollectionName()
	if nameErr != nil {
		name = reflect.TypeFor[T]().Name()
	}

	if err != nil {
		m.logger.ErrorContext(ctx, logMsgOperationFail,
			logAttrOperation, op,
			logAttrCollection, name,
			logAttrError, err.Error(),
		)
		return
	}

	m.logger.DebugContext(ctx, logMsgOperation,
		logAttrOperation, op,
		logAttrCollection, name,
		logAttrDurationMS, time.Since(start).Milliseconds(),
	)
}

// Save upserts doc by its ID, replacing the whole stored document.
func (m *Mapper[T]) Save(ctx context.Context, doc *T, options ...EncodeOption) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: cannot save a nil document", ErrInvalidValue)
	}

	d, err := Describe[T]()
	if err != nil {
		return "", err
	}

	v := reflect.ValueOf(doc).Elem()
	id := d.getID(v)
	if id == "" {
		return "", fmt.Errorf("%w: document ID is required to save %s", ErrInvalidValue, d.Name())
	}

	opt := encodeOptions{}
	for _, op := range options {
		op(&opt)
	}

	coll, err := m.Collection(ctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	_, err = coll.ReplaceOne(ctx, bson.M{idKey: id}, d.encode(v, opt), true)
	m.observe(ctx, "save", start, err)
	if err != nil {
		return "", err
	}

	return id, nil
}

// Get returns the document stored under id, or nil when there is none.
func (m *Mapper[T]) Get(ctx context.Context, id string) (*T, error) {
	coll, err := m.Collection(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := coll.FindOne(ctx, bson.M{idKey: id}, FindOptions{})
	m.observe(ctx, "get", start, err)
	if err != nil {
		return nil, err
	}

	return Decode[T](raw)
}

// Find returns every document matching filter. The result is empty, never
// nil, when nothing matches.
func (m *Mapper[T]) Find(ctx context.Context, filter any, options ...FindOption) ([]*T, error) {
	docs := []*T{}
	for doc, err := range m.FindIter(ctx, filter, options...) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// FindOne returns the first document matching filter, or nil.
func (m *Mapper[T]) FindOne(ctx context.Context, filter any, options ...FindOption) (*T, error) {
	coll, err := m.Collection(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := coll.FindOne(ctx, orEmpty(filter), findOptions(options))
	m.observe(ctx, "find_one", start, err)
	if err != nil {
		return nil, err
	}

	return Decode[T](raw)
}

// FindIter streams the documents matching filter. The cursor is opened when
// ranging starts and closed when ranging stops. An error is yielded once and
// ends the sequence.
func (m *Mapper[T]) FindIter(ctx context.Context, filter any, options ...FindOption) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		coll, err := m.Collection(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		start := time.Now()
		cur, err := coll.Find(ctx, orEmpty(filter), findOptions(options))
		if err != nil {
			m.observe(ctx, "find", start, err)
			yield(nil, err)
			return
		}
		defer cur.Close(context.WithoutCancel(ctx))

		for cur.Next(ctx) {
			var raw bson.M
			if err := cur.Decode(&raw); err != nil {
				yield(nil, err)
				return
			}

			doc, err := Decode[T](raw)
			if !yield(doc, err) || err != nil {
				return
			}
		}

		err = cur.Err()
		m.observe(ctx, "find", start, err)
		if err != nil {
			yield(nil, err)
		}
	}
}

// Count returns the number of documents matching filter. A nil filter counts
// the whole collection.
func (m *Mapper[T]) Count(ctx context.Context, filter any) (int64, error) {
	coll, err := m.Collection(ctx)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := coll.CountDocuments(ctx, orEmpty(filter))
	m.observe(ctx, "count", start, err)

	return n, err
}

// UpdateOne applies update to the first document matching filter. It reports
// whether a document matched or was upserted.
func (m *Mapper[T]) UpdateOne(ctx context.Context, filter any, update any, options ...UpdateOption) (bool, error) {
	opt := updateOption{}
	for _, op := range options {
		op(&opt)
	}

	coll, err := m.Collection(ctx)
	if err != nil {
		return false, err
	}

	start := time.Now()
	res, err := coll.UpdateOne(ctx, orEmpty(filter), update, opt.upsert)
	m.observe(ctx, "update_one", start, err)
	if err != nil {
		return false, err
	}

	return res.MatchedCount > 0 || res.UpsertedCount > 0 || res.UpsertedID != nil, nil
}

// UpdateMany applies update to every document matching filter and returns the
// number of documents modified.
func (m *Mapper[T]) UpdateMany(ctx context.Context, filter any, update any) (int64, error) {
	coll, err := m.Collection(ctx)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	res, err := coll.UpdateMany(ctx, orEmpty(filter), update)
	m.observe(ctx, "update_many", start, err)
	if err != nil {
		return 0, err
	}

	return res.ModifiedCount, nil
}

// Delete removes the stored copy of doc. A document without an ID is
// reported as not deleted and the store is not contacted.
func (m *Mapper[T]) Delete(ctx context.Context, doc *T) (bool, error) {
	if doc == nil {
		return false, nil
	}

	d, err := Describe[T]()
	if err != nil {
		return false, err
	}

	id := d.getID(reflect.ValueOf(doc).Elem())
	if id == "" {
		return false, nil
	}

	return m.deleteOne(ctx, "delete", bson.M{idKey: id})
}

// DeleteOne removes the first document matching filter.
func (m *Mapper[T]) DeleteOne(ctx context.Context, filter any) (bool, error) {
	return m.deleteOne(ctx, "delete_one", orEmpty(filter))
}

func (m *Mapper[T]) deleteOne(ctx context.Context, op string, filter any) (bool, error) {
	coll, err := m.Collection(ctx)
	if err != nil {
		return false, err
	}

	start := time.Now()
	n, err := coll.DeleteOne(ctx, filter)
	m.observe(ctx, op, start, err)
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// DeleteMany removes every document matching filter and returns how many
// were removed.
func (m *Mapper[T]) DeleteMany(ctx context.Context, filter any) (int64, error) {
	coll, err := m.Collection(ctx)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := coll.DeleteMany(ctx, orEmpty(filter))
	m.observe(ctx, "delete_many", start, err)

	return n, err
}

// InsertMany inserts docs in one round trip and returns their IDs in input
// order. Each document goes through the construction step first, so missing
// random IDs are filled and composite IDs recomputed.
func (m *Mapper[T]) InsertMany(ctx context.Context, docs []*T) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	d, err := Describe[T]()
	if err != nil {
		return nil, err
	}

	raws := make([]any, len(docs))
	for i, doc := range docs {
		if doc == nil {
			return nil, fmt.Errorf("%w: document %d of %s is nil", ErrInvalidValue, i, d.Name())
		}

		v := reflect.ValueOf(doc).Elem()
		if err := d.assignID(v); err != nil {
			return nil, err
		}
		raws[i] = d.encode(v, encodeOptions{})
	}

	coll, err := m.Collection(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ids, err := coll.InsertMany(ctx, raws)
	m.observe(ctx, "insert_many", start, err)
	if err != nil {
		return nil, err
	}

	return Map(ids, idString), nil
}

// Aggregate runs pipeline against the collection and returns the raw result
// documents. Results are not decoded into T since pipelines may reshape them.
func (m *Mapper[T]) Aggregate(ctx context.Context, pipeline any, options ...AggregateOption) ([]bson.M, error) {
	opt := AggregateOptions{}
	for _, op := range options {
		op(&opt)
	}

	coll, err := m.Collection(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := m.aggregate(ctx, coll, pipeline, opt)
	m.observe(ctx, "aggregate", start, err)
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (m *Mapper[T]) aggregate(ctx context.Context, coll Collection, pipeline any, opt AggregateOptions) ([]bson.M, error) {
	if pipeline == nil {
		pipeline = []bson.M{}
	}

	cur, err := coll.Aggregate(ctx, pipeline, opt)
	if err != nil {
		return nil, err
	}
	defer cur.Close(context.WithoutCancel(ctx))

	results := []bson.M{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		results = append(results, raw)
	}

	return results, cur.Err()
}

func orEmpty(filter any) any {
	if filter == nil {
		return bson.M{}
	}

	return filter
}
