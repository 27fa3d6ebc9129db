package lightodm

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
)

type mongoCollection struct {
	collection *mongo.Collection
}

// NewMongoCollection adapts a driver collection to the Collection contract.
// Driver errors are returned as they are.
func NewMongoCollection(coll *mongo.Collection) Collection {
	return &mongoCollection{collection: coll}
}

func (m *mongoCollection) FindOne(ctx context.Context, filter any, opts FindOptions) (bson.M, error) {
	fo := mongoOptions.FindOne()
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if len(opts.Sort) > 0 {
		fo.SetSort(sortDocument(opts.Sort))
	}

	var doc bson.M
	err := m.collection.FindOne(ctx, filter, fo).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (m *mongoCollection) Find(ctx context.Context, filter any, opts FindOptions) (Cursor, error) {
	fo := mongoOptions.Find()
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Sort) > 0 {
		fo.SetSort(sortDocument(opts.Sort))
	}

	cur, err := m.collection.Find(ctx, filter, fo)
	if err != nil {
		return nil, err
	}

	return cur, nil
}

func (m *mongoCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	res, err := m.collection.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}

	return res.InsertedID, nil
}

func (m *mongoCollection) InsertMany(ctx context.Context, docs []any) ([]any, error) {
	res, err := m.collection.InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}

	return res.InsertedIDs, nil
}

func (m *mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any, upsert bool) (UpdateResult, error) {
	res, err := m.collection.ReplaceOne(ctx, filter, replacement, mongoOptions.Replace().SetUpsert(upsert))
	if err != nil {
		return UpdateResult{}, err
	}

	return updateResult(res), nil
}

func (m *mongoCollection) UpdateOne(ctx context.Context, filter any, update any, upsert bool) (UpdateResult, error) {
	res, err := m.collection.UpdateOne(ctx, filter, update, mongoOptions.Update().SetUpsert(upsert))
	if err != nil {
		return UpdateResult{}, err
	}

	return updateResult(res), nil
}

func (m *mongoCollection) UpdateMany(ctx context.Context, filter any, update any) (UpdateResult, error) {
	res, err := m.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return UpdateResult{}, err
	}

	return updateResult(res), nil
}

func (m *mongoCollection) DeleteOne(ctx context.Context, filter any) (int64, error) {
	res, err := m.collection.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}

	return res.DeletedCount, nil
}

func (m *mongoCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := m.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}

	return res.DeletedCount, nil
}

func (m *mongoCollection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	return m.collection.CountDocuments(ctx, filter)
}

func (m *mongoCollection) Aggregate(ctx context.Context, pipeline any, opts AggregateOptions) (Cursor, error) {
	ao := mongoOptions.Aggregate()
	if opts.AllowDiskUse != nil {
		ao.SetAllowDiskUse(*opts.AllowDiskUse)
	}
	if opts.BatchSize != nil {
		ao.SetBatchSize(*opts.BatchSize)
	}
	if opts.MaxTime > 0 {
		ao.SetMaxTime(opts.MaxTime)
	}
	if opts.Comment != "" {
		ao.SetComment(opts.Comment)
	}

	cur, err := m.collection.Aggregate(ctx, pipeline, ao)
	if err != nil {
		return nil, err
	}

	return cur, nil
}

func updateResult(res *mongo.UpdateResult) UpdateResult {
	return UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
	}
}

func sortDocument(s Sort) bson.D {
	return Map(s, func(k SortKey) bson.E {
		return bson.E{Key: k.Key, Value: k.Order}
	})
}
