package lightodm

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Connector hands out collection handles by name. It is the seam between the
// mapper and whatever owns the store connection.
type Connector interface {
	Collection(ctx context.Context, name string) (Collection, error)
}

// Collection is the store-side handle the mapper talks to. Filters, updates
// and pipelines are passed through untouched. Handles must be safe for
// concurrent use.
type Collection interface {
	// FindOne returns the first matching document, or nil when nothing
	// matches.
	FindOne(ctx context.Context, filter any, opts FindOptions) (bson.M, error)
	Find(ctx context.Context, filter any, opts FindOptions) (Cursor, error)
	InsertOne(ctx context.Context, doc any) (any, error)
	InsertMany(ctx context.Context, docs []any) ([]any, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, upsert bool) (UpdateResult, error)
	UpdateOne(ctx context.Context, filter any, update any, upsert bool) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter any, update any) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter any) (int64, error)
	DeleteMany(ctx context.Context, filter any) (int64, error)
	CountDocuments(ctx context.Context, filter any) (int64, error)
	Aggregate(ctx context.Context, pipeline any, opts AggregateOptions) (Cursor, error)
}

// Cursor iterates over query results. *mongo.Cursor satisfies it.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// UpdateResult reports the outcome of a replace or update.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    any
}

// FindOptions controls paging and ordering of a query. Zero values mean "not
// set".
type FindOptions struct {
	Skip  int64
	Limit int64
	Sort  Sort
}

// AggregateOptions carries the optional aggregate command settings.
type AggregateOptions struct {
	AllowDiskUse *bool
	BatchSize    *int32
	MaxTime      time.Duration
	Comment      string
}
