package lightodm

import "time"

// MapperOption configures a Mapper.
type MapperOption func(o *mapperOption)

type mapperOption struct {
	collection Collection
	logger     Logger
}

// WithCollection pins the mapper to coll, bypassing collection name
// resolution.
func WithCollection(coll Collection) MapperOption {
	return func(o *mapperOption) {
		o.collection = coll
	}
}

// WithLogger sets the logger for the mapper.
// Debug level: every store round trip with its duration.
// Error level: store failures, logged before they are returned unchanged.
func WithLogger(logger Logger) MapperOption {
	return func(o *mapperOption) {
		o.logger = logger
	}
}

// FindOption configures Find, FindOne and FindIter.
type FindOption func(o *FindOptions)

// WithSkip skips the first n matching documents.
func WithSkip(n int64) FindOption {
	return func(o *FindOptions) {
		o.Skip = n
	}
}

// WithLimit returns at most n documents. Zero means no limit.
func WithLimit(n int64) FindOption {
	return func(o *FindOptions) {
		o.Limit = n
	}
}

// WithSort orders the results by keys, in the given order.
func WithSort(keys ...SortKey) FindOption {
	return func(o *FindOptions) {
		o.Sort = append(o.Sort, keys...)
	}
}

// UpdateOption configures UpdateOne.
type UpdateOption func(o *updateOption)

type updateOption struct {
	upsert bool
}

// WithUpsert inserts a new document when the filter matches nothing.
func WithUpsert(upsert bool) UpdateOption {
	return func(o *updateOption) {
		o.upsert = upsert
	}
}

// AggregateOption configures Aggregate.
type AggregateOption func(o *AggregateOptions)

// WithAllowDiskUse lets pipeline stages write temporary data to disk.
func WithAllowDiskUse(allow bool) AggregateOption {
	return func(o *AggregateOptions) {
		o.AllowDiskUse = &allow
	}
}

// WithBatchSize sets the cursor batch size of the aggregation.
func WithBatchSize(n int32) AggregateOption {
	return func(o *AggregateOptions) {
		o.BatchSize = &n
	}
}

// WithMaxTime bounds the server-side execution time of the aggregation.
func WithMaxTime(d time.Duration) AggregateOption {
	return func(o *AggregateOptions) {
		o.MaxTime = d
	}
}

// WithComment attaches a comment to the aggregate command.
func WithComment(comment string) AggregateOption {
	return func(o *AggregateOptions) {
		o.Comment = comment
	}
}

func findOptions(options []FindOption) FindOptions {
	opt := FindOptions{}
	for _, op := range options {
		op(&opt)
	}

	return opt
}
