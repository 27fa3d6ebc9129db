package lightodm

import (
	"context"
	"iter"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Future is the pending result of an operation started by AsyncMapper.
type Future[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func goFuture[V any](fn func() (V, error)) *Future[V] {
	f := &Future[V]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn()
	}()

	return f
}

// Done is closed once the result is available.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the operation finishes or ctx is done. Giving up on ctx
// does not stop the operation; its own context governs that.
func (f *Future[V]) Await(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// AsyncMapper runs the operations of a Mapper without blocking the caller.
// Each call starts one goroutine running the blocking implementation.
type AsyncMapper[T any] struct {
	mapper *Mapper[T]
}

// NewAsyncMapper is shorthand for NewMapper(conn, options...).Async().
func NewAsyncMapper[T any](conn Connector, options ...MapperOption) *AsyncMapper[T] {
	return NewMapper[T](conn, options...).Async()
}

// Sync returns the blocking mapper behind a.
func (a *AsyncMapper[T]) Sync() *Mapper[T] {
	return a.mapper
}

func (a *AsyncMapper[T]) Save(ctx context.Context, doc *T, options ...EncodeOption) *Future[string] {
	return goFuture(func() (string, error) {
		return a.mapper.Save(ctx, doc, options...)
	})
}

func (a *AsyncMapper[T]) Get(ctx context.Context, id string) *Future[*T] {
	return goFuture(func() (*T, error) {
		return a.mapper.Get(ctx, id)
	})
}

func (a *AsyncMapper[T]) Find(ctx context.Context, filter any, options ...FindOption) *Future[[]*T] {
	return goFuture(func() ([]*T, error) {
		return a.mapper.Find(ctx, filter, options...)
	})
}

func (a *AsyncMapper[T]) FindOne(ctx context.Context, filter any, options ...FindOption) *Future[*T] {
	return goFuture(func() (*T, error) {
		return a.mapper.FindOne(ctx, filter, options...)
	})
}

// FindIter streams matching documents one at a time. The stream must be
// closed when the caller stops early.
func (a *AsyncMapper[T]) FindIter(ctx context.Context, filter any, options ...FindOption) *Stream[T] {
	return newStream(ctx, a.mapper.FindIter, filter, options)
}

func (a *AsyncMapper[T]) Count(ctx context.Context, filter any) *Future[int64] {
	return goFuture(func() (int64, error) {
		return a.mapper.Count(ctx, filter)
	})
}

func (a *AsyncMapper[T]) UpdateOne(ctx context.Context, filter any, update any, options ...UpdateOption) *Future[bool] {
	return goFuture(func() (bool, error) {
		return a.mapper.UpdateOne(ctx, filter, update, options...)
	})
}

func (a *AsyncMapper[T]) UpdateMany(ctx context.Context, filter any, update any) *Future[int64] {
	return goFuture(func() (int64, error) {
		return a.mapper.UpdateMany(ctx, filter, update)
	})
}

func (a *AsyncMapper[T]) Delete(ctx context.Context, doc *T) *Future[bool] {
	return goFuture(func() (bool, error) {
		return a.mapper.Delete(ctx, doc)
	})
}

func (a *AsyncMapper[T]) DeleteOne(ctx context.Context, filter any) *Future[bool] {
	return goFuture(func() (bool, error) {
		return a.mapper.DeleteOne(ctx, filter)
	})
}

func (a *AsyncMapper[T]) DeleteMany(ctx context.Context, filter any) *Future[int64] {
	return goFuture(func() (int64, error) {
		return a.mapper.DeleteMany(ctx, filter)
	})
}

func (a *AsyncMapper[T]) InsertMany(ctx context.Context, docs []*T) *Future[[]string] {
	return goFuture(func() ([]string, error) {
		return a.mapper.InsertMany(ctx, docs)
	})
}

func (a *AsyncMapper[T]) Aggregate(ctx context.Context, pipeline any, options ...AggregateOption) *Future[[]bson.M] {
	return goFuture(func() ([]bson.M, error) {
		return a.mapper.Aggregate(ctx, pipeline, options...)
	})
}

type streamItem[T any] struct {
	doc *T
	err error
}

// Stream delivers query results one element at a time. The producer is
// parked between elements until the consumer asks for the next one.
//
//	s := users.FindIter(ctx, bson.M{"active": true})
//	defer s.Close()
//	for s.Next(ctx) {
//		u := s.Value()
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
type Stream[T any] struct {
	items  chan streamItem[T]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	cur *T
	err error
}

func newStream[T any](ctx context.Context, seq func(context.Context, any, ...FindOption) iter.Seq2[*T, error], filter any, options []FindOption) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		items:  make(chan streamItem[T]),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		defer close(s.items)
		for doc, err := range seq(ctx, filter, options...) {
			select {
			case s.items <- streamItem[T]{doc: doc, err: err}:
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Next advances to the next document. It returns false when the results are
// exhausted, an error occurred or ctx is done; Err tells which.
func (s *Stream[T]) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}

	select {
	case <-s.done:
		s.cur = nil
		return false
	default:
	}

	if err := ctx.Err(); err != nil {
		s.cur, s.err = nil, err
		return false
	}

	select {
	case item, ok := <-s.items:
		if !ok {
			s.cur = nil
			return false
		}
		if item.err != nil {
			s.cur, s.err = nil, item.err
			return false
		}
		s.cur = item.doc
		return true
	case <-ctx.Done():
		s.cur, s.err = nil, ctx.Err()
		return false
	}
}

// Value returns the document Next advanced to.
func (s *Stream[T]) Value() *T {
	return s.cur
}

func (s *Stream[T]) Err() error {
	return s.err
}

// Close stops the producer and releases the cursor. It is safe to call more
// than once.
func (s *Stream[T]) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})

	return nil
}

// All adapts the stream to a range-over-func sequence. The stream is closed
// when ranging stops.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		defer s.Close()
		for s.Next(ctx) {
			if !yield(s.Value(), nil) {
				return
			}
		}

		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}
