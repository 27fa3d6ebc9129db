package lightodm_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/likearthian/lightodm"
	"github.com/likearthian/lightodm/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// trackedCollection reports when cursors handed out by Find are closed.
type trackedCollection struct {
	lightodm.Collection
	closed atomic.Int64
}

func (c *trackedCollection) Find(ctx context.Context, filter any, opts lightodm.FindOptions) (lightodm.Cursor, error) {
	cur, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	return &trackedCursor{Cursor: cur, closed: &c.closed}, nil
}

type trackedCursor struct {
	lightodm.Cursor
	closed *atomic.Int64
}

func (c *trackedCursor) Close(ctx context.Context) error {
	c.closed.Add(1)
	return c.Cursor.Close(ctx)
}

// contextCollection remembers the context its last Find ran with.
type contextCollection struct {
	lightodm.Collection
	mu  sync.Mutex
	ctx context.Context
}

func (c *contextCollection) Find(ctx context.Context, filter any, opts lightodm.FindOptions) (lightodm.Cursor, error) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	return c.Collection.Find(ctx, filter, opts)
}

func (c *contextCollection) findContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ctx
}

// blockingCollection holds CountDocuments until release is closed.
type blockingCollection struct {
	lightodm.Collection
	release chan struct{}
}

func (c blockingCollection) CountDocuments(ctx context.Context, _ any) (int64, error) {
	select {
	case <-c.release:
		return 7, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func seededUsers(t *testing.T, n int) (*trackedCollection, *lightodm.Mapper[user]) {
	t.Helper()
	ctx := context.Background()

	base, err := memstore.New().Collection(ctx, "users")
	require.NoError(t, err)

	coll := &trackedCollection{Collection: base}
	users := lightodm.NewMapper[user](nil, lightodm.WithCollection(coll))

	docs := make([]*user, n)
	for i := range docs {
		docs[i] = &user{Name: "stream", Value: i}
	}
	_, err = users.InsertMany(ctx, docs)
	require.NoError(t, err)

	return coll, users
}

func TestFutureAwait(t *testing.T) {
	release := make(chan struct{})
	users := lightodm.NewAsyncMapper[user](nil, lightodm.WithCollection(blockingCollection{release: release}))

	f := users.Count(context.Background(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-f.Done():
		t.Fatal("future completed before the store answered")
	default:
	}

	close(release)
	n, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	<-f.Done()
	n, err = f.Await(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n, "a completed future can be awaited again")
}

func TestFutureCancelledOperation(t *testing.T) {
	users := lightodm.NewAsyncMapper[user](nil, lightodm.WithCollection(blockingCollection{release: make(chan struct{})}))

	ctx, cancel := context.WithCancel(context.Background())
	f := users.Count(ctx, nil)
	cancel()

	_, err := f.Await(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestAsyncOperationsRunConcurrently(t *testing.T) {
	ctx := context.Background()
	users := lightodm.NewAsyncMapper[user](memstore.New())

	futures := make([]*lightodm.Future[string], 20)
	for i := range futures {
		u := &user{Name: "concurrent", Value: i}
		require.NoError(t, lightodm.Init(u))
		futures[i] = users.Save(ctx, u)
	}

	for _, f := range futures {
		_, err := f.Await(ctx)
		require.NoError(t, err)
	}

	n, err := users.Count(ctx, bson.M{"name": "concurrent"}).Await(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
	assert.NotNil(t, users.Sync())
}

func TestStreamYieldsAll(t *testing.T) {
	ctx := context.Background()
	coll, users := seededUsers(t, 5)

	stream := users.Async().FindIter(ctx, bson.M{"name": "stream"}, lightodm.WithSort(lightodm.Asc("value")))
	defer stream.Close()

	var values []int
	for stream.Next(ctx) {
		values = append(values, stream.Value().Value)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, values)
	assert.False(t, stream.Next(ctx))

	assert.Eventually(t, func() bool {
		return coll.closed.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStreamEarlyClose(t *testing.T) {
	ctx := context.Background()
	coll, users := seededUsers(t, 10)

	stream := users.Async().FindIter(ctx, nil)
	require.True(t, stream.Next(ctx))
	require.True(t, stream.Next(ctx))
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	assert.False(t, stream.Next(ctx))
	assert.Nil(t, stream.Value())
	assert.NoError(t, stream.Err())

	assert.Eventually(t, func() bool {
		return coll.closed.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStreamReleasesContextWhenDrained(t *testing.T) {
	tracked, _ := seededUsers(t, 3)
	coll := &contextCollection{Collection: tracked}
	users := lightodm.NewAsyncMapper[user](nil, lightodm.WithCollection(coll))

	ctx := context.Background()
	stream := users.FindIter(ctx, nil)

	var count int
	for stream.Next(ctx) {
		count++
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, 3, count)

	findCtx := coll.findContext()
	require.NotNil(t, findCtx)
	assert.Eventually(t, func() bool {
		return findCtx.Err() != nil
	}, time.Second, 5*time.Millisecond, "the stream context is released without Close")
}

func TestStreamContextCancelled(t *testing.T) {
	_, users := seededUsers(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	stream := users.Async().FindIter(ctx, nil)
	defer stream.Close()

	require.True(t, stream.Next(ctx))
	cancel()

	assert.False(t, stream.Next(ctx))
	assert.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestStreamAll(t *testing.T) {
	ctx := context.Background()
	coll, users := seededUsers(t, 4)

	var count int
	for u, err := range users.Async().FindIter(ctx, nil).All(ctx) {
		require.NoError(t, err)
		assert.Equal(t, "stream", u.Name)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)

	assert.Eventually(t, func() bool {
		return coll.closed.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFindIterBreakClosesCursor(t *testing.T) {
	ctx := context.Background()
	coll, users := seededUsers(t, 5)

	for u, err := range users.FindIter(ctx, nil) {
		require.NoError(t, err)
		require.NotNil(t, u)
		break
	}

	assert.EqualValues(t, 1, coll.closed.Load())
}

func TestFindIterIsLazy(t *testing.T) {
	ctx := context.Background()
	coll, users := seededUsers(t, 1)

	seq := users.FindIter(ctx, nil)
	assert.Zero(t, coll.closed.Load(), "no cursor before ranging")

	for range seq {
	}
	for range seq {
	}
	assert.EqualValues(t, 2, coll.closed.Load(), "each range opens its own cursor")
}
