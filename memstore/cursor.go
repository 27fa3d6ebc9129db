package memstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var errCursorClosed = errors.New("memstore: cursor is closed")

// cursor walks a snapshot of documents taken when the query ran.
type cursor struct {
	docs   []bson.M
	pos    int
	cur    bson.M
	err    error
	closed bool
}

func newCursor(docs []bson.M) *cursor {
	return &cursor{docs: docs, pos: -1}
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}

	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}

	c.pos++
	if c.pos >= len(c.docs) {
		c.cur = nil
		return false
	}

	c.cur = c.docs[c.pos]
	return true
}

// Decode copies the current document into v. A *bson.M receives the document
// as it is stored; any other target goes through a BSON round trip.
func (c *cursor) Decode(v any) error {
	if c.closed {
		return errCursorClosed
	}

	if c.cur == nil {
		return errors.New("memstore: Decode called without a current document")
	}

	if m, ok := v.(*bson.M); ok {
		*m = deepCopy(c.cur).(bson.M)
		return nil
	}

	data, err := bson.Marshal(c.cur)
	if err != nil {
		return err
	}

	return bson.Unmarshal(data, v)
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(context.Context) error {
	c.closed = true
	c.docs = nil
	c.cur = nil
	return nil
}
