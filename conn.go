package lightodm

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectionOption configures a Connection.
type ConnectionOption func(o *connectionOption)

type connectionOption struct {
	logger Logger
}

// WithConnectionLogger logs connect and disconnect events.
func WithConnectionLogger(logger Logger) ConnectionOption {
	return func(o *connectionOption) {
		o.logger = logger
	}
}

// Connection owns a MongoDB client shared by every mapper that uses it. The
// client is created on first use, verified with a ping and reused until
// Close. Connection implements Connector.
type Connection struct {
	config MongoConfig
	logger Logger

	mu     sync.Mutex
	client *mongo.Client
}

// NewConnection validates cfg and returns a connection that dials lazily.
func NewConnection(cfg MongoConfig, options ...ConnectionOption) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opt := &connectionOption{}
	for _, op := range options {
		op(opt)
	}

	return &Connection{
		config: cfg,
		logger: opt.logger,
	}, nil
}

// Connect is NewConnection followed by an eager dial.
func Connect(ctx context.Context, cfg MongoConfig, options ...ConnectionOption) (*Connection, error) {
	conn, err := NewConnection(cfg, options...)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Client(ctx); err != nil {
		return nil, err
	}

	return conn, nil
}

// Client returns the shared client, dialing it on first call. A client that
// fails its ping is disconnected and not kept.
func (c *Connection) Client(ctx context.Context) (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := mongo.Connect(ctx, c.config.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	c.client = client
	if c.logger != nil {
		c.logger.InfoContext(ctx, logMsgConnected, logAttrDatabase, c.config.Database)
	}

	return client, nil
}

// Database returns the configured database, or the one named by name.
func (c *Connection) Database(ctx context.Context, name ...string) (*mongo.Database, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}

	dbName := c.config.Database
	if len(name) > 0 && name[0] != "" {
		dbName = name[0]
	}

	return client.Database(dbName), nil
}

// Collection returns a handle on the named collection of the configured
// database.
func (c *Connection) Collection(ctx context.Context, name string) (Collection, error) {
	db, err := c.Database(ctx)
	if err != nil {
		return nil, err
	}

	return NewMongoCollection(db.Collection(name)), nil
}

// Close disconnects the client. The connection is reset even when the
// disconnect fails, so a later call dials a fresh client.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	if err := client.Disconnect(ctx); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, logMsgCloseFailed, logAttrError, err.Error())
		}
		return err
	}

	if c.logger != nil {
		c.logger.InfoContext(ctx, logMsgClosed, logAttrDatabase, c.config.Database)
	}

	return nil
}
