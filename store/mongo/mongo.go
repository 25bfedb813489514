// Package mongo is the MongoDB-backed implementation of store.Capability,
// used for the man_tasks and man_decision_events collections.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/manorchestra/core/store"
)

const defaultOpTimeout = 5 * time.Second

// Options configures a Mongo-backed collection adapter.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
	// Indexes are created (if not already present) when the collection is
	// constructed.
	Indexes []mongodriver.IndexModel
}

// Collection implements store.Capability against a MongoDB collection.
type Collection struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

var _ store.Capability = (*Collection)(nil)

// New constructs a Collection and ensures the configured indexes exist.
func New(ctx context.Context, opts Options) (*Collection, error) {
	if opts.Client == nil {
		return nil, errors.New("store/mongo: client is required")
	}
	if opts.Database == "" || opts.Collection == "" {
		return nil, errors.New("store/mongo: database and collection are required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(opts.Collection)

	if len(opts.Indexes) > 0 {
		ictx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := coll.Indexes().CreateMany(ictx, opts.Indexes); err != nil {
			return nil, err
		}
	}
	return &Collection{coll: coll, timeout: timeout}, nil
}

func (c *Collection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toBSON(filter store.Filter) bson.M {
	m := bson.M{}
	for k, v := range filter {
		m[k] = v
	}
	return m
}

func (c *Collection) Insert(ctx context.Context, doc any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c *Collection) Upsert(ctx context.Context, filter store.Filter, doc any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.ReplaceOne(ctx, toBSON(filter), doc, options.Replace().SetUpsert(true))
	return err
}

func (c *Collection) Update(ctx context.Context, filter, guard store.Filter, doc any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	merged := toBSON(filter)
	for k, v := range guard {
		merged[k] = v
	}
	res, err := c.coll.ReplaceOne(ctx, merged, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *Collection) SelectOne(ctx context.Context, filter store.Filter, dest any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.coll.FindOne(ctx, toBSON(filter)).Decode(dest); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (c *Collection) Select(ctx context.Context, filter store.Filter, limit, offset int, dest any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts = opts.SetSkip(int64(offset))
	}
	cursor, err := c.coll.Find(ctx, toBSON(filter), opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, dest)
}

func (c *Collection) Delete(ctx context.Context, filter store.Filter) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.DeleteMany(ctx, toBSON(filter))
	return err
}

func (c *Collection) Count(ctx context.Context, filter store.Filter) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := c.coll.CountDocuments(ctx, toBSON(filter))
	return int(n), err
}
