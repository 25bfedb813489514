// Package mongo is the MongoDB-backed implementation of policy.Store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy"
)

const (
	defaultCollection = "man_policies"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo-backed policy store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements policy.Store against a MongoDB collection.
type Store struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

var _ policy.Store = (*Store)(nil)

// New constructs a Store and ensures the unique (tenant, workflow) index
// exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("policy/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("policy/mongo: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "tenant", Value: 1}, {Key: "workflow", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ictx, index); err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

type policyDoc struct {
	Tenant   string             `bson:"tenant"`
	Workflow string             `bson:"workflow"`
	Policy   manmodel.ManPolicy `bson:"policy"`
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Get(ctx context.Context, key policy.Key) (manmodel.ManPolicy, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant": key.Tenant, "workflow": key.Workflow}
	var doc policyDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return manmodel.ManPolicy{}, policy.ErrNotFound
		}
		return manmodel.ManPolicy{}, err
	}
	return doc.Policy, nil
}

func (s *Store) Upsert(ctx context.Context, key policy.Key, p manmodel.ManPolicy) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant": key.Tenant, "workflow": key.Workflow}
	update := bson.M{"$set": policyDoc{Tenant: key.Tenant, Workflow: key.Workflow, Policy: p}}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}
