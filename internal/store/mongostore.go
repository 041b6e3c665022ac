package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/inframind/platform/internal/metrics"
)

// MongoStore backs the Store interface with a MongoDB database. The filter
// vocabulary is the Mongo operator subset, so filters pass through unchanged.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoStore connects to MongoDB and pings before returning.
func NewMongoStore(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(5*time.Second).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("Connected to MongoDB", zap.String("database", database))
	return &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}, nil
}

// Collection returns the named collection.
func (s *MongoStore) Collection(name string) Collection {
	return &mongoCollection{name: name, coll: s.db.Collection(name)}
}

// Ping verifies connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoCollection struct {
	name string
	coll *mongo.Collection
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc any) error {
	metrics.StoreOperations.WithLabelValues(c.name, "insert_one").Inc()
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c *mongoCollection) Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "find").Inc()
	findOpts := options.Find()
	if opts != nil {
		if opts.SortField != "" {
			dir := 1
			if opts.SortDesc {
				dir = -1
			}
			findOpts.SetSort(bson.D{{Key: opts.SortField, Value: dir}})
		}
		if opts.Limit > 0 {
			findOpts.SetLimit(opts.Limit)
		}
	}
	cur, err := c.coll.Find(ctx, toBSON(filter), findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Document
	for cur.Next(ctx) {
		var doc Document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cur.Err()
}

func (c *mongoCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "find_one").Inc()
	var doc Document
	err := c.coll.FindOne(ctx, toBSON(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter Filter, set Document) error {
	metrics.StoreOperations.WithLabelValues(c.name, "update_one").Inc()
	res, err := c.coll.UpdateOne(ctx, toBSON(filter), bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *mongoCollection) ReplaceOne(ctx context.Context, filter Filter, doc any, upsert bool) error {
	metrics.StoreOperations.WithLabelValues(c.name, "replace_one").Inc()
	res, err := c.coll.ReplaceOne(ctx, toBSON(filter), doc, options.Replace().SetUpsert(upsert))
	if err != nil {
		return err
	}
	if !upsert && res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "delete_many").Inc()
	res, err := c.coll.DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "count").Inc()
	return c.coll.CountDocuments(ctx, toBSON(filter))
}

func toBSON(f Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M(f)
}
