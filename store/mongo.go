package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOptions configures the MongoDB connection.
type MongoOptions struct {
	// URI is the MongoDB connection string (e.g., "mongodb://localhost:27017").
	URI string

	// Database is the database holding the engine's collections.
	Database string

	// ConnectTimeout is the maximum time to wait for connection
	// establishment. Defaults to 10s.
	ConnectTimeout time.Duration
}

// MongoDocs implements DocumentStore using the official MongoDB driver.
// It is the durable tier and system of record: sessions, context entries,
// context switches and context history each live in their own collection.
type MongoDocs struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoDocs creates a MongoDB-backed DocumentStore and verifies
// connectivity with a ping.
func NewMongoDocs(ctx context.Context, opts MongoOptions) (*MongoDocs, error) {
	if opts.URI == "" {
		opts.URI = "mongodb://localhost:27017"
	}
	if opts.Database == "" {
		opts.Database = "perfectmpc"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(opts.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &MongoDocs{client: client, db: client.Database(opts.Database)}, nil
}

// InsertOne appends a document to the named collection.
func (s *MongoDocs) InsertOne(ctx context.Context, collection string, doc Document) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, bson.M(doc)); err != nil {
		return fmt.Errorf("%w: insert into %s: %v", ErrStorageFailed, collection, err)
	}
	return nil
}

// FindOne returns the first document matching filter.
func (s *MongoDocs) FindOne(ctx context.Context, collection string, filter Document) (Document, error) {
	var out bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M(filter)).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: find in %s: %v", ErrStorageFailed, collection, err)
	}
	return normalizeDoc(out), nil
}

// FindMany returns all documents matching filter, bounded and ordered by opts.
func (s *MongoDocs) FindMany(ctx context.Context, collection string, filter Document, opts *FindOptions) ([]Document, error) {
	findOpts := options.Find()
	if opts != nil {
		if opts.Limit > 0 {
			findOpts.SetLimit(opts.Limit)
		}
		if opts.Sort != nil {
			order := 1
			if opts.Sort.Desc {
				order = -1
			}
			findOpts.SetSort(bson.D{{Key: opts.Sort.Field, Value: order}})
		}
	}

	cursor, err := s.db.Collection(collection).Find(ctx, bson.M(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: find in %s: %v", ErrStorageFailed, collection, err)
	}

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode from %s: %v", ErrStorageFailed, collection, err)
	}

	docs := make([]Document, 0, len(raw))
	for _, d := range raw {
		docs = append(docs, normalizeDoc(d))
	}
	return docs, nil
}

// UpdateOne applies patch as a $set to the first document matching filter.
func (s *MongoDocs) UpdateOne(ctx context.Context, collection string, filter, patch Document) (bool, error) {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M(filter), bson.M{"$set": bson.M(patch)})
	if err != nil {
		return false, fmt.Errorf("%w: update in %s: %v", ErrStorageFailed, collection, err)
	}
	return res.MatchedCount > 0, nil
}

// DeleteOne removes the first document matching filter.
func (s *MongoDocs) DeleteOne(ctx context.Context, collection string, filter Document) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M(filter))
	if err != nil {
		return fmt.Errorf("%w: delete from %s: %v", ErrStorageFailed, collection, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoDocs) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// normalizeDoc converts driver-specific decoded types back to the plain
// Document value set (time.Time, map[string]any, []any), and drops the
// synthetic _id so round-tripped documents compare equal.
func normalizeDoc(m bson.M) Document {
	doc := make(Document, len(m))
	for k, v := range m {
		if k == "_id" {
			continue
		}
		doc[k] = normalizeValue(v)
	}
	return doc
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case int32:
		return int(t)
	case int64:
		return int(t)
	default:
		return v
	}
}
