package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/shrimpsizemoose/examportal/internal/store"
)

const (
	defaultDatabase   = "examportal"
	collectionsCol    = "collections"
	disconnectTimeout = 10 * time.Second
)

type collectionDoc struct {
	Name      string    `bson:"_id"`
	Payload   string    `bson:"payload"`
	Revision  int64     `bson:"revision"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type MongoStore struct {
	client *mongodrv.Client
	col    *mongodrv.Collection
}

// NewMongoStore connects to uri. The database comes from the URI path and
// falls back to "examportal".
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri)
	client, err := mongodrv.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	database := defaultDatabase
	if cs, err := connstring.ParseAndValidate(uri); err == nil && cs.Database != "" {
		database = cs.Database
	}

	return &MongoStore{
		client: client,
		col:    client.Database(database).Collection(collectionsCol),
	}, nil
}

func (s *MongoStore) Load(ctx context.Context, name string) (store.Snapshot, error) {
	var doc collectionDoc
	err := s.col.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return store.Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return store.Snapshot{Payload: []byte(doc.Payload), Revision: doc.Revision}, nil
}

func (s *MongoStore) Revision(ctx context.Context, name string) (int64, error) {
	var doc collectionDoc
	opts := options.FindOne().SetProjection(bson.M{"revision": 1})
	err := s.col.FindOne(ctx, bson.M{"_id": name}, opts).Decode(&doc)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision of %s: %w", name, err)
	}
	return doc.Revision, nil
}

func (s *MongoStore) Save(ctx context.Context, name string, payload []byte, expected int64) (int64, error) {
	doc := collectionDoc{
		Name:      name,
		Payload:   string(payload),
		Revision:  expected + 1,
		UpdatedAt: time.Now().UTC(),
	}

	if expected == 0 {
		_, err := s.col.InsertOne(ctx, doc)
		if mongodrv.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("collection %s already exists: %w", name, store.ErrConflict)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to save collection %s: %w", name, err)
		}
		return doc.Revision, nil
	}

	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": name, "revision": expected}, doc)
	if err != nil {
		return 0, fmt.Errorf("failed to save collection %s: %w", name, err)
	}
	if res.MatchedCount == 0 {
		return 0, fmt.Errorf("collection %s at revision %d: %w", name, expected, store.ErrConflict)
	}
	return doc.Revision, nil
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
