package recordstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"piiindex/internal/apperr"
)

// MongoStore is a Mongo-backed BlobStore, mirroring the shape of the
// relational index-store backend: one document per ref, upserted on Put.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type blobDoc struct {
	Ref       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore connects to uri and verifies the connection before
// returning.
func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	if uri == "" {
		return nil, apperr.New(apperr.StorePermanent, "mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreTransient, "mongo connect", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, apperr.Wrap(apperr.StoreTransient, "mongo ping", err)
	}
	return &MongoStore{client: cli, coll: cli.Database(dbName).Collection(collName)}, nil
}

func (m *MongoStore) Put(ctx context.Context, ref string, ciphertext []byte) error {
	if ref == "" {
		return apperr.New(apperr.InvalidInput, "empty ref")
	}
	now := time.Now()
	_, err := m.coll.UpdateByID(ctx, ref, bson.M{
		"$set":         bson.M{"data": ciphertext, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}, options.Update().SetUpsert(true))
	if err != nil {
		return apperr.Wrap(apperr.StoreTransient, "put blob", err)
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var doc blobDoc
	err := m.coll.FindOne(ctx, bson.M{"_id": ref}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreTransient, "get blob", err)
	}
	return doc.Data, nil
}

func (m *MongoStore) Delete(ctx context.Context, ref string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": ref}); err != nil {
		return apperr.Wrap(apperr.StoreTransient, "delete blob", err)
	}
	return nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
