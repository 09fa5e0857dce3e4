package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo stores each collection as a MongoDB collection. Transactions need a
// replica set (or sharded cluster); a standalone mongod rejects them.
type Mongo struct {
	db *mongo.Database
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

// OpenMongo connects, pings the primary and returns the store for dbName.
func OpenMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return NewMongo(client.Database(dbName)), nil
}

// EnsureIndexes creates the unique index on user emails.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func mongoGet(ctx context.Context, db *mongo.Database, collection, id string, out any) error {
	err := db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func mongoPut(ctx context.Context, db *mongo.Database, collection, id string, doc any) error {
	_, err := db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func mongoUpdate(ctx context.Context, db *mongo.Database, collection, id string, fields bson.M) error {
	res, err := db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) Get(ctx context.Context, collection, id string, out any) error {
	return mongoGet(ctx, s.db, collection, id, out)
}

func (s *Mongo) Put(ctx context.Context, collection, id string, doc any) error {
	return mongoPut(ctx, s.db, collection, id, doc)
}

func (s *Mongo) Update(ctx context.Context, collection, id string, fields bson.M) error {
	return mongoUpdate(ctx, s.db, collection, id, fields)
}

func (s *Mongo) Find(ctx context.Context, collection string, filter bson.M, out any) error {
	if filter == nil {
		filter = bson.M{}
	}
	cursor, err := s.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

// Transaction runs fn inside session.WithTransaction. The driver re-runs the
// callback on TransientTransactionError and retries the commit on
// UnknownTransactionCommitResult until its own time limit.
func (s *Mongo) Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start database session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx, &mongoTx{db: s.db, sessCtx: sessCtx})
	})
	if err != nil {
		var se mongo.ServerError
		if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
			return fmt.Errorf("%w: %v", ErrTransactionConflict, err)
		}
		return err
	}
	return nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// mongoTx pins every call to the session context, whatever ctx the caller passes.
type mongoTx struct {
	db      *mongo.Database
	sessCtx mongo.SessionContext
}

func (t *mongoTx) Get(_ context.Context, collection, id string, out any) error {
	return mongoGet(t.sessCtx, t.db, collection, id, out)
}

func (t *mongoTx) Put(_ context.Context, collection, id string, doc any) error {
	return mongoPut(t.sessCtx, t.db, collection, id, doc)
}

func (t *mongoTx) Update(_ context.Context, collection, id string, fields bson.M) error {
	return mongoUpdate(t.sessCtx, t.db, collection, id, fields)
}
