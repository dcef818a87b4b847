package slink

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/searchlink/searchlink-mongodb/config"
	"github.com/searchlink/searchlink-mongodb/errors"
	"github.com/searchlink/searchlink-mongodb/topo"
)

// mongoSource adapts a MongoDB client scoped to one database to the Source
// interface.
type mongoSource struct {
	client *mongo.Client
	dbName string
}

// NewMongoSource returns a Source backed by the named database of the client.
func NewMongoSource(client *mongo.Client, dbName string) Source {
	return &mongoSource{client: client, dbName: dbName}
}

func (s *mongoSource) ListCollectionNames(ctx context.Context) ([]string, error) {
	return topo.ListCollectionNames(ctx, s.client, s.dbName)
}

func (s *mongoSource) ReadCollection(ctx context.Context, coll string) (DocumentCursor, error) {
	cur, err := s.client.Database(s.dbName).Collection(coll).
		Find(ctx, bson.D{},
			options.Find().SetBatchSize(config.SnapshotCursorBatchSize))
	if err != nil {
		return nil, errors.Wrapf(err, "find %q", coll)
	}

	return &mongoCursor{cur: cur}, nil
}

func (s *mongoSource) Count(ctx context.Context, coll string) (int64, error) {
	return topo.Count(ctx, s.client, s.dbName, coll)
}

// Watch opens a change stream over the whole database. Update events carry
// the post-image of the document so they can be applied as upserts.
func (s *mongoSource) Watch(ctx context.Context) (ChangeStream, error) {
	cs, err := s.client.Database(s.dbName).Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().
			SetFullDocument(options.UpdateLookup).
			SetBatchSize(config.ChangeStreamBatchSize).
			SetMaxAwaitTime(config.ChangeStreamAwaitTime))
	if err != nil {
		return nil, errors.Wrap(err, "open change stream")
	}

	return &mongoChangeStream{cs: cs}, nil
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }
func (c *mongoCursor) Current() bson.Raw             { return c.cur.Current }
func (c *mongoCursor) Err() error                    { return c.cur.Err() }

func (c *mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx) //nolint:wrapcheck
}

type mongoChangeStream struct {
	cs *mongo.ChangeStream
}

func (s *mongoChangeStream) Next(ctx context.Context) bool { return s.cs.Next(ctx) }
func (s *mongoChangeStream) Current() bson.Raw             { return s.cs.Current }
func (s *mongoChangeStream) Err() error                    { return s.cs.Err() }

func (s *mongoChangeStream) Close(ctx context.Context) error {
	return s.cs.Close(ctx) //nolint:wrapcheck
}
