// Package topo provides access to the source MongoDB deployment.
package topo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/searchlink/searchlink-mongodb/errors"
)

// Connect establishes a connection to the MongoDB deployment and verifies it
// with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("searchlink-mongodb")

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	err = client.Ping(ctx, readpref.Primary())
	if err != nil {
		disconnectErr := client.Disconnect(context.Background())

		return nil, errors.Wrap(errors.Join(err, disconnectErr), "ping")
	}

	return client, nil
}

// DatabaseFromURI returns the database name from the connection string path.
func DatabaseFromURI(uri string) (string, error) {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return "", errors.Wrap(err, "parse connection string")
	}

	return cs.Database, nil
}

// Version returns the server version string reported by buildInfo.
func Version(ctx context.Context, m *mongo.Client) (string, error) {
	var res struct {
		Version string `bson:"version"`
	}

	err := m.Database("admin").
		RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).
		Decode(&res)
	if err != nil {
		return "", errors.Wrap(err, "buildInfo")
	}

	return res.Version, nil
}

// ListCollectionNames returns genuine (non-view, non-timeseries) collection
// names in the database, excluding system collections.
func ListCollectionNames(ctx context.Context, m *mongo.Client, dbName string) ([]string, error) {
	specs, err := m.Database(dbName).ListCollectionSpecifications(ctx,
		bson.D{{Key: "name", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$regex", Value: "^system\\."}}}}}})
	if err != nil {
		return nil, errors.Wrap(err, "listCollections")
	}

	names := make([]string, 0, len(specs))

	for _, spec := range specs {
		if spec.Type != "collection" {
			continue
		}

		names = append(names, spec.Name)
	}

	return names, nil
}

// Count returns the exact number of documents in the collection.
func Count(ctx context.Context, m *mongo.Client, dbName, collName string) (int64, error) {
	n, err := m.Database(dbName).Collection(collName).CountDocuments(ctx, bson.D{})

	return n, errors.Wrap(err, "countDocuments")
}
