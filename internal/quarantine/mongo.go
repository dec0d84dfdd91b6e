package quarantine

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/streetbite/lakepipe/pkg/logger"
)

// MongoSink inserts quarantine events into a collection the alerting stack
// watches. It owns the client it is given and disconnects it on Close.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoSink(client *mongo.Client, database, collection string) *MongoSink {
	return &MongoSink{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}
}

func (s *MongoSink) Report(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]interface{}, len(events))
	for i, e := range events {
		docs[i] = e
	}

	// Unordered so one bad document does not hold back the rest; delivery
	// is best-effort either way.
	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("inserting quarantine events: %w", err)
	}
	logger.Infof("Reported %d quarantine events to MongoDB.", len(res.InsertedIDs))
	return nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
