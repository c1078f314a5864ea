package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is an EnvelopeStore backed by a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ EnvelopeStore = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed store. It takes ownership of
// client. dbName defaults to "stagehand", collName to "envelopes".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "stagehand"
	}
	if collName == "" {
		collName = DefaultTable
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
	}
}

// OpenMongo connects to uri and checks the connection.
func OpenMongo(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo store: ping: %w", err)
	}
	return NewMongoStore(client, dbName, collName), nil
}

type mongoEnvelopeDoc struct {
	ID      string `bson:"_id"`
	Seq     int64  `bson:"seq"`
	Stage   string `bson:"stage"`
	Command string `bson:"command"`
	TS      int64  `bson:"ts"`
	Payload []byte `bson:"payload"`
}

func (s *MongoStore) Append(ctx context.Context, rec Record) error {
	payload, err := EncodeEnvelope(rec.Envelope)
	if err != nil {
		return err
	}

	doc := mongoEnvelopeDoc{
		ID:      rec.ID,
		Seq:     time.Now().UnixNano(),
		Stage:   rec.Stage,
		Command: rec.Command,
		TS:      rec.Timestamp.UnixNano(),
		Payload: payload,
	}
	_, err = s.coll.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := bson.M{}
	if filter.Stage != "" {
		query["stage"] = filter.Stage
	}
	if filter.Command != "" {
		query["command"] = filter.Command
	}
	if !filter.Since.IsZero() {
		query["ts"] = bson.M{"$gte": filter.Since.UnixNano()}
	}

	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []Record
	for cur.Next(ctx) {
		var doc mongoEnvelopeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		msg, err := DecodeEnvelope(doc.Payload)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		records = append(records, Record{
			ID:        doc.ID,
			Stage:     doc.Stage,
			Command:   doc.Command,
			Timestamp: time.Unix(0, doc.TS).UTC(),
			Envelope:  msg,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
