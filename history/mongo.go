package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds the settings for a MongoDB-backed store.
type MongoConfig struct {
	URI              string
	Database         string
	Collection       string
	OperationTimeout time.Duration
	MinPoolSize      uint64
	MaxPoolSize      uint64
}

// MongoStore is the MongoDB implementation of Store. Each message becomes
// one document; the room/at index serves the Recent query.
type MongoStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	log     *slog.Logger
}

type mongoRecord struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	Room    string             `bson:"room"`
	Sender  string             `bson:"sender"`
	Payload []byte             `bson:"payload"`
	At      time.Time          `bson:"at"`
}

// NewMongoStore connects, pings and prepares the collection index.
func NewMongoStore(ctx context.Context, cfg MongoConfig, log *slog.Logger) (*MongoStore, error) {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("roomcast").
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetConnectTimeout(cfg.OperationTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)

	idxCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()
	_, err = coll.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "at", Value: -1}},
	})
	if err != nil {
		log.Warn("could not ensure history index", "error", err)
	}

	log.Info("history store connected", "database", cfg.Database, "collection", cfg.Collection)

	return &MongoStore{
		client:  client,
		coll:    coll,
		timeout: cfg.OperationTimeout,
		log:     log,
	}, nil
}

func (s *MongoStore) Append(ctx context.Context, room, sender string, payload []byte, at time.Time) (MessageID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := mongoRecord{Room: room, Sender: sender, Payload: payload, At: at}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("history insert failed: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return MessageID(oid.Hex()), nil
}

func (s *MongoStore) Recent(ctx context.Context, room string, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.D{{Key: "room", Value: room}}, opts)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("history decode failed: %w", err)
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, Record{
			ID:      MessageID(doc.ID.Hex()),
			Room:    doc.Room,
			Sender:  doc.Sender,
			Payload: doc.Payload,
			At:      doc.At,
		})
	}
	return records, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
