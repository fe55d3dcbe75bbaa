// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

const (
	defaultMongoDatabase   = "movieflix"
	defaultMongoCollection = "rooms"
	changeStreamRetry      = 5 * time.Second
)

// MongoConfig holds the document store settings.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	// Tracing attaches the otel command monitor.
	Tracing bool `yaml:"tracing"`
}

// MongoStore keeps one document per room and follows it with a change
// stream. Change streams need a replica set or sharded cluster.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
	owned  bool
	logger zerolog.Logger
}

// Connect opens a client for uri.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewMongoStore connects, pings and returns a store that owns the client.
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger zerolog.Logger) (*MongoStore, error) {
	var extra []*options.ClientOptions
	if cfg.Tracing {
		extra = append(extra, options.Client().SetMonitor(otelmongo.NewMonitor()))
	}
	client, err := Connect(ctx, cfg.URI, extra...)
	if err != nil {
		return nil, fmt.Errorf("mongo connection failed: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	s := NewMongoStoreWithClient(client, cfg.Database, cfg.Collection, logger)
	s.owned = true
	logger.Info().Str("database", s.col.Database().Name()).Str("collection", s.col.Name()).Msg("connected to MongoDB room store")
	return s, nil
}

// NewMongoStoreWithClient wraps an existing client; Close leaves it open.
func NewMongoStoreWithClient(client *mongo.Client, db, collection string, logger zerolog.Logger) *MongoStore {
	if db == "" {
		db = defaultMongoDatabase
	}
	if collection == "" {
		collection = defaultMongoCollection
	}
	return &MongoStore{
		client: client,
		col:    client.Database(db).Collection(collection),
		logger: logger,
	}
}

func (s *MongoStore) CreateRoom(ctx context.Context, room watchparty.Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	if room.CreatedAt == 0 {
		room.CreatedAt = time.Now().UnixMilli()
	}
	if _, err := s.col.InsertOne(ctx, room); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return watchparty.ErrRoomExists
		}
		return fmt.Errorf("store: create room: %w", err)
	}
	return nil
}

func (s *MongoStore) GetRoom(ctx context.Context, id string) (watchparty.Room, error) {
	var room watchparty.Room
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&room)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return watchparty.Room{}, media.ErrNotFound
		}
		return watchparty.Room{}, fmt.Errorf("store: get room: %w", err)
	}
	return room, nil
}

func (s *MongoStore) PublishPlayback(ctx context.Context, id string, st watchparty.PlaybackState) error {
	return s.setGuarded(ctx, id, "playback", "playback.updatedAtMillis", st.UpdatedAtMillis, st)
}

func (s *MongoStore) PublishEpisode(ctx context.Context, id string, ep watchparty.Episode) error {
	return s.setGuarded(ctx, id, "episode", "episode.updatedAt", ep.UpdatedAt, ep)
}

// setGuarded sets field only when the stored watermark is older or absent.
func (s *MongoStore) setGuarded(ctx context.Context, id, field, stampPath string, stamp int64, value any) error {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{field: bson.M{"$exists": false}},
			bson.M{stampPath: bson.M{"$lt": stamp}},
		},
	}
	res, err := s.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("store: publish %s: %w", field, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("store: publish %s: %w", field, err)
	}
	if n == 0 {
		return media.ErrNotFound
	}
	return media.ErrStale
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	UpdateDesc    struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
	FullDocument *watchparty.Room `bson:"fullDocument"`
}

// Subscribe follows the room document. The stream reopens after transient
// errors until ctx ends.
func (s *MongoStore) Subscribe(ctx context.Context, id string) (<-chan watchparty.Update, error) {
	if _, err := s.GetRoom(ctx, id); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "documentKey._id", Value: id},
			{Key: "operationType", Value: "update"},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := s.col.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("store: watch room: %w", err)
	}

	out := make(chan watchparty.Update, subscriberBuffer)
	logger := s.logger.With().Str(log.FieldRoomID, id).Logger()
	go func() {
		defer close(out)
		for {
			resume := s.drain(ctx, cs, out, logger, id)
			_ = cs.Close(context.Background())
			for {
				select {
				case <-time.After(changeStreamRetry):
				case <-ctx.Done():
					return
				}
				if resume != nil {
					opts.SetResumeAfter(resume)
				}
				next, err := s.col.Watch(ctx, pipeline, opts)
				if err == nil {
					cs = next
					break
				}
				logger.Warn().Err(err).Msg("room change stream reopen failed")
			}
		}
	}()
	return out, nil
}

// drain forwards events until the cursor ends and returns its resume token.
func (s *MongoStore) drain(ctx context.Context, cs *mongo.ChangeStream, out chan<- watchparty.Update, logger zerolog.Logger, id string) bson.Raw {
	for cs.Next(ctx) {
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			logger.Warn().Err(err).Msg("room change decode failed")
			continue
		}
		if ev.FullDocument == nil {
			continue
		}
		for _, u := range updatesFor(id, ev) {
			select {
			case out <- u:
			case <-ctx.Done():
				return cs.ResumeToken()
			}
		}
	}
	if err := cs.Err(); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("room change stream error, retrying")
	}
	return cs.ResumeToken()
}

func updatesFor(id string, ev changeEvent) []watchparty.Update {
	var out []watchparty.Update
	fields := ev.UpdateDesc.UpdatedFields
	if touched(fields, "playback") && ev.FullDocument.Playback != nil {
		pb := *ev.FullDocument.Playback
		out = append(out, watchparty.Update{Kind: watchparty.UpdatePlayback, RoomID: id, Playback: &pb})
	}
	if touched(fields, "episode") && ev.FullDocument.Episode != nil {
		ep := *ev.FullDocument.Episode
		out = append(out, watchparty.Update{Kind: watchparty.UpdateEpisode, RoomID: id, Episode: &ep})
	}
	return out
}

// touched matches a top-level field or any dotted path below it.
func touched(fields bson.M, name string) bool {
	for k := range fields {
		if k == name || len(k) > len(name) && k[:len(name)+1] == name+"." {
			return true
		}
	}
	return false
}

// Close disconnects the client when the store created it.
func (s *MongoStore) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
