package implementation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	interfaces "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Interfaces"
)

type MongoReadingRepository struct {
	client   *mongo.Client
	readings *mongo.Collection
	history  *mongo.Collection
	devices  *mongo.Collection
	archive  bool
}

func NewMongoReadingRepository(client *mongo.Client, dbName string, archive bool) *MongoReadingRepository {
	db := client.Database(dbName)
	return &MongoReadingRepository{
		client:   client,
		readings: db.Collection("readings"),
		history:  db.Collection("history"),
		devices:  db.Collection("devices"),
		archive:  archive,
	}
}

type mongoReading struct {
	DeviceID    int64     `bson:"device_id"`
	Topic       string    `bson:"topic"`
	Payload     string    `bson:"payload"`
	Temperature float64   `bson:"temperature"`
	Humidity    float64   `bson:"humidity"`
	Pressure    float64   `bson:"pressure"`
	Timestamp   time.Time `bson:"ts"`
}

func (d mongoReading) toModel() tlmmodels.Reading {
	return tlmmodels.Reading{
		DeviceID:    d.DeviceID,
		Topic:       d.Topic,
		Payload:     d.Payload,
		Temperature: d.Temperature,
		Humidity:    d.Humidity,
		Pressure:    d.Pressure,
		Timestamp:   d.Timestamp,
	}
}

// AppendReading commits the live document, the archive document and
// the device state update inside one session transaction.
func (r *MongoReadingRepository) AppendReading(ctx context.Context, params interfaces.AppendParams) (*tlmmodels.Reading, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	doc := mongoReading{
		DeviceID:    params.DeviceID,
		Topic:       params.Topic,
		Payload:     params.Payload,
		Temperature: params.Temperature,
		Humidity:    params.Humidity,
		Pressure:    params.Pressure,
		Timestamp:   params.Timestamp,
	}

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := r.readings.InsertOne(sc, doc); err != nil {
			return nil, fmt.Errorf("failed to insert reading: %w", err)
		}
		if r.archive {
			entry := bson.M{
				"device_id":   params.DeviceID,
				"temperature": params.Temperature,
				"humidity":    params.Humidity,
				"pressure":    params.Pressure,
				"ts":          params.Timestamp,
			}
			if _, err := r.history.InsertOne(sc, entry); err != nil {
				return nil, fmt.Errorf("failed to insert history entry: %w", err)
			}
		}
		update := bson.M{"$set": bson.M{
			"status":       tlmmodels.StatusOnline,
			"is_connected": true,
			"last_seen":    params.Timestamp,
			"updated_at":   time.Now().UTC(),
		}}
		if _, err := r.devices.UpdateOne(sc, bson.M{"_id": params.DeviceID}, update); err != nil {
			return nil, fmt.Errorf("failed to update device last_seen: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	reading := doc.toModel()
	return &reading, nil
}

func (r *MongoReadingRepository) GetLatestReading(ctx context.Context, deviceID int64) (*tlmmodels.Reading, error) {
	return r.findLatest(ctx, bson.M{"device_id": deviceID})
}

func (r *MongoReadingRepository) GetLatestAny(ctx context.Context, since time.Time) (*tlmmodels.Reading, error) {
	return r.findLatest(ctx, bson.M{"ts": bson.M{"$gte": since}})
}

func (r *MongoReadingRepository) findLatest(ctx context.Context, filter bson.M) (*tlmmodels.Reading, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "ts", Value: -1}})

	var doc mongoReading
	err := r.readings.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	reading := doc.toModel()
	return &reading, nil
}

func (r *MongoReadingRepository) GetHistorySince(ctx context.Context, since time.Time) ([]tlmmodels.HistoryEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: -1}})
	cursor, err := r.history.Find(ctx, bson.M{"ts": bson.M{"$gte": since}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []tlmmodels.HistoryEntry
	for cursor.Next(ctx) {
		var doc struct {
			DeviceID    int64     `bson:"device_id"`
			Temperature float64   `bson:"temperature"`
			Humidity    float64   `bson:"humidity"`
			Pressure    float64   `bson:"pressure"`
			Timestamp   time.Time `bson:"ts"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, tlmmodels.HistoryEntry{
			DeviceID:    doc.DeviceID,
			Temperature: doc.Temperature,
			Humidity:    doc.Humidity,
			Pressure:    doc.Pressure,
			Timestamp:   doc.Timestamp,
		})
	}

	return entries, cursor.Err()
}

// EnsureMongoIndexes creates the query indexes the repositories rely on.
func EnsureMongoIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	readingIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "ts", Value: -1}}},
		{Keys: bson.D{{Key: "ts", Value: -1}}},
	}
	if _, err := db.Collection("readings").Indexes().CreateMany(ctx, readingIndexes); err != nil {
		return fmt.Errorf("failed to create reading indexes: %w", err)
	}

	historyIndex := mongo.IndexModel{Keys: bson.D{{Key: "ts", Value: -1}}}
	if _, err := db.Collection("history").Indexes().CreateOne(ctx, historyIndex); err != nil {
		return fmt.Errorf("failed to create history index: %w", err)
	}

	nameIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection("devices").Indexes().CreateOne(ctx, nameIndex); err != nil {
		return fmt.Errorf("failed to create device name index: %w", err)
	}

	return nil
}
