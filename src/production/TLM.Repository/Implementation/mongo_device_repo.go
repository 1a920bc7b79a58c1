package implementation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

type MongoDeviceRepository struct {
	devices *mongo.Collection
}

func NewMongoDeviceRepository(client *mongo.Client, dbName string) *MongoDeviceRepository {
	return &MongoDeviceRepository{
		devices: client.Database(dbName).Collection("devices"),
	}
}

type mongoDevice struct {
	ID              int64      `bson:"_id"`
	Name            string     `bson:"name"`
	Protocol        string     `bson:"protocol"`
	Host            string     `bson:"host"`
	Port            int        `bson:"port"`
	ClientID        string     `bson:"client_id"`
	Username        string     `bson:"username"`
	Password        string     `bson:"password"`
	MQTTVersion     string     `bson:"mqtt_version"`
	KeepAlive       int        `bson:"keep_alive"`
	AutoReconnect   bool       `bson:"auto_reconnect"`
	ReconnectPeriod int        `bson:"reconnect_period"`
	EnableTLS       bool       `bson:"enable_tls"`
	Status          string     `bson:"status"`
	IsConnected     bool       `bson:"is_connected"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
	LastSeen        *time.Time `bson:"last_seen,omitempty"`
}

func (d mongoDevice) toModel() tlmmodels.Device {
	return tlmmodels.Device{
		ID:              d.ID,
		Name:            d.Name,
		Protocol:        d.Protocol,
		Host:            d.Host,
		Port:            d.Port,
		ClientID:        d.ClientID,
		Username:        d.Username,
		Password:        d.Password,
		MQTTVersion:     d.MQTTVersion,
		KeepAlive:       d.KeepAlive,
		AutoReconnect:   d.AutoReconnect,
		ReconnectPeriod: d.ReconnectPeriod,
		EnableTLS:       d.EnableTLS,
		Status:          d.Status,
		IsConnected:     d.IsConnected,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		LastSeen:        d.LastSeen,
	}
}

func (r *MongoDeviceRepository) GetDevice(ctx context.Context, id int64) (*tlmmodels.Device, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoDeviceRepository) GetDeviceByName(ctx context.Context, name string) (*tlmmodels.Device, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

func (r *MongoDeviceRepository) findOne(ctx context.Context, filter bson.M) (*tlmmodels.Device, error) {
	var doc mongoDevice
	err := r.devices.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	device := doc.toModel()
	return &device, nil
}

func (r *MongoDeviceRepository) ListDevices(ctx context.Context) ([]tlmmodels.Device, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.devices.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var devices []tlmmodels.Device
	for cursor.Next(ctx) {
		var doc mongoDevice
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		devices = append(devices, doc.toModel())
	}

	return devices, cursor.Err()
}

func (r *MongoDeviceRepository) CountDevices(ctx context.Context) (int, error) {
	count, err := r.devices.CountDocuments(ctx, bson.M{})
	return int(count), err
}

func (r *MongoDeviceRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	count, err := r.devices.CountDocuments(ctx, bson.M{"status": status})
	return int(count), err
}

func (r *MongoDeviceRepository) SetConnectionState(ctx context.Context, id int64, status string, connected bool, lastSeen *time.Time) error {
	set := bson.M{
		"status":       status,
		"is_connected": connected,
		"updated_at":   time.Now().UTC(),
	}
	if lastSeen != nil {
		set["last_seen"] = *lastSeen
	}

	result, err := r.devices.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update device state: %w", err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *MongoDeviceRepository) MarkAllOffline(ctx context.Context) error {
	_, err := r.devices.UpdateMany(ctx, bson.M{}, bson.M{"$set": bson.M{
		"status":       tlmmodels.StatusOffline,
		"is_connected": false,
		"updated_at":   time.Now().UTC(),
	}})
	return err
}

func (r *MongoDeviceRepository) DeleteDevice(ctx context.Context, id int64) error {
	db := r.devices.Database()

	// no FK cascade in Mongo; remove dependents explicitly
	if _, err := db.Collection("readings").DeleteMany(ctx, bson.M{"device_id": id}); err != nil {
		return fmt.Errorf("failed to delete readings: %w", err)
	}
	if _, err := db.Collection("history").DeleteMany(ctx, bson.M{"device_id": id}); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}

	result, err := r.devices.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
