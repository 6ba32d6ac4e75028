package device

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"e2e_trust/internal/model"
)

type (
	// DeviceRepo stores published device keys and cross-signing hierarchies.
	DeviceRepo struct {
		devices      *mongo.Collection
		crossSigning *mongo.Collection
	}
)

func NewDeviceRepo(db *mongo.Database) *DeviceRepo {
	return &DeviceRepo{
		devices:      db.Collection("devices"),
		crossSigning: db.Collection("cross_signing_keys"),
	}
}

func (r *DeviceRepo) GetDevice(ctx context.Context, userID, deviceID string) (*model.DeviceKeys, error) {
	filter := bson.M{
		"user_id":   userID,
		"device_id": deviceID,
	}

	var device model.DeviceKeys
	err := r.devices.FindOne(ctx, filter).Decode(&device)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &device, nil
}

func (r *DeviceRepo) GetDevicesByUser(ctx context.Context, userID string) ([]*model.DeviceKeys, error) {
	cursor, err := r.devices.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var devices []*model.DeviceKeys
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *DeviceRepo) UpsertDevice(ctx context.Context, device *model.DeviceKeys) error {
	filter := bson.M{
		"user_id":   device.UserID,
		"device_id": device.DeviceID,
	}

	_, err := r.devices.ReplaceOne(ctx, filter, device, options.Replace().SetUpsert(true))
	return err
}

func (r *DeviceRepo) GetCrossSigning(ctx context.Context, userID string) (*model.CrossSigningInfo, error) {
	var info model.CrossSigningInfo
	err := r.crossSigning.FindOne(ctx, bson.M{"user_id": userID}).Decode(&info)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &info, nil
}

// ReplaceCrossSigning installs a new hierarchy for the user. Signatures made
// by the previous hierarchy's keys stay on their targets but no longer
// verify, so they are not cleaned up here.
func (r *DeviceRepo) ReplaceCrossSigning(ctx context.Context, info *model.CrossSigningInfo) error {
	filter := bson.M{"user_id": info.UserID}
	_, err := r.crossSigning.ReplaceOne(ctx, filter, info, options.Replace().SetUpsert(true))
	return err
}

func (r *DeviceRepo) AddDeviceSignature(ctx context.Context, userID, deviceID string, sig model.SignatureUpload) error {
	filter := bson.M{
		"user_id":   userID,
		"device_id": deviceID,
	}
	update := bson.M{
		"$set": bson.M{
			"signatures." + sig.SignerUserID + "." + sig.SignerKeyID: sig.Signature,
		},
	}

	_, err := r.devices.UpdateOne(ctx, filter, update)
	return err
}

func (r *DeviceRepo) AddMasterKeySignature(ctx context.Context, userID string, sig model.SignatureUpload) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"master_key.signatures." + sig.SignerUserID + "." + sig.SignerKeyID: sig.Signature,
		},
	}

	_, err := r.crossSigning.UpdateOne(ctx, filter, update)
	return err
}
