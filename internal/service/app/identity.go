package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"e2e_trust/internal/cryptographic/dh"
	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/model"
)

type (
	// DeviceIdentity is this device's long-term key material, kept in a
	// local file so the device keeps the same identity across runs.
	DeviceIdentity struct {
		UserID         string `json:"user_id"`
		DeviceID       string `json:"device_id"`
		Ed25519Priv    []byte `json:"ed25519_priv"`
		Ed25519Pub     []byte `json:"ed25519_pub"`
		Curve25519Priv []byte `json:"curve25519_priv"`
		Curve25519Pub  []byte `json:"curve25519_pub"`
	}
)

func identityPath(baseDir, userID, deviceID string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(userID + "/" + deviceID))
	return filepath.Join(baseDir, "device_"+name+".json")
}

// LoadOrCreateDeviceIdentity reads the device identity from disk, generating
// and persisting a fresh one on first run.
func LoadOrCreateDeviceIdentity(baseDir, userID, deviceID string) (*DeviceIdentity, error) {
	path := identityPath(baseDir, userID, deviceID)

	data, err := os.ReadFile(path)
	if err == nil {
		var id DeviceIdentity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("parse device identity: %w", err)
		}
		return &id, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	edPub, edPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, err
	}
	curvePriv, curvePub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}

	id := &DeviceIdentity{
		UserID:         userID,
		DeviceID:       deviceID,
		Ed25519Priv:    edPriv,
		Ed25519Pub:     edPub,
		Curve25519Priv: curvePriv[:],
		Curve25519Pub:  curvePub[:],
	}

	data, err = json.Marshal(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	return id, nil
}

// DeviceKeys is the publishable half of the identity.
func (id *DeviceIdentity) DeviceKeys() *model.DeviceKeys {
	return &model.DeviceKeys{
		UserID:        id.UserID,
		DeviceID:      id.DeviceID,
		Ed25519Key:    id.Ed25519Pub,
		Curve25519Key: id.Curve25519Pub,
	}
}

// PublishDeviceKeys registers the account (idempotent) and uploads the
// device's public keys.
func (c *Client) PublishDeviceKeys(ctx context.Context, id *DeviceIdentity, password string) error {
	if err := c.Register(ctx, id.UserID, password); err != nil {
		return err
	}
	return c.UploadDeviceKeys(ctx, id.DeviceKeys())
}
