package model

type UpdateType string

const (
	UpdateCrossSigning UpdateType = "cross_signing"
	UpdateDevice       UpdateType = "device"
	UpdateSignature    UpdateType = "signature"
)

type (
	// KeyUpdate is pushed over the update websocket whenever a user's
	// published keys or signatures change.
	KeyUpdate struct {
		ID     string     `json:"id" validate:"required"`
		UserID string     `json:"user_id" validate:"required"`
		Type   UpdateType `json:"type" validate:"required"`
	}
)
