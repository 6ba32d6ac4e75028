package model

type (
	// DeviceKeys holds one device's published identity keys. The ed25519
	// key is the one cross-signing binds to; the curve25519 key is used for
	// session establishment and only travels along here.
	DeviceKeys struct {
		UserID        string                       `json:"user_id" bson:"user_id"`
		DeviceID      string                       `json:"device_id" bson:"device_id"`
		Ed25519Key    []byte                       `json:"ed25519_key" bson:"ed25519_key"`
		Curve25519Key []byte                       `json:"curve25519_key" bson:"curve25519_key"`
		Signatures    map[string]map[string][]byte `json:"signatures,omitempty" bson:"signatures,omitempty"`
	}
)

func (d *DeviceKeys) AddSignature(signerUserID, signerKeyID string, sig []byte) {
	if d.Signatures == nil {
		d.Signatures = make(map[string]map[string][]byte)
	}
	if d.Signatures[signerUserID] == nil {
		d.Signatures[signerUserID] = make(map[string][]byte)
	}
	d.Signatures[signerUserID][signerKeyID] = sig
}

func (d *DeviceKeys) SignatureFrom(signerUserID, signerKeyID string) ([]byte, bool) {
	sig, ok := d.Signatures[signerUserID][signerKeyID]
	return sig, ok
}
