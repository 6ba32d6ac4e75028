package model

import (
	"encoding/base64"
)

type KeyUsage string

const (
	UsageMaster      KeyUsage = "master"
	UsageSelfSigning KeyUsage = "self_signing"
	UsageUserSigning KeyUsage = "user_signing"
)

type (
	// CrossSigningKey is one published key of a user's cross-signing
	// hierarchy. Signatures maps signer user id -> signer key id -> raw
	// ed25519 signature over PublicKey.
	CrossSigningKey struct {
		UserID     string                       `json:"user_id" bson:"user_id"`
		Usage      KeyUsage                     `json:"usage" bson:"usage"`
		PublicKey  []byte                       `json:"public_key" bson:"public_key"`
		Signatures map[string]map[string][]byte `json:"signatures,omitempty" bson:"signatures,omitempty"`
	}

	// CrossSigningInfo is the whole published hierarchy of one user.
	// UserSigningKey is only ever populated for the local account; other
	// users' user-signing keys are never shared.
	CrossSigningInfo struct {
		UserID         string           `json:"user_id" bson:"user_id"`
		MasterKey      *CrossSigningKey `json:"master_key,omitempty" bson:"master_key,omitempty"`
		SelfSigningKey *CrossSigningKey `json:"self_signing_key,omitempty" bson:"self_signing_key,omitempty"`
		UserSigningKey *CrossSigningKey `json:"user_signing_key,omitempty" bson:"user_signing_key,omitempty"`
	}

	// SignatureUpload is one signature pushed to the homeserver: the signer
	// key id plus the signature over the target's public key bytes.
	SignatureUpload struct {
		SignerUserID string `json:"signer_user_id" bson:"signer_user_id"`
		SignerKeyID  string `json:"signer_key_id" bson:"signer_key_id"`
		Signature    []byte `json:"signature" bson:"signature"`
	}
)

// KeyID returns the wire identifier of the key, "ed25519:<base64 public key>".
func (k *CrossSigningKey) KeyID() string {
	return Ed25519KeyID(k.PublicKey)
}

func (k *CrossSigningKey) AddSignature(signerUserID, signerKeyID string, sig []byte) {
	if k.Signatures == nil {
		k.Signatures = make(map[string]map[string][]byte)
	}
	if k.Signatures[signerUserID] == nil {
		k.Signatures[signerUserID] = make(map[string][]byte)
	}
	k.Signatures[signerUserID][signerKeyID] = sig
}

func (k *CrossSigningKey) SignatureFrom(signerUserID, signerKeyID string) ([]byte, bool) {
	sig, ok := k.Signatures[signerUserID][signerKeyID]
	return sig, ok
}

func Ed25519KeyID(pub []byte) string {
	return "ed25519:" + base64.RawStdEncoding.EncodeToString(pub)
}
