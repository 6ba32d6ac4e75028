package server

import (
	"fmt"
	"strings"

	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/model"
)

func connKey(userID, deviceID string) string {
	return userID + "/" + deviceID
}

// Master-key targets are addressed by key id, devices by device id.
func isMasterKeyTarget(targetID string) bool {
	return strings.HasPrefix(targetID, "ed25519:")
}

// verifySignerKey checks that sig.SignerKeyID names a key in the signer's
// published hierarchy and that the signature verifies over message.
func verifySignerKey(signerInfo *model.CrossSigningInfo, sig model.SignatureUpload, message []byte) bool {
	if signerInfo == nil {
		return false
	}
	for _, key := range []*model.CrossSigningKey{signerInfo.SelfSigningKey, signerInfo.UserSigningKey} {
		if key == nil || key.KeyID() != sig.SignerKeyID {
			continue
		}
		return signature.ED25519Verify(key.PublicKey, message, sig.Signature)
	}
	return false
}

func errUnknownTarget(targetUserID, targetID string) error {
	return fmt.Errorf("unknown signature target %s/%s", targetUserID, targetID)
}

func errBadUploadSignature(targetUserID, targetID string) error {
	return fmt.Errorf("signature over %s/%s does not verify", targetUserID, targetID)
}
