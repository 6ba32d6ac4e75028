package crosssigning

import (
	"errors"
	"fmt"

	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/model"
)

var (
	ErrNoMasterKey      = errors.New("hierarchy has no master key")
	ErrNoSelfSigningKey = errors.New("hierarchy has no self-signing key")
	ErrBadSignature     = errors.New("signature does not verify against master key")
)

// PrivateKeys holds the private halves of a freshly generated hierarchy,
// keyed by usage. They are handed to the secure key store immediately after
// generation and never retained.
type PrivateKeys map[model.KeyUsage][]byte

// GenerateHierarchy creates the three-key cross-signing hierarchy for a user
// and signs the self-signing and user-signing public keys with the master
// private key.
func GenerateHierarchy(userID string) (*model.CrossSigningInfo, PrivateKeys, error) {
	masterPub, masterPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate master key: %w", err)
	}
	sskPub, sskPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate self-signing key: %w", err)
	}
	uskPub, uskPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate user-signing key: %w", err)
	}

	master := &model.CrossSigningKey{
		UserID:    userID,
		Usage:     model.UsageMaster,
		PublicKey: masterPub,
	}
	ssk := &model.CrossSigningKey{
		UserID:    userID,
		Usage:     model.UsageSelfSigning,
		PublicKey: sskPub,
	}
	usk := &model.CrossSigningKey{
		UserID:    userID,
		Usage:     model.UsageUserSigning,
		PublicKey: uskPub,
	}

	ssk.AddSignature(userID, master.KeyID(), signature.ED25519Sign(masterPriv, sskPub))
	usk.AddSignature(userID, master.KeyID(), signature.ED25519Sign(masterPriv, uskPub))

	info := &model.CrossSigningInfo{
		UserID:         userID,
		MasterKey:      master,
		SelfSigningKey: ssk,
		UserSigningKey: usk,
	}
	priv := PrivateKeys{
		model.UsageMaster:      masterPriv,
		model.UsageSelfSigning: sskPriv,
		model.UsageUserSigning: uskPriv,
	}
	return info, priv, nil
}

// VerifyHierarchy checks that the hierarchy's subordinate keys are validly
// signed by its own master key. A user-signing key is optional (only the
// local account publishes one); when present it must verify too.
func VerifyHierarchy(info *model.CrossSigningInfo) error {
	if info == nil || info.MasterKey == nil {
		return ErrNoMasterKey
	}
	if info.SelfSigningKey == nil {
		return ErrNoSelfSigningKey
	}
	if err := verifySubordinate(info.MasterKey, info.SelfSigningKey); err != nil {
		return fmt.Errorf("self-signing key: %w", err)
	}
	if info.UserSigningKey != nil {
		if err := verifySubordinate(info.MasterKey, info.UserSigningKey); err != nil {
			return fmt.Errorf("user-signing key: %w", err)
		}
	}
	return nil
}

func verifySubordinate(master, sub *model.CrossSigningKey) error {
	sig, ok := sub.SignatureFrom(master.UserID, master.KeyID())
	if !ok {
		return ErrBadSignature
	}
	if !signature.ED25519Verify(master.PublicKey, sub.PublicKey, sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyDeviceSignature checks that the device's ed25519 identity key was
// signed by the given self-signing key.
func VerifyDeviceSignature(device *model.DeviceKeys, ssk *model.CrossSigningKey) bool {
	if device == nil || ssk == nil {
		return false
	}
	sig, ok := device.SignatureFrom(ssk.UserID, ssk.KeyID())
	if !ok {
		return false
	}
	return signature.ED25519Verify(ssk.PublicKey, device.Ed25519Key, sig)
}

// VerifyUserSignature checks that the target user's master key was signed by
// the signer's user-signing key.
func VerifyUserSignature(targetMaster *model.CrossSigningKey, usk *model.CrossSigningKey) bool {
	if targetMaster == nil || usk == nil {
		return false
	}
	sig, ok := targetMaster.SignatureFrom(usk.UserID, usk.KeyID())
	if !ok {
		return false
	}
	return signature.ED25519Verify(usk.PublicKey, targetMaster.PublicKey, sig)
}
