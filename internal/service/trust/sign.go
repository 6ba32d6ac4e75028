package trust

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/model"
	"e2e_trust/internal/utils/log"
)

// CrossSignDevice signs another device of this account with the self-signing
// key and uploads the resulting signature.
func (s *Service) CrossSignDevice(ctx context.Context, deviceID string) error {
	device, err := s.directory.Device(ctx, s.userID, deviceID)
	if err != nil {
		return fmt.Errorf("look up device: %w", err)
	}
	if device == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDeviceID, deviceID)
	}

	ssk, priv, err := s.obtainSigningKey(ctx, model.UsageSelfSigning)
	if err != nil {
		return err
	}
	sig := signature.ED25519Sign(priv, device.Ed25519Key)
	zero(priv)

	upload := map[string]map[string]model.SignatureUpload{
		s.userID: {
			deviceID: {
				SignerUserID: s.userID,
				SignerKeyID:  ssk.KeyID(),
				Signature:    sig,
			},
		},
	}
	if err := s.server.UploadSignatures(ctx, upload); err != nil {
		return fmt.Errorf("upload device signature: %w", err)
	}

	log.Info("device cross-signed",
		zap.String("userID", s.userID),
		zap.String("deviceID", deviceID))
	return nil
}

// SignUser signs the target user's master key with the user-signing key and
// uploads the resulting signature, extending trust to them.
func (s *Service) SignUser(ctx context.Context, userID string) error {
	target, err := s.directory.CrossSigningInfo(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if target == nil || target.MasterKey == nil {
		return fmt.Errorf("%w: %s", ErrUnknownUserID, userID)
	}

	usk, priv, err := s.obtainSigningKey(ctx, model.UsageUserSigning)
	if err != nil {
		return err
	}
	sig := signature.ED25519Sign(priv, target.MasterKey.PublicKey)
	zero(priv)

	upload := map[string]map[string]model.SignatureUpload{
		userID: {
			target.MasterKey.KeyID(): {
				SignerUserID: s.userID,
				SignerKeyID:  usk.KeyID(),
				Signature:    sig,
			},
		},
	}
	if err := s.server.UploadSignatures(ctx, upload); err != nil {
		return fmt.Errorf("upload user signature: %w", err)
	}

	log.Info("user signed",
		zap.String("signer", s.userID),
		zap.String("userID", userID))
	return nil
}

// obtainSigningKey fetches a private signing key from the key store, pinned
// to the currently published public key. The published key is re-read after
// the store answers: a concurrent bootstrap may have rotated the hierarchy,
// in which case the fetched key is stale and must not sign anything.
func (s *Service) obtainSigningKey(ctx context.Context, usage model.KeyUsage) (*model.CrossSigningKey, []byte, error) {
	pub, err := s.publishedKey(ctx, usage)
	if err != nil {
		return nil, nil, err
	}

	req := s.keys.GetPrivateKey(s.userID, s.deviceID, usage, pub.PublicKey)
	priv, err := req.Wait(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrKeyUnavailable, usage, err)
	}

	derived, err := signature.PublicKeyOf(priv)
	if err != nil || !bytes.Equal(derived, pub.PublicKey) {
		zero(priv)
		return nil, nil, fmt.Errorf("%w: %s: public key mismatch", ErrKeyUnavailable, usage)
	}

	current, err := s.publishedKey(ctx, usage)
	if err != nil || !bytes.Equal(current.PublicKey, pub.PublicKey) {
		zero(priv)
		return nil, nil, fmt.Errorf("%w: %s: key rotated during operation", ErrKeyUnavailable, usage)
	}
	return pub, priv, nil
}

func (s *Service) publishedKey(ctx context.Context, usage model.KeyUsage) (*model.CrossSigningKey, error) {
	info, err := s.directory.CrossSigningInfo(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("read own cross-signing keys: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s: no hierarchy published", ErrKeyUnavailable, usage)
	}

	var key *model.CrossSigningKey
	switch usage {
	case model.UsageMaster:
		key = info.MasterKey
	case model.UsageSelfSigning:
		key = info.SelfSigningKey
	case model.UsageUserSigning:
		key = info.UserSigningKey
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s: key not published", ErrKeyUnavailable, usage)
	}
	return key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
