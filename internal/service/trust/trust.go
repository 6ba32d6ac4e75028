package trust

import (
	"context"
	"fmt"
	"sync"

	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
)

type (
	// Service drives cross-signing for one account and device: trust-state
	// evaluation, bootstrap, and the two signing operations. All three
	// collaborators are injected; the service holds no key material and no
	// cached trust state.
	Service struct {
		userID   string
		deviceID string

		keys      KeysStorage
		server    Server
		directory Directory

		bootstrapMu sync.Mutex
	}
)

func NewService(userID, deviceID string, keys KeysStorage, server Server, directory Directory) *Service {
	return &Service{
		userID:    userID,
		deviceID:  deviceID,
		keys:      keys,
		server:    server,
		directory: directory,
	}
}

func (s *Service) UserID() string   { return s.userID }
func (s *Service) DeviceID() string { return s.deviceID }

// State recomputes the account's cross-signing state from current inputs.
// Nothing is cached; call again after any mutating operation.
func (s *Service) State(ctx context.Context) (crosssigning.State, error) {
	info, err := s.directory.CrossSigningInfo(ctx, s.userID)
	if err != nil {
		return crosssigning.StateNotBootstrapped, fmt.Errorf("read own cross-signing keys: %w", err)
	}

	in := crosssigning.TrustInput{OwnCrossSigning: info}
	if info != nil && info.MasterKey != nil {
		device, err := s.directory.Device(ctx, s.userID, s.deviceID)
		if err != nil {
			return crosssigning.StateNotBootstrapped, fmt.Errorf("read own device keys: %w", err)
		}
		in.OwnDevice = device
		in.PrivateKeys = s.privateKeyAvailability(ctx, info)
	}
	return crosssigning.ComputeState(in), nil
}

func (s *Service) CanReadTrust(ctx context.Context) (bool, error) {
	state, err := s.State(ctx)
	if err != nil {
		return false, err
	}
	return crosssigning.CanReadTrust(state), nil
}

func (s *Service) CanCrossSign(ctx context.Context) (bool, error) {
	state, err := s.State(ctx)
	if err != nil {
		return false, err
	}
	return crosssigning.CanCrossSign(state), nil
}

// privateKeyAvailability is the weakest availability across the three
// private keys: all synchronous gives the synchronous state, otherwise any
// key needing the interactive flow degrades the whole account to async, and
// any unobtainable key to none.
func (s *Service) privateKeyAvailability(ctx context.Context, info *model.CrossSigningInfo) crosssigning.Availability {
	keys := map[model.KeyUsage]*model.CrossSigningKey{
		model.UsageMaster:      info.MasterKey,
		model.UsageSelfSigning: info.SelfSigningKey,
		model.UsageUserSigning: info.UserSigningKey,
	}

	overall := crosssigning.AvailabilitySync
	for usage, key := range keys {
		if key == nil {
			return crosssigning.AvailabilityNone
		}
		a := s.keys.Availability(ctx, s.userID, s.deviceID, usage, key.PublicKey)
		if a < overall {
			overall = a
		}
	}
	return overall
}

// UserTrusted reports whether target's identity is trusted by this account:
// our user-signing key signed their master key, and their own hierarchy
// verifies.
func (s *Service) UserTrusted(ctx context.Context, userID string) (bool, error) {
	own, err := s.directory.CrossSigningInfo(ctx, s.userID)
	if err != nil {
		return false, fmt.Errorf("read own cross-signing keys: %w", err)
	}
	if own == nil || own.UserSigningKey == nil {
		return false, nil
	}

	target, err := s.directory.CrossSigningInfo(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read cross-signing keys of %s: %w", userID, err)
	}
	if target == nil || target.MasterKey == nil {
		return false, nil
	}
	if err := crosssigning.VerifyHierarchy(target); err != nil {
		return false, nil
	}
	return crosssigning.VerifyUserSignature(target.MasterKey, own.UserSigningKey), nil
}

// DeviceTrusted reports whether a device of target is trusted transitively:
// the user is trusted and their self-signing key signed the device.
func (s *Service) DeviceTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	userTrusted, err := s.UserTrusted(ctx, userID)
	if err != nil {
		return false, err
	}
	if !userTrusted {
		return false, nil
	}

	target, err := s.directory.CrossSigningInfo(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read cross-signing keys of %s: %w", userID, err)
	}
	device, err := s.directory.Device(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("read device keys of %s/%s: %w", userID, deviceID, err)
	}
	if device == nil {
		return false, nil
	}
	return crosssigning.VerifyDeviceSignature(device, target.SelfSigningKey), nil
}
