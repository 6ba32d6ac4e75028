package crosssigning

import (
	"e2e_trust/internal/model"
)

// State is the cross-signing state of the local account, ordered by
// capability. It is always derived from current inputs, never stored.
type State int

const (
	// No cross-signing keys published for this account.
	StateNotBootstrapped State = iota
	// Keys are published but this device does not trust them yet.
	StatePublicKeysExist
	// The published keys verify and this device is cross-signed by them.
	StatePublicKeysTrusted
	// Private keys are obtainable synchronously; we can cross-sign now.
	StatePrivateKeysAvailable
	// Private keys are obtainable only via an interactive flow.
	StatePrivateKeysAvailableAsync
)

func (s State) String() string {
	switch s {
	case StateNotBootstrapped:
		return "not_bootstrapped"
	case StatePublicKeysExist:
		return "public_keys_exist"
	case StatePublicKeysTrusted:
		return "public_keys_trusted"
	case StatePrivateKeysAvailable:
		return "private_keys_available"
	case StatePrivateKeysAvailableAsync:
		return "private_keys_available_async"
	}
	return "unknown"
}

// Availability reports how the secure key store can produce a private key.
type Availability int

const (
	AvailabilityNone Availability = iota
	AvailabilityAsync
	AvailabilitySync
)

type (
	// TrustInput is everything ComputeState looks at: the account's
	// published hierarchy, this device's published keys, and how the key
	// store can produce the three private keys.
	TrustInput struct {
		OwnCrossSigning *model.CrossSigningInfo
		OwnDevice       *model.DeviceKeys
		PrivateKeys     Availability
	}
)

// ComputeState derives the account's cross-signing state. Pure; callers
// re-invoke after any mutating operation instead of patching a cached value.
func ComputeState(in TrustInput) State {
	if in.OwnCrossSigning == nil || in.OwnCrossSigning.MasterKey == nil {
		return StateNotBootstrapped
	}

	state := StatePublicKeysExist

	if VerifyHierarchy(in.OwnCrossSigning) != nil {
		return state
	}
	if !VerifyDeviceSignature(in.OwnDevice, in.OwnCrossSigning.SelfSigningKey) {
		return state
	}
	state = StatePublicKeysTrusted

	switch in.PrivateKeys {
	case AvailabilitySync:
		state = StatePrivateKeysAvailable
	case AvailabilityAsync:
		state = StatePrivateKeysAvailableAsync
	}
	return state
}

// CanReadTrust reports whether trust for other users and devices can be read
// off the cross-signing hierarchy.
func CanReadTrust(s State) bool {
	return s >= StatePublicKeysTrusted
}

// CanCrossSign reports whether signing operations can run. The asynchronous
// variant counts: a signing operation simply awaits the interactive flow.
func CanCrossSign(s State) bool {
	return s == StatePrivateKeysAvailable || s == StatePrivateKeysAvailableAsync
}
