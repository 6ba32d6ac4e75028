package crosssigning_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
)

// trustedInput builds a hierarchy plus an own device cross-signed by it.
func trustedInput(t *testing.T) crosssigning.TrustInput {
	t.Helper()

	info, priv, err := crosssigning.GenerateHierarchy("@alice:example.org")
	require.NoError(t, err)

	devicePub, _, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	device := &model.DeviceKeys{
		UserID:     "@alice:example.org",
		DeviceID:   "DEVICE1",
		Ed25519Key: devicePub,
	}
	sig := signature.ED25519Sign(priv[model.UsageSelfSigning], device.Ed25519Key)
	device.AddSignature("@alice:example.org", info.SelfSigningKey.KeyID(), sig)

	return crosssigning.TrustInput{
		OwnCrossSigning: info,
		OwnDevice:       device,
	}
}

func TestComputeState_NotBootstrapped(t *testing.T) {
	require.Equal(t, crosssigning.StateNotBootstrapped, crosssigning.ComputeState(crosssigning.TrustInput{}))
}

func TestComputeState_PublicKeysExist(t *testing.T) {
	in := trustedInput(t)

	// Published but the device is not cross-signed: keys exist, no trust.
	in.OwnDevice = nil
	require.Equal(t, crosssigning.StatePublicKeysExist, crosssigning.ComputeState(in))

	// Broken hierarchy signature also caps at public-keys-exist.
	in = trustedInput(t)
	in.OwnCrossSigning.SelfSigningKey.Signatures = nil
	require.Equal(t, crosssigning.StatePublicKeysExist, crosssigning.ComputeState(in))
}

func TestComputeState_Monotonic(t *testing.T) {
	in := trustedInput(t)

	// As corroborating data becomes available the state only moves up the
	// ordering, and recomputation with unchanged inputs is idempotent.
	in.PrivateKeys = crosssigning.AvailabilityNone
	trusted := crosssigning.ComputeState(in)
	require.Equal(t, crosssigning.StatePublicKeysTrusted, trusted)
	require.Equal(t, trusted, crosssigning.ComputeState(in))

	in.PrivateKeys = crosssigning.AvailabilityAsync
	async := crosssigning.ComputeState(in)
	require.Equal(t, crosssigning.StatePrivateKeysAvailableAsync, async)
	require.Greater(t, async, trusted)
	require.Equal(t, async, crosssigning.ComputeState(in))

	in.PrivateKeys = crosssigning.AvailabilitySync
	sync := crosssigning.ComputeState(in)
	require.Equal(t, crosssigning.StatePrivateKeysAvailable, sync)
	require.Greater(t, sync, trusted)
	require.Equal(t, sync, crosssigning.ComputeState(in))
}

func TestComputeState_SyncAndAsyncExclusive(t *testing.T) {
	in := trustedInput(t)

	in.PrivateKeys = crosssigning.AvailabilitySync
	require.Equal(t, crosssigning.StatePrivateKeysAvailable, crosssigning.ComputeState(in))

	in.PrivateKeys = crosssigning.AvailabilityAsync
	require.Equal(t, crosssigning.StatePrivateKeysAvailableAsync, crosssigning.ComputeState(in))
}

func TestCanReadTrustAndCanCrossSign(t *testing.T) {
	cases := []struct {
		state   crosssigning.State
		canRead bool
		canSign bool
	}{
		{crosssigning.StateNotBootstrapped, false, false},
		{crosssigning.StatePublicKeysExist, false, false},
		{crosssigning.StatePublicKeysTrusted, true, false},
		{crosssigning.StatePrivateKeysAvailable, true, true},
		{crosssigning.StatePrivateKeysAvailableAsync, true, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.canRead, crosssigning.CanReadTrust(tc.state), "CanReadTrust(%s)", tc.state)
		require.Equal(t, tc.canSign, crosssigning.CanCrossSign(tc.state), "CanCrossSign(%s)", tc.state)
	}
}
