package trust_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
	"e2e_trust/internal/service/trust"
)

type fakeDirectory struct {
	mu      sync.Mutex
	infos   map[string]*model.CrossSigningInfo
	devices map[string]*model.DeviceKeys
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		infos:   make(map[string]*model.CrossSigningInfo),
		devices: make(map[string]*model.DeviceKeys),
	}
}

func (d *fakeDirectory) CrossSigningInfo(_ context.Context, userID string) (*model.CrossSigningInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.infos[userID], nil
}

func (d *fakeDirectory) Device(_ context.Context, userID, deviceID string) (*model.DeviceKeys, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[userID+"/"+deviceID], nil
}

func (d *fakeDirectory) putDevice(device *model.DeviceKeys) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[device.UserID+"/"+device.DeviceID] = device
}

// fakeServer applies uploads straight to the directory, like the homeserver
// feeding the device list.
type fakeServer struct {
	mu         sync.Mutex
	directory  *fakeDirectory
	password   string
	keyUploads int
	sigUploads int
}

func (s *fakeServer) UploadCrossSigningKeys(_ context.Context, info *model.CrossSigningInfo, password string) error {
	if password != s.password {
		return trust.ErrAuth
	}

	s.mu.Lock()
	s.keyUploads++
	s.mu.Unlock()

	s.directory.mu.Lock()
	defer s.directory.mu.Unlock()
	s.directory.infos[info.UserID] = info
	return nil
}

func (s *fakeServer) UploadSignatures(_ context.Context, sigs map[string]map[string]model.SignatureUpload) error {
	s.mu.Lock()
	s.sigUploads++
	s.mu.Unlock()

	s.directory.mu.Lock()
	defer s.directory.mu.Unlock()
	for targetUserID, targets := range sigs {
		for targetID, sig := range targets {
			if strings.HasPrefix(targetID, "ed25519:") {
				info := s.directory.infos[targetUserID]
				info.MasterKey.AddSignature(sig.SignerUserID, sig.SignerKeyID, sig.Signature)
				continue
			}
			device := s.directory.devices[targetUserID+"/"+targetID]
			device.AddSignature(sig.SignerUserID, sig.SignerKeyID, sig.Signature)
		}
	}
	return nil
}

func (s *fakeServer) signatureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sigUploads
}

type fakeKeystore struct {
	mu    sync.Mutex
	keys  map[string]map[model.KeyUsage][]byte
	async bool

	saveErr     error
	saveStarted chan struct{}
	saveBlock   chan struct{}
}

func newFakeKeystore() *fakeKeystore {
	return &fakeKeystore{
		keys: make(map[string]map[model.KeyUsage][]byte),
	}
}

func (k *fakeKeystore) Availability(_ context.Context, userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) crosssigning.Availability {
	k.mu.Lock()
	priv := k.keys[userID+"/"+deviceID][usage]
	k.mu.Unlock()
	if priv == nil {
		return crosssigning.AvailabilityNone
	}
	pub, err := signature.PublicKeyOf(priv)
	if err != nil || string(pub) != string(expectedPublicKey) {
		return crosssigning.AvailabilityNone
	}
	if k.async {
		return crosssigning.AvailabilityAsync
	}
	return crosssigning.AvailabilitySync
}

func (k *fakeKeystore) GetPrivateKey(userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) *trust.KeyRequest {
	req := trust.NewKeyRequest()
	resolve := func() {
		k.mu.Lock()
		priv := k.keys[userID+"/"+deviceID][usage]
		k.mu.Unlock()
		if priv == nil {
			req.Fail(trust.ErrKeyUnavailable)
			return
		}
		pub, err := signature.PublicKeyOf(priv)
		if err != nil || string(pub) != string(expectedPublicKey) {
			req.Fail(trust.ErrKeyUnavailable)
			return
		}
		out := make([]byte, len(priv))
		copy(out, priv)
		req.Fulfill(out)
	}

	if k.async {
		go func() {
			time.Sleep(10 * time.Millisecond)
			resolve()
		}()
	} else {
		resolve()
	}
	return req
}

func (k *fakeKeystore) SavePrivateKeys(_ context.Context, userID, deviceID string, keys map[model.KeyUsage][]byte) error {
	if k.saveStarted != nil {
		k.saveStarted <- struct{}{}
	}
	if k.saveBlock != nil {
		<-k.saveBlock
	}
	if k.saveErr != nil {
		return k.saveErr
	}

	stored := make(map[model.KeyUsage][]byte, len(keys))
	for usage, priv := range keys {
		cp := make([]byte, len(priv))
		copy(cp, priv)
		stored[usage] = cp
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[userID+"/"+deviceID] = stored
	return nil
}

// newAccount wires a service over fresh fakes, with the account's own device
// registered in the directory.
func newAccount(t *testing.T, userID, deviceID, password string) (*trust.Service, *fakeDirectory, *fakeServer, *fakeKeystore) {
	t.Helper()

	directory := newFakeDirectory()
	server := &fakeServer{directory: directory, password: password}
	keys := newFakeKeystore()

	devicePub, _, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	directory.putDevice(&model.DeviceKeys{
		UserID:     userID,
		DeviceID:   deviceID,
		Ed25519Key: devicePub,
	})

	svc := trust.NewService(userID, deviceID, keys, server, directory)
	return svc, directory, server, keys
}

func TestBootstrap_FreshAccount(t *testing.T) {
	ctx := context.Background()
	svc, directory, server, _ := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")

	state, err := svc.State(ctx)
	require.NoError(t, err)
	require.Equal(t, crosssigning.StateNotBootstrapped, state)

	require.NoError(t, svc.Bootstrap(ctx, "s3cret"))
	require.Equal(t, 1, server.keyUploads)

	info := directory.infos["@alice:example.org"]
	require.NoError(t, crosssigning.VerifyHierarchy(info))
	require.NotNil(t, info.UserSigningKey)

	// The device is not cross-signed yet, so keys exist without trust.
	state, err = svc.State(ctx)
	require.NoError(t, err)
	require.Equal(t, crosssigning.StatePublicKeysExist, state)

	// Signing our own device closes the chain and the private keys held by
	// the store push the state all the way up.
	require.NoError(t, svc.CrossSignDevice(ctx, "DEVICE1"))
	state, err = svc.State(ctx)
	require.NoError(t, err)
	require.Equal(t, crosssigning.StatePrivateKeysAvailable, state)

	canSign, err := svc.CanCrossSign(ctx)
	require.NoError(t, err)
	require.True(t, canSign)
}

func TestBootstrap_BadPassword(t *testing.T) {
	ctx := context.Background()
	svc, directory, _, _ := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")

	err := svc.Bootstrap(ctx, "wrong")
	require.ErrorIs(t, err, trust.ErrAuth)

	require.Nil(t, directory.infos["@alice:example.org"])
	state, err := svc.State(ctx)
	require.NoError(t, err)
	require.Equal(t, crosssigning.StateNotBootstrapped, state)
}

func TestBootstrap_SaveFailureDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	svc, directory, server, keys := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")
	keys.saveErr = trust.ErrKeyUnavailable

	require.Error(t, svc.Bootstrap(ctx, "s3cret"))
	require.Zero(t, server.keyUploads)
	require.Nil(t, directory.infos["@alice:example.org"])
}

func TestBootstrap_Replacement(t *testing.T) {
	ctx := context.Background()
	svc, directory, _, _ := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")

	require.NoError(t, svc.Bootstrap(ctx, "s3cret"))
	first := directory.infos["@alice:example.org"]

	require.NoError(t, svc.Bootstrap(ctx, "s3cret"))
	second := directory.infos["@alice:example.org"]

	require.NotEqual(t, first.MasterKey.KeyID(), second.MasterKey.KeyID())
	require.NoError(t, crosssigning.VerifyHierarchy(second))
}

func TestBootstrap_ConcurrentFailsFast(t *testing.T) {
	ctx := context.Background()
	svc, _, server, keys := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")

	keys.saveStarted = make(chan struct{}, 1)
	keys.saveBlock = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		first <- svc.Bootstrap(ctx, "s3cret")
	}()

	// Wait until the first call is inside the key store, then race it.
	<-keys.saveStarted
	err := svc.Bootstrap(ctx, "s3cret")
	require.ErrorIs(t, err, trust.ErrBootstrapInProgress)

	close(keys.saveBlock)
	require.NoError(t, <-first)
	require.Equal(t, 1, server.keyUploads)
}

func TestCrossSignDevice_UnknownDevice(t *testing.T) {
	ctx := context.Background()
	svc, _, server, _ := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")
	require.NoError(t, svc.Bootstrap(ctx, "s3cret"))

	err := svc.CrossSignDevice(ctx, "DEVICE42")
	require.ErrorIs(t, err, trust.ErrUnknownDeviceID)
	require.Zero(t, server.signatureCount())
}

func TestSigning_PublicKeyMismatch(t *testing.T) {
	ctx := context.Background()
	svc, directory, server, keys := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")
	require.NoError(t, svc.Bootstrap(ctx, "s3cret"))

	// Corrupt the stored self-signing key: the key store now answers with
	// material whose public half does not match the published key.
	_, wrongPriv, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	keys.mu.Lock()
	keys.keys["@alice:example.org/DEVICE1"][model.UsageSelfSigning] = wrongPriv
	keys.mu.Unlock()

	stateBefore, err := svc.State(ctx)
	require.NoError(t, err)

	err = svc.CrossSignDevice(ctx, "DEVICE1")
	require.ErrorIs(t, err, trust.ErrKeyUnavailable)
	require.Zero(t, server.signatureCount())

	// No partial signature landed anywhere.
	device := directory.devices["@alice:example.org/DEVICE1"]
	require.Empty(t, device.Signatures)

	stateAfter, err := svc.State(ctx)
	require.NoError(t, err)
	require.Equal(t, stateBefore, stateAfter)
}

func TestSignUser_ExtendsTrust(t *testing.T) {
	ctx := context.Background()
	bob, directory, server, _ := newAccount(t, "@bob:example.org", "BOBDEV", "hunter2")
	require.NoError(t, svcBootstrapAndSelfSign(ctx, t, bob, "hunter2", "BOBDEV"))

	// Alice's published hierarchy and a device cross-signed by her.
	aliceInfo, alicePriv, err := crosssigning.GenerateHierarchy("@alice:example.org")
	require.NoError(t, err)
	directory.mu.Lock()
	directory.infos["@alice:example.org"] = aliceInfo
	directory.mu.Unlock()

	alicePub, _, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	aliceDevice := &model.DeviceKeys{
		UserID:     "@alice:example.org",
		DeviceID:   "ALICEDEV",
		Ed25519Key: alicePub,
	}
	aliceDevice.AddSignature("@alice:example.org", aliceInfo.SelfSigningKey.KeyID(),
		signature.ED25519Sign(alicePriv[model.UsageSelfSigning], alicePub))
	directory.putDevice(aliceDevice)

	trusted, err := bob.UserTrusted(ctx, "@alice:example.org")
	require.NoError(t, err)
	require.False(t, trusted)

	require.NoError(t, bob.SignUser(ctx, "@alice:example.org"))
	require.Equal(t, 2, server.signatureCount())

	// The uploaded signature references alice's current master key and from
	// now on her cross-signed devices read as trusted.
	trusted, err = bob.UserTrusted(ctx, "@alice:example.org")
	require.NoError(t, err)
	require.True(t, trusted)

	trusted, err = bob.DeviceTrusted(ctx, "@alice:example.org", "ALICEDEV")
	require.NoError(t, err)
	require.True(t, trusted)
}

func TestSignUser_UnknownUser(t *testing.T) {
	ctx := context.Background()
	svc, _, server, _ := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")
	require.NoError(t, svc.Bootstrap(ctx, "s3cret"))

	err := svc.SignUser(ctx, "@nobody:example.org")
	require.ErrorIs(t, err, trust.ErrUnknownUserID)
	require.Zero(t, server.signatureCount())
}

func TestSigning_AsyncKeystore(t *testing.T) {
	ctx := context.Background()
	svc, directory, _, keys := newAccount(t, "@alice:example.org", "DEVICE1", "s3cret")
	require.NoError(t, svc.Bootstrap(ctx, "s3cret"))
	require.NoError(t, svc.CrossSignDevice(ctx, "DEVICE1"))

	keys.async = true

	state, err := svc.State(ctx)
	require.NoError(t, err)
	require.Equal(t, crosssigning.StatePrivateKeysAvailableAsync, state)

	canSign, err := svc.CanCrossSign(ctx)
	require.NoError(t, err)
	require.True(t, canSign)

	// Signing awaits the asynchronous resolution and still succeeds.
	devicePub, _, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	directory.putDevice(&model.DeviceKeys{
		UserID:     "@alice:example.org",
		DeviceID:   "DEVICE2",
		Ed25519Key: devicePub,
	})
	require.NoError(t, svc.CrossSignDevice(ctx, "DEVICE2"))

	device := directory.devices["@alice:example.org/DEVICE2"]
	info := directory.infos["@alice:example.org"]
	require.True(t, crosssigning.VerifyDeviceSignature(device, info.SelfSigningKey))
}

func svcBootstrapAndSelfSign(ctx context.Context, t *testing.T, svc *trust.Service, password, deviceID string) error {
	t.Helper()
	if err := svc.Bootstrap(ctx, password); err != nil {
		return err
	}
	return svc.CrossSignDevice(ctx, deviceID)
}

func TestKeyRequest_Cancel(t *testing.T) {
	req := trust.NewKeyRequest()
	req.Cancel()

	select {
	case <-req.Cancelled():
	default:
		t.Fatal("request not marked cancelled")
	}

	_, err := req.Wait(context.Background())
	require.ErrorIs(t, err, trust.ErrKeyRequestCancelled)

	// Fulfilling after cancellation does not resurrect the request.
	req.Fulfill([]byte("key"))
	_, err = req.Wait(context.Background())
	require.ErrorIs(t, err, trust.ErrKeyRequestCancelled)
}

func TestKeyRequest_WaitContext(t *testing.T) {
	req := trust.NewKeyRequest()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := req.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The request itself is still pending and can resolve later.
	req.Fulfill([]byte("key"))
	key, err := req.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("key"), key)
}
