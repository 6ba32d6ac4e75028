package keystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/keystore"
	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
)

func generateKeys(t *testing.T) (map[model.KeyUsage][]byte, map[model.KeyUsage][]byte) {
	t.Helper()

	priv := make(map[model.KeyUsage][]byte)
	pub := make(map[model.KeyUsage][]byte)
	for _, usage := range []model.KeyUsage{model.UsageMaster, model.UsageSelfSigning, model.UsageUserSigning} {
		p, k, err := signature.NewEd25519Keypair()
		require.NoError(t, err)
		priv[usage] = k
		pub[usage] = p
	}
	return priv, pub
}

func TestFileStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewFileStore(t.TempDir(), "passphrase")
	priv, pub := generateKeys(t)

	require.NoError(t, store.SavePrivateKeys(ctx, "@alice:example.org", "DEVICE1", priv))

	for usage := range priv {
		avail := store.Availability(ctx, "@alice:example.org", "DEVICE1", usage, pub[usage])
		require.Equal(t, crosssigning.AvailabilitySync, avail)

		req := store.GetPrivateKey("@alice:example.org", "DEVICE1", usage, pub[usage])
		got, err := req.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, priv[usage], got)
	}
}

func TestFileStore_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	priv, pub := generateKeys(t)

	require.NoError(t, keystore.NewFileStore(dir, "correct").SavePrivateKeys(ctx, "@alice:example.org", "DEVICE1", priv))

	store := keystore.NewFileStore(dir, "wrong")
	req := store.GetPrivateKey("@alice:example.org", "DEVICE1", model.UsageMaster, pub[model.UsageMaster])
	_, err := req.Wait(ctx)
	require.Error(t, err)
}

func TestFileStore_ExpectedPublicKeyMismatch(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewFileStore(t.TempDir(), "passphrase")
	priv, _ := generateKeys(t)

	require.NoError(t, store.SavePrivateKeys(ctx, "@alice:example.org", "DEVICE1", priv))

	// A rotated hierarchy expects different public keys than the ones on
	// disk; the store must refuse rather than hand out a stale key.
	otherPub, _, err := signature.NewEd25519Keypair()
	require.NoError(t, err)

	avail := store.Availability(ctx, "@alice:example.org", "DEVICE1", model.UsageSelfSigning, otherPub)
	require.Equal(t, crosssigning.AvailabilityNone, avail)

	req := store.GetPrivateKey("@alice:example.org", "DEVICE1", model.UsageSelfSigning, otherPub)
	_, err = req.Wait(ctx)
	require.Error(t, err)
}

func TestFileStore_MissingFile(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewFileStore(t.TempDir(), "passphrase")
	_, pub := generateKeys(t)

	avail := store.Availability(ctx, "@alice:example.org", "DEVICE1", model.UsageMaster, pub[model.UsageMaster])
	require.Equal(t, crosssigning.AvailabilityNone, avail)

	req := store.GetPrivateKey("@alice:example.org", "DEVICE1", model.UsageMaster, pub[model.UsageMaster])
	_, err := req.Wait(ctx)
	require.Error(t, err)
}

func TestFileStore_SaveReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewFileStore(t.TempDir(), "passphrase")

	first, _ := generateKeys(t)
	require.NoError(t, store.SavePrivateKeys(ctx, "@alice:example.org", "DEVICE1", first))

	second, secondPub := generateKeys(t)
	require.NoError(t, store.SavePrivateKeys(ctx, "@alice:example.org", "DEVICE1", second))

	// The whole file is the new hierarchy; nothing of the old one remains.
	for usage := range second {
		req := store.GetPrivateKey("@alice:example.org", "DEVICE1", usage, secondPub[usage])
		got, err := req.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, second[usage], got)
	}
}

type fakePrompter struct {
	passphrase string
	err        error
	calls      int
}

func (p *fakePrompter) Prompt(string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.passphrase, nil
}

func TestInteractiveStore_PromptFlow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	prompter := &fakePrompter{passphrase: "spoken"}
	store := keystore.NewInteractiveStore(dir, prompter)
	priv, pub := generateKeys(t)

	require.NoError(t, store.SavePrivateKeys(ctx, "@alice:example.org", "DEVICE1", priv))
	require.Equal(t, 1, prompter.calls)

	avail := store.Availability(ctx, "@alice:example.org", "DEVICE1", model.UsageMaster, pub[model.UsageMaster])
	require.Equal(t, crosssigning.AvailabilityAsync, avail)

	req := store.GetPrivateKey("@alice:example.org", "DEVICE1", model.UsageMaster, pub[model.UsageMaster])
	got, err := req.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, priv[model.UsageMaster], got)
	require.Equal(t, 2, prompter.calls)
}

func TestInteractiveStore_PromptDismissed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	dir := t.TempDir()
	priv, pub := generateKeys(t)
	require.NoError(t, keystore.NewInteractiveStore(dir, &fakePrompter{passphrase: "spoken"}).
		SavePrivateKeys(ctx, "@alice:example.org", "DEVICE1", priv))

	dismissed := keystore.NewInteractiveStore(dir, &fakePrompter{err: context.Canceled})
	req := dismissed.GetPrivateKey("@alice:example.org", "DEVICE1", model.UsageMaster, pub[model.UsageMaster])
	_, err := req.Wait(ctx)
	require.Error(t, err)
}
