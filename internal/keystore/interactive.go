package keystore

import (
	"bytes"
	"context"
	"fmt"

	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
	"e2e_trust/internal/service/trust"
)

type (
	// Prompter obtains a passphrase from the user, e.g. through a TUI
	// modal. It may block indefinitely.
	Prompter interface {
		Prompt(reason string) (string, error)
	}

	// InteractiveStore uses the same sealed file format as FileStore but
	// holds no passphrase: every retrieval goes through the Prompter, so
	// keys are only ever available asynchronously.
	InteractiveStore struct {
		baseDir  string
		prompter Prompter
	}
)

var _ trust.KeysStorage = (*InteractiveStore)(nil)

func NewInteractiveStore(baseDir string, prompter Prompter) *InteractiveStore {
	return &InteractiveStore{
		baseDir:  baseDir,
		prompter: prompter,
	}
}

func (s *InteractiveStore) Availability(_ context.Context, userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) crosssigning.Availability {
	pub := storedPublicKey(keyFilePath(s.baseDir, userID, deviceID), usage)
	if pub == nil || !bytes.Equal(pub, expectedPublicKey) {
		return crosssigning.AvailabilityNone
	}
	return crosssigning.AvailabilityAsync
}

func (s *InteractiveStore) GetPrivateKey(userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) *trust.KeyRequest {
	req := trust.NewKeyRequest()
	go func() {
		passphrase, err := s.prompter.Prompt(fmt.Sprintf("Passphrase needed to unlock the %s key", usage))
		if err != nil {
			req.Fail(fmt.Errorf("passphrase prompt: %w", err))
			return
		}

		// The caller may have abandoned the request while the prompt was up.
		select {
		case <-req.Cancelled():
			return
		default:
		}

		priv, err := unsealKey(keyFilePath(s.baseDir, userID, deviceID), passphrase, usage, expectedPublicKey)
		if err != nil {
			req.Fail(err)
			return
		}
		req.Fulfill(priv)
	}()
	return req
}

func (s *InteractiveStore) SavePrivateKeys(_ context.Context, userID, deviceID string, keys map[model.KeyUsage][]byte) error {
	passphrase, err := s.prompter.Prompt("Choose a passphrase to protect the new cross-signing keys")
	if err != nil {
		return fmt.Errorf("passphrase prompt: %w", err)
	}
	return writeKeyFile(keyFilePath(s.baseDir, userID, deviceID), passphrase, keys)
}
