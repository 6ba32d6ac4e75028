package keystore

import (
	"bytes"
	"context"

	"e2e_trust/internal/model"
	"e2e_trust/internal/protocol/crosssigning"
	"e2e_trust/internal/service/trust"
)

type (
	// FileStore keeps cross-signing private keys sealed on disk under a
	// passphrase the store already holds, so retrieval is synchronous.
	FileStore struct {
		baseDir    string
		passphrase string
	}
)

var _ trust.KeysStorage = (*FileStore)(nil)

func NewFileStore(baseDir, passphrase string) *FileStore {
	return &FileStore{
		baseDir:    baseDir,
		passphrase: passphrase,
	}
}

func (s *FileStore) Availability(_ context.Context, userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) crosssigning.Availability {
	pub := storedPublicKey(keyFilePath(s.baseDir, userID, deviceID), usage)
	if pub == nil || !bytes.Equal(pub, expectedPublicKey) {
		return crosssigning.AvailabilityNone
	}
	return crosssigning.AvailabilitySync
}

func (s *FileStore) GetPrivateKey(userID, deviceID string, usage model.KeyUsage, expectedPublicKey []byte) *trust.KeyRequest {
	req := trust.NewKeyRequest()
	priv, err := unsealKey(keyFilePath(s.baseDir, userID, deviceID), s.passphrase, usage, expectedPublicKey)
	if err != nil {
		req.Fail(err)
		return req
	}
	req.Fulfill(priv)
	return req
}

func (s *FileStore) SavePrivateKeys(_ context.Context, userID, deviceID string, keys map[model.KeyUsage][]byte) error {
	return writeKeyFile(keyFilePath(s.baseDir, userID, deviceID), s.passphrase, keys)
}
