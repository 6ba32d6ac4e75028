package keystore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"e2e_trust/internal/cryptographic/encryption"
	"e2e_trust/internal/cryptographic/kdf"
	"e2e_trust/internal/cryptographic/signature"
	"e2e_trust/internal/model"
)

type (
	sealedKey struct {
		// Public half in the clear so availability checks need no KDF work.
		PublicKey []byte `json:"public_key"`
		// nonce || ciphertext of the private half.
		Sealed []byte `json:"sealed"`
	}

	keyFile struct {
		Salt []byte                       `json:"salt"`
		Keys map[model.KeyUsage]sealedKey `json:"keys"`
	}
)

func keyFilePath(baseDir, userID, deviceID string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(userID + "/" + deviceID))
	return filepath.Join(baseDir, name+".json")
}

// writeKeyFile seals every private key under a passphrase-derived key and
// writes the file via tmp+rename, so either all keys land or none do.
func writeKeyFile(path, passphrase string, keys map[model.KeyUsage][]byte) error {
	salt, err := kdf.NewSalt()
	if err != nil {
		return err
	}
	kek := kdf.DeriveKey(passphrase, salt)

	file := keyFile{Salt: salt, Keys: make(map[model.KeyUsage]sealedKey, len(keys))}
	for usage, priv := range keys {
		pub, err := signature.PublicKeyOf(priv)
		if err != nil {
			return fmt.Errorf("seal %s key: %w", usage, err)
		}
		sealed, err := encryption.AEADEncrypt(kek, priv, []byte(usage))
		if err != nil {
			return fmt.Errorf("seal %s key: %w", usage, err)
		}
		file.Keys[usage] = sealedKey{PublicKey: pub, Sealed: sealed}
	}

	data, err := json.Marshal(&file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file keyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return &file, nil
}

// storedPublicKey reads the clear public half for usage, or nil if the file
// or the key is missing.
func storedPublicKey(path string, usage model.KeyUsage) []byte {
	file, err := readKeyFile(path)
	if err != nil {
		return nil
	}
	return file.Keys[usage].PublicKey
}

// unsealKey opens one private key and checks it against expectedPublicKey,
// both the stored public half and the one derived from the opened key.
func unsealKey(path, passphrase string, usage model.KeyUsage, expectedPublicKey []byte) ([]byte, error) {
	file, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	sealed, ok := file.Keys[usage]
	if !ok {
		return nil, fmt.Errorf("no %s key stored", usage)
	}
	if !bytes.Equal(sealed.PublicKey, expectedPublicKey) {
		return nil, fmt.Errorf("stored %s key does not match expected public key", usage)
	}

	kek := kdf.DeriveKey(passphrase, file.Salt)
	priv, err := encryption.AEADDecrypt(kek, sealed.Sealed, []byte(usage))
	if err != nil {
		return nil, fmt.Errorf("unseal %s key: %w", usage, err)
	}

	derived, err := signature.PublicKeyOf(priv)
	if err != nil || !bytes.Equal(derived, expectedPublicKey) {
		return nil, fmt.Errorf("unsealed %s key does not match expected public key", usage)
	}
	return priv, nil
}
