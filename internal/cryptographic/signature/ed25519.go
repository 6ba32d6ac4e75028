package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

func NewEd25519Keypair() (pub []byte, priv []byte, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519.GenerateKey: %w", err)
	}
	return pub, priv, nil
}

func ED25519Sign(privKeyBytes []byte, message []byte) []byte {
	privKey := ed25519.PrivateKey(privKeyBytes)
	return ed25519.Sign(privKey, message)
}

func ED25519Verify(pubKeyBytes []byte, message []byte, signature []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	pubKey := ed25519.PublicKey(pubKeyBytes)
	return ed25519.Verify(pubKey, message, signature)
}

// PublicKeyOf derives the public key from an ed25519 private key.
func PublicKeyOf(privKeyBytes []byte) ([]byte, error) {
	if len(privKeyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privKeyBytes))
	}
	privKey := ed25519.PrivateKey(privKeyBytes)
	return []byte(privKey.Public().(ed25519.PublicKey)), nil
}
