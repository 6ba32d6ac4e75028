package trust

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"e2e_trust/internal/protocol/crosssigning"
	"e2e_trust/internal/utils/log"
)

// Bootstrap creates a fresh three-key hierarchy, hands the private halves to
// the key store, and publishes the public halves authenticated by password.
//
// Running it again deliberately replaces any existing hierarchy, so a failed
// bootstrap is recovered by simply calling Bootstrap again: everything is
// regenerated and republished, and keys half-published by the failed attempt
// lose validity. Concurrent calls do not interleave; the loser fails fast
// with ErrBootstrapInProgress before generating anything.
func (s *Service) Bootstrap(ctx context.Context, password string) error {
	if !s.bootstrapMu.TryLock() {
		return ErrBootstrapInProgress
	}
	defer s.bootstrapMu.Unlock()

	info, priv, err := crosssigning.GenerateHierarchy(s.userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	defer func() {
		for _, k := range priv {
			for i := range k {
				k[i] = 0
			}
		}
	}()

	if err := s.keys.SavePrivateKeys(ctx, s.userID, s.deviceID, priv); err != nil {
		return fmt.Errorf("save private keys: %w", err)
	}

	if err := s.server.UploadCrossSigningKeys(ctx, info, password); err != nil {
		return fmt.Errorf("publish cross-signing keys: %w", err)
	}

	log.Info("cross-signing bootstrapped",
		zap.String("userID", s.userID),
		zap.String("masterKeyID", info.MasterKey.KeyID()))
	return nil
}
