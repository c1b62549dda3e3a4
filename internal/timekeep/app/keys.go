package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
)

// InitAuthKeys loads the signing key named by AUTH_PRIVATE_KEY_FILE, or
// generates an ephemeral one when unset.
//
// An ephemeral key only suits a single instance: a restart invalidates
// every outstanding token, and replicas would reject each other's tokens.
func InitAuthKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	var pemKey []byte
	if cfg.PrivateKeyFile != "" {
		b, err := cryptox.LoadPrivateKeyPEM(cfg.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		pemKey = b
	}

	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm:     cfg.Algorithm,
		KeyID:         cfg.KeyID,
		PrivateKeyPEM: pemKey,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	logger.Info("signing key loaded",
		"algorithm", km.Algorithm(),
		"kid", km.KeyID(),
		"issuer", cfg.Issuer,
	)
	if km.Ephemeral() {
		logger.Warn("using an ephemeral signing key; tokens will not survive a restart or verify on other replicas")
	}
	return km, nil
}
