package app

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/pkg/cryptox"
)

const defaultRSABits = 2048

// InitCredentials generates an ephemeral signing credential for the
// configured algorithm plus a symmetric encryption credential. Keys live
// only in memory: every token becomes invalid when the daemon restarts,
// which is the intended behavior for a development deployment. Production
// deployments construct the engine directly with their own key material.
func InitCredentials(cfg Config, logger *slog.Logger) (signing, encryption []domain.Credential, err error) {
	kid := cryptox.MustGenerateToken(cryptox.TokenSize128)

	var cred domain.Credential
	switch cfg.Algorithm {
	case "RS256":
		bits := cfg.RSABits
		if bits <= 0 {
			bits = defaultRSABits
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		cred = domain.Credential{KeyID: kid, Algorithm: "RS256", Key: key}

	case "ES256":
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
		}
		cred = domain.Credential{KeyID: kid, Algorithm: "ES256", Key: key}

	case "HS256":
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, nil, fmt.Errorf("failed to generate HMAC secret: %w", err)
		}
		cred = domain.Credential{KeyID: kid, Algorithm: "HS256", Key: secret}

	case "EdDSA", "":
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate Ed25519 key: %w", err)
		}
		cred = domain.Credential{KeyID: kid, Algorithm: "EdDSA", Key: key}

	default:
		return nil, nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	encSecret := make([]byte, 32)
	if _, err := rand.Read(encSecret); err != nil {
		return nil, nil, fmt.Errorf("failed to generate encryption secret: %w", err)
	}
	encCred := domain.Credential{
		KeyID:     cryptox.MustGenerateToken(cryptox.TokenSize128),
		Algorithm: "dir",
		Key:       encSecret,
	}

	logger.Info("generated ephemeral credentials",
		"algorithm", cred.Algorithm,
		"kid", cred.KeyID,
	)
	logger.Warn("all previously issued tokens are now invalid due to key generation on startup")

	return []domain.Credential{cred}, []domain.Credential{encCred}, nil
}
