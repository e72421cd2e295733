package services

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
)

// IssuerInfo is the subset of the issuer's discovery document that federation relies on
type IssuerInfo struct {
	Issuer          string   `json:"issuer"`
	JWKSURL         string   `json:"jwks_uri"`
	Algorithms      []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported []string `json:"claims_supported"`
}

// IssuerChecker confirms that an OIDC issuer publishes discovery metadata Entra ID can use
type IssuerChecker struct {
	issuer string
}

func NewIssuerChecker(issuer string) *IssuerChecker {
	return &IssuerChecker{issuer: issuer}
}

// Check fetches the discovery document. go-oidc rejects documents whose issuer differs
// from the requested one.
func (c *IssuerChecker) Check(ctx context.Context) (*IssuerInfo, error) {
	logger := zerolog.Ctx(ctx)

	provider, err := oidc.NewProvider(ctx, c.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer %s: %w", c.issuer, err)
	}

	var info IssuerInfo
	if err := provider.Claims(&info); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document of %s: %w", c.issuer, err)
	}
	if info.JWKSURL == "" {
		return nil, fmt.Errorf("issuer %s does not publish jwks_uri", c.issuer)
	}

	logger.Debug().
		Str("issuer", info.Issuer).
		Str("jwks_uri", info.JWKSURL).
		Strs("algorithms", info.Algorithms).
		Msg("Issuer discovery succeeded")

	return &info, nil
}

// SupportsClaim reports whether the issuer advertises claim. An issuer that lists no
// claims is assumed to support all of them.
func (i *IssuerInfo) SupportsClaim(claim string) bool {
	if len(i.ClaimsSupported) == 0 {
		return true
	}
	for _, c := range i.ClaimsSupported {
		if c == claim {
			return true
		}
	}
	return false
}
