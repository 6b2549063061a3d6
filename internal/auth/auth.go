// Package auth validates API keys and resolves them to capability tiers.
// Keys are stored as SHA-256 hashes; a request's tier decides whether tool
// execution and external tool interception are permitted.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// Authenticator resolves API keys to capability tiers.
type Authenticator struct {
	tiers map[string]domain.CapabilityTier // keyhash -> tier
}

// NewAuthenticator creates an authenticator from keyhash -> tier mappings.
func NewAuthenticator(keys map[string]domain.CapabilityTier) *Authenticator {
	tiers := make(map[string]domain.CapabilityTier, len(keys))
	for hash, tier := range keys {
		tiers[strings.ToLower(hash)] = tier
	}
	return &Authenticator{tiers: tiers}
}

// Open reports whether no keys are configured. An open authenticator
// grants every request the full tier.
func (a *Authenticator) Open() bool {
	return len(a.tiers) == 0
}

// ValidateAPIKey resolves an API key to its tier.
func (a *Authenticator) ValidateAPIKey(apiKey string) (domain.CapabilityTier, error) {
	if a.Open() {
		return domain.TierFull, nil
	}

	// Scan every stored hash so lookup timing does not depend on whether
	// or where a match exists.
	keyHash := []byte(HashAPIKey(apiKey))
	var (
		found bool
		tier  domain.CapabilityTier
	)
	for hash, t := range a.tiers {
		if subtle.ConstantTimeCompare(keyHash, []byte(hash)) == 1 {
			found = true
			tier = t
		}
	}
	if !found {
		return "", fmt.Errorf("invalid API key")
	}
	return tier, nil
}

// ExtractAPIKey pulls the API key from a request. Both the Bearer scheme
// and the x-api-key header are accepted.
func ExtractAPIKey(r *http.Request) (string, error) {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key, nil
	}

	authz := r.Header.Get("Authorization")
	if authz == "" {
		return "", fmt.Errorf("missing API key")
	}

	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}
	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
