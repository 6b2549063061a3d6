package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/auth"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

func main() {
	tier := flag.String("tier", string(domain.TierFull), "capability tier for the key (none, builtin, full)")
	flag.Parse()

	switch domain.CapabilityTier(*tier) {
	case domain.TierNone, domain.TierBuiltin, domain.TierFull:
	default:
		fmt.Fprintf(os.Stderr, "unknown tier %q\n", *tier)
		os.Exit(1)
	}

	// Hash a provided key, or mint a fresh one.
	apiKey := flag.Arg(0)
	if apiKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			os.Exit(1)
		}
		apiKey = "agw-" + hex.EncodeToString(raw)
	}

	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key:      %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  auth:\n")
	fmt.Printf("    keys:\n")
	fmt.Printf("      - hash: %q\n", keyHash)
	fmt.Printf("        tier: %q\n", *tier)
}
