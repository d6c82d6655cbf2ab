// Package random provides cryptographic seed generation helpers.
//
// It uses crypto/rand to generate high-entropy string seeds suitable for
// initializing deterministic pseudo-random number generators, so that game
// replays are reproducible from the recorded seed alone.
package random

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewSeed generates a random hex-encoded seed string using crypto/rand.
func NewSeed() (string, error) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}

	return hex.EncodeToString(b[:]), nil
}
