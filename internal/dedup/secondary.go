package dedup

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const secondaryAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MintSecondaryID returns prefix followed by length random characters from
// [A-Z0-9]. Collisions are not checked; at the default length of 8 there are
// 36^8 possible values.
func MintSecondaryID(prefix string, length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("secondary id length must be positive, got %d", length)
	}
	max := big.NewInt(int64(len(secondaryAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("mint secondary id: %w", err)
		}
		buf[i] = secondaryAlphabet[n.Int64()]
	}
	return prefix + string(buf), nil
}
