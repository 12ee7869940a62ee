package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const secretPrefix = "agw_"

// GenerateSecret produces a new API key secret with its storable hash and
// displayable prefix. The raw secret carries 256 bits of entropy and is only
// ever returned once, at issue time.
func GenerateSecret() (secret, hash, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}

	secret = secretPrefix + hex.EncodeToString(buf)
	hash = HashSecret(secret)
	prefix = secret[:12] + "..."
	return secret, hash, prefix, nil
}

func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
