package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// SHA256sum returns the hex encoded SHA-256 digest of text.
func SHA256sum(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// FastHash is a non-cryptographic hash used where collisions are harmless,
// such as tagging log lines.
func FastHash(text string) string {
	h := xxhash.Sum64String(text)
	return strconv.FormatUint(h, 16)
}

// Fingerprint shortens a challenge key (usually a wallet address or public key)
// into a stable tag that is safe to put into logs and metrics.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}

	return "k" + FastHash(key)
}
