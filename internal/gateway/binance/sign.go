package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign produces the hex HMAC-SHA256 digest of an already-canonicalized query
// string. Deterministic and side-effect free; the caller is responsible for
// parameter ordering before signing.
func Sign(secret, canonicalQuery string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalQuery))
	return hex.EncodeToString(mac.Sum(nil))
}
