package services

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// volatileFingerprintKeys change on every request and must not feed the digest.
var volatileFingerprintKeys = []string{"timestamp"}

// FingerprintDigest reduces a client fingerprint to a blake2b-256 hex digest.
// Fallback fingerprints, fingerprints without display geometry and
// unparsable input yield "" and take no part in duplicate detection. Without
// a display the remaining signals are shared by every headless client on
// the same platform, locale and zone. The raw fingerprint is never stored.
func FingerprintDigest(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return ""
	}
	if fb, _ := fields["fallback"].(bool); fb {
		return ""
	}
	if d, ok := fields["display"].(map[string]any); !ok || len(d) == 0 {
		return ""
	}
	for _, k := range volatileFingerprintKeys {
		delete(fields, k)
	}
	// encoding/json sorts map keys, so this is canonical
	canon, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(canon)
	return hex.EncodeToString(sum[:])
}
