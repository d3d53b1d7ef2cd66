// Package digest normalizes content-addressed manifest hashes.
//
// Hashes are stored as bare lower-case hex with no algorithm prefix. Older
// writers produced either "sha256:<hex>" or a run-on "sha256<hex>"; both
// forms are accepted on input and rewritten by Normalize.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// legacyRunOn is the prefix some writers glued directly onto the hex digest.
const legacyRunOn = "sha256"

// Normalize returns h as bare hex. Strings that are not recognizably a
// prefixed hash are returned trimmed and lower-cased but otherwise unchanged.
//
// The run-on form is detected heuristically: any string starting with
// "sha256" whose remainder is non-empty hex is treated as legacy. A value
// that merely happens to look like that is rewritten too.
func Normalize(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		if rest := h[i+1:]; isHex(rest) {
			return rest
		}
		return h
	}
	if strings.HasPrefix(h, legacyRunOn) {
		if rest := h[len(legacyRunOn):]; isHex(rest) {
			return rest
		}
	}
	return h
}

// IsLegacy reports whether Normalize would change h.
func IsLegacy(h string) bool {
	return h != "" && Normalize(h) != h
}

// IsHex64 reports whether h is a 64-character lower-case hex string.
func IsHex64(h string) bool {
	return len(h) == 64 && isHex(h) && strings.ToLower(h) == h
}

// Sum returns the bare hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
