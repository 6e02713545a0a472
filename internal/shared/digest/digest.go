package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// JCS canonicalizes JSON input (RFC 8785) and returns its sha256 hex digest.
func JCS(input []byte) (string, error) {
	canonical, err := jcs.Transform(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ETag returns a strong HTTP entity tag for v.
func ETag(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	d, err := JCS(raw)
	if err != nil {
		return "", err
	}
	return `"` + d + `"`, nil
}
