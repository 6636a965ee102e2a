// Package integrity provides the deterministic hashing behind report
// verification. All functions are pure.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashGeometry produces the SHA-256 hex digest of the RFC 8785 canonical
// form of a GeoJSON geometry. Key order and whitespace in the input do not
// affect the digest, so a resubmitted geometry matches its report no matter
// how the client serialized it.
func HashGeometry(geometry []byte) (string, error) {
	canonical, err := jcs.Transform(geometry)
	if err != nil {
		return "", fmt.Errorf("integrity: canonicalize geometry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashPDF produces the SHA-256 hex digest of a rendered report document.
func HashPDF(pdf []byte) string {
	sum := sha256.Sum256(pdf)
	return hex.EncodeToString(sum[:])
}

// HashAPIKey produces the SHA-256 hex digest of a raw API key. The raw key
// is never stored; lookups go through this digest.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TruncateHash shortens a hex digest for display in response headers and
// report footers.
func TruncateHash(h string, n int) string {
	if len(h) <= n {
		return h
	}
	return h[:n]
}
