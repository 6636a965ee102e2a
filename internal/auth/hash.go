package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/greengate-br/greengate/internal/integrity"
)

// RawKeyPrefix starts every issued API key. The "live" segment leaves room
// for test keys later without a schema change.
const RawKeyPrefix = "gg_live_"

// displayPrefixLen is how much of the raw key the stored display prefix keeps.
const displayPrefixLen = 12

// GeneratedKey is a freshly minted API key. Raw is shown to the caller
// once; only Hash and Prefix are persisted.
type GeneratedKey struct {
	Raw    string
	Hash   string
	Prefix string
}

// GenerateKey mints a new API key: the fixed prefix plus 32 hex chars of
// entropy, its SHA-256 lookup hash, and the truncated display prefix.
func GenerateKey() (GeneratedKey, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return GeneratedKey{}, fmt.Errorf("auth: generate key: %w", err)
	}
	raw := RawKeyPrefix + hex.EncodeToString(buf)
	return GeneratedKey{
		Raw:    raw,
		Hash:   integrity.HashAPIKey(raw),
		Prefix: raw[:displayPrefixLen] + "...",
	}, nil
}

// WellFormedKey reports whether a presented credential has the issued-key
// shape. Lets the auth path reject garbage before touching the database.
func WellFormedKey(raw string) bool {
	if !strings.HasPrefix(raw, RawKeyPrefix) {
		return false
	}
	body := raw[len(RawKeyPrefix):]
	if len(body) != 32 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// VerifyAdminCredentials checks a username and password against the
// configured admin identity. The username compare is constant-time and the
// password check runs even for a wrong username, so response timing does
// not reveal which field was wrong.
func VerifyAdminCredentials(username, password, wantUsername, wantPasswordHash string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(wantUsername)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(wantPasswordHash), []byte(password)) == nil
	return userOK && passOK
}
