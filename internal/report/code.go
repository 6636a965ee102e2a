// Package report renders the bilingual due-diligence PDF and owns the
// public report code format.
package report

import (
	"crypto/rand"
	"regexp"
	"time"
)

// codeAlphabet is the character set of the random suffix. Uppercase plus
// digits keeps codes readable over the phone.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// codePattern matches a well-formed report code.
var codePattern = regexp.MustCompile(`^GG-\d{14}-[A-Z0-9]{4}$`)

// NewCode mints a report code: GG-<YYYYMMDDhhmmss>-<4 random chars>.
// The timestamp is UTC. Uniqueness is enforced at insert time; the random
// suffix only makes same-second collisions unlikely.
func NewCode(now time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	suffix := make([]byte, 4)
	for i, b := range buf {
		suffix[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "GG-" + now.UTC().Format("20060102150405") + "-" + string(suffix)
}

// ValidCode reports whether s has the report code shape.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}
