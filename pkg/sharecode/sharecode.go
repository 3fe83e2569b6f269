package sharecode

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Alphabet deliberately drops 0/O, 1/I/L and U to keep codes readable over
// the phone and on printed invitation slips.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTVWXYZ"

const Length = 8

// Generate returns a fresh share code. Codes are produced server-side only;
// uniqueness among active codes is the caller's responsibility.
func Generate() (string, error) {
	// Largest multiple of len(Alphabet) below 256, for unbiased sampling.
	max := byte(256 - (256 % len(Alphabet)))

	code := make([]byte, 0, Length)
	buf := make([]byte, Length)
	for len(code) < Length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			code = append(code, Alphabet[int(b)%len(Alphabet)])
			if len(code) == Length {
				break
			}
		}
	}

	return string(code), nil
}

// Normalize maps user-typed input onto the canonical code form.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}
