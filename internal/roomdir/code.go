package roomdir

import (
	"crypto/rand"
	"strings"
)

// Lookalike characters (0/O, 1/I) are excluded so codes survive being read
// aloud or typed from a screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

func generateCode() string {
	buf := make([]byte, codeLength)
	rand.Read(buf)
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf)
}

// NormalizeCode maps user input onto the canonical room id form. Room ids
// are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
