package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex decodes hex ignoring spaces, handy for readable frame literals in tests.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.Replace(s, " ", "", -1))
	if err != nil {
		panic(err)
	}
	return b
}
