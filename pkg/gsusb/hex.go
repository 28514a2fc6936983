package gsusb

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseHexPayload turns a line like "01 02 0A ff" into bytes. Characters
// other than hex digits and spaces are dropped first, so "0x01 0x02" works too.
func ParseHexPayload(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == ' ':
			return r
		}
		return -1
	}, s)

	tokens := strings.Split(clean, " ")
	out := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHex, tok)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
