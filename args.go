package pluginhost

import (
	"net/url"
	"strings"
)

// EncodeArgs joins tokens with single spaces and percent-encodes the result
// so it travels as one command-line argument. Tokens must not contain spaces
// if they are to survive DecodeToArrayArgs unchanged.
func EncodeArgs(tokens ...string) string {
	return url.QueryEscape(strings.Join(tokens, " "))
}

// DecodeArgs reverses EncodeArgs. Decoding is lenient: '+' becomes a space,
// well-formed %XX escapes are decoded and malformed ones are kept as-is.
func DecodeArgs(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DecodeToArrayArgs decodes s and splits it on spaces, dropping empty tokens.
// DecodeToArrayArgs("") returns an empty slice.
func DecodeToArrayArgs(s string) []string {
	parts := strings.Split(DecodeArgs(s), " ")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
