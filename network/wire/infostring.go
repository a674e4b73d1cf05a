package wire

import "strings"

// BigInfoString bounds the accepted info string length.
const BigInfoString = 8192

// InfoValueForKey looks up key in a backslash-delimited info string of the form
// `\key\value\key\value`. Keys match case-insensitively. Oversized or malformed
// input yields the empty string.
func InfoValueForKey(s, key string) string {
	if s == "" || key == "" || len(s) >= BigInfoString {
		return ""
	}

	s = strings.TrimPrefix(s, `\`)
	for {
		i := strings.IndexByte(s, '\\')
		if i < 0 {
			return ""
		}
		k := s[:i]
		s = s[i+1:]

		v := s
		j := strings.IndexByte(s, '\\')
		if j >= 0 {
			v = s[:j]
		}
		if strings.EqualFold(k, key) {
			return v
		}

		if j < 0 {
			return ""
		}
		s = s[j+1:]
	}
}

// StripColors removes `^<digit>` color codes and returns at most max-1 bytes,
// leaving room for a terminator the way fixed-size name buffers expect.
func StripColors(in string, max int) string {
	if max <= 1 {
		return ""
	}
	limit := max - 1

	var sb strings.Builder
	sb.Grow(min(len(in), limit))
	for i := 0; i < len(in) && sb.Len() < limit; i++ {
		if in[i] == '^' && i+1 < len(in) && in[i+1] >= '0' && in[i+1] <= '9' {
			i++
			continue
		}
		sb.WriteByte(in[i])
	}
	return sb.String()
}
