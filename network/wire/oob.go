package wire

import (
	"bytes"
	"fmt"
)

// Out-of-band datagram limits. The formatted text shares a fixed scratch area
// with the 4-byte marker and the terminating NUL.
const (
	OOBBufferSize = 32768
	oobMarkerLen  = 4
	oobTextCap    = OOBBufferSize - oobMarkerLen - 1
)

// OOBMarker prefixes every connectionless datagram.
var OOBMarker = []byte{0xFF, 0xFF, 0xFF, 0xFF}

// FormatOutOfBand renders an out-of-band datagram. The second return value
// reports whether the text had to be cut to fit the scratch area; callers send
// the truncated datagram anyway.
func FormatOutOfBand(format string, args ...any) ([]byte, bool) {
	text := fmt.Sprintf(format, args...)
	truncated := false
	if len(text) > oobTextCap {
		text = text[:oobTextCap]
		truncated = true
	}
	if i := bytes.IndexByte([]byte(text), 0); i >= 0 {
		text = text[:i]
	}

	out := make([]byte, 0, oobMarkerLen+len(text))
	out = append(out, OOBMarker...)
	out = append(out, text...)
	return out, truncated
}

// IsOutOfBand reports whether p carries the connectionless marker.
func IsOutOfBand(p []byte) bool {
	return len(p) >= oobMarkerLen && bytes.Equal(p[:oobMarkerLen], OOBMarker)
}
