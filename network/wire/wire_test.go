package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	w := NewWriteBuffer(16)
	w.WriteUint16(7)
	w.WriteUint32(0xDEADBEEF)
	w.WriteCString("hi")

	assert.Equal(t, []byte{0x07, 0x00, 0xEF, 0xBE, 0xAD, 0xDE, 'h', 'i', 0}, w.Bytes())

	r := NewBuffer(w.Bytes())
	v16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v16)

	v32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v32)

	_, err = r.ReadUint64()
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Equal(t, []byte{'h', 'i', 0}, r.Remaining())
}

func TestEncodeNetEvent(t *testing.T) {
	t.Run("targeted", func(t *testing.T) {
		cmd, payload, err := EncodeNetEvent("chat", []byte(`[1]`), 3)
		require.NoError(t, err)
		assert.Equal(t, NetEventCommand, cmd)
		assert.Equal(t, []byte{3, 0, 5, 0, 'c', 'h', 'a', 't', 0, '[', '1', ']'}, payload)
	})

	t.Run("broadcast", func(t *testing.T) {
		cmd, payload, err := EncodeNetEvent("x", nil, TargetBroadcast)
		require.NoError(t, err)
		assert.Equal(t, NetEventCommand, cmd)
		assert.Equal(t, []byte{0xFF, 0xFF, 2, 0, 'x', 0}, payload)
	})

	t.Run("server", func(t *testing.T) {
		cmd, payload, err := EncodeNetEvent("x", []byte("{}"), TargetServer)
		require.NoError(t, err)
		assert.Equal(t, ServerEventCommand, cmd)
		assert.Equal(t, []byte{2, 0, 'x', 0, '{', '}'}, payload)
	})

	t.Run("invalid target", func(t *testing.T) {
		_, _, err := EncodeNetEvent("x", nil, -5)
		assert.Error(t, err)
	})
}

func TestParseNetEvent(t *testing.T) {
	_, payload, err := EncodeNetEvent("onJoin", []byte(`{"a":1}`), TargetBroadcast)
	require.NoError(t, err)

	ev, err := ParseNetEvent(payload, true)
	require.NoError(t, err)
	assert.Equal(t, TargetBroadcast, ev.Target)
	assert.Equal(t, "onJoin", ev.Name)
	assert.Equal(t, `{"a":1}`, string(ev.Data))

	_, err = ParseNetEvent([]byte{1}, false)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestFormatOutOfBand(t *testing.T) {
	out, truncated := FormatOutOfBand("getinfo %d", 42)
	assert.False(t, truncated)
	assert.True(t, IsOutOfBand(out))
	assert.Equal(t, "getinfo 42", string(out[4:]))

	long := strings.Repeat("a", OOBBufferSize)
	out, truncated = FormatOutOfBand("%s", long)
	assert.True(t, truncated)
	assert.Len(t, out, OOBBufferSize-1)

	out, _ = FormatOutOfBand("a\x00b")
	assert.Equal(t, append(bytes.Clone(OOBMarker), 'a'), out)
}

func TestInfoValueForKey(t *testing.T) {
	info := `\hostname\My Server\Gametype\rp\clients\12`

	cases := []struct {
		name string
		s    string
		key  string
		want string
	}{
		{"first", info, "hostname", "My Server"},
		{"case insensitive", info, "GAMETYPE", "rp"},
		{"last", info, "clients", "12"},
		{"missing", info, "mapname", ""},
		{"no leading slash", `a\1\b\2`, "b", "2"},
		{"dangling key", `\a\1\b`, "b", ""},
		{"empty", "", "a", ""},
		{"oversized", `\a\` + strings.Repeat("x", BigInfoString), "a", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, InfoValueForKey(c.s, c.key))
		})
	}
}

func TestStripColors(t *testing.T) {
	assert.Equal(t, "Player", StripColors("^1Pla^2yer", 64))
	assert.Equal(t, "a^", StripColors("a^", 64))
	assert.Equal(t, "^x", StripColors("^x", 64))
	assert.Equal(t, "abc", StripColors("^1abcdef", 4))
	assert.Equal(t, "", StripColors("abc", 1))
}
