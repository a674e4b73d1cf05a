package transport

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/linchenxuan/netclient/network/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockInherit struct {
	mu        sync.Mutex
	connected []ConnectedInfo
	commands  map[uint32][]byte
	routed    []routing.Packet
	recvTicks int
}

func newMockInherit() *mockInherit {
	return &mockInherit{commands: make(map[uint32][]byte)}
}

func (m *mockInherit) HandleConnected(info ConnectedInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = append(m.connected, info)
}

func (m *mockInherit) HandleReliableCommand(hash uint32, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[hash] = append([]byte(nil), payload...)
}

func (m *mockInherit) EnqueueRoutedPacket(netID uint16, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routed = append(m.routed, routing.Packet{PeerID: netID, Payload: payload})
}

func (m *mockInherit) GetOutgoingPacket() (routing.Packet, bool) { return routing.Packet{}, false }

func (m *mockInherit) AddReceiveTick() {
	m.mu.Lock()
	m.recvTicks++
	m.mu.Unlock()
}

func (m *mockInherit) AddSendTick()                        {}
func (m *mockInherit) OnConnectionError(string, string)    {}
func (m *mockInherit) GetConnectionState() ConnectionState { return Connecting }
func (m *mockInherit) GetGUID() uint64                     { return 1 }

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "Idle", Idle.String())
	assert.Equal(t, "DownloadComplete", DownloadComplete.String())
	assert.Equal(t, "ConnectionState(42)", ConnectionState(42).String())
}

func TestNetAddress(t *testing.T) {
	var zero NetAddress
	assert.False(t, zero.IsValid())
	assert.Equal(t, "", zero.String())

	a, err := ParseNetAddress("127.0.0.1:30120")
	require.NoError(t, err)
	b, err := ParseNetAddress("127.0.0.1:30120")
	require.NoError(t, err)
	assert.True(t, a.IsValid())
	assert.Equal(t, a, b)
	assert.Equal(t, "127.0.0.1:30120", a.String())

	_, err = ParseNetAddress("not an address")
	assert.Error(t, err)
}

func TestFrameStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameReliable, AppendCommand(nil, 0xb3ea30de, []byte("hi"))))
	require.NoError(t, WriteFrame(&buf, FramePing, MarshalPing(123)))

	kind, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameReliable, kind)
	hash, payload, err := ParseCommand(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xb3ea30de), hash)
	assert.Equal(t, []byte("hi"), payload)

	kind, body, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FramePing, kind)
	ts, err := UnmarshalPing(body)
	require.NoError(t, err)
	assert.Equal(t, int64(123), ts)
}

func TestFrameTooLarge(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, FrameRoute, make([]byte, MaxFrameSize))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	hdr := []byte{0xff, 0xff, 0xff, 0x7f}
	_, _, err = ReadFrame(bytes.NewReader(hdr))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestConnectBodies(t *testing.T) {
	req := ConnectRequest{Token: "tok", GUID: 0x0210000100000007, Protocol: 5, Name: "player", Session: "s-1"}
	got, err := UnmarshalConnect(MarshalConnect(req))
	require.NoError(t, err)
	assert.Equal(t, req, got)

	info := ConnectedInfo{ServerNetID: 0xffff, HostNetID: 3, HostBase: 100, SlotID: -1, ServerTime: 99}
	gotInfo, err := UnmarshalConnectAck(MarshalConnectAck(info))
	require.NoError(t, err)
	assert.Equal(t, info, gotInfo)

	_, err = UnmarshalConnectAck([]byte{0x08})
	assert.Error(t, err, "truncated varint")
}

func TestRTTEstimator(t *testing.T) {
	e := NewRTTEstimator("test")
	assert.Equal(t, int32(-1), e.RTT())
	assert.Equal(t, int32(-1), e.Variance())

	e.Update(80 * time.Millisecond)
	assert.Equal(t, int32(80), e.RTT())
	assert.Equal(t, int32(40), e.Variance())

	// rtt = 80*7/8 + 16/8, var = 40*3/4 + 64/4
	e.Update(16 * time.Millisecond)
	assert.Equal(t, int32(72), e.RTT())
	assert.Equal(t, int32(46), e.Variance())

	e.Reset()
	assert.Equal(t, int32(-1), e.RTT())
}

func TestDemux(t *testing.T) {
	base := newMockInherit()
	rtt := NewRTTEstimator("test")

	require.NoError(t, Demux("test", base, rtt, FrameConnectAck, MarshalConnectAck(ConnectedInfo{HostNetID: 2})))
	require.NoError(t, Demux("test", base, rtt, FrameReliable, AppendCommand(nil, 7, []byte("cmd"))))
	require.NoError(t, Demux("test", base, rtt, FrameRoute, AppendRoute(nil, 9, []byte("route"))))
	require.NoError(t, Demux("test", base, rtt, FramePong, MarshalPing(time.Now().Add(-10*time.Millisecond).UnixNano())))

	err := Demux("test", base, rtt, FrameDisconnect, MarshalDisconnect("kicked"))
	assert.True(t, errors.Is(err, ErrPeerDisconnected))
	assert.Contains(t, err.Error(), "kicked")

	assert.Error(t, Demux("test", base, rtt, FrameReliable, []byte{1}))

	base.mu.Lock()
	defer base.mu.Unlock()
	require.Len(t, base.connected, 1)
	assert.Equal(t, uint16(2), base.connected[0].HostNetID)
	assert.Equal(t, []byte("cmd"), base.commands[7])
	require.Len(t, base.routed, 1)
	assert.Equal(t, uint16(9), base.routed[0].PeerID)
	assert.Equal(t, 6, base.recvTicks)
	assert.GreaterOrEqual(t, rtt.RTT(), int32(10))
}

func TestSendDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	addr, err := ParseNetAddress(pc.LocalAddr().String())
	require.NoError(t, err)
	require.NoError(t, SendDatagram(addr, []byte("\xff\xff\xff\xffgetinfo xyz")))

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "\xff\xff\xff\xffgetinfo xyz", string(buf[:n]))

	assert.Error(t, SendDatagram(NetAddress{}, []byte("x")))
}
