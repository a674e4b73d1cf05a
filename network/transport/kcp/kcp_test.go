package kcp

import (
	"bufio"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kcpgo "github.com/xtaci/kcp-go/v5"

	"github.com/linchenxuan/netclient/network/routing"
	"github.com/linchenxuan/netclient/network/transport"
)

type testBase struct {
	mu        sync.Mutex
	connected chan transport.ConnectedInfo
	commands  chan []byte
	routed    chan routing.Packet
	errs      chan string
	outgoing  *routing.OutgoingQueue
}

func newTestBase() *testBase {
	return &testBase{
		connected: make(chan transport.ConnectedInfo, 1),
		commands:  make(chan []byte, 4),
		routed:    make(chan routing.Packet, 4),
		errs:      make(chan string, 1),
		outgoing:  routing.NewOutgoingQueue(),
	}
}

func (b *testBase) HandleConnected(info transport.ConnectedInfo) { b.connected <- info }
func (b *testBase) HandleReliableCommand(_ uint32, payload []byte) {
	b.commands <- append([]byte(nil), payload...)
}
func (b *testBase) EnqueueRoutedPacket(netID uint16, payload []byte) {
	b.routed <- routing.Packet{PeerID: netID, Payload: payload}
}
func (b *testBase) GetOutgoingPacket() (routing.Packet, bool) { return b.outgoing.TryDequeue() }
func (b *testBase) AddReceiveTick()                           {}
func (b *testBase) AddSendTick()                              {}
func (b *testBase) OnConnectionError(reason string, _ string) {
	select {
	case b.errs <- reason:
	default:
	}
}
func (b *testBase) GetConnectionState() transport.ConnectionState { return transport.Connecting }
func (b *testBase) GetGUID() uint64                               { return 42 }

// echoServer acknowledges the connect frame and echoes commands and routed
// packets back to the client.
func echoServer(t *testing.T) (transport.NetAddress, chan transport.ConnectRequest) {
	t.Helper()
	ln, err := kcpgo.ListenWithOptions("127.0.0.1:0", nil, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	reqs := make(chan transport.ConnectRequest, 1)
	go func() {
		conn, err := ln.AcceptKCP()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetStreamMode(true)
		conn.SetWriteDelay(false)
		r := bufio.NewReader(conn)
		for {
			kind, body, err := transport.ReadFrame(r)
			if err != nil {
				return
			}
			switch kind {
			case transport.FrameConnect:
				req, _ := transport.UnmarshalConnect(body)
				reqs <- req
				ack := transport.ConnectedInfo{ServerNetID: 0xffff, HostNetID: 1, HostBase: 500, SlotID: 3}
				_ = transport.WriteFrame(conn, transport.FrameConnectAck, transport.MarshalConnectAck(ack))
			case transport.FrameReliable, transport.FrameRoute:
				_ = transport.WriteFrame(conn, kind, body)
			case transport.FramePing:
				_ = transport.WriteFrame(conn, transport.FramePong, body)
			}
		}
	}()

	addr, err := transport.ParseNetAddress(ln.Addr().String())
	require.NoError(t, err)
	return addr, reqs
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1400, cfg.MTU)
	assert.Equal(t, 10000, cfg.ConnectTimeoutMs)

	assert.Error(t, (&Config{MTU: 9000}).Validate())
	assert.Error(t, (&Config{SendRate: -1}).Validate())
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, "kcp", f.Name())
	ins, err := f.Setup(&Config{})
	require.NoError(t, err)
	assert.Equal(t, "kcp", ins.FactoryName())
	f.Destroy(ins)

	_, err = f.Setup("bad")
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	addr, reqs := echoServer(t)

	p, err := NewProvider(&Config{PingIntervalMs: 20, PollIntervalMs: 5})
	require.NoError(t, err)
	defer p.closeAll()

	base := newTestBase()
	im, err := p.New(base)
	require.NoError(t, err)

	assert.True(t, im.IsDisconnected())
	assert.Equal(t, int32(-1), im.GetPing())

	req := transport.ConnectRequest{Token: "tok", GUID: 42, Protocol: 12, Name: "player"}
	require.NoError(t, im.CreateConnectionTo(addr, req))

	assert.Equal(t, req, recv(t, reqs))
	info := recv(t, base.connected)
	assert.Equal(t, uint16(1), info.HostNetID)
	assert.Equal(t, uint32(500), info.HostBase)
	assert.False(t, im.IsDisconnected())

	im.SendReliableCommand(7, []byte("hello"))
	assert.Equal(t, []byte("hello"), recv(t, base.commands))

	base.outgoing.Enqueue(5, []byte("route"))
	pkt := recv(t, base.routed)
	assert.Equal(t, uint16(5), pkt.PeerID)
	assert.Equal(t, []byte("route"), pkt.Payload)

	assert.Eventually(t, func() bool { return im.GetPing() >= 0 }, 3*time.Second, 10*time.Millisecond)

	im.Reset()
	assert.True(t, im.IsDisconnected())
	im.SendReliableCommand(7, []byte("dropped"))

	require.NoError(t, im.Close())
	assert.Error(t, im.CreateConnectionTo(addr, req))
}

func TestConnectTimeout(t *testing.T) {
	// nothing answers on this port
	ln, err := kcpgo.ListenWithOptions("127.0.0.1:0", nil, 0, 0)
	require.NoError(t, err)
	addr, err := transport.ParseNetAddress(ln.Addr().String())
	require.NoError(t, err)
	_ = ln.Close()

	p, err := NewProvider(&Config{ConnectTimeoutMs: 50})
	require.NoError(t, err)
	base := newTestBase()
	im, err := p.New(base)
	require.NoError(t, err)
	defer im.Close()

	require.NoError(t, im.CreateConnectionTo(addr, transport.ConnectRequest{}))
	assert.NotEmpty(t, recv(t, base.errs))
	assert.Eventually(t, im.IsDisconnected, time.Second, 10*time.Millisecond)
}
