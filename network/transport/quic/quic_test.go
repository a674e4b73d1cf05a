package quic

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/netclient/network/routing"
	"github.com/linchenxuan/netclient/network/transport"
)

type testBase struct {
	connected chan transport.ConnectedInfo
	commands  chan uint32
	routed    chan routing.Packet
	errs      chan string
	outgoing  *routing.OutgoingQueue
}

func newTestBase() *testBase {
	return &testBase{
		connected: make(chan transport.ConnectedInfo, 1),
		commands:  make(chan uint32, 4),
		routed:    make(chan routing.Packet, 4),
		errs:      make(chan string, 1),
		outgoing:  routing.NewOutgoingQueue(),
	}
}

func (b *testBase) HandleConnected(info transport.ConnectedInfo) { b.connected <- info }
func (b *testBase) HandleReliableCommand(hash uint32, _ []byte)  { b.commands <- hash }
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

func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "netclient-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{ALPN},
	}
}

// echoServer acknowledges the connect frame, echoes reliable commands and
// routed packets on the stream and answers datagram pings.
func echoServer(t *testing.T) (transport.NetAddress, chan transport.ConnectRequest) {
	t.Helper()
	ln, err := quicgo.ListenAddr("127.0.0.1:0", selfSignedTLS(t), &quicgo.Config{EnableDatagrams: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	reqs := make(chan transport.ConnectRequest, 1)
	go func() {
		ctx := context.Background()
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		go func() {
			for {
				d, err := conn.ReceiveDatagram(ctx)
				if err != nil {
					return
				}
				kind, body, err := transport.DecodeDatagram(d)
				if err == nil && kind == transport.FramePing {
					pong, _ := transport.EncodeDatagram(transport.FramePong, body)
					_ = conn.SendDatagram(pong)
				}
			}
		}()
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		r := bufio.NewReader(stream)
		for {
			kind, body, err := transport.ReadFrame(r)
			if err != nil {
				return
			}
			switch kind {
			case transport.FrameConnect:
				req, _ := transport.UnmarshalConnect(body)
				reqs <- req
				ack := transport.ConnectedInfo{ServerNetID: 0xffff, HostNetID: 2, HostBase: 77}
				_ = transport.WriteFrame(stream, transport.FrameConnectAck, transport.MarshalConnectAck(ack))
			case transport.FrameReliable, transport.FrameRoute:
				_ = transport.WriteFrame(stream, kind, body)
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
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30000, cfg.MaxIdleTimeoutMs)

	assert.Error(t, (&Config{KeepAliveMs: 40000}).Validate())
	assert.Error(t, (&Config{KeepAliveMs: -1}).Validate())
}

func TestSessionRoundTrip(t *testing.T) {
	addr, reqs := echoServer(t)

	p, err := NewProvider(&Config{InsecureSkipVerify: true, PingIntervalMs: 20, PollIntervalMs: 5})
	require.NoError(t, err)
	defer p.closeAll()

	base := newTestBase()
	im, err := p.New(base)
	require.NoError(t, err)

	req := transport.ConnectRequest{Token: "tok", GUID: 42, Name: "player", Session: "abc"}
	require.NoError(t, im.CreateConnectionTo(addr, req))
	assert.Equal(t, req, recv(t, reqs))

	info := recv(t, base.connected)
	assert.Equal(t, uint16(2), info.HostNetID)
	assert.Equal(t, uint32(77), info.HostBase)

	im.SendReliableCommand(0xb3ea30de, []byte{1, 0, 2, 0, 0, 0})
	assert.Equal(t, uint32(0xb3ea30de), recv(t, base.commands))

	base.outgoing.Enqueue(9, []byte("state"))
	pkt := recv(t, base.routed)
	assert.Equal(t, uint16(9), pkt.PeerID)

	assert.Eventually(t, func() bool { return im.GetPing() >= 0 }, 5*time.Second, 10*time.Millisecond)

	im.Reset()
	assert.True(t, im.IsDisconnected())
	require.NoError(t, im.Close())
	assert.Error(t, im.CreateConnectionTo(addr, req))
}

func TestDialFailure(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr, err := transport.ParseNetAddress(pc.LocalAddr().String())
	require.NoError(t, err)
	defer pc.Close()

	p, err := NewProvider(&Config{ConnectTimeoutMs: 100, InsecureSkipVerify: true})
	require.NoError(t, err)
	im, err := p.New(newTestBase())
	require.NoError(t, err)
	defer im.Close()

	assert.Error(t, im.CreateConnectionTo(addr, transport.ConnectRequest{}))
	assert.True(t, im.IsDisconnected())
}

func TestDialDoesNotHoldLock(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr, err := transport.ParseNetAddress(pc.LocalAddr().String())
	require.NoError(t, err)
	defer pc.Close()

	p, err := NewProvider(&Config{ConnectTimeoutMs: 1500, InsecureSkipVerify: true})
	require.NoError(t, err)
	im, err := p.New(newTestBase())
	require.NoError(t, err)

	dialed := make(chan error, 1)
	go func() { dialed <- im.CreateConnectionTo(addr, transport.ConnectRequest{}) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	assert.True(t, im.IsDisconnected())
	require.NoError(t, im.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Error(t, recv(t, dialed))
	assert.True(t, im.IsDisconnected())
}
