package netlib

import (
	"context"
	"sync"
	"time"

	"github.com/linchenxuan/netclient/event"
	"github.com/linchenxuan/netclient/network/handshake"
	"github.com/linchenxuan/netclient/network/transport"
	"github.com/linchenxuan/netclient/runtime"
)

type sentCmd struct {
	hash    uint32
	payload []byte
}

// mockImpl records every call the library makes into the transport.
type mockImpl struct {
	mu           sync.Mutex
	base         transport.Inherit
	reliable     []sentCmd
	unreliable   []sentCmd
	data         [][]byte
	connects     []transport.ConnectRequest
	addrs        []transport.NetAddress
	flushes      int
	resets       int
	frames       int
	closed       bool
	disconnected bool
	connectErr   error
	// block, when set, holds CreateConnectionTo until it is closed.
	block chan struct{}
}

func (m *mockImpl) SendReliableCommand(hash uint32, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reliable = append(m.reliable, sentCmd{hash, append([]byte(nil), payload...)})
}

func (m *mockImpl) SendUnreliableCommand(hash uint32, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreliable = append(m.unreliable, sentCmd{hash, append([]byte(nil), payload...)})
}

func (m *mockImpl) SendData(_ transport.NetAddress, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, data)
}

func (m *mockImpl) Flush() {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
}

func (m *mockImpl) Reset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

func (m *mockImpl) IsDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

func (m *mockImpl) setDisconnected(v bool) {
	m.mu.Lock()
	m.disconnected = v
	m.mu.Unlock()
}

func (m *mockImpl) GetPing() int32     { return 42 }
func (m *mockImpl) GetVariance() int32 { return 7 }

func (m *mockImpl) CreateConnectionTo(addr transport.NetAddress, req transport.ConnectRequest) error {
	m.mu.Lock()
	m.addrs = append(m.addrs, addr)
	m.connects = append(m.connects, req)
	err, block := m.connectErr, m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (m *mockImpl) RunFrame() {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
}

func (m *mockImpl) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// implCalls is a copy of what a mockImpl saw.
type implCalls struct {
	reliable   []sentCmd
	unreliable []sentCmd
	data       [][]byte
	connects   []transport.ConnectRequest
	addrs      []transport.NetAddress
	flushes    int
	resets     int
	frames     int
	closed     bool
}

func (m *mockImpl) snapshot() implCalls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return implCalls{
		reliable:   append([]sentCmd(nil), m.reliable...),
		unreliable: append([]sentCmd(nil), m.unreliable...),
		data:       append([][]byte(nil), m.data...),
		connects:   append([]transport.ConnectRequest(nil), m.connects...),
		addrs:      append([]transport.NetAddress(nil), m.addrs...),
		flushes:    m.flushes,
		resets:     m.resets,
		frames:     m.frames,
		closed:     m.closed,
	}
}

type mockProvider struct {
	impl *mockImpl
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) New(base transport.Inherit) (transport.Impl, error) {
	p.impl.base = base
	return p.impl, nil
}

// handshakeFunc adapts a function to handshake.Handshaker.
type handshakeFunc func(ctx context.Context, req handshake.Request) (handshake.Result, error)

func (f handshakeFunc) Handshake(ctx context.Context, req handshake.Request) (handshake.Result, error) {
	return f(ctx, req)
}

func okHandshake(endpoint string) handshakeFunc {
	return func(context.Context, handshake.Request) (handshake.Result, error) {
		return handshake.Result{Token: "token", Protocol: 12, Endpoint: endpoint}, nil
	}
}

// blockingHandshake waits for ctx to end.
func blockingHandshake() handshakeFunc {
	return func(ctx context.Context, _ handshake.Request) (handshake.Result, error) {
		<-ctx.Done()
		return handshake.Result{}, ctx.Err()
	}
}

type published struct {
	topic   string
	payload any
}

// recorder subscribes to every topic and keeps deliveries in order.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func newRecorder(pub *event.Publisher) *recorder {
	r := &recorder{}
	pub.EnsureTopics(time.Second, _topics...)
	for _, topic := range _topics {
		topic := topic
		_ = pub.RegisterSubscriber(topic, func(payload any) {
			r.mu.Lock()
			r.events = append(r.events, published{topic, payload})
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		if e.topic != TopicStateChanged {
			out = append(out, e.topic)
		}
	}
	return out
}

func (r *recorder) last(topic string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].topic == topic {
			return r.events[i].payload, true
		}
	}
	return nil, false
}

func (r *recorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.topic == topic {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	lib  *NetLibrary
	impl *mockImpl
	rec  *recorder
}

func testIdentity() *runtime.Identity {
	id, err := runtime.NewIdentityWithSeed(7, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	if err != nil {
		panic(err)
	}
	return id
}
