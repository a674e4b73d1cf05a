// Package kcp implements the session transport over KCP, a reliable ordered
// protocol running on UDP.
package kcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kcpgo "github.com/xtaci/kcp-go/v5"
	"golang.org/x/sync/errgroup"

	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/network/transport"
)

const _name = "kcp"

var errClosed = errors.New("kcp: transport closed")

// Provider hands out KCP Impls sharing one configuration.
type Provider struct {
	cfg   *Config
	mu    sync.Mutex
	impls map[*Impl]struct{}
}

// NewProvider validates cfg and creates a Provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kcp config: %w", err)
	}
	return &Provider{cfg: cfg, impls: make(map[*Impl]struct{})}, nil
}

func (p *Provider) FactoryName() string { return _name }

func (p *Provider) Name() string { return _name }

// New creates an Impl that reports to base.
func (p *Provider) New(base transport.Inherit) (transport.Impl, error) {
	if base == nil {
		return nil, errors.New("kcp: nil inherit")
	}
	im := &Impl{
		cfg:     p.cfg,
		base:    base,
		rtt:     transport.NewRTTEstimator(_name),
		pacer:   transport.NewPacer(p.cfg.SendRate),
		release: p.release,
	}
	p.mu.Lock()
	p.impls[im] = struct{}{}
	p.mu.Unlock()
	return im, nil
}

func (p *Provider) release(im *Impl) {
	p.mu.Lock()
	delete(p.impls, im)
	p.mu.Unlock()
}

func (p *Provider) closeAll() {
	p.mu.Lock()
	impls := make([]*Impl, 0, len(p.impls))
	for im := range p.impls {
		impls = append(impls, im)
	}
	p.mu.Unlock()
	for _, im := range impls {
		_ = im.Close()
	}
}

// session is one dialed connection and the goroutines serving it.
type session struct {
	conn   *kcpgo.UDPSession
	addr   transport.NetAddress
	cancel context.CancelFunc
	wmu    sync.Mutex
	acked  atomic.Bool
	down   atomic.Bool
}

// Impl is a transport.Impl over a single KCP session. Unreliable commands share
// the reliable session.
type Impl struct {
	cfg     *Config
	base    transport.Inherit
	rtt     *transport.RTTEstimator
	pacer   *transport.Pacer
	release func(*Impl)

	mu     sync.Mutex
	sess   *session
	closed bool
}

var _ transport.Impl = (*Impl)(nil)

// CreateConnectionTo dials addr and sends the connect frame. Any previous
// session is dropped first.
func (im *Impl) CreateConnectionTo(addr transport.NetAddress, req transport.ConnectRequest) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.closed {
		return errClosed
	}
	im.resetLocked()

	conn, err := kcpgo.DialWithOptions(addr.String(), nil, im.cfg.DataShards, im.cfg.ParityShards)
	if err != nil {
		return fmt.Errorf("kcp dial %s: %w", addr, err)
	}
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(im.cfg.NoDelay, im.cfg.Interval, im.cfg.Resend, im.cfg.NoCongestion)
	conn.SetWindowSize(im.cfg.SndWnd, im.cfg.RcvWnd)
	conn.SetMtu(im.cfg.MTU)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{conn: conn, addr: addr, cancel: cancel}
	im.sess = s
	im.rtt.Reset()

	if err := im.write(s, transport.FrameConnect, transport.MarshalConnect(req)); err != nil {
		im.resetLocked()
		return fmt.Errorf("kcp send connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return im.readLoop(gctx, s) })
	g.Go(func() error { return im.writeLoop(gctx, s) })
	g.Go(func() error { return im.pingLoop(gctx, s) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	go im.watch(ctx, s, g)

	log.Info().Str("server", addr.String()).Int("mtu", im.cfg.MTU).Msg("kcp session started")
	return nil
}

// watch reports the first loop failure unless the session was reset on purpose.
func (im *Impl) watch(ctx context.Context, s *session, g *errgroup.Group) {
	err := g.Wait()
	s.down.Store(true)
	if ctx.Err() != nil || err == nil {
		return
	}
	log.Warn().Str("server", s.addr.String()).Err(err).Msg("kcp session failed")
	meta, _ := json.Marshal(map[string]string{"transport": _name, "server": s.addr.String()})
	im.base.OnConnectionError(err.Error(), string(meta))
}

func (im *Impl) readLoop(ctx context.Context, s *session) error {
	r := bufio.NewReader(s.conn)
	for {
		kind, body, err := transport.ReadFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kcp read: %w", err)
		}
		switch kind {
		case transport.FrameConnectAck:
			s.acked.Store(true)
		case transport.FramePing:
			if err := im.write(s, transport.FramePong, body); err != nil {
				return fmt.Errorf("kcp pong: %w", err)
			}
		}
		if err := transport.Demux(_name, im.base, im.rtt, kind, body); err != nil {
			if errors.Is(err, transport.ErrPeerDisconnected) {
				return err
			}
			log.Warn().Str("kind", kind.String()).Err(err).Msg("kcp bad frame")
		}
	}
}

func (im *Impl) writeLoop(ctx context.Context, s *session) error {
	ticker := time.NewTicker(time.Duration(im.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := im.drainOutgoing(s); err != nil {
				return err
			}
		}
	}
}

func (im *Impl) pingLoop(ctx context.Context, s *session) error {
	timeout := time.NewTimer(time.Duration(im.cfg.ConnectTimeoutMs) * time.Millisecond)
	defer timeout.Stop()
	ticker := time.NewTicker(time.Duration(im.cfg.PingIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout.C:
			if !s.acked.Load() {
				return transport.ErrConnectTimeout
			}
		case <-ticker.C:
			if !s.acked.Load() {
				continue
			}
			if err := im.write(s, transport.FramePing, transport.MarshalPing(time.Now().UnixNano())); err != nil {
				return fmt.Errorf("kcp ping: %w", err)
			}
		}
	}
}

// drainOutgoing sends queued routed packets once the server acknowledged us.
func (im *Impl) drainOutgoing(s *session) error {
	if !s.acked.Load() {
		return nil
	}
	for {
		pkt, ok := im.base.GetOutgoingPacket()
		if !ok {
			return nil
		}
		im.pacer.Take()
		if err := im.write(s, transport.FrameRoute, transport.AppendRoute(nil, pkt.PeerID, pkt.Payload)); err != nil {
			return fmt.Errorf("kcp route: %w", err)
		}
	}
}

func (im *Impl) write(s *session, kind transport.FrameKind, body []byte) error {
	s.wmu.Lock()
	err := transport.WriteFrame(s.conn, kind, body)
	s.wmu.Unlock()
	if err != nil {
		return err
	}
	transport.CountFrame(_name, "out", kind)
	im.base.AddSendTick()
	return nil
}

func (im *Impl) current() *session {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.sess == nil || im.sess.down.Load() {
		return nil
	}
	return im.sess
}

func (im *Impl) send(kind transport.FrameKind, hash uint32, payload []byte) {
	s := im.current()
	if s == nil {
		log.Debug().Uint32("hash", hash).Msg("kcp drop command without session")
		return
	}
	if err := im.write(s, kind, transport.AppendCommand(nil, hash, payload)); err != nil {
		log.Warn().Uint32("hash", hash).Err(err).Msg("kcp send command failed")
	}
}

func (im *Impl) SendReliableCommand(hash uint32, payload []byte) {
	im.send(transport.FrameReliable, hash, payload)
}

func (im *Impl) SendUnreliableCommand(hash uint32, payload []byte) {
	im.send(transport.FrameUnreliable, hash, payload)
}

func (im *Impl) SendData(addr transport.NetAddress, data []byte) {
	if err := transport.SendDatagram(addr, data); err != nil {
		log.Warn().Err(err).Msg("kcp send data failed")
		return
	}
	transport.CountFrame(_name, "out", transport.FrameOutOfBand)
}

// Flush sends every queued routed packet now.
func (im *Impl) Flush() {
	if s := im.current(); s != nil {
		if err := im.drainOutgoing(s); err != nil {
			log.Warn().Err(err).Msg("kcp flush failed")
		}
	}
}

func (im *Impl) Reset() {
	im.mu.Lock()
	im.resetLocked()
	im.mu.Unlock()
}

func (im *Impl) resetLocked() {
	if im.sess == nil {
		return
	}
	im.sess.down.Store(true)
	im.sess.cancel()
	_ = im.sess.conn.Close()
	im.sess = nil
}

func (im *Impl) IsDisconnected() bool {
	return im.current() == nil
}

func (im *Impl) GetPing() int32 { return im.rtt.RTT() }

func (im *Impl) GetVariance() int32 { return im.rtt.Variance() }

// RunFrame does nothing; KCP runs its own update timer.
func (im *Impl) RunFrame() {}

func (im *Impl) Close() error {
	im.mu.Lock()
	im.closed = true
	im.resetLocked()
	im.mu.Unlock()
	if im.release != nil {
		im.release(im)
	}
	return nil
}
