// Package quic implements the session transport over QUIC. Reliable traffic
// rides one bidirectional stream; unreliable commands and pings travel as QUIC
// datagrams when the server supports them.
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/network/transport"
)

const (
	_name = "quic"
	// ALPN is the application protocol negotiated during the TLS handshake.
	ALPN = "netclient"
)

// Application error codes sent with CONNECTION_CLOSE.
const (
	codeNormal quicgo.ApplicationErrorCode = 0
	codeReset  quicgo.ApplicationErrorCode = 1
)

var (
	errClosed     = errors.New("quic: transport closed")
	errSuperseded = errors.New("quic: dial superseded")
)

// Provider hands out QUIC Impls sharing one configuration.
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
		return nil, fmt.Errorf("invalid quic config: %w", err)
	}
	return &Provider{cfg: cfg, impls: make(map[*Impl]struct{})}, nil
}

func (p *Provider) FactoryName() string { return _name }

func (p *Provider) Name() string { return _name }

// New creates an Impl that reports to base.
func (p *Provider) New(base transport.Inherit) (transport.Impl, error) {
	if base == nil {
		return nil, errors.New("quic: nil inherit")
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

type session struct {
	conn      quicgo.Connection
	stream    quicgo.Stream
	addr      transport.NetAddress
	cancel    context.CancelFunc
	datagrams bool
	wmu       sync.Mutex
	acked     atomic.Bool
	down      atomic.Bool
}

// Impl is a transport.Impl over one QUIC connection.
type Impl struct {
	cfg     *Config
	base    transport.Inherit
	rtt     *transport.RTTEstimator
	pacer   *transport.Pacer
	release func(*Impl)

	mu      sync.Mutex
	sess    *session
	closed  bool
	dialGen uint64
}

var _ transport.Impl = (*Impl)(nil)

func (im *Impl) tlsConfig(addr transport.NetAddress) *tls.Config {
	name := im.cfg.ServerName
	if name == "" {
		name = addr.AddrPort().Addr().String()
	}
	return &tls.Config{
		ServerName:         name,
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: im.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS13,
	}
}

// CreateConnectionTo performs the QUIC handshake, opens the command stream and
// sends the connect frame. Any previous session is dropped first.
func (im *Impl) CreateConnectionTo(addr transport.NetAddress, req transport.ConnectRequest) error {
	im.mu.Lock()
	if im.closed {
		im.mu.Unlock()
		return errClosed
	}
	im.resetLocked()
	gen := im.dialGen
	im.mu.Unlock()

	timeout := time.Duration(im.cfg.ConnectTimeoutMs) * time.Millisecond
	dialCtx, dialCancel := context.WithTimeout(context.Background(), timeout)
	defer dialCancel()

	conn, err := quicgo.DialAddr(dialCtx, addr.String(), im.tlsConfig(addr), &quicgo.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: timeout,
		MaxIdleTimeout:       time.Duration(im.cfg.MaxIdleTimeoutMs) * time.Millisecond,
		KeepAlivePeriod:      time.Duration(im.cfg.KeepAliveMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(codeReset, "open stream")
		return fmt.Errorf("quic open stream: %w", err)
	}

	// the dial ran unlocked; a Close, Reset or newer dial in the meantime wins
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.closed || im.dialGen != gen {
		_ = conn.CloseWithError(codeReset, "superseded")
		return errSuperseded
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:      conn,
		stream:    stream,
		addr:      addr,
		cancel:    cancel,
		datagrams: conn.ConnectionState().SupportsDatagrams,
	}
	im.sess = s
	im.rtt.Reset()

	if err := im.writeStream(s, transport.FrameConnect, transport.MarshalConnect(req)); err != nil {
		im.resetLocked()
		return fmt.Errorf("quic send connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return im.readLoop(gctx, s) })
	if s.datagrams {
		g.Go(func() error { return im.datagramLoop(gctx, s) })
	}
	g.Go(func() error { return im.writeLoop(gctx, s) })
	g.Go(func() error { return im.pingLoop(gctx, s) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.CloseWithError(codeNormal, "")
		return nil
	})
	go im.watch(ctx, s, g)

	log.Info().Str("server", addr.String()).Bool("datagrams", s.datagrams).Msg("quic session started")
	return nil
}

func (im *Impl) watch(ctx context.Context, s *session, g *errgroup.Group) {
	err := g.Wait()
	s.down.Store(true)
	if ctx.Err() != nil || err == nil {
		return
	}
	log.Warn().Str("server", s.addr.String()).Err(err).Msg("quic session failed")
	meta, _ := json.Marshal(map[string]string{"transport": _name, "server": s.addr.String()})
	im.base.OnConnectionError(err.Error(), string(meta))
}

func (im *Impl) handle(s *session, kind transport.FrameKind, body []byte) error {
	switch kind {
	case transport.FrameConnectAck:
		s.acked.Store(true)
	case transport.FramePing:
		if err := im.writeSmall(s, transport.FramePong, body); err != nil {
			return fmt.Errorf("quic pong: %w", err)
		}
	}
	if err := transport.Demux(_name, im.base, im.rtt, kind, body); err != nil {
		if errors.Is(err, transport.ErrPeerDisconnected) {
			return err
		}
		log.Warn().Str("kind", kind.String()).Err(err).Msg("quic bad frame")
	}
	return nil
}

func (im *Impl) readLoop(ctx context.Context, s *session) error {
	r := bufio.NewReader(s.stream)
	for {
		kind, body, err := transport.ReadFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quic read: %w", err)
		}
		if err := im.handle(s, kind, body); err != nil {
			return err
		}
	}
}

func (im *Impl) datagramLoop(ctx context.Context, s *session) error {
	for {
		d, err := s.conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quic receive datagram: %w", err)
		}
		kind, body, err := transport.DecodeDatagram(d)
		if err != nil {
			log.Debug().Err(err).Msg("quic bad datagram")
			continue
		}
		if err := im.handle(s, kind, body); err != nil {
			return err
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
			if err := im.writeSmall(s, transport.FramePing, transport.MarshalPing(time.Now().UnixNano())); err != nil {
				return fmt.Errorf("quic ping: %w", err)
			}
		}
	}
}

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
		if err := im.writeStream(s, transport.FrameRoute, transport.AppendRoute(nil, pkt.PeerID, pkt.Payload)); err != nil {
			return fmt.Errorf("quic route: %w", err)
		}
	}
}

func (im *Impl) writeStream(s *session, kind transport.FrameKind, body []byte) error {
	s.wmu.Lock()
	err := transport.WriteFrame(s.stream, kind, body)
	s.wmu.Unlock()
	if err != nil {
		return err
	}
	transport.CountFrame(_name, "out", kind)
	im.base.AddSendTick()
	return nil
}

// writeSmall prefers a datagram and falls back to the stream when datagrams
// are unavailable or the frame does not fit.
func (im *Impl) writeSmall(s *session, kind transport.FrameKind, body []byte) error {
	if !s.datagrams {
		return im.writeStream(s, kind, body)
	}
	d, err := transport.EncodeDatagram(kind, body)
	if err != nil {
		return err
	}
	if err := s.conn.SendDatagram(d); err != nil {
		var tooLarge *quicgo.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			return im.writeStream(s, kind, body)
		}
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

func (im *Impl) SendReliableCommand(hash uint32, payload []byte) {
	s := im.current()
	if s == nil {
		log.Debug().Uint32("hash", hash).Msg("quic drop command without session")
		return
	}
	if err := im.writeStream(s, transport.FrameReliable, transport.AppendCommand(nil, hash, payload)); err != nil {
		log.Warn().Uint32("hash", hash).Err(err).Msg("quic send reliable failed")
	}
}

func (im *Impl) SendUnreliableCommand(hash uint32, payload []byte) {
	s := im.current()
	if s == nil {
		return
	}
	if err := im.writeSmall(s, transport.FrameUnreliable, transport.AppendCommand(nil, hash, payload)); err != nil {
		log.Debug().Uint32("hash", hash).Err(err).Msg("quic send unreliable failed")
	}
}

func (im *Impl) SendData(addr transport.NetAddress, data []byte) {
	if err := transport.SendDatagram(addr, data); err != nil {
		log.Warn().Err(err).Msg("quic send data failed")
		return
	}
	transport.CountFrame(_name, "out", transport.FrameOutOfBand)
}

func (im *Impl) Flush() {
	if s := im.current(); s != nil {
		if err := im.drainOutgoing(s); err != nil {
			log.Warn().Err(err).Msg("quic flush failed")
		}
	}
}

func (im *Impl) Reset() {
	im.mu.Lock()
	im.resetLocked()
	im.mu.Unlock()
}

// resetLocked drops the session and invalidates any dial in progress.
func (im *Impl) resetLocked() {
	im.dialGen++
	if im.sess == nil {
		return
	}
	im.sess.down.Store(true)
	im.sess.cancel()
	_ = im.sess.conn.CloseWithError(codeReset, "reset")
	im.sess = nil
}

func (im *Impl) IsDisconnected() bool {
	return im.current() == nil
}

func (im *Impl) GetPing() int32 { return im.rtt.RTT() }

func (im *Impl) GetVariance() int32 { return im.rtt.Variance() }

// RunFrame does nothing; quic-go drives its own timers.
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
