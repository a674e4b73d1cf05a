// Package netlib is the client session manager. NetLibrary owns the
// connection state machine, the routed packet queues and the reliable command
// table, and drives a transport.Impl supplied by a transport.Provider.
//
// Two kinds of goroutine touch a NetLibrary: the transport's network
// goroutines, which only use the transport.Inherit methods, and the game's
// main goroutine, which calls RunFrame, RunMainFrame and ProcessPreGameTick
// once per frame.
package netlib

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/linchenxuan/netclient/event"
	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/metrics"
	"github.com/linchenxuan/netclient/network/command"
	"github.com/linchenxuan/netclient/network/handshake"
	"github.com/linchenxuan/netclient/network/routing"
	"github.com/linchenxuan/netclient/network/transport"
	"github.com/linchenxuan/netclient/network/wire"
	"github.com/linchenxuan/netclient/runtime"
)

// Built-in command names.
const (
	CmdHost = "msgIHost"
	CmdQuit = "msgIQuit"
)

var (
	// ErrNotIdle is returned by ConnectToServer outside the Idle state.
	ErrNotIdle = errors.New("netlib: not idle")
	// ErrNoHandshaker is returned by ConnectToServer when no handshaker is configured.
	ErrNoHandshaker = errors.New("netlib: no handshaker")
)

// Options are the collaborators of a NetLibrary. Only Config is required.
type Options struct {
	Config *Config
	// Provider builds the transport. Without it sends are dropped and
	// ping queries return -1.
	Provider   transport.Provider
	Handshaker handshake.Handshaker
	// Publisher receives the library's events. A private one is made when nil.
	Publisher *event.Publisher
	Identity  *runtime.Identity
	// MetricSink receives route delays. Defaults to the metrics package gauges.
	MetricSink MetricSink
}

// NetLibrary is the client session manager.
type NetLibrary struct {
	cfg        *Config
	handshaker handshake.Handshaker
	pub        *event.Publisher
	identity   *runtime.Identity
	impl       transport.Impl

	state    atomic.Int32
	peer     atomic.Uint64
	timedOut atomic.Bool

	incoming *routing.IncomingQueue
	outgoing *routing.OutgoingQueue
	commands *command.Table

	// disconnectMu serializes Disconnect.
	disconnectMu sync.Mutex
	// aliveMu is held by RunFrame and by Freeze. It is never taken while a
	// queue lock is held.
	aliveMu sync.Mutex

	mu          sync.Mutex
	server      transport.NetAddress
	rootURL     string
	connectReq  transport.ConnectRequest
	task        *ConnectTask
	hostNetID   uint16
	hostBase    uint32
	serverBase  uint32
	serverNetID uint16
	slotID      int32
	serverTime  uint64
	playerName  string
	richError   string
	cardHandler func(data, token string)

	reconnectAttempts atomic.Int32
	lastReconnect     atomic.Int64
	reconnectLimiter  *rate.Limiter
	reconnecting      atomic.Bool

	frameTicks tickRing
	recvTicks  tickRing
	sendTicks  tickRing

	now func() time.Time
}

var _ transport.Inherit = (*NetLibrary)(nil)

// Create builds a NetLibrary, registers the built-in host announcement
// handler and publishes TopicNetLibraryCreated.
func Create(opts Options) (*NetLibrary, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid netlib config: %w", err)
	}

	l := &NetLibrary{
		cfg:        cfg,
		handshaker: opts.Handshaker,
		pub:        opts.Publisher,
		identity:   opts.Identity,
		outgoing:   routing.NewOutgoingQueue(),
		playerName: cfg.PlayerName,
		now:        time.Now,
		reconnectLimiter: rate.NewLimiter(
			rate.Every(time.Duration(cfg.ReconnectIntervalMs)*time.Millisecond), cfg.ReconnectBurst),
	}
	if l.pub == nil {
		l.pub = event.NewPublisher()
	}
	if l.identity == nil {
		l.identity = runtime.NewIdentity()
	}
	var sink MetricSink = metricsSink{}
	if opts.MetricSink != nil {
		sink = opts.MetricSink
	}
	l.incoming = routing.NewIncomingQueue(sink)
	l.commands = command.NewTable(l.peer.Load)
	l.pub.EnsureTopics(time.Duration(cfg.EventTimeoutMs)*time.Millisecond, _topics...)

	if opts.Provider != nil {
		impl, err := opts.Provider.New(l)
		if err != nil {
			return nil, fmt.Errorf("create %s transport: %w", opts.Provider.Name(), err)
		}
		l.impl = impl
	}

	l.commands.Register(CmdHost, l.handleHostAnnouncement, false)

	log.Info().Uint64("guid", l.GetGUID()).Bool("transport", l.impl != nil).Msg("net library created")
	l.publish(TopicNetLibraryCreated, l)
	return l, nil
}

func (l *NetLibrary) publish(topic string, payload any) {
	if err := l.pub.Publish(topic, payload); err != nil {
		log.Error().Str("topic", topic).Err(err).Msg("publish failed")
	}
}

// Publisher returns the publisher events are delivered through.
func (l *NetLibrary) Publisher() *event.Publisher { return l.pub }

// handleHostAnnouncement decodes msgIHost: u16 host net id, u32 host base.
func (l *NetLibrary) handleHostAnnouncement(payload []byte) {
	buf := wire.NewBuffer(payload)
	netID, err := buf.ReadUint16()
	if err != nil {
		log.Warn().Int("len", len(payload)).Msg("short msgIHost")
		return
	}
	base, err := buf.ReadUint32()
	if err != nil {
		log.Warn().Int("len", len(payload)).Msg("short msgIHost")
		return
	}
	l.SetHost(netID, base)
}

// GetConnectionState returns the current state.
func (l *NetLibrary) GetConnectionState() transport.ConnectionState {
	return transport.ConnectionState(l.state.Load())
}

// SetConnectionState forces the state and publishes TopicStateChanged when it
// changes.
func (l *NetLibrary) SetConnectionState(to transport.ConnectionState) {
	from := transport.ConnectionState(l.state.Swap(int32(to)))
	l.stateChanged(from, to)
}

// transition moves from -> to only if the state is still from.
func (l *NetLibrary) transition(from, to transport.ConnectionState) bool {
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	l.stateChanged(from, to)
	return true
}

func (l *NetLibrary) stateChanged(from, to transport.ConnectionState) {
	if from == to {
		return
	}
	metrics.UpdateGaugeWithGroup(metrics.NameConnectionState, metrics.GroupNetLib, metrics.Value(to))
	log.Info().Stringer("from", from).Stringer("to", to).Msg("connection state changed")
	l.publish(TopicStateChanged, StateChange{From: from, To: to})
}

// BeginDownloads moves Connected to Downloading.
func (l *NetLibrary) BeginDownloads() bool {
	return l.transition(transport.Connected, transport.Downloading)
}

// DownloadsComplete moves Downloading to DownloadComplete. It does nothing in
// any other state.
func (l *NetLibrary) DownloadsComplete() bool {
	return l.transition(transport.Downloading, transport.DownloadComplete)
}

// BeginFetching moves DownloadComplete to Fetching.
func (l *NetLibrary) BeginFetching() bool {
	return l.transition(transport.DownloadComplete, transport.Fetching)
}

// MarkActive moves Fetching to Active.
func (l *NetLibrary) MarkActive() bool {
	return l.transition(transport.Fetching, transport.Active)
}

// ProcessPreGameTick reports whether the game may run its simulation. In the
// transitional states it runs one frame instead and returns false.
func (l *NetLibrary) ProcessPreGameTick() bool {
	switch l.GetConnectionState() {
	case transport.Active, transport.Connected, transport.Idle:
		return true
	}
	l.RunFrame()
	return false
}

// IsPendingInGameReconnect reports whether the game is running but the
// transport lost the server.
func (l *NetLibrary) IsPendingInGameReconnect() bool {
	return l.impl != nil && l.GetConnectionState() == transport.Active && l.impl.IsDisconnected()
}

// Freeze stops RunFrame until Unfreeze. It waits for a running frame to end.
// Calls must be paired and not nested.
func (l *NetLibrary) Freeze() {
	l.aliveMu.Lock()
}

func (l *NetLibrary) Unfreeze() {
	l.aliveMu.Unlock()
}

// RunFrame advances the transport and the timeout and reconnect logic. It
// does nothing while the library is frozen.
func (l *NetLibrary) RunFrame() {
	if !l.aliveMu.TryLock() {
		return
	}
	defer l.aliveMu.Unlock()

	now := l.now()
	l.frameTicks.add(now)
	if l.impl != nil {
		l.impl.RunFrame()
	}
	l.checkTimeout(now)
	l.maybeReconnect(now)
}

func (l *NetLibrary) checkTimeout(now time.Time) {
	switch l.GetConnectionState() {
	case transport.Idle, transport.Initing:
		return
	}
	last := l.recvTicks.last()
	if last.IsZero() || now.Sub(last) <= l.cfg.timeout() {
		return
	}
	if l.timedOut.Swap(true) {
		return
	}
	server := l.GetCurrentServer()
	log.Warn().Str("server", server.String()).Dur("silence", now.Sub(last)).Msg("network timed out")
	l.publish(TopicNetworkTimedOut, server)
}

// maybeReconnect redials the current server while an in-game reconnect is
// pending, spaced by the reconnect limiter and capped by MaxReconnectAttempts.
// At most one dial is in flight; the cap is checked only between dials.
func (l *NetLibrary) maybeReconnect(now time.Time) {
	if l.reconnecting.Load() || !l.IsPendingInGameReconnect() {
		return
	}
	if int(l.reconnectAttempts.Load()) >= l.cfg.MaxReconnectAttempts {
		metrics.IncrCounterWithDimGroup(metrics.NameReconnectAttemptTotal, metrics.GroupNetLib, 1,
			metrics.Dimension{metrics.DimResult: "exhausted"})
		l.OnConnectionError("Failed to reconnect to server", "{}")
		l.Disconnect("Reconnect attempts exhausted")
		return
	}
	if !l.reconnectLimiter.AllowN(now, 1) || !l.reconnecting.CompareAndSwap(false, true) {
		return
	}

	attempt := l.reconnectAttempts.Add(1)
	l.lastReconnect.Store(now.UnixNano())

	l.mu.Lock()
	server, req := l.server, l.connectReq
	l.mu.Unlock()

	log.Info().Str("server", server.String()).Int32("attempt", attempt).Msg("reconnecting")
	// a dial can last the transport's whole connect timeout
	go l.redial(server, req, attempt)
}

func (l *NetLibrary) redial(server transport.NetAddress, req transport.ConnectRequest, attempt int32) {
	defer l.reconnecting.Store(false)

	result := "ok"
	if err := l.impl.CreateConnectionTo(server, req); err != nil {
		result = "fail"
		log.Warn().Str("server", server.String()).Int32("attempt", attempt).Err(err).Msg("reconnect failed")
	}
	metrics.IncrCounterWithDimGroup(metrics.NameReconnectAttemptTotal, metrics.GroupNetLib, 1,
		metrics.Dimension{metrics.DimResult: result})
}

// IsReconnecting reports whether an in-game reconnect dial is in flight.
func (l *NetLibrary) IsReconnecting() bool {
	return l.reconnecting.Load()
}

// GetReconnectAttempts returns the attempts made since the last successful
// connection.
func (l *NetLibrary) GetReconnectAttempts() int {
	return int(l.reconnectAttempts.Load())
}

// IsTimedOut reports whether the current session went silent.
func (l *NetLibrary) IsTimedOut() bool {
	return l.timedOut.Load()
}

// RunMainFrame runs the main-thread-only handlers queued since the last call.
func (l *NetLibrary) RunMainFrame() int {
	return l.commands.RunMainFrame()
}

// RegisterReliableHandler adds a handler for a reliable command.
func (l *NetLibrary) RegisterReliableHandler(name string, h command.Handler, mainThreadOnly bool) {
	l.commands.Register(name, h, mainThreadOnly)
}

// HandleConnected records the server's acknowledgement. It is ignored unless
// a connection is in progress or established.
func (l *NetLibrary) HandleConnected(info transport.ConnectedInfo) {
	st := l.GetConnectionState()
	if st == transport.Idle || st == transport.Initing {
		log.Debug().Stringer("state", st).Msg("ignore connect ack")
		return
	}

	l.mu.Lock()
	l.serverNetID = info.ServerNetID
	l.hostNetID = info.HostNetID
	l.hostBase = info.HostBase
	l.slotID = info.SlotID
	l.serverTime = info.ServerTime
	server, rootURL := l.server, l.rootURL
	l.mu.Unlock()

	l.peer.Add(1)
	l.reconnectAttempts.Store(0)
	l.recvTicks.add(l.now())
	l.timedOut.Store(false)

	switch st {
	case transport.Connecting, transport.Fetching:
		l.transition(st, transport.Connected)
	}

	log.Info().Str("server", server.String()).Uint16("serverNetID", info.ServerNetID).
		Uint16("hostNetID", info.HostNetID).Int32("slot", info.SlotID).Msg("connected")
	l.publish(TopicConnectOK, ConnectOK{Server: server, RootURL: rootURL})
}

// HandleReliableCommand dispatches an inbound reliable command.
func (l *NetLibrary) HandleReliableCommand(hash uint32, payload []byte) {
	metrics.IncrCounterWithGroup(metrics.NameReliableRecvTotal, metrics.GroupNetLib, 1)
	l.commands.Dispatch(hash, payload)
}

// OnConnectionError publishes TopicConnectionError. A session that never
// became Active is torn down; an Active one is left for in-game reconnect.
func (l *NetLibrary) OnConnectionError(reason string, metadata string) {
	if metadata == "" {
		metadata = "{}"
	}
	l.SetRichError(metadata)
	log.Warn().Str("reason", reason).Str("meta", metadata).Msg("connection error")
	l.publish(TopicConnectionError, ConnectionError{Reason: reason, Metadata: metadata})

	switch l.GetConnectionState() {
	case transport.Connecting, transport.Connected, transport.Downloading,
		transport.DownloadComplete, transport.Fetching:
		l.Disconnect(reason)
	}
}

func errorMetadata(fields map[string]string) string {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// AddReceiveTick records inbound traffic.
func (l *NetLibrary) AddReceiveTick() { l.recvTicks.add(l.now()) }

// AddSendTick records outbound traffic.
func (l *NetLibrary) AddSendTick() { l.sendTicks.add(l.now()) }

// TimeSinceLastReceive returns the time since the last inbound traffic, or
// zero if none was seen.
func (l *NetLibrary) TimeSinceLastReceive() time.Duration {
	last := l.recvTicks.last()
	if last.IsZero() {
		return 0
	}
	return l.now().Sub(last)
}

// FrameTicks returns the start times of the last frames, oldest first.
func (l *NetLibrary) FrameTicks() []time.Time { return l.frameTicks.snapshot() }

// ReceiveTicks returns the last inbound traffic times, oldest first.
func (l *NetLibrary) ReceiveTicks() []time.Time { return l.recvTicks.snapshot() }

// SendTicks returns the last outbound traffic times, oldest first.
func (l *NetLibrary) SendTicks() []time.Time { return l.sendTicks.snapshot() }

// GetGUID returns the GUID presented to servers.
func (l *NetLibrary) GetGUID() uint64 { return l.identity.GUID() }

// Close disconnects and releases the transport.
func (l *NetLibrary) Close() error {
	l.Disconnect("Shutting down")
	if l.impl != nil {
		return l.impl.Close()
	}
	return nil
}
