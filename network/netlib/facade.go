package netlib

import (
	"time"

	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/metrics"
	"github.com/linchenxuan/netclient/network/command"
	"github.com/linchenxuan/netclient/network/routing"
	"github.com/linchenxuan/netclient/network/transport"
	"github.com/linchenxuan/netclient/network/wire"
)

// SendReliableCommand hashes name and hands the command to the transport.
// Without a transport it does nothing.
func (l *NetLibrary) SendReliableCommand(name string, payload []byte) {
	if l.impl == nil {
		return
	}
	metrics.IncrCounterWithDimGroup(metrics.NameReliableSendTotal, metrics.GroupNetLib, 1,
		metrics.Dimension{metrics.DimCmd: name})
	l.impl.SendReliableCommand(command.Hash(name), payload)
}

// SendUnreliableCommand is SendReliableCommand without delivery guarantees.
func (l *NetLibrary) SendUnreliableCommand(name string, payload []byte) {
	if l.impl == nil {
		return
	}
	metrics.IncrCounterWithDimGroup(metrics.NameUnreliableSendTotal, metrics.GroupNetLib, 1,
		metrics.Dimension{metrics.DimCmd: name})
	l.impl.SendUnreliableCommand(command.Hash(name), payload)
}

// SendNetEvent sends a script event. target is a peer index,
// wire.TargetBroadcast or wire.TargetServer.
func (l *NetLibrary) SendNetEvent(name string, data []byte, target int) error {
	cmd, payload, err := wire.EncodeNetEvent(name, data, target)
	if err != nil {
		return err
	}
	l.SendReliableCommand(cmd, payload)
	return nil
}

// SendOutOfBand sends a connectionless datagram to addr. Text beyond the
// datagram limit is cut off; the cut is logged and the rest is sent anyway.
func (l *NetLibrary) SendOutOfBand(addr transport.NetAddress, format string, args ...any) {
	if l.impl == nil {
		return
	}
	data, truncated := wire.FormatOutOfBand(format, args...)
	if truncated {
		log.Warn().Str("addr", addr.String()).Int("len", len(data)).Msg("out of band message truncated")
	}
	l.impl.SendData(addr, data)
}

// GetPing returns the transport's round trip time in milliseconds, -1 if
// unknown.
func (l *NetLibrary) GetPing() int32 {
	if l.impl == nil {
		return -1
	}
	return l.impl.GetPing()
}

// GetVariance returns the round trip variance in milliseconds, -1 if unknown.
func (l *NetLibrary) GetVariance() int32 {
	if l.impl == nil {
		return -1
	}
	return l.impl.GetVariance()
}

// RoutePacket queues a packet for the transport to send to netID.
func (l *NetLibrary) RoutePacket(payload []byte, netID uint16) {
	l.outgoing.Enqueue(netID, payload)
}

// GetOutgoingPacket is polled by the transport.
func (l *NetLibrary) GetOutgoingPacket() (routing.Packet, bool) {
	return l.outgoing.TryDequeue()
}

// EnqueueRoutedPacket is called by the transport for every routed packet.
func (l *NetLibrary) EnqueueRoutedPacket(netID uint16, payload []byte) {
	l.incoming.Enqueue(netID, payload)
}

// WaitForRoutedPacket blocks up to timeout for a routed packet.
func (l *NetLibrary) WaitForRoutedPacket(timeout time.Duration) bool {
	return l.incoming.Wait(timeout)
}

// DequeueRoutedPacket pops the oldest routed packet.
func (l *NetLibrary) DequeueRoutedPacket() (netID uint16, payload []byte, ok bool) {
	p, ok := l.incoming.Dequeue()
	return p.PeerID, p.Payload, ok
}

// SetMetricSink replaces the route delay sink. nil disables reporting.
func (l *NetLibrary) SetMetricSink(sink MetricSink) {
	l.incoming.SetSink(sink)
}

// GetCurrentServer returns the server being connected to, zero when none.
func (l *NetLibrary) GetCurrentServer() transport.NetAddress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.server
}

// GetCurrentRootURL returns the URL of the last ConnectToServer.
func (l *NetLibrary) GetCurrentRootURL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rootURL
}

// SetHost records the session host announced by the server.
func (l *NetLibrary) SetHost(netID uint16, base uint32) {
	l.mu.Lock()
	l.hostNetID = netID
	l.hostBase = base
	l.mu.Unlock()
}

// SetBase records the server base. It is independent of the host base.
func (l *NetLibrary) SetBase(base uint32) {
	l.mu.Lock()
	l.serverBase = base
	l.mu.Unlock()
}

func (l *NetLibrary) GetServerBase() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serverBase
}

func (l *NetLibrary) GetHostNetID() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hostNetID
}

func (l *NetLibrary) GetHostBase() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hostBase
}

func (l *NetLibrary) GetServerNetID() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serverNetID
}

func (l *NetLibrary) GetServerSlotID() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slotID
}

// GetServerTime returns the server clock sent with the connect ack.
func (l *NetLibrary) GetServerTime() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serverTime
}

func (l *NetLibrary) SetPlayerName(name string) {
	l.mu.Lock()
	l.playerName = name
	l.mu.Unlock()
}

func (l *NetLibrary) GetPlayerName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.playerName
}

// SetRichError stores the metadata of the last connection error.
func (l *NetLibrary) SetRichError(data string) {
	l.mu.Lock()
	l.richError = data
	l.mu.Unlock()
}

func (l *NetLibrary) GetRichError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.richError
}

// SetCardResponseHandler sets the receiver of deferral card answers.
func (l *NetLibrary) SetCardResponseHandler(h func(data, token string)) {
	l.mu.Lock()
	l.cardHandler = h
	l.mu.Unlock()
}

// SubmitCardResponse forwards a deferral card answer. It reports whether a
// handler was set.
func (l *NetLibrary) SubmitCardResponse(dataJSON, token string) bool {
	l.mu.Lock()
	h := l.cardHandler
	l.mu.Unlock()
	if h == nil {
		return false
	}
	h(dataJSON, token)
	return true
}
