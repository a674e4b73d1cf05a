// Package transport defines the contract between the session manager and the
// transport implementations that carry its traffic. An implementation owns the
// network goroutines; it talks back to the session manager only through the
// Inherit interface and never lets an error escape as a panic.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/linchenxuan/netclient/network/routing"
)

var (
	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("transport: frame too large")
	// ErrNotConnected is returned by sends issued before CreateConnectionTo.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrConnectTimeout is reported when the server does not acknowledge the
	// connect frame in time.
	ErrConnectTimeout = errors.New("transport: connect timeout")
	// ErrPeerDisconnected is reported when the server sends a disconnect frame.
	ErrPeerDisconnected = errors.New("transport: peer disconnected")
)

// ConnectionState is the lifecycle state of the session.
type ConnectionState int32

const (
	Idle ConnectionState = iota
	Initing
	Connecting
	Connected
	Active
	Fetching
	Downloading
	DownloadComplete
)

var _stateNames = [...]string{
	Idle:             "Idle",
	Initing:          "Initing",
	Connecting:       "Connecting",
	Connected:        "Connected",
	Active:           "Active",
	Fetching:         "Fetching",
	Downloading:      "Downloading",
	DownloadComplete: "DownloadComplete",
}

func (s ConnectionState) String() string {
	if s >= 0 && int(s) < len(_stateNames) {
		return _stateNames[s]
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

// NetAddress identifies a server endpoint. The zero value means no server.
type NetAddress struct {
	ap netip.AddrPort
}

// NewNetAddress wraps ap.
func NewNetAddress(ap netip.AddrPort) NetAddress {
	return NetAddress{ap: ap}
}

// ParseNetAddress parses a literal "ip:port".
func ParseNetAddress(s string) (NetAddress, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return NetAddress{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return NetAddress{ap: ap}, nil
}

// ResolveNetAddress resolves "host:port", looking the host up when it is not
// an IP literal.
func ResolveNetAddress(ctx context.Context, hostport string) (NetAddress, error) {
	if a, err := ParseNetAddress(hostport); err == nil {
		return a, nil
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return NetAddress{}, fmt.Errorf("resolve %q: %w", hostport, err)
	}
	pn, err := net.DefaultResolver.LookupPort(ctx, "udp", port)
	if err != nil {
		return NetAddress{}, fmt.Errorf("resolve port %q: %w", port, err)
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return NetAddress{}, fmt.Errorf("resolve host %q: %w", host, err)
	}
	if len(ips) == 0 {
		return NetAddress{}, fmt.Errorf("resolve host %q: no addresses", host)
	}
	return NetAddress{ap: netip.AddrPortFrom(ips[0].Unmap(), uint16(pn))}, nil
}

// IsValid reports whether a names a server.
func (a NetAddress) IsValid() bool { return a.ap.IsValid() }

func (a NetAddress) AddrPort() netip.AddrPort { return a.ap }

func (a NetAddress) String() string {
	if !a.ap.IsValid() {
		return ""
	}
	return a.ap.String()
}

// ConnectRequest is what the client presents in its connect frame.
type ConnectRequest struct {
	Token    string
	GUID     uint64
	Protocol uint32
	Name     string
	Session  string
}

// ConnectedInfo is the server's acknowledgement of a connect frame.
type ConnectedInfo struct {
	ServerNetID uint16
	HostNetID   uint16
	HostBase    uint32
	SlotID      int32
	ServerTime  uint64
}

// Impl is a transport implementation bound to one session manager.
type Impl interface {
	// SendReliableCommand queues a command for ordered, guaranteed delivery.
	SendReliableCommand(hash uint32, payload []byte)
	// SendUnreliableCommand queues a command that may be dropped.
	SendUnreliableCommand(hash uint32, payload []byte)
	// SendData sends a raw datagram to addr outside the session.
	SendData(addr NetAddress, data []byte)
	// Flush pushes everything queued so far onto the wire.
	Flush()
	// Reset drops the session and its goroutines. The impl can connect again.
	Reset()
	// IsDisconnected reports whether the peer is gone or was never reached.
	IsDisconnected() bool
	// GetPing returns the smoothed round trip time in milliseconds, -1 if unknown.
	GetPing() int32
	// GetVariance returns the round trip variance in milliseconds, -1 if unknown.
	GetVariance() int32

	// CreateConnectionTo starts connecting to addr. The outcome is reported
	// through Inherit.HandleConnected or Inherit.OnConnectionError.
	CreateConnectionTo(addr NetAddress, req ConnectRequest) error
	// RunFrame performs per-frame upkeep on the caller's goroutine.
	RunFrame()
	Close() error
}

// Inherit is the part of the session manager a transport calls back into.
// Every method is safe to call from transport goroutines.
type Inherit interface {
	HandleConnected(info ConnectedInfo)
	HandleReliableCommand(hash uint32, payload []byte)
	EnqueueRoutedPacket(netID uint16, payload []byte)
	GetOutgoingPacket() (routing.Packet, bool)
	AddReceiveTick()
	AddSendTick()
	OnConnectionError(reason string, metadata string)
	GetConnectionState() ConnectionState
	GetGUID() uint64
}

// Provider builds Impls. Transport plugins implement it.
type Provider interface {
	Name() string
	New(base Inherit) (Impl, error)
}
