package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/linchenxuan/netclient/log"
)

// Demux hands one inbound frame to base. ConnectAck, Reliable, Unreliable,
// Route and Pong frames are consumed here; a Disconnect frame yields an error
// wrapping ErrPeerDisconnected. Ping frames are left to the caller, which owns
// the write side.
func Demux(name string, base Inherit, rtt *RTTEstimator, kind FrameKind, body []byte) error {
	CountFrame(name, "in", kind)
	base.AddReceiveTick()

	switch kind {
	case FrameConnectAck:
		info, err := UnmarshalConnectAck(body)
		if err != nil {
			return fmt.Errorf("decode connect ack: %w", err)
		}
		base.HandleConnected(info)
	case FrameReliable, FrameUnreliable:
		hash, payload, err := ParseCommand(body)
		if err != nil {
			return err
		}
		base.HandleReliableCommand(hash, payload)
	case FrameRoute:
		netID, payload, err := ParseRoute(body)
		if err != nil {
			return err
		}
		base.EnqueueRoutedPacket(netID, payload)
	case FramePong:
		ts, err := UnmarshalPing(body)
		if err != nil {
			return fmt.Errorf("decode pong: %w", err)
		}
		rtt.Update(time.Since(time.Unix(0, ts)))
	case FrameDisconnect:
		reason, _ := UnmarshalDisconnect(body)
		return fmt.Errorf("%w: %s", ErrPeerDisconnected, reason)
	case FramePing:
	default:
		log.Debug().Str("transport", name).Uint8("kind", uint8(kind)).Int("len", len(body)).Msg("unknown frame")
	}
	return nil
}

// SendDatagram writes data to addr from a throwaway UDP socket.
func SendDatagram(addr NetAddress, data []byte) error {
	if !addr.IsValid() {
		return fmt.Errorf("send datagram: invalid address")
	}
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr.AddrPort()))
	if err != nil {
		return fmt.Errorf("send datagram to %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send datagram to %s: %w", addr, err)
	}
	return nil
}
