package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/linchenxuan/netclient/metrics"
	"github.com/linchenxuan/netclient/utils/pool"
	"google.golang.org/protobuf/encoding/protowire"
)

// FrameKind is the first byte of every frame.
type FrameKind uint8

const (
	FrameConnect FrameKind = iota + 1
	FrameConnectAck
	FrameReliable
	FrameUnreliable
	FrameRoute
	FramePing
	FramePong
	FrameDisconnect
	FrameOutOfBand
)

var _frameNames = map[FrameKind]string{
	FrameConnect:    "connect",
	FrameConnectAck: "connect_ack",
	FrameReliable:   "reliable",
	FrameUnreliable: "unreliable",
	FrameRoute:      "route",
	FramePing:       "ping",
	FramePong:       "pong",
	FrameDisconnect: "disconnect",
	FrameOutOfBand:  "oob",
}

func (k FrameKind) String() string {
	if n, ok := _frameNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

const (
	// MaxFrameSize bounds kind byte plus body.
	MaxFrameSize = 1 << 20
	// FrameHeaderSize is the length prefix of stream frames.
	FrameHeaderSize = 4
)

var _frameBufPool = pool.New("framebufpool", func() *[]byte {
	b := make([]byte, 0, 1024)
	return &b
}, func(b *[]byte) *[]byte {
	*b = (*b)[:0]
	return b
})

// WriteFrame writes one length-prefixed frame to w with a single Write call.
func WriteFrame(w io.Writer, kind FrameKind, body []byte) error {
	if len(body)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}
	bp := _frameBufPool.Get()
	defer _frameBufPool.Put(bp)

	b := binary.LittleEndian.AppendUint32(*bp, uint32(len(body)+1))
	b = append(b, byte(kind))
	b = append(b, body...)
	*bp = b

	_, err := w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame. The returned body is owned by the
// caller.
func ReadFrame(r io.Reader) (FrameKind, []byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("transport: empty frame")
	}
	if n > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return FrameKind(buf[0]), buf[1:], nil
}

// EncodeDatagram builds an unprefixed frame for datagram transports.
func EncodeDatagram(kind FrameKind, body []byte) ([]byte, error) {
	if len(body)+1 > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	b := make([]byte, 0, len(body)+1)
	b = append(b, byte(kind))
	return append(b, body...), nil
}

// DecodeDatagram splits a datagram built by EncodeDatagram.
func DecodeDatagram(d []byte) (FrameKind, []byte, error) {
	if len(d) == 0 {
		return 0, nil, fmt.Errorf("transport: empty datagram")
	}
	return FrameKind(d[0]), d[1:], nil
}

// CountFrame reports one frame moving in dir ("in" or "out") on the named transport.
func CountFrame(name, dir string, kind FrameKind) {
	metrics.IncrCounterWithDimGroup(metrics.NameTransportFrameTotal, metrics.GroupTransport, 1, metrics.Dimension{
		metrics.DimTransport: name,
		metrics.DimDir:       dir,
		metrics.DimKind:      kind.String(),
	})
}

// AppendCommand encodes a Reliable or Unreliable body.
func AppendCommand(b []byte, hash uint32, payload []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, hash)
	return append(b, payload...)
}

func ParseCommand(body []byte) (uint32, []byte, error) {
	if len(body) < 4 {
		return 0, nil, fmt.Errorf("transport: command body of %d bytes", len(body))
	}
	return binary.LittleEndian.Uint32(body), body[4:], nil
}

// AppendRoute encodes a Route body.
func AppendRoute(b []byte, netID uint16, payload []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, netID)
	return append(b, payload...)
}

func ParseRoute(body []byte) (uint16, []byte, error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("transport: route body of %d bytes", len(body))
	}
	return binary.LittleEndian.Uint16(body), body[2:], nil
}

// Field numbers of the protowire bodies.
const (
	fieldConnectToken    protowire.Number = 1
	fieldConnectGUID     protowire.Number = 2
	fieldConnectProtocol protowire.Number = 3
	fieldConnectName     protowire.Number = 4
	fieldConnectSession  protowire.Number = 5

	fieldAckServerNetID protowire.Number = 1
	fieldAckHostNetID   protowire.Number = 2
	fieldAckHostBase    protowire.Number = 3
	fieldAckSlotID      protowire.Number = 4
	fieldAckServerTime  protowire.Number = 5

	fieldPingTimestamp protowire.Number = 1

	fieldDisconnectReason protowire.Number = 1
)

func appendBytesField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// walkFields calls fn for every field of a protowire message. Unknown fields
// are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		used, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
		}
		if used < 0 {
			return protowire.ParseError(used)
		}
		b = b[used:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

// MarshalConnect encodes the Connect body.
func MarshalConnect(req ConnectRequest) []byte {
	var b []byte
	b = appendBytesField(b, fieldConnectToken, req.Token)
	b = appendVarintField(b, fieldConnectGUID, req.GUID)
	b = appendVarintField(b, fieldConnectProtocol, uint64(req.Protocol))
	b = appendBytesField(b, fieldConnectName, req.Name)
	b = appendBytesField(b, fieldConnectSession, req.Session)
	return b
}

func UnmarshalConnect(b []byte) (ConnectRequest, error) {
	var req ConnectRequest
	var proto uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldConnectToken:
			return consumeString(typ, v, &req.Token)
		case fieldConnectGUID:
			return consumeVarint(typ, v, &req.GUID)
		case fieldConnectProtocol:
			return consumeVarint(typ, v, &proto)
		case fieldConnectName:
			return consumeString(typ, v, &req.Name)
		case fieldConnectSession:
			return consumeString(typ, v, &req.Session)
		}
		return 0, nil
	})
	req.Protocol = uint32(proto)
	return req, err
}

// MarshalConnectAck encodes the ConnectAck body.
func MarshalConnectAck(info ConnectedInfo) []byte {
	var b []byte
	b = appendVarintField(b, fieldAckServerNetID, uint64(info.ServerNetID))
	b = appendVarintField(b, fieldAckHostNetID, uint64(info.HostNetID))
	b = appendVarintField(b, fieldAckHostBase, uint64(info.HostBase))
	b = appendVarintField(b, fieldAckSlotID, protowire.EncodeZigZag(int64(info.SlotID)))
	b = appendVarintField(b, fieldAckServerTime, info.ServerTime)
	return b
}

func UnmarshalConnectAck(b []byte) (ConnectedInfo, error) {
	var serverNetID, hostNetID, hostBase, slot, serverTime uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldAckServerNetID:
			return consumeVarint(typ, v, &serverNetID)
		case fieldAckHostNetID:
			return consumeVarint(typ, v, &hostNetID)
		case fieldAckHostBase:
			return consumeVarint(typ, v, &hostBase)
		case fieldAckSlotID:
			return consumeVarint(typ, v, &slot)
		case fieldAckServerTime:
			return consumeVarint(typ, v, &serverTime)
		}
		return 0, nil
	})
	return ConnectedInfo{
		ServerNetID: uint16(serverNetID),
		HostNetID:   uint16(hostNetID),
		HostBase:    uint32(hostBase),
		SlotID:      int32(protowire.DecodeZigZag(slot)),
		ServerTime:  serverTime,
	}, err
}

// MarshalPing encodes a Ping or Pong body carrying unix nanoseconds.
func MarshalPing(ts int64) []byte {
	return appendVarintField(nil, fieldPingTimestamp, uint64(ts))
}

func UnmarshalPing(b []byte) (int64, error) {
	var ts uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == fieldPingTimestamp {
			return consumeVarint(typ, v, &ts)
		}
		return 0, nil
	})
	return int64(ts), err
}

// MarshalDisconnect encodes the Disconnect body.
func MarshalDisconnect(reason string) []byte {
	return appendBytesField(nil, fieldDisconnectReason, reason)
}

func UnmarshalDisconnect(b []byte) (string, error) {
	var reason string
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == fieldDisconnectReason {
			return consumeString(typ, v, &reason)
		}
		return 0, nil
	})
	return reason, err
}
