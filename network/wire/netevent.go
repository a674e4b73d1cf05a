package wire

import (
	"errors"
	"fmt"
	"math"
)

// Net event command names.
const (
	NetEventCommand    = "msgNetEvent"
	ServerEventCommand = "msgServerEvent"
)

// Special net event targets.
const (
	// TargetBroadcast addresses every peer; encoded as 0xFFFF.
	TargetBroadcast = -1
	// TargetServer routes the event to the server script runtime. No target index is written.
	TargetServer = -2
)

var errEventName = errors.New("wire: net event name too long")

// NetEvent is a decoded script event.
type NetEvent struct {
	Target int
	Name   string
	Data   []byte
}

// EncodeNetEvent builds the command name and payload of a script event.
//
// Layout: [u16 target, omitted for TargetServer] [u16 len(name)+1] [name NUL] [data...].
func EncodeNetEvent(name string, data []byte, target int) (string, []byte, error) {
	if len(name)+1 > math.MaxUint16 {
		return "", nil, errEventName
	}

	cmd := NetEventCommand
	buf := NewWriteBuffer(len(name) + len(data) + 5)
	switch {
	case target == TargetServer:
		cmd = ServerEventCommand
	case target == TargetBroadcast:
		buf.WriteUint16(math.MaxUint16)
	case target >= 0 && target < math.MaxUint16:
		buf.WriteUint16(uint16(target))
	default:
		return "", nil, fmt.Errorf("wire: invalid net event target %d", target)
	}

	buf.WriteUint16(uint16(len(name) + 1))
	buf.WriteCString(name)
	buf.WriteBytes(data)
	return cmd, buf.Bytes(), nil
}

// ParseNetEvent decodes a payload produced by EncodeNetEvent. hasTarget must be
// false for ServerEventCommand payloads.
func ParseNetEvent(payload []byte, hasTarget bool) (NetEvent, error) {
	var ev NetEvent
	buf := NewBuffer(payload)

	ev.Target = TargetServer
	if hasTarget {
		t, err := buf.ReadUint16()
		if err != nil {
			return ev, err
		}
		if t == math.MaxUint16 {
			ev.Target = TargetBroadcast
		} else {
			ev.Target = int(t)
		}
	}

	nameLen, err := buf.ReadUint16()
	if err != nil {
		return ev, err
	}
	if nameLen == 0 {
		return ev, ErrShortBuffer
	}
	name, err := buf.ReadBytes(int(nameLen))
	if err != nil {
		return ev, err
	}
	ev.Name = string(name[:len(name)-1])
	ev.Data = buf.Remaining()
	return ev, nil
}
