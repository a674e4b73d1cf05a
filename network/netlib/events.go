package netlib

import "github.com/linchenxuan/netclient/network/transport"

// Event topics published by NetLibrary. Subscribers run synchronously on the
// publishing goroutine, in registration order, and must not block.
const (
	// TopicNetLibraryCreated carries the *NetLibrary.
	TopicNetLibraryCreated = "NetLibraryCreated"
	// TopicConnectOK carries a ConnectOK.
	TopicConnectOK = "ConnectOK"
	// TopicConnectionError carries a ConnectionError.
	TopicConnectionError = "ConnectionError"
	// TopicAttemptDisconnect carries the reason string.
	TopicAttemptDisconnect = "AttemptDisconnect"
	// TopicFinalizeDisconnect carries the transport.NetAddress being left.
	TopicFinalizeDisconnect = "FinalizeDisconnect"
	// TopicStateChanged carries a StateChange.
	TopicStateChanged = "StateChanged"
	// TopicNetworkTimedOut carries the transport.NetAddress that went silent.
	TopicNetworkTimedOut = "NetworkTimedOut"
)

var _topics = []string{
	TopicNetLibraryCreated,
	TopicConnectOK,
	TopicConnectionError,
	TopicAttemptDisconnect,
	TopicFinalizeDisconnect,
	TopicStateChanged,
	TopicNetworkTimedOut,
}

// ConnectOK is published when the server acknowledges the connection.
type ConnectOK struct {
	Server  transport.NetAddress
	RootURL string
}

// ConnectionError is published when connecting fails or the session breaks.
type ConnectionError struct {
	Reason string
	// Metadata is a JSON object, "{}" when there is nothing to add.
	Metadata string
}

// StateChange is published on every connection state change.
type StateChange struct {
	From transport.ConnectionState
	To   transport.ConnectionState
}
