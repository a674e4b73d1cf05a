// Package metrics collects client-side network metrics and forwards them to
// pluggable reporters.
package metrics

// Policy defines how values of the same metric combine within a reporting window.
type Policy int

const (
	Policy_None      Policy = iota // reporter default
	Policy_Set                     // last value wins
	Policy_Sum                     // values accumulate
	Policy_Avg                     // mean of all values
	Policy_Max                     // largest value
	Policy_Min                     // smallest value
	Policy_Stopwatch               // mean duration in milliseconds
)

// Value is a metric sample.
type Value float64

// Dimension labels a metric sample.
type Dimension map[string]string

// Group related constants, prefixed with Group.
const (
	// GroupNetLib covers the session manager and its queues.
	GroupNetLib = "netlib"
	// GroupTransport covers the transport implementations.
	GroupTransport = "transport"
)

// Metric names. The comment tags name the group and dimensions the metric is
// reported with.
const (
	// NameRouteDelayAvgMS: average time a routed packet waited in the incoming queue.
	// group:netlib
	NameRouteDelayAvgMS = "route_delay_avg_ms"

	// NameRouteDelayMaxMS: largest routed packet queueing delay in the window.
	// group:netlib
	NameRouteDelayMaxMS = "route_delay_max_ms"

	// NameReliableSendTotal: reliable commands handed to the transport.
	// group:netlib dimension:cmd
	NameReliableSendTotal = "reliable_send_total"

	// NameUnreliableSendTotal: unreliable commands handed to the transport.
	// group:netlib dimension:cmd
	NameUnreliableSendTotal = "unreliable_send_total"

	// NameReliableRecvTotal: reliable commands received, dispatched or not.
	// group:netlib
	NameReliableRecvTotal = "reliable_recv_total"

	// NameStaleWorkItem: main thread commands dropped because the peer changed.
	// group:netlib
	NameStaleWorkItem = "stale_workitem_total"

	// NameReconnectAttemptTotal: in-game reconnect attempts.
	// group:netlib dimension:result
	NameReconnectAttemptTotal = "reconnect_attempt_total"

	// NameConnectionState: current connection state as its numeric value.
	// group:netlib
	NameConnectionState = "connection_state"

	// NameHandshakeDurationMS: time spent in the HTTP handshake.
	// group:netlib dimension:result
	NameHandshakeDurationMS = "handshake_duration_ms"

	// NameTransportFrameTotal: frames written or read by a transport.
	// group:transport dimension:transport,dir,kind
	NameTransportFrameTotal = "transport_frame_total"

	// NameTransportRTTMS: smoothed round trip time.
	// group:transport dimension:transport
	NameTransportRTTMS = "transport_rtt_ms"

	// NamePoolCreateTotal: objects allocated because a pool was empty.
	// group:transport dimension:poolname
	NamePoolCreateTotal = "pool_create_total"
)

// Dimension keys, prefixed with Dim.
const (
	DimCmd       = "cmd"
	DimResult    = "result"
	DimTransport = "transport"
	DimDir       = "dir"
	DimKind      = "kind"
	DimPoolName  = "poolname"
)
