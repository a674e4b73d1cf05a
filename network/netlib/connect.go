package netlib

import (
	"context"
	"errors"
	"fmt"

	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/network/handshake"
	"github.com/linchenxuan/netclient/network/transport"
)

// ConnectToServer starts connecting to the server behind rootURL. The
// handshake runs on its own goroutine bound to ctx; the returned task reports
// its outcome. On success the library moves to Connecting and asks the
// transport to connect; on failure or cancellation it returns to Idle and
// publishes TopicConnectionError.
func (l *NetLibrary) ConnectToServer(ctx context.Context, rootURL string) (*ConnectTask, error) {
	if l.handshaker == nil {
		return nil, ErrNoHandshaker
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := newConnectTask(rootURL, cancel)

	l.mu.Lock()
	if !l.state.CompareAndSwap(int32(transport.Idle), int32(transport.Initing)) {
		l.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: state %s", ErrNotIdle, l.GetConnectionState())
	}
	l.task = task
	l.rootURL = rootURL
	l.richError = ""
	name := l.playerName
	l.mu.Unlock()
	l.stateChanged(transport.Idle, transport.Initing)
	l.reconnectAttempts.Store(0)

	req := handshake.Request{
		RootURL:  rootURL,
		Name:     name,
		Protocol: l.cfg.Protocol,
		GUID:     l.GetGUID(),
		Session:  l.identity.Session(),
	}
	log.Info().Str("root", rootURL).Msg("connecting to server")
	go l.runHandshake(taskCtx, task, req)
	return task, nil
}

func (l *NetLibrary) runHandshake(ctx context.Context, task *ConnectTask, req handshake.Request) {
	defer task.cancel()

	res, err := l.handshaker.Handshake(ctx, req)
	var addr transport.NetAddress
	if err == nil {
		addr, err = transport.ResolveNetAddress(ctx, res.Endpoint)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		l.failHandshake(task, err)
		task.finish(err)
		return
	}

	// The task check and the state swap share one critical section so a
	// cancelled attempt cannot take over the Initing state of a newer one.
	l.mu.Lock()
	if l.task != task || !l.state.CompareAndSwap(int32(transport.Initing), int32(transport.Connecting)) {
		l.mu.Unlock()
		task.finish(context.Canceled)
		return
	}
	l.task = nil
	l.server = addr
	l.hostNetID, l.hostBase = 0, 0
	l.serverNetID, l.slotID, l.serverTime = 0, 0, 0
	protocol := res.Protocol
	if protocol == 0 {
		protocol = req.Protocol
	}
	l.connectReq = transport.ConnectRequest{
		Token:    res.Token,
		GUID:     req.GUID,
		Protocol: protocol,
		Name:     req.Name,
		Session:  req.Session,
	}
	connectReq := l.connectReq
	l.peer.Add(1)
	l.mu.Unlock()

	l.stateChanged(transport.Initing, transport.Connecting)
	l.timedOut.Store(false)
	l.recvTicks.reset()
	l.recvTicks.add(l.now())
	task.finish(nil)

	if l.impl == nil {
		log.Warn().Str("server", addr.String()).Msg("no transport, staying in Connecting")
		return
	}
	if err := l.impl.CreateConnectionTo(addr, connectReq); err != nil {
		l.OnConnectionError(fmt.Sprintf("Failed to connect to %s: %v", addr, err),
			errorMetadata(map[string]string{"stage": "transport", "server": addr.String()}))
	}
}

// failHandshake returns to Idle and reports err, unless the task was replaced
// by a newer connection attempt.
func (l *NetLibrary) failHandshake(task *ConnectTask, err error) {
	if !l.abandonTask(task) {
		return
	}
	reason := fmt.Sprintf("Failed handshake with %s: %v", task.rootURL, err)
	if errors.Is(err, context.Canceled) {
		reason = "Connection cancelled"
	}
	log.Warn().Str("root", task.rootURL).Err(err).Msg("handshake failed")
	l.reportHandshakeError(task, reason)
}

// abandonTask detaches task and moves Initing back to Idle. It reports
// whether task was still the current attempt.
func (l *NetLibrary) abandonTask(task *ConnectTask) bool {
	l.mu.Lock()
	if task == nil || l.task != task {
		l.mu.Unlock()
		return false
	}
	l.task = nil
	idle := l.state.CompareAndSwap(int32(transport.Initing), int32(transport.Idle))
	l.mu.Unlock()

	if idle {
		l.stateChanged(transport.Initing, transport.Idle)
	}
	return true
}

func (l *NetLibrary) reportHandshakeError(task *ConnectTask, reason string) {
	meta := errorMetadata(map[string]string{"stage": "handshake", "rootUrl": task.rootURL})
	l.SetRichError(meta)
	l.publish(TopicConnectionError, ConnectionError{Reason: reason, Metadata: meta})
}

// CancelDeferredConnection aborts an in-flight handshake and returns to Idle
// when still Initing. It is safe to call at any time; a handshake that
// already completed is not affected.
func (l *NetLibrary) CancelDeferredConnection() {
	l.mu.Lock()
	task := l.task
	l.mu.Unlock()
	if task == nil {
		return
	}
	task.cancel()
	if l.abandonTask(task) {
		log.Info().Str("root", task.rootURL).Msg("connection cancelled")
		l.reportHandshakeError(task, "Connection cancelled")
	}
}

// Disconnect leaves the current server. TopicAttemptDisconnect is always
// published first; the library always ends Idle with no current server.
func (l *NetLibrary) Disconnect(reason string) {
	l.disconnectMu.Lock()
	defer l.disconnectMu.Unlock()

	l.publish(TopicAttemptDisconnect, reason)

	switch st := l.GetConnectionState(); st {
	case transport.Downloading:
		l.finalizeDisconnect()
	case transport.Connecting, transport.Connected, transport.DownloadComplete,
		transport.Fetching, transport.Active:
		if l.impl != nil {
			quit := append([]byte(reason), 0)
			l.SendReliableCommand(CmdQuit, quit)
			l.impl.Flush()
			l.impl.Reset()
		}
		l.finalizeDisconnect()
	case transport.Initing:
		l.CancelDeferredConnection()
	}

	l.mu.Lock()
	l.server = transport.NetAddress{}
	l.mu.Unlock()
	l.SetConnectionState(transport.Idle)
}

func (l *NetLibrary) finalizeDisconnect() {
	server := l.GetCurrentServer()
	l.peer.Add(1)
	log.Info().Str("server", server.String()).Msg("disconnected")
	l.publish(TopicFinalizeDisconnect, server)
}
