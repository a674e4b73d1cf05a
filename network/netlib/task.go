package netlib

import "context"

// ConnectTask is an in-flight ConnectToServer call.
type ConnectTask struct {
	rootURL string
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func newConnectTask(rootURL string, cancel context.CancelFunc) *ConnectTask {
	return &ConnectTask{rootURL: rootURL, cancel: cancel, done: make(chan struct{})}
}

// RootURL returns the URL the task is connecting to.
func (t *ConnectTask) RootURL() string { return t.rootURL }

// Done is closed once the handshake finished, failed or was cancelled.
func (t *ConnectTask) Done() <-chan struct{} { return t.done }

// Err returns the handshake error. It is only meaningful after Done.
func (t *ConnectTask) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (t *ConnectTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the handshake. NetLibrary.CancelDeferredConnection also moves
// the library back to Idle.
func (t *ConnectTask) Cancel() { t.cancel() }

func (t *ConnectTask) finish(err error) {
	t.err = err
	close(t.done)
}
