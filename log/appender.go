package log

// LogAppender is an output destination for rendered log lines. Implementations
// must be safe for concurrent use.
type LogAppender interface {
	Write(buf []byte) (n int, err error)

	// Refresh forces buffered data to the underlying storage.
	Refresh() error

	// Close flushes and releases the destination.
	Close() error
}
