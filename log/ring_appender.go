package log

import (
	"io"

	"github.com/KarpelesLab/ringbuf"
)

// RingAppender keeps the most recent log output in memory so it can be
// attached to crash or disconnect reports.
type RingAppender struct {
	buf *ringbuf.Writer
}

// NewRingAppender allocates a ring of size bytes.
func NewRingAppender(size int64) (*RingAppender, error) {
	w, err := ringbuf.New(size)
	if err != nil {
		return nil, err
	}
	return &RingAppender{buf: w}, nil
}

func (a *RingAppender) Write(p []byte) (int, error) {
	return a.buf.Write(p)
}

func (a *RingAppender) Refresh() error {
	return nil
}

func (a *RingAppender) Close() error {
	return a.buf.Close()
}

// Dump copies the buffered tail to w.
func (a *RingAppender) Dump(w io.Writer) (int64, error) {
	r := a.buf.Reader()
	defer r.Close()
	return io.Copy(w, r)
}

// DumpRing writes the ring contents of the default logger to w. It returns
// zero when no ring appender is configured.
func DumpRing(w io.Writer) (int64, error) {
	for _, a := range _defaultLogger.GetAppender() {
		if ra, ok := a.(*RingAppender); ok {
			return ra.Dump(w)
		}
	}
	return 0, nil
}
