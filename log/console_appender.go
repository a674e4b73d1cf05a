package log

import (
	"os"
)

// ConsoleAppender writes unbuffered to stdout.
type ConsoleAppender struct {
}

func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{}
}

func (ca *ConsoleAppender) Write(buf []byte) (int, error) {
	return os.Stdout.Write(buf)
}

func (ca *ConsoleAppender) Refresh() error {
	return nil
}

func (ca *ConsoleAppender) Close() error {
	return nil
}
