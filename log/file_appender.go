package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileAppender appends log lines to a file and rotates it by size.
type FileAppender struct {
	lock        sync.Mutex
	fileName    string
	fileSplitMB int
	fileFd      *os.File
	size        int64
}

// NewFileAppender opens (or creates) path in append mode. splitMB of 0
// disables rotation.
func NewFileAppender(path string, splitMB int) (*FileAppender, error) {
	a := &FileAppender{fileName: path, fileSplitMB: splitMB}
	if err := a.open(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *FileAppender) open() error {
	if dir := filepath.Dir(a.fileName); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	fd, err := os.OpenFile(a.fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	st, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	a.fileFd = fd
	a.size = st.Size()
	return nil
}

func (a *FileAppender) Write(buf []byte) (int, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.fileFd == nil {
		return 0, os.ErrClosed
	}
	if a.fileSplitMB > 0 && a.size+int64(len(buf)) > int64(a.fileSplitMB)<<20 {
		if err := a.rotate(time.Now()); err != nil {
			return 0, err
		}
	}

	n, err := a.fileFd.Write(buf)
	a.size += int64(n)
	return n, err
}

// Refresh syncs the file to disk.
func (a *FileAppender) Refresh() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.fileFd == nil {
		return nil
	}
	return a.fileFd.Sync()
}

func (a *FileAppender) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.fileFd == nil {
		return nil
	}
	err := a.fileFd.Close()
	a.fileFd = nil
	return err
}

func (a *FileAppender) rotate(now time.Time) error {
	if err := a.fileFd.Close(); err != nil {
		return fmt.Errorf("close old file: %w", err)
	}
	a.fileFd = nil

	backup, err := backupFileName(a.fileName, now)
	if err != nil {
		return err
	}
	if err := os.Rename(a.fileName, backup); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return a.open()
}

// backupFileName returns "<base><ext>.YYYYMMDD-HHMMSS", stepping forward a
// second at a time on collision.
func backupFileName(filePath string, now time.Time) (string, error) {
	ext := filepath.Ext(filePath)
	base := strings.TrimSuffix(filePath, ext)

	for i := 0; i < 5; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		name := fmt.Sprintf("%s%s.%s", base, ext, ts.Format("20060102-150405"))
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			return name, nil
		} else if err != nil {
			return "", fmt.Errorf("check file existence: %w", err)
		}
	}
	return "", errors.New("cannot generate unique backup filename")
}
