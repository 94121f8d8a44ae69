package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gzhole/graphpower/internal/redact"
)

// defaultMaxLogBytes is the size at which the audit log is rotated to
// "<path>.1".
const defaultMaxLogBytes = 10 << 20

// AuditEvent is one line of the JSONL audit log, written per tool call.
type AuditEvent struct {
	Timestamp  string                 `json:"timestamp"`
	Tool       string                 `json:"tool"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Outcome    string                 `json:"outcome"`
	StatusCode int                    `json:"status_code,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	Transport  string                 `json:"transport,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type AuditLogger struct {
	path     string
	maxBytes int64
	size     int64
	file     *os.File
	mu       sync.Mutex
}

func New(path string) (*AuditLogger, error) {
	return NewWithLimit(path, defaultMaxLogBytes)
}

// NewWithLimit opens path for appending, rotating once it reaches maxBytes.
// maxBytes <= 0 disables rotation.
func NewWithLimit(path string, maxBytes int64) (*AuditLogger, error) {
	l := &AuditLogger{path: path, maxBytes: maxBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	l.file = file
	l.size = info.Size()
	return nil
}

func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Arguments can carry request bodies with credentials.
	event.Arguments = redact.RedactMap(event.Arguments)
	if event.Error != "" {
		event.Error = redact.Redact(event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if l.maxBytes > 0 && l.size > 0 && l.size+int64(len(data)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	l.size += int64(n)
	return err
}

// rotate replaces <path>.1 with the current file and starts a new one.
func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return err
	}
	return l.open()
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
