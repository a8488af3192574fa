package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileLog writes audit records as append-only JSONL.
// Each record is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can append concurrently.
type FileLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileLog opens (or creates) the audit log file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileLog{file: f}, nil
}

// Append serializes the record as JSON and appends it to the file.
// Marshal happens outside the lock; only the file write is serialized.
func (l *FileLog) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, writeErr := l.file.Write(data)
	l.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit record: %w", writeErr)
	}
	return nil
}

// Close closes the underlying file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
