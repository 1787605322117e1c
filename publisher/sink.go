package publisher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/aragog/models"
)

// JSONLinesSink writes each message as one JSON line instead of POSTing it.
type JSONLinesSink struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
	count   int
}

// NewJSONLinesSink creates (or truncates) filename.
func NewJSONLinesSink(filename string) (*JSONLinesSink, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json lines file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONLinesSink{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Publish appends the message and flushes it.
func (s *JSONLinesSink) Publish(_ context.Context, offer models.Offer, carrier map[string]string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.Encode(NewMessage(carrier, offer)); err != nil {
		return Result{Outcome: Failure, Err: fmt.Errorf("encode message: %w", err)}
	}
	if err := s.writer.Flush(); err != nil {
		return Result{Outcome: Failure, Err: fmt.Errorf("flush json lines: %w", err)}
	}
	s.count++
	return Result{Outcome: Success}
}

// Count returns the number of messages written.
func (s *JSONLinesSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes buffers and closes the underlying file.
func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush json lines: %w", err)
	}
	return s.file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
