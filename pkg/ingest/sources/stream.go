package sources

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrConsumed is returned when a stream source is opened twice.
var ErrConsumed = errors.New("stream source already consumed")

// StreamSource wraps an io.Reader, typically standard input, as a Source.
// It can be opened once.
type StreamSource struct {
	name   string
	reader io.Reader

	mu     sync.Mutex
	opened bool
}

// NewStreamSource creates a source from an io.Reader.
func NewStreamSource(name string, reader io.Reader) *StreamSource {
	return &StreamSource{name: name, reader: reader}
}

func (s *StreamSource) Name() string     { return s.name }
func (s *StreamSource) Location() string { return "stream://" + s.name }
func (s *StreamSource) Size() int64      { return -1 }

// Open returns the reader.
func (s *StreamSource) Open(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil, ErrConsumed
	}
	s.opened = true
	if closer, ok := s.reader.(io.ReadCloser); ok {
		return closer, nil
	}
	return io.NopCloser(s.reader), nil
}
