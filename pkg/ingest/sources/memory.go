package sources

import (
	"bytes"
	"context"
	"io"
)

// MemorySource provides data from memory.
type MemorySource struct {
	name string
	data []byte
}

// NewMemorySource creates a source from bytes. name is used for format
// detection and timepoint inference exactly like a file name.
func NewMemorySource(name string, data []byte) *MemorySource {
	return &MemorySource{name: name, data: data}
}

func (m *MemorySource) Name() string     { return m.name }
func (m *MemorySource) Location() string { return "memory://" + m.name }
func (m *MemorySource) Size() int64      { return int64(len(m.data)) }

// Open returns a reader for the data.
func (m *MemorySource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}
