// Package sources provides core.Source implementations for local files,
// in-memory data, standard input, HTTP URLs and S3 objects.
package sources

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FileSource implements core.Source for local files.
type FileSource struct {
	path string
	info os.FileInfo
}

// NewFileSource creates a new file source.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, info: info}, nil
}

func (f *FileSource) Name() string     { return filepath.Base(f.path) }
func (f *FileSource) Location() string { return f.path }
func (f *FileSource) Size() int64      { return f.info.Size() }

// Open returns a reader for the file.
func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}
