// Package decoders turns raw plate files into normalized tables. Each
// decoder handles one dialect; the registry runs the candidates a detection
// proposes until one claims the file.
package decoders

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
)

// Registry manages decoder registration by name.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]core.Decoder
	order    []string
}

// DefaultRegistry holds every built-in decoder.
var DefaultRegistry = NewDefaultRegistry()

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[string]core.Decoder),
	}
}

// NewDefaultRegistry creates a registry with the built-in decoders.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewHTSDecoder())
	r.Register(NewBlockDecoder())
	r.Register(NewSpreadsheetDecoder())
	r.Register(NewContainerDecoder())
	return r
}

// Register adds or replaces a decoder under its name.
func (r *Registry) Register(decoder core.Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.decoders[decoder.Name()]; !ok {
		r.order = append(r.order, decoder.Name())
	}
	r.decoders[decoder.Name()] = decoder
}

// Get returns the decoder registered under name.
func (r *Registry) Get(name string) (core.Decoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if decoder, ok := r.decoders[name]; ok {
		return decoder, nil
	}
	return nil, fmt.Errorf("no decoder named %q", name)
}

// Names returns registered decoder names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Decode tries each candidate of det in order. A decoder answering
// core.ErrNotRecognized passes the file on; any other error ends the chain.
// Running out of candidates is a FormatUnrecognized error.
func (r *Registry) Decode(ctx context.Context, det *detect.Detection, data []byte, filename string) (*core.Tables, error) {
	for _, name := range det.Candidates {
		decoder, err := r.Get(name)
		if err != nil {
			continue
		}

		t, err := decoder.Decode(ctx, data, filename)
		if errors.Is(err, core.ErrNotRecognized) {
			continue
		}
		if err != nil {
			var pErr *pferrors.Error
			if errors.As(err, &pErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, pferrors.Wrap(err, pferrors.CodeDecode, "decode failed").WithContext("format", name)
		}
		return t, nil
	}

	return nil, pferrors.Newf(pferrors.CodeFormatUnrecognized, "unsupported file %q", filepath.Base(filename)).
		WithContext("detected", det.Format.String())
}

// Decode runs the default registry.
func Decode(ctx context.Context, det *detect.Detection, data []byte, filename string) (*core.Tables, error) {
	return DefaultRegistry.Decode(ctx, det, data, filename)
}
