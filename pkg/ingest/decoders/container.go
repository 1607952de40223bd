package decoders

import (
	"bytes"
	"context"
	"errors"

	"github.com/plateflow/plateflow/pkg/container"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
)

// ContainerDecoder reads pre-unstacked tables from a structured container.
type ContainerDecoder struct{}

// NewContainerDecoder creates a container decoder.
func NewContainerDecoder() *ContainerDecoder {
	return &ContainerDecoder{}
}

func (d *ContainerDecoder) Name() string { return detect.DecoderContainer }

func (d *ContainerDecoder) Format() core.Format { return core.FormatContainer }

// Decode reads the container in one pass. Plate sizes are left to be
// inferred from the wells referenced.
func (d *ContainerDecoder) Decode(ctx context.Context, data []byte, filename string) (*core.Tables, error) {
	t, err := container.Read(bytes.NewReader(data), d.Format(), d.Name())
	if errors.Is(err, container.ErrNotContainer) {
		return nil, core.ErrNotRecognized
	}
	var coded *pferrors.Error
	if errors.As(err, &coded) {
		return nil, err
	}
	if err != nil {
		return nil, pferrors.Wrap(err, pferrors.CodeDecode, "invalid container").WithContext("format", d.Name())
	}
	return t, nil
}
