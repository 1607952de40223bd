package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
)

func TestLocal_Exclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	release, err := l.Acquire(ctx, DatasetKey("a"))
	require.NoError(t, err)

	_, err = l.Acquire(ctx, DatasetKey("a"))
	assert.ErrorIs(t, err, pferrors.ErrLocked)

	other, err := l.Acquire(ctx, DatasetKey("b"))
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	again, err := l.Acquire(ctx, DatasetKey("a"))
	require.NoError(t, err)
	assert.NoError(t, again(ctx))
}
