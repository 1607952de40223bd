// Package lock serializes uploads per dataset. Two batches writing the
// same dataset at once could race on plate and well creation.
package lock

import (
	"context"
	"sync"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
)

// Locker takes named exclusive locks.
type Locker interface {
	// Acquire takes the lock or fails with CodeLocked when another holder
	// has it. The returned function releases it.
	Acquire(ctx context.Context, name string) (release func(context.Context) error, err error)
}

// DatasetKey is the lock name of a dataset's uploads.
func DatasetKey(datasetID string) string {
	return "dataset:" + datasetID
}

func held(name string) error {
	return pferrors.Newf(pferrors.CodeLocked, "an upload to %s is already running", name).WithContext("lock", name)
}

// Local is an in-process Locker for single-node use and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// Acquire implements Locker.
func (l *Local) Acquire(_ context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, held(name)
	}
	l.held[name] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
