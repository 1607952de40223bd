package watch_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fixtures "github.com/plateflow/plateflow/internal/testutil"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
	"github.com/plateflow/plateflow/pkg/watch"
)

func start(t *testing.T, dir string, existing bool) <-chan []string {
	t.Helper()
	w, err := watch.NewWatcher(dir, watch.Options{
		Debounce: 50 * time.Millisecond,
		Known:    detect.Known,
		Existing: existing,
		Logger:   fixtures.Logger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(_ context.Context, paths []string) error {
			batches <- paths
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return batches
}

func next(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
		return nil
	}
}

func TestWatcher_DeliversKnownFiles(t *testing.T) {
	dir := t.TempDir()
	batches := start(t, dir, false)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.txt"), []byte("x"), 0o644))
	plate := filepath.Join(dir, "plate.txt")
	require.NoError(t, os.WriteFile(plate, fixtures.BlockText(fixtures.Plate96("P1-24h", "Viability", fixtures.Linear(0, 1))), 0o644))

	got := next(t, batches)
	assert.Equal(t, []string{plate}, got)

	select {
	case b := <-batches:
		t.Fatalf("unexpected batch %v", b)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_RewriteIsDeliveredAgain(t *testing.T) {
	dir := t.TempDir()
	batches := start(t, dir, false)

	plate := filepath.Join(dir, "plate.txt")
	require.NoError(t, os.WriteFile(plate, []byte("one"), 0o644))
	assert.Equal(t, []string{plate}, next(t, batches))

	require.NoError(t, os.WriteFile(plate, []byte("one and two"), 0o644))
	assert.Equal(t, []string{plate}, next(t, batches))
}

func TestWatcher_Existing(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.xlsx")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.doc"), []byte("c"), 0o644))

	batches := start(t, dir, true)
	var got []string
	for len(got) < 2 {
		got = append(got, next(t, batches)...)
	}
	assert.ElementsMatch(t, []string{a, b}, got)
}

func TestNewWatcher_RejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err := watch.NewWatcher(f, watch.Options{})
	assert.Error(t, err)
}

func TestQuarantine(t *testing.T) {
	src := t.TempDir()
	q, err := watch.NewQuarantine(filepath.Join(t.TempDir(), "rejected"))
	require.NoError(t, err)

	first := filepath.Join(src, "bad.txt")
	require.NoError(t, os.WriteFile(first, []byte("one"), 0o644))
	rej, err := q.Add(first, "E101", "format not recognized")
	require.NoError(t, err)
	assert.NoFileExists(t, first)
	assert.FileExists(t, rej.Moved)

	require.NoError(t, os.WriteFile(first, []byte("two"), 0o644))
	again, err := q.Add(first, "E102", "bad grid")
	require.NoError(t, err)
	assert.NotEqual(t, rej.Moved, again.Moved)
	assert.Equal(t, 2, q.Count())
	require.NoError(t, q.Close())

	log, err := os.ReadFile(filepath.Join(filepath.Dir(rej.Moved), "errors.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(log)), "\n")
	require.Len(t, lines, 2)
	var got watch.Rejection
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "E102", got.Code)
	assert.Equal(t, first, got.File)
}
