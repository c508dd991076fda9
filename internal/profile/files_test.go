package profile

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRepository(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	p := nonUniform()
	require.NoError(t, repo.Save(ctx, p))
	assert.FileExists(t, filepath.Join(dir, "reduced_40f_1920x1080.yaml"))

	// A recalibration with a different cycle replaces the old file
	next := Linear("reduced", hd, 30)
	require.NoError(t, repo.Save(ctx, next))
	assert.NoFileExists(t, filepath.Join(dir, "reduced_40f_1920x1080.yaml"))
	assert.FileExists(t, filepath.Join(dir, "reduced_30f_1920x1080.yaml"))

	// Broken and foreign files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, next.Equal(list[0]))

	require.NoError(t, repo.Delete(ctx, "reduced"))
	assert.ErrorIs(t, repo.Delete(ctx, "reduced"), ErrNotFound)

	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStoreOverFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)

	s := NewStore(repo)
	require.NoError(t, s.CommitAndActivate(ctx, nonUniform()))
	_, err = s.Rename(ctx, "reduced", "slow")
	require.NoError(t, err)

	fresh := NewStore(repo)
	require.NoError(t, fresh.Load(ctx))
	got, err := fresh.Get("slow")
	require.NoError(t, err)
	assert.Equal(t, nonUniform().Breakpoints, got.Breakpoints)
	_, err = fresh.Get("reduced")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreReloadUnchangedKeepsActive(t *testing.T) {
	ctx := context.Background()
	repo, err := NewFileRepository(t.TempDir())
	require.NoError(t, err)

	s := NewStore(repo)
	var activations int
	s.OnActivate(func(*Profile) { activations++ })
	require.NoError(t, s.CommitAndActivate(ctx, nonUniform()))
	active := s.Active()
	seen := activations

	// Reading the same file back yields a new value with the same content
	require.NoError(t, s.Load(ctx))
	assert.Same(t, active, s.Active())
	assert.Equal(t, seen, activations)

	got, err := s.Get("reduced")
	require.NoError(t, err)
	assert.Same(t, active, got)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 20*time.Millisecond, func() { calls.Add(1) })
	}()

	// Give the watcher time to register
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, WriteFile(filepath.Join(dir, "a.yaml"), nonUniform()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), nil, 0o644))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
