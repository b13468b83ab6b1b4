package agent

import (
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirrorfs/go-mirrorfs/proto"
)

func newTestDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
	return dir
}

func openStream(t *testing.T, dir string) *dirStream {
	t.Helper()
	f, err := os.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return newDirStream(f, dir, zap.NewNop())
}

func names(entries []proto.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestDirStreamBoundedBatches(t *testing.T) {
	d := openStream(t, newTestDir(t, "a", "b", "c"))

	batch, end, err := d.next(2)
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, names(batch))
	assert.False(t, end)

	batch, end, err = d.next(2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.False(t, end)
	collected := names(batch)

	batch, end, err = d.next(2)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.True(t, end)
	collected = append(collected, names(batch)...)

	sort.Strings(collected)
	assert.Equal(t, []string{"a", "b", "c"}, collected)

	// exhausted stream keeps returning an empty batch, never an error
	for i := 0; i < 3; i++ {
		batch, end, err = d.next(2)
		require.NoError(t, err)
		assert.Empty(t, batch)
		assert.True(t, end)
	}
}

func TestDirStreamSingleCall(t *testing.T) {
	d := openStream(t, newTestDir(t, "only"))

	batch, end, err := d.next(16)
	require.NoError(t, err)
	assert.True(t, end)
	assert.Equal(t, 3, len(batch))
	assert.Equal(t, ".", batch[0].Name)
	assert.Equal(t, "..", batch[1].Name)
	assert.Equal(t, "only", batch[2].Name)
	assert.Equal(t, uint8(syscall.DT_DIR), batch[0].Type)
	assert.Equal(t, uint8(syscall.DT_REG), batch[2].Type)
	assert.NotZero(t, batch[2].Inode)
}

func TestDirStreamEmptyDir(t *testing.T) {
	d := openStream(t, newTestDir(t))

	batch, end, err := d.next(8)
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, names(batch))
	assert.True(t, end)
}

func TestDirStreamZeroCapacity(t *testing.T) {
	d := openStream(t, newTestDir(t, "a"))

	batch, end, err := d.next(0)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.False(t, end)
}

func TestDirStreamSkipsBrokenEntries(t *testing.T) {
	dir := newTestDir(t, "keep", "vanish")
	d := openStream(t, dir)

	// pull the synthetic entries and force the name chunk to be fetched
	batch, _, err := d.next(2)
	require.NoError(t, err)
	require.Equal(t, []string{".", ".."}, names(batch))
	require.NoError(t, d.fetch())

	// entry disappears between enumeration and its metadata read;
	// the listing skips it and carries on
	require.NoError(t, os.Remove(filepath.Join(dir, "vanish")))

	var collected []string
	for {
		batch, end, err := d.next(4)
		require.NoError(t, err)
		collected = append(collected, names(batch)...)
		if end {
			break
		}
	}
	assert.Equal(t, []string{"keep"}, collected)
	assert.Equal(t, 1, d.skipped)
}

func TestDirStreamReset(t *testing.T) {
	d := openStream(t, newTestDir(t, "a", "b"))

	var first []string
	for {
		batch, end, err := d.next(3)
		require.NoError(t, err)
		first = append(first, names(batch)...)
		if end {
			break
		}
	}
	require.NoError(t, d.reset())

	var second []string
	for {
		batch, end, err := d.next(3)
		require.NoError(t, err)
		second = append(second, names(batch)...)
		if end {
			break
		}
	}
	assert.Equal(t, first, second)
	assert.Len(t, second, 4)
}
