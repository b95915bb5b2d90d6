package index_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezefs/freezefs/internal/checksumstore"
	"github.com/freezefs/freezefs/internal/ftagcache"
	"github.com/freezefs/freezefs/internal/index"
	"github.com/freezefs/freezefs/internal/metadataparser"
)

func newTestIndex(t *testing.T) (*index.Index, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := checksumstore.Open(filepath.Join(dir, "freezefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ftags := ftagcache.New(ftagcache.DefaultCapacity, time.Hour, index.NewFtagLoader())
	return index.New(store, ftags), dir
}

func writeContentFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// writeFtag writes a minimal single-file freezetag JSON document whose
// one entry claims sumHex as its checksum.
func writeFtag(t *testing.T, dir, name, root, relPath, sumHex, metadataJSON string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	doc := `{"root": "` + root + `", "files": [{"path": "` + relPath + `", "checksum": "` +
		sumHex + `", "metadata": ` + metadataJSON + `}]}`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	return p
}

func checksumHex(t *testing.T, contentPath string) string {
	t.Helper()
	res, err := metadataparser.Parse(contentPath)
	require.NoError(t, err)
	return res.Checksum.String()
}

// TestBasicMount covers spec.md §8 scenario 1.
func TestBasicMount(t *testing.T) {
	idx, dir := newTestIndex(t)
	content := writeContentFile(t, dir, "01.flac", []byte("raw-audio-bytes"))
	sum := checksumHex(t, content)

	idx.AddContentFile(content)

	_, err := idx.Resolve("/Album/01.flac")
	assert.ErrorIs(t, err, index.ErrNotFound, "not live until a freezetag claims it")

	ftagPath := writeFtag(t, dir, "album.ftag", "Album", "01.flac", sum, `[{"offset":0,"length":4,"bytes":"dGFnIQ=="}]`)
	idx.AddFreezetag(ftagPath)

	got, err := idx.Resolve("/Album/01.flac")
	require.NoError(t, err)
	assert.True(t, got.Live())
	require.Len(t, got.Files, 1)
	require.Len(t, got.Freezetags, 1)
	assert.EqualValues(t, 4, got.Freezetags[0].FrozenLen)

	entries, err := idx.Readdir("/Album")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"01.flac"}, entries)

	entries, err = idx.Readdir("/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Album"}, entries)
}

// TestCollisionAndPromotion covers spec.md §8 scenario 2.
func TestCollisionAndPromotion(t *testing.T) {
	idx, dir := newTestIndex(t)
	content1 := writeContentFile(t, dir, "a.flac", []byte("content-one"))
	content2 := writeContentFile(t, dir, "b.flac", []byte("content-two"))
	sum1 := checksumHex(t, content1)
	sum2 := checksumHex(t, content2)
	idx.AddContentFile(content1)
	idx.AddContentFile(content2)

	ftag1 := writeFtag(t, dir, "first.ftag", "Album", "a.flac", sum1, `[]`)
	ftag2 := writeFtag(t, dir, "second.ftag", "Album", "b.flac", sum2, `[]`)

	idx.AddFreezetag(ftag1)
	idx.AddFreezetag(ftag2) // should be deferred: root collision

	_, err := idx.Resolve("/Album/b.flac")
	assert.ErrorIs(t, err, index.ErrNotFound, "second freezetag should be inactive, not mounted")

	got, err := idx.Resolve("/Album/a.flac")
	require.NoError(t, err)
	assert.True(t, got.Live())

	idx.RemoveFreezetag(ftag1)

	_, err = idx.Resolve("/Album/a.flac")
	assert.ErrorIs(t, err, index.ErrNotFound, "first freezetag's files gone after removal")

	got, err = idx.Resolve("/Album/b.flac")
	require.NoError(t, err, "second freezetag should have been promoted")
	assert.True(t, got.Live())
}

// TestRenameContentFile covers spec.md §8 scenario 3.
func TestRenameContentFile(t *testing.T) {
	idx, dir := newTestIndex(t)
	a := writeContentFile(t, dir, "a.flac", []byte("stable-bytes"))
	sum := checksumHex(t, a)
	idx.AddContentFile(a)
	ftagPath := writeFtag(t, dir, "album.ftag", "Album", "01.flac", sum, `[]`)
	idx.AddFreezetag(ftagPath)

	_, err := idx.Resolve("/Album/01.flac")
	require.NoError(t, err)

	b := filepath.Join(dir, "b.flac")
	require.NoError(t, os.Rename(a, b))
	idx.RenameContentFile(a, b)

	got, err := idx.Resolve("/Album/01.flac")
	require.NoError(t, err, "virtual path still resolves after rename")
	assert.Equal(t, b, got.Files[0].AbsolutePath)
}

// TestRemoveContentFileDanglesItem verifies invariant P2/I4: removing the
// only content file makes the item non-live without touching the
// freezetag side.
func TestRemoveContentFileDanglesItem(t *testing.T) {
	idx, dir := newTestIndex(t)
	a := writeContentFile(t, dir, "a.flac", []byte("content"))
	sum := checksumHex(t, a)
	idx.AddContentFile(a)
	ftagPath := writeFtag(t, dir, "album.ftag", "Album", "01.flac", sum, `[]`)
	idx.AddFreezetag(ftagPath)

	idx.RemoveContentFile(a)

	_, err := idx.Resolve("/Album/01.flac")
	assert.ErrorIs(t, err, index.ErrNotFound)
}

// TestCachedRestart covers spec.md §8 scenario 5: a second Index sharing
// the same checksum db recognizes an unchanged content file across a
// process restart and still mounts it correctly under its freezetag.
func TestCachedRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "freezefs.db")
	content := writeContentFile(t, dir, "a.flac", []byte("restart-bytes"))
	sum := checksumHex(t, content)
	ftagPath := writeFtag(t, dir, "album.ftag", "Album", "01.flac", sum, `[]`)

	store1, err := checksumstore.Open(dbPath)
	require.NoError(t, err)
	ftags1 := ftagcache.New(ftagcache.DefaultCapacity, time.Hour, index.NewFtagLoader())
	idx1 := index.New(store1, ftags1)
	idx1.AddContentFile(content)
	idx1.AddFreezetag(ftagPath)
	require.NoError(t, store1.Flush())
	require.NoError(t, store1.Close())

	store2, err := checksumstore.Open(dbPath)
	require.NoError(t, err)
	defer store2.Close()
	ftags2 := ftagcache.New(ftagcache.DefaultCapacity, time.Hour, index.NewFtagLoader())
	idx2 := index.New(store2, ftags2)
	idx2.AddContentFile(content) // should hit the persisted cache, not re-parse
	idx2.AddFreezetag(ftagPath)

	got, err := idx2.Resolve("/Album/01.flac")
	require.NoError(t, err)
	assert.True(t, got.Live())
}
