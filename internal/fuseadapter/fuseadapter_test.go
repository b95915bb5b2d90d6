package fuseadapter

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezefs/freezefs/internal/checksumstore"
	"github.com/freezefs/freezefs/internal/ftagcache"
	"github.com/freezefs/freezefs/internal/index"
	"github.com/freezefs/freezefs/internal/metadataparser"
	"github.com/freezefs/freezefs/internal/readpipeline"
)

func newTestFS(t *testing.T) fuseFS {
	return newTestFSWithOwner(t, uint32(os.Getuid()), uint32(os.Getgid()))
}

func newTestFSWithOwner(t *testing.T, uid, gid uint32) fuseFS {
	t.Helper()
	dir := t.TempDir()
	store, err := checksumstore.Open(filepath.Join(dir, "freezefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ftags := ftagcache.New(ftagcache.DefaultCapacity, time.Hour, index.NewFtagLoader())
	idx := index.New(store, ftags)
	pl := readpipeline.New(idx)

	audio := []byte("audio-bytes")
	contentPath := filepath.Join(dir, "01.flac")
	require.NoError(t, os.WriteFile(contentPath, audio, 0o644))
	res, err := metadataparser.Parse(contentPath)
	require.NoError(t, err)
	sum := res.Checksum.String()

	tag := []byte("TAG!")
	tagB64 := base64.StdEncoding.EncodeToString(tag)
	ftagPath := filepath.Join(dir, "album.ftag")
	doc := `{"root": "Album", "files": [{"path": "01.flac", "checksum": "` + sum +
		`", "metadata": [{"offset":0,"length":4,"bytes":"` + tagB64 + `"}]}]}`
	require.NoError(t, os.WriteFile(ftagPath, []byte(doc), 0o644))

	idx.AddContentFile(contentPath)
	idx.AddFreezetag(ftagPath)

	return fuseFS{idx: idx, pl: pl, uid: uid, gid: gid}
}

func TestRootAttrIsDirectory(t *testing.T) {
	ffs := newTestFS(t)
	root, err := ffs.Root()
	require.NoError(t, err)

	var attr fuse.Attr
	require.NoError(t, root.Attr(context.Background(), &attr))
	assert.True(t, attr.Mode.IsDir())
}

func TestAttrHonorsConfiguredUIDGID(t *testing.T) {
	const wantUID, wantGID = 4242, 4343
	ffs := newTestFSWithOwner(t, wantUID, wantGID)
	root, err := ffs.Root()
	require.NoError(t, err)

	var rootAttr fuse.Attr
	require.NoError(t, root.Attr(context.Background(), &rootAttr))
	assert.EqualValues(t, wantUID, rootAttr.Uid)
	assert.EqualValues(t, wantGID, rootAttr.Gid)

	albumNode, err := root.(node).Lookup(context.Background(), "Album")
	require.NoError(t, err)
	fileNode, err := albumNode.(node).Lookup(context.Background(), "01.flac")
	require.NoError(t, err)

	var fileAttr fuse.Attr
	require.NoError(t, fileNode.Attr(context.Background(), &fileAttr))
	assert.EqualValues(t, wantUID, fileAttr.Uid)
	assert.EqualValues(t, wantGID, fileAttr.Gid)
}

func TestLookupAndReadDirAll(t *testing.T) {
	ffs := newTestFS(t)
	root, err := ffs.Root()
	require.NoError(t, err)

	albumNode, err := root.(node).Lookup(context.Background(), "Album")
	require.NoError(t, err)

	var attr fuse.Attr
	require.NoError(t, albumNode.Attr(context.Background(), &attr))
	assert.True(t, attr.Mode.IsDir())

	entries, err := albumNode.(node).ReadDirAll(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "01.flac")

	fileNode, err := albumNode.(node).Lookup(context.Background(), "01.flac")
	require.NoError(t, err)

	var fileAttr fuse.Attr
	require.NoError(t, fileNode.Attr(context.Background(), &fileAttr))
	assert.False(t, fileAttr.Mode.IsDir())
	assert.EqualValues(t, len("TAG!")+len("audio-bytes"), fileAttr.Size)
}

func TestLookupMissingReturnsENOENT(t *testing.T) {
	ffs := newTestFS(t)
	root, err := ffs.Root()
	require.NoError(t, err)

	_, err = root.(node).Lookup(context.Background(), "Ghost")
	require.Error(t, err)
	assert.Equal(t, fuse.ENOENT, err)
}

func TestOpenReadRelease(t *testing.T) {
	ffs := newTestFS(t)
	root, err := ffs.Root()
	require.NoError(t, err)
	albumNode, err := root.(node).Lookup(context.Background(), "Album")
	require.NoError(t, err)
	fileNode, err := albumNode.(node).Lookup(context.Background(), "01.flac")
	require.NoError(t, err)

	var resp fuse.OpenResponse
	h, err := fileNode.(node).Open(context.Background(), &fuse.OpenRequest{}, &resp)
	require.NoError(t, err)

	readResp := &fuse.ReadResponse{}
	req := &fuse.ReadRequest{Offset: 0, Size: 64}
	require.NoError(t, h.(handle).Read(context.Background(), req, readResp))
	assert.Equal(t, "TAG!audio-bytes", string(readResp.Data))

	require.NoError(t, h.(handle).Release(context.Background(), &fuse.ReleaseRequest{}))
}
