package freezetag_test

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezefs/freezefs/internal/freezetag"
)

func TestLoadBasic(t *testing.T) {
	sum := hex.EncodeToString([]byte("X"))
	doc := `{
		"root": "Album",
		"files": [
			{"path": "01.flac", "checksum": "` + sum + `", "metadata": [{"offset": 0, "length": 4, "bytes": "dGFn"}]}
		]
	}`
	p := filepath.Join(t.TempDir(), "album.ftag")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))

	ftag, err := freezetag.Load(p)
	require.NoError(t, err)
	assert.Equal(t, "Album", ftag.Root)
	require.Len(t, ftag.Files, 1)
	assert.Equal(t, "01.flac", ftag.Files[0].Path)
	require.Len(t, ftag.Files[0].Metadata, 1)
	assert.EqualValues(t, 4, ftag.Files[0].Metadata[0].Length)
}

func TestLoadMissingRoot(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.ftag")
	require.NoError(t, os.WriteFile(p, []byte(`{"files": []}`), 0o644))

	_, err := freezetag.Load(p)
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad2.ftag")
	require.NoError(t, os.WriteFile(p, []byte(`not json`), 0o644))

	_, err := freezetag.Load(p)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := freezetag.Load(filepath.Join(t.TempDir(), "nope.ftag"))
	assert.Error(t, err)
}
