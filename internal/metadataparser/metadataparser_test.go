package metadataparser_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezefs/freezefs/internal/metadataparser"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "content.flac")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestParseWithID3Tag(t *testing.T) {
	tag := []byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 5, 't', 'a', 'g', 'd', 'a'}
	payload := []byte("audio-bytes-here")
	p := writeFile(t, append(append([]byte{}, tag...), payload...))

	res, err := metadataparser.Parse(p)
	require.NoError(t, err)
	require.Len(t, res.Layout, 1)
	assert.EqualValues(t, 0, res.Layout[0].Offset)
	assert.EqualValues(t, 15, res.Layout[0].Length)
	assert.NotEmpty(t, res.Checksum)
}

func TestParseWithoutTag(t *testing.T) {
	p := writeFile(t, []byte("plain-audio-no-tag"))

	res, err := metadataparser.Parse(p)
	require.NoError(t, err)
	assert.Empty(t, res.Layout)
	assert.NotEmpty(t, res.Checksum)
}

func TestParseSameContentSameChecksum(t *testing.T) {
	p1 := writeFile(t, []byte("identical-content"))
	p2 := writeFile(t, []byte("identical-content"))

	r1, err := metadataparser.Parse(p1)
	require.NoError(t, err)
	r2, err := metadataparser.Parse(p2)
	require.NoError(t, err)
	assert.Equal(t, r1.Checksum, r2.Checksum)
}

func TestParseMissingFile(t *testing.T) {
	_, err := metadataparser.Parse(filepath.Join(t.TempDir(), "nope.flac"))
	assert.Error(t, err)
}
