// Package metadataparser is the stateless parse(bytes) -> MetadataLayout
// function described in spec.md §1 ("Out of scope") and §2 (dependency
// order item 2). The real container-specific parser is an external
// collaborator; this package provides an ID3v2-aware default so the
// pipeline is exercisable end-to-end, behind the same contract a real
// parser would satisfy.
package metadataparser

import (
	"crypto/sha256"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/freezefs/freezefs/internal/checksum"
)

// id3v2HeaderLen is the fixed 10-byte ID3v2 header size (3 bytes "ID3", 2
// bytes version, 1 byte flags, 4 bytes synchsafe size).
const id3v2HeaderLen = 10

// Result is what Parse returns: the checksum of the raw (post-strip) audio
// payload plus the layout of metadata blocks that were found and removed.
type Result struct {
	Checksum checksum.Checksum
	Layout   checksum.Layout
}

// Parse reads the content file at path, locates any leading ID3v2 tag
// block, computes the checksum of the remaining (stripped) bytes, and
// returns the layout describing what was removed. A file with no
// recognized tag block yields an empty Layout and a checksum over the
// whole file.
func Parse(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, errors.Wrapf(err, "metadataparser: cannot open %q", path)
	}
	defer f.Close()

	header := make([]byte, id3v2HeaderLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return Result{}, errors.Wrapf(err, "metadataparser: cannot read header of %q", path)
	}

	var layout checksum.Layout
	if n == id3v2HeaderLen && header[0] == 'I' && header[1] == 'D' && header[2] == '3' {
		tagLen := synchsafeSize(header[6:10])
		total := int64(id3v2HeaderLen) + tagLen
		tagBytes := make([]byte, total)
		if _, err := f.ReadAt(tagBytes, 0); err != nil {
			return Result{}, errors.Wrapf(err, "metadataparser: cannot read tag of %q", path)
		}
		layout = checksum.Layout{{Offset: 0, Length: total, Bytes: tagBytes}}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Result{}, errors.Wrapf(err, "metadataparser: cannot seek %q", path)
	}

	h := sha256.New()
	skip := layout.TotalLen()
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, f, skip); err != nil {
			return Result{}, errors.Wrapf(err, "metadataparser: cannot skip tag in %q", path)
		}
	}
	if _, err := io.Copy(h, f); err != nil {
		return Result{}, errors.Wrapf(err, "metadataparser: cannot hash %q", path)
	}

	return Result{Checksum: checksum.Checksum(h.Sum(nil)), Layout: layout}, nil
}

func synchsafeSize(b []byte) int64 {
	return int64(b[0]&0x7f)<<21 | int64(b[1]&0x7f)<<14 | int64(b[2]&0x7f)<<7 | int64(b[3]&0x7f)
}
