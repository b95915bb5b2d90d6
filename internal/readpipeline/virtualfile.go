package readpipeline

import (
	"os"

	"github.com/pkg/errors"

	"github.com/freezefs/freezefs/internal/checksum"
)

// VirtualFile is the splicing engine bound to one open handle, per
// spec.md §4.5 step 6. It owns the open content file descriptor for the
// lifetime of the handle.
type VirtualFile struct {
	f        *os.File
	segments []segment
	size     int64
}

// newVirtualFile opens contentPath and builds its splice segments from
// either frozen (the freezetag's own metadata blocks, authoritative when
// present) or, when frozen is nil, strippedLayout with zero-filled
// placeholders, per spec.md §4.5's Read description.
func newVirtualFile(contentPath string, frozen checksum.Layout, strippedLayout checksum.Layout) (*VirtualFile, error) {
	f, err := os.Open(contentPath)
	if err != nil {
		return nil, errors.Wrapf(err, "readpipeline: cannot open content file %q", contentPath)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "readpipeline: cannot stat content file %q", contentPath)
	}

	var segments []segment
	if frozen != nil {
		segments = buildSegments(frozen, fi.Size(), false)
	} else {
		segments = buildSegments(strippedLayout, fi.Size(), true)
	}

	return &VirtualFile{f: f, segments: segments, size: totalVirtualSize(segments)}, nil
}

// Size returns the virtual (reconstructed) file size.
func (vf *VirtualFile) Size() int64 { return vf.size }

// ReadAt synthesizes length bytes of the virtual file starting at offset,
// per spec.md §4.5's "Read".
func (vf *VirtualFile) ReadAt(buf []byte, offset int64) (int, error) {
	return readSegments(vf.f, vf.segments, buf, offset)
}

// Close releases the underlying content file descriptor.
func (vf *VirtualFile) Close() error {
	return vf.f.Close()
}
