// Package readpipeline computes stat and read responses for virtual
// files by splicing stripped content bytes with freezetag-provided
// metadata blocks at arbitrary offsets, per spec.md §4.5. Grounded on
// original_source/freezetag/freezefs.py's getattr/open/read/release and
// FuseFile contract, with the offset/length bookkeeping idiom of
// backend/cache/handle.go's Handle.
package readpipeline

import (
	"io"
	"os"

	"github.com/freezefs/freezefs/internal/checksum"
)

// segmentKind distinguishes a run of bytes sourced from the physical
// (stripped) content file from a run sourced from an inserted metadata
// block.
type segmentKind int

const (
	segPhysical segmentKind = iota
	segBlock
)

// segment is one contiguous run in the virtual (original) file's
// coordinate space.
type segment struct {
	kind        segmentKind
	virtualFrom int64
	virtualTo   int64 // exclusive
	physFrom    int64 // valid when kind == segPhysical
	blockBytes  []byte // valid when kind == segBlock; nil means zero-fill
}

func (s segment) length() int64 { return s.virtualTo - s.virtualFrom }

// buildSegments walks layout (sorted by strictly increasing Offset, per
// spec.md §3's Layout invariant) and physicalSize (the size of the
// on-disk stripped content file) and produces the full ordered list of
// segments describing the virtual file's byte stream.
//
// When useZeroFill is true, block segments carry no bytes and are
// zero-filled at read time (the "no freezetag metadata" case in spec.md
// §4.5's Read description); otherwise each block's own Bytes are used.
func buildSegments(layout checksum.Layout, physicalSize int64, useZeroFill bool) []segment {
	segments := make([]segment, 0, len(layout)*2+1)
	var virtualCursor, physCursor int64

	for _, b := range layout {
		if gap := b.Offset - virtualCursor; gap > 0 {
			segments = append(segments, segment{
				kind:        segPhysical,
				virtualFrom: virtualCursor,
				virtualTo:   virtualCursor + gap,
				physFrom:    physCursor,
			})
			physCursor += gap
			virtualCursor += gap
		}
		blockBytes := b.Bytes
		if useZeroFill {
			blockBytes = nil
		}
		segments = append(segments, segment{
			kind:        segBlock,
			virtualFrom: virtualCursor,
			virtualTo:   virtualCursor + b.Length,
			blockBytes:  blockBytes,
		})
		virtualCursor += b.Length
	}

	if remaining := physicalSize - physCursor; remaining > 0 {
		segments = append(segments, segment{
			kind:        segPhysical,
			virtualFrom: virtualCursor,
			virtualTo:   virtualCursor + remaining,
			physFrom:    physCursor,
		})
		virtualCursor += remaining
	}

	return segments
}

func totalVirtualSize(segments []segment) int64 {
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].virtualTo
}

// readSegments fills buf starting at virtual offset off, splicing from
// the physical file f and the block bytes recorded in segments. It
// returns fewer than len(buf) bytes only at EOF, and then with a nil
// error; a read starting at or past EOF returns 0 and io.EOF (spec.md
// §4.5: "the result must be exactly length bytes unless EOF is reached").
func readSegments(f *os.File, segments []segment, buf []byte, off int64) (int, error) {
	size := totalVirtualSize(segments)
	if off >= size {
		return 0, io.EOF
	}
	end := off + int64(len(buf))
	if end > size {
		end = size
	}

	var n int
	for _, s := range segments {
		if s.virtualTo <= off || s.virtualFrom >= end {
			continue
		}
		from := max64(s.virtualFrom, off)
		to := min64(s.virtualTo, end)
		dst := buf[from-off : to-off]

		switch s.kind {
		case segPhysical:
			physOff := s.physFrom + (from - s.virtualFrom)
			if _, err := f.ReadAt(dst, physOff); err != nil && err != io.EOF {
				return n, err
			}
		case segBlock:
			if s.blockBytes != nil {
				copy(dst, s.blockBytes[from-s.virtualFrom:to-s.virtualFrom])
			} else {
				for i := range dst {
					dst[i] = 0
				}
			}
		}
		n += len(dst)
	}

	var err error
	if end < off+int64(len(buf)) {
		err = nil // a short read at EOF returns a nil error; n==0 at EOF was handled above
	}
	return n, err
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
