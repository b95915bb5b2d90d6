// Package checksum holds the fixed-width identifiers and metadata layout
// types shared by every other package in freezefs.
package checksum

import "encoding/hex"

// Checksum is an opaque identifier of a content file's raw audio payload.
// Two content files with the same Checksum are interchangeable as far as
// the index is concerned.
type Checksum string

// String renders the checksum as hex for logging.
func (c Checksum) String() string {
	return hex.EncodeToString([]byte(c))
}

// Block is a byte range, in the coordinate space of the original (tagged)
// file, that was removed to produce the stripped content. Bytes holds the
// data that belongs at that position when reconstructing the original.
type Block struct {
	Offset int64
	Length int64
	Bytes  []byte
}

// Layout is an ordered sequence of Blocks with strictly increasing Offset
// values in the original file's coordinate space.
type Layout []Block

// TotalLen returns the sum of block lengths, i.e. how many bytes this
// layout adds on top of the stripped content.
func (l Layout) TotalLen() int64 {
	var n int64
	for _, b := range l {
		n += b.Length
	}
	return n
}
