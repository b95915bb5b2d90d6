package index

import "github.com/freezefs/freezefs/internal/checksum"

// ContentFileEntry is a physical content source for some checksum, per
// spec.md §3.
type ContentFileEntry struct {
	AbsolutePath   string
	StrippedLayout checksum.Layout
	StrippedLen    int64
}

// FreezetagEntry records how a checksum can be mounted under a virtual
// path, per spec.md §3.
type FreezetagEntry struct {
	FreezetagSourcePath string
	VirtualPath         string
	FrozenLen           int64
}

// FrozenItem is the fused index entry for one checksum, per spec.md §3.
type FrozenItem struct {
	Checksum   checksum.Checksum
	Freezetags []FreezetagEntry
	Files      []ContentFileEntry
}

// Live reports whether the item has at least one entry in both
// collections (spec.md invariant I4).
func (it *FrozenItem) Live() bool {
	return len(it.Freezetags) > 0 && len(it.Files) > 0
}

// freezetagMapEntry is the reverse index value described in spec.md §3's
// freezetag_map: the virtual root this freezetag owns, plus the
// checksums it contributed, in encounter order.
type freezetagMapEntry struct {
	root      string
	checksums []checksum.Checksum
}

// inactiveEntry is one (virtual_root, freezetag_source_path) pair held in
// spec.md §3's inactive_freezetags queue.
type inactiveEntry struct {
	root       string
	sourcePath string
}

// treeNode is one node of the PathTree (spec.md §3): a leaf holds item,
// an internal node holds children.
type treeNode struct {
	children map[string]*treeNode
	item     *FrozenItem
}

func newTreeNode() *treeNode {
	return &treeNode{children: make(map[string]*treeNode)}
}

func (n *treeNode) isLeaf() bool {
	return n.item != nil
}
