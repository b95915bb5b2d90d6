// Package index implements the three interlocking maps (plus the
// freezetag reverse index and inactive-freezetag queue) described in
// spec.md §3 and §4.4, grounded on
// original_source/freezetag/freezefs.py's path_map/checksum_map/
// abs_path_map/freezetag_map/inactive_freezetags and their mutators.
package index

import (
	"os"
	"path"
	"sync"

	"github.com/pkg/errors"

	"github.com/freezefs/freezefs/internal/checksum"
	"github.com/freezefs/freezefs/internal/checksumstore"
	"github.com/freezefs/freezefs/internal/flog"
	"github.com/freezefs/freezefs/internal/freezetag"
	"github.com/freezefs/freezefs/internal/ftagcache"
	"github.com/freezefs/freezefs/internal/metadataparser"
)

// ErrNotFound is returned by lookups that find no node, an item that is
// not live, or a freezetag entry that doesn't claim the requested path
// (spec.md §7 "NotFound").
var ErrNotFound = errors.New("index: not found")

// Index owns the index_lock described in spec.md §5: it is held for the
// full duration of any mutator and briefly during read-pipeline lookups.
type Index struct {
	mu sync.Mutex

	root               *treeNode
	checksumMap        map[checksum.Checksum]*FrozenItem
	absPathMap         map[string]*FrozenItem
	freezetagMap       map[string]*freezetagMapEntry
	inactiveFreezetags []inactiveEntry

	store *checksumstore.Store
	ftags *ftagcache.Cache
}

// New builds an empty Index backed by store for checksum persistence and
// ftags for freezetag caching (see internal/ftagcache).
func New(store *checksumstore.Store, ftags *ftagcache.Cache) *Index {
	return &Index{
		root:         newTreeNode(),
		checksumMap:  make(map[checksum.Checksum]*FrozenItem),
		absPathMap:   make(map[string]*FrozenItem),
		freezetagMap: make(map[string]*freezetagMapEntry),
		store:        store,
		ftags:        ftags,
	}
}

// NewFtagLoader returns the loader function ftagcache.New expects,
// delegating to freezetag.Load.
func NewFtagLoader() func(string) (freezetag.Freezetag, error) {
	return freezetag.Load
}

// Lock/Unlock expose the index_lock to callers that need to hold it
// across a lookup and a subsequent ftagcache
// operation, matching spec.md §5's lock-ordering rule that index_lock
// may be acquired before freezetag_ref_lock, never the reverse.
func (idx *Index) Lock()   { idx.mu.Lock() }
func (idx *Index) Unlock() { idx.mu.Unlock() }

// --- lookups ---

// getNode resolves a virtual path to its tree node. Caller must hold
// idx.mu.
func (idx *Index) getNode(p string) *treeNode {
	node := idx.root
	for _, part := range splitPath(p) {
		next, ok := node.children[part]
		if !ok {
			return nil
		}
		node = next
	}
	return node
}

// Resolve returns the live FrozenItem at virtual path p, or ErrNotFound.
func (idx *Index) Resolve(p string) (*FrozenItem, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.resolveLocked(p)
}

func (idx *Index) resolveLocked(p string) (*FrozenItem, error) {
	node := idx.getNode(p)
	if node == nil || !node.isLeaf() {
		return nil, ErrNotFound
	}
	if !node.item.Live() {
		return nil, ErrNotFound
	}
	return node.item, nil
}

// IsDir reports whether p resolves to an internal (directory) node, live
// root included.
func (idx *Index) IsDir(p string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	node := idx.getNode(p)
	return node != nil && !node.isLeaf()
}

// Readdir lists the live children of directory path p, per spec.md §4.5
// "Readdir" (skips non-live FrozenItem children, invariant I4).
func (idx *Index) Readdir(p string) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	node := idx.getNode(p)
	if node == nil || node.isLeaf() {
		return nil, ErrNotFound
	}
	names := make([]string, 0, len(node.children))
	for name, child := range node.children {
		if child.isLeaf() && !child.item.Live() {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// AcquireFreezetag resolves a freezetag through the ftag cache, pinning
// it with an open reference, for use by the read pipeline's Open (spec.md
// §4.5 step 5). It does not take idx.mu, and callers need not hold it;
// ftagcache.Cache.Acquire takes its own internal lock, which is always the
// innermost one, so index_lock is never acquired after freezetag_ref_lock
// (spec.md §5's lock-ordering rule).
func (idx *Index) AcquireFreezetag(srcPath string) (freezetag.Freezetag, error) {
	return idx.ftags.Acquire(srcPath)
}

// ReleaseFreezetag drops an open reference acquired via AcquireFreezetag,
// per spec.md §4.5 "Release".
func (idx *Index) ReleaseFreezetag(srcPath string) {
	idx.ftags.Release(srcPath)
}

// FindFreezetagEntry returns the FreezetagEntry of item whose VirtualPath
// equals p, or false if none claims it (spec.md §4.5 steps 1-3, 9's open
// question: first match in insertion order wins).
func FindFreezetagEntry(item *FrozenItem, p string) (FreezetagEntry, bool) {
	for _, e := range item.Freezetags {
		if e.VirtualPath == p {
			return e, true
		}
	}
	return FreezetagEntry{}, false
}

// --- content file mutators ---

// AddContentFile implements spec.md §4.4 add_content_file.
func (idx *Index) AddContentFile(absPath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fi, err := os.Stat(absPath)
	if err != nil {
		flog.Errorf("index: cannot stat content file %q: %v", absPath, err)
		return
	}
	dev, ino, mtime := statIdentity(fi)

	var sum checksum.Checksum
	var layout checksum.Layout
	var strippedLen int64

	if rec, ok := idx.store.Get(dev, ino, mtime); ok {
		flog.Debugf("index: adding cached content file %q", absPath)
		sum, layout, strippedLen = rec.Checksum, rec.Layout, rec.StrippedLen
	} else {
		res, err := metadataparser.Parse(absPath)
		if err != nil {
			flog.Errorf("index: cannot parse content file %q: %v", absPath, err)
			return
		}
		sum = res.Checksum
		layout = res.Layout
		strippedLen = layout.TotalLen()
		if err := idx.store.Put(dev, ino, mtime, checksumstore.Record{
			Checksum:    sum,
			Layout:      layout,
			StrippedLen: strippedLen,
		}); err != nil {
			flog.Errorf("index: cannot persist checksum for %q: %v", absPath, err)
		}
		flog.Debugf("index: adding new content file %q", absPath)
	}

	entry := ContentFileEntry{AbsolutePath: absPath, StrippedLayout: layout, StrippedLen: strippedLen}
	item := idx.getOrCreateItem(sum)
	item.Files = append(item.Files, entry)
	idx.absPathMap[absPath] = item
}

// RemoveContentFile implements spec.md §4.4 remove_content_file.
func (idx *Index) RemoveContentFile(absPath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	item, ok := idx.absPathMap[absPath]
	if !ok {
		return
	}
	for i, e := range item.Files {
		if e.AbsolutePath == absPath {
			item.Files = append(item.Files[:i], item.Files[i+1:]...)
			break
		}
	}
	idx.danglingCleanup(item, "", absPath)
}

// RenameContentFile implements spec.md §4.4's content-file rename.
func (idx *Index) RenameContentFile(src, dst string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	item, ok := idx.absPathMap[src]
	if !ok {
		return
	}
	delete(idx.absPathMap, src)
	idx.absPathMap[dst] = item
	for i, e := range item.Files {
		if e.AbsolutePath == src {
			item.Files[i].AbsolutePath = dst
		}
	}
}

// --- freezetag mutators ---

// AddFreezetag implements spec.md §4.4 add_freezetag.
func (idx *Index) AddFreezetag(srcPath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addFreezetagLocked(srcPath)
}

func (idx *Index) addFreezetagLocked(srcPath string) {
	ftag, err := idx.ftags.Load(srcPath)
	if err != nil {
		flog.Errorf("index: cannot parse freezetag %q: %v", srcPath, err)
		return
	}

	root := "/" + ftag.Root
	if node := idx.getNode(root); node != nil {
		flog.Logf("index: cannot mount %q at %q: already mounted by another freezetag", srcPath, root)
		idx.inactiveFreezetags = append(idx.inactiveFreezetags, inactiveEntry{root: root, sourcePath: srcPath})
		return
	}

	mapEntry := &freezetagMapEntry{root: root}
	idx.freezetagMap[srcPath] = mapEntry

	for _, f := range ftag.Files {
		virtualPath := path.Join(root, f.Path)
		frozenLen := f.Metadata.TotalLen()
		entry := FreezetagEntry{FreezetagSourcePath: srcPath, VirtualPath: virtualPath, FrozenLen: frozenLen}
		idx.addFreezetagEntry(f.Checksum, entry)
		mapEntry.checksums = append(mapEntry.checksums, f.Checksum)
	}
}

// addFreezetagEntry implements spec.md §4.4's _add_freezetag_entry:
// appends the entry to the item and creates the corresponding leaf in
// the path tree.
func (idx *Index) addFreezetagEntry(sum checksum.Checksum, entry FreezetagEntry) {
	item := idx.getOrCreateItem(sum)
	item.Freezetags = append(item.Freezetags, entry)

	parts := splitPath(entry.VirtualPath)
	node := idx.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := node.children[part]
		if !ok {
			next = newTreeNode()
			node.children[part] = next
		}
		node = next
	}
	leaf := newTreeNode()
	leaf.item = item
	node.children[parts[len(parts)-1]] = leaf
}

// RemoveFreezetag implements spec.md §4.4 remove_freezetag.
func (idx *Index) RemoveFreezetag(srcPath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ftags.ForcePurge(srcPath)

	if idx.removeFromInactive(srcPath) {
		return
	}

	mapEntry, ok := idx.freezetagMap[srcPath]
	if !ok {
		return
	}

	for _, sum := range mapEntry.checksums {
		item, ok := idx.checksumMap[sum]
		if !ok {
			continue
		}
		for i, e := range item.Freezetags {
			if e.FreezetagSourcePath == srcPath {
				vpath := e.VirtualPath
				item.Freezetags = append(item.Freezetags[:i], item.Freezetags[i+1:]...)
				idx.danglingCleanup(item, vpath, "")
				break
			}
		}
	}
	delete(idx.freezetagMap, srcPath)

	idx.promoteInactive(mapEntry.root)
}

// RenameFreezetag implements spec.md §4.4's freezetag rename.
func (idx *Index) RenameFreezetag(src, dst string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ftags.ForcePurge(src)
	idx.ftags.RenameRef(src, dst)

	for i := range idx.inactiveFreezetags {
		if idx.inactiveFreezetags[i].sourcePath == src {
			idx.inactiveFreezetags[i].sourcePath = dst
			return
		}
	}

	mapEntry, ok := idx.freezetagMap[src]
	if !ok {
		return
	}
	delete(idx.freezetagMap, src)
	idx.freezetagMap[dst] = mapEntry

	for _, sum := range mapEntry.checksums {
		item, ok := idx.checksumMap[sum]
		if !ok {
			continue
		}
		for i, e := range item.Freezetags {
			if e.FreezetagSourcePath == src {
				item.Freezetags[i].FreezetagSourcePath = dst
			}
		}
	}
}

func (idx *Index) removeFromInactive(srcPath string) bool {
	for i, ent := range idx.inactiveFreezetags {
		if ent.sourcePath == srcPath {
			idx.inactiveFreezetags = append(idx.inactiveFreezetags[:i], idx.inactiveFreezetags[i+1:]...)
			return true
		}
	}
	return false
}

// promoteInactive promotes the first queued inactive freezetag that
// targets root, per spec.md §4.4's remove_freezetag final step.
func (idx *Index) promoteInactive(root string) {
	for i, ent := range idx.inactiveFreezetags {
		if ent.root == root {
			idx.inactiveFreezetags = append(idx.inactiveFreezetags[:i], idx.inactiveFreezetags[i+1:]...)
			idx.addFreezetagLocked(ent.sourcePath)
			return
		}
	}
}

// --- shared helpers ---

func (idx *Index) getOrCreateItem(sum checksum.Checksum) *FrozenItem {
	item, ok := idx.checksumMap[sum]
	if !ok {
		item = &FrozenItem{Checksum: sum}
		idx.checksumMap[sum] = item
	}
	return item
}

// danglingCleanup implements spec.md §4.4's dangling-cleanup: drops the
// checksum_map entry if the item became fully empty, prunes now-empty
// path_tree branches, and drops the abs_path_map entry if its files are
// now empty.
func (idx *Index) danglingCleanup(item *FrozenItem, vpath, absPath string) {
	if len(item.Freezetags) == 0 && len(item.Files) == 0 {
		delete(idx.checksumMap, item.Checksum)
	}

	if vpath != "" && !stillClaims(item, vpath) {
		idx.pruneEmptyBranch(vpath)
	}

	if absPath != "" && len(item.Files) == 0 {
		delete(idx.absPathMap, absPath)
	}
}

func stillClaims(item *FrozenItem, vpath string) bool {
	for _, e := range item.Freezetags {
		if e.VirtualPath == vpath {
			return true
		}
	}
	return false
}

// pruneEmptyBranch walks from the leaf at vpath toward the root,
// deleting each now-empty directory, stopping at the first non-empty
// parent.
func (idx *Index) pruneEmptyBranch(vpath string) {
	parts := splitPath(vpath)
	if len(parts) == 0 {
		return
	}
	chain := []*treeNode{idx.root}
	node := idx.root
	for _, part := range parts {
		next, ok := node.children[part]
		if !ok {
			return
		}
		chain = append(chain, next)
		node = next
	}
	for i := len(parts); i > 0; i-- {
		parent := chain[i-1]
		delete(parent.children, parts[i-1])
		if len(parent.children) > 0 {
			break
		}
	}
}

