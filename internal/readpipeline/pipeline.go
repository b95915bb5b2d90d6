// Package readpipeline (continued): stat/open/read/release on top of the
// index and freezetag cache, per spec.md §4.5.
package readpipeline

import (
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/freezefs/freezefs/internal/checksum"
	"github.com/freezefs/freezefs/internal/flog"
	"github.com/freezefs/freezefs/internal/index"
)

// ErrNotFound mirrors index.ErrNotFound for callers that only import
// readpipeline (spec.md §7 "NotFound" -> ENOENT at the FUSE boundary).
var ErrNotFound = index.ErrNotFound

// Stat is what Pipeline.Stat returns for a leaf path: the data an FUSE
// getattr call needs, already size-adjusted per spec.md §4.5. It carries
// no uid/gid; the FUSE adapter fills those in.
type Stat struct {
	Size    int64
	ModTime int64 // unix nanoseconds, taken from the physical content file
	Mode    os.FileMode
}

// handleRecord is what Pipeline.fhMap stores per open handle, per
// spec.md §4.5 step 6 ("Allocate a handle id and record (virtual_file,
// freezetag_source_path_or_none)").
type handleRecord struct {
	vf                  *VirtualFile
	freezetagSourcePath string // "" if this handle holds no freezetag reference
}

// Pipeline implements spec.md §4.5's stat/open/read/release operations.
// Per spec.md §5, fhMap is conceptually touched only on the single FUSE
// dispatch thread and needs no lock there; Pipeline still guards it with
// a mutex so the type remains safe to exercise from concurrent tests and
// from hosts that do not serialize FUSE callbacks themselves.
type Pipeline struct {
	idx *index.Index

	mu    sync.Mutex
	fhMap map[string]*handleRecord
}

// New builds a Pipeline over idx.
func New(idx *index.Index) *Pipeline {
	return &Pipeline{idx: idx, fhMap: make(map[string]*handleRecord)}
}

// Stat implements spec.md §4.5 "Virtual-file stat" for a leaf path.
func (p *Pipeline) Stat(path string) (Stat, error) {
	item, err := p.idx.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	entry, ok := index.FindFreezetagEntry(item, path)
	if !ok {
		return Stat{}, ErrNotFound
	}
	contentEntry := item.Files[0]
	fi, err := os.Stat(contentEntry.AbsolutePath)
	if err != nil {
		return Stat{}, errors.Wrapf(err, "readpipeline: cannot stat %q", contentEntry.AbsolutePath)
	}
	size := fi.Size() + entry.FrozenLen - contentEntry.StrippedLen
	return Stat{Size: size, ModTime: fi.ModTime().UnixNano(), Mode: fi.Mode()}, nil
}

// Open implements spec.md §4.5 "Open": it resolves the virtual path,
// optionally pins and loads the owning freezetag, and returns an opaque
// handle id.
func (p *Pipeline) Open(path string) (string, error) {
	item, err := p.idx.Resolve(path)
	if err != nil {
		return "", err
	}
	contentEntry := item.Files[0]
	freezetagEntry, ok := index.FindFreezetagEntry(item, path)
	if !ok {
		return "", ErrNotFound
	}

	targetPath := stripRootComponents(freezetagEntry.VirtualPath)

	var metadata checksum.Layout
	var freezetagSourcePath string
	if freezetagEntry.FrozenLen > 0 {
		freezetagSourcePath = freezetagEntry.FreezetagSourcePath
		ftag, err := p.idx.AcquireFreezetag(freezetagSourcePath)
		if err != nil {
			return "", err
		}
		for _, f := range ftag.Files {
			if f.Checksum == item.Checksum {
				if f.Path == targetPath {
					metadata = f.Metadata
					break
				}
				// Matching checksum but different inner path: ignored,
				// per spec.md §4.5 step 5 ("log in verbose mode").
				flog.Debugf("readpipeline: ignoring checksum-only match %q for %q", f.Path, path)
			}
		}
	}

	vf, err := newVirtualFile(contentEntry.AbsolutePath, metadata, contentEntry.StrippedLayout)
	if err != nil {
		if freezetagSourcePath != "" {
			p.idx.ReleaseFreezetag(freezetagSourcePath)
		}
		return "", err
	}

	handle := uuid.NewString()
	p.mu.Lock()
	p.fhMap[handle] = &handleRecord{vf: vf, freezetagSourcePath: freezetagSourcePath}
	p.mu.Unlock()
	return handle, nil
}

// Read implements spec.md §4.5 "Read".
func (p *Pipeline) Read(handle string, buf []byte, offset int64) (int, error) {
	p.mu.Lock()
	rec, ok := p.fhMap[handle]
	p.mu.Unlock()
	if !ok {
		return 0, errors.Errorf("readpipeline: unknown handle %q", handle)
	}
	return rec.vf.ReadAt(buf, offset)
}

// Release implements spec.md §4.5 "Release".
func (p *Pipeline) Release(handle string) error {
	p.mu.Lock()
	rec, ok := p.fhMap[handle]
	if ok {
		delete(p.fhMap, handle)
	}
	p.mu.Unlock()
	if !ok {
		return errors.Errorf("readpipeline: unknown handle %q", handle)
	}
	if rec.freezetagSourcePath != "" {
		p.idx.ReleaseFreezetag(rec.freezetagSourcePath)
	}
	return rec.vf.Close()
}

// Readdir implements spec.md §4.5 "Readdir", prefixing the conventional
// "." and ".." entries.
func (p *Pipeline) Readdir(path string) ([]string, error) {
	children, err := p.idx.Readdir(path)
	if err != nil {
		return nil, err
	}
	return append([]string{".", ".."}, children...), nil
}

// stripRootComponents drops the leading "/" and root components of a
// virtual path, per spec.md §4.5 step 4: "Compute target_path from
// F.virtual_path by stripping the first two components".
func stripRootComponents(virtualPath string) string {
	trimmed := strings.TrimPrefix(virtualPath, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
