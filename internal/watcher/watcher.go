// Package watcher recursively watches the source directory tree and
// dispatches create/delete/move/modify events to an Index, per spec.md
// §4.6. Grounded on
// backend/local/changenotify_other.go's fsnotify.Watcher +
// moby/sys/mountinfo NFS guard, translated from rclone's
// accumulate-then-notify-on-tick model to freezefs's immediate per-event
// dispatch model: each filesystem event is translated and applied to the
// Index as soon as it's observed, since the Index (unlike rclone's VFS
// cache) has no separate poll-driven refresh cycle to batch against.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/sys/mountinfo"

	"github.com/freezefs/freezefs/internal/flog"
)

// renameGrace bounds how long a Rename event waits for the paired Create
// fsnotify's Linux backend delivers for the new name before the watcher
// gives up and treats it as a plain removal (e.g. the file was moved
// outside the watched tree, where no Create ever arrives).
const renameGrace = 200 * time.Millisecond

// Mutator is the subset of *index.Index the watcher dispatches events to.
// Declared as an interface so this package does not import internal/index
// directly, keeping the dependency edge one-directional per spec.md §4.4's
// module boundary.
type Mutator interface {
	AddContentFile(absPath string)
	RemoveContentFile(absPath string)
	RenameContentFile(src, dst string)
	AddFreezetag(srcPath string)
	RemoveFreezetag(srcPath string)
	RenameFreezetag(src, dst string)
}

// Watcher owns the recursive fsnotify subscription over one root
// directory and the goroutine that translates its events per spec.md
// §4.6.
type Watcher struct {
	root       string
	idx        Mutator
	fsw        *fsnotify.Watcher
	done       chan struct{}
	knownIsDir map[string]bool

	// pending tracks a file-rename's old path until either the paired
	// Create for its new name arrives (resolved via renameExpired with a
	// matching generation) or renameGrace elapses without one.
	pending       string
	pendingGen    uint64
	renameExpired chan pendingRenameTimeout
}

type pendingRenameTimeout struct {
	path string
	gen  uint64
}

// IsFreezetag reports whether name carries the freezetag suffix, matched
// case-insensitively per spec.md §4.6.
func IsFreezetag(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".ftag")
}

// New creates a Watcher over root, recursively subscribing every existing
// subdirectory, and performs the NFS-mount check described in spec.md's
// supplemented scan behavior (an NFS-mounted source cannot be reliably
// watched; original_source/freezetag/freezefs.py fails the mount outright
// in that case).
func New(root string, idx Mutator) (*Watcher, error) {
	if err := checkNotNFS(root); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:          root,
		idx:           idx,
		fsw:           fsw,
		done:          make(chan struct{}),
		knownIsDir:    make(map[string]bool),
		renameExpired: make(chan pendingRenameTimeout, 1),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// checkNotNFS mirrors changenotify_other.go's mountinfo.GetMounts guard.
func checkNotNFS(root string) error {
	infos, err := mountinfo.GetMounts(mountinfo.ParentsFilter(root))
	if err != nil {
		// Best-effort: if we cannot determine mount info, proceed and let
		// fsnotify itself fail if the filesystem genuinely can't be watched.
		return nil
	}
	for _, info := range infos {
		if info.FSType == "nfs" || info.FSType == "nfs4" {
			flog.Errorf("watcher: %q is NFS-mounted, recursive watching is unsupported", root)
			return errNFSUnsupported(root)
		}
	}
	return nil
}

type errNFSUnsupported string

func (e errNFSUnsupported) Error() string {
	return "watcher: NFS-mounted source not supported: " + string(e)
}

// addRecursive walks dir, registering every subdirectory (including dir
// itself) with fsnotify, matching spec.md §4.6's "subscribes recursively".
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			flog.Errorf("watcher: cannot walk %q: %v", p, err)
			return nil
		}
		if info.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				flog.Errorf("watcher: cannot watch %q: %v", p, err)
				return nil
			}
			w.knownIsDir[p] = true
		} else {
			w.knownIsDir[p] = false
			w.dispatchCreate(p)
		}
		return nil
	})
}

// Run starts the event-translation loop. It blocks until Close is called;
// callers should invoke it in its own goroutine, matching spec.md §5's
// "watcher callbacks run on a separate observer thread".
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			flog.Errorf("watcher: %v", err)
		case t := <-w.renameExpired:
			if w.pending == t.path && w.pendingGen == t.gen {
				w.pending = ""
				w.dispatchRemove(t.path)
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and its event loop.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// fsnotify's inotify backend delivers a rename within one watched
	// tree as Rename-on-the-old-name immediately followed by Create-on-
	// the-new-name (from the same underlying rename(2) syscall), with no
	// other event able to interleave between them. Only a Create can
	// therefore be the other half of a pending rename; any other event
	// means the rename never got a paired Create (moved outside the
	// tree, or the watch was torn down) and should resolve as a plain
	// removal.
	if w.pending != "" && !event.Has(fsnotify.Create) {
		w.finalizePendingRename()
	}

	switch {
	case event.Has(fsnotify.Create):
		w.handleCreate(event.Name)
	case event.Has(fsnotify.Remove):
		w.handleRemove(event.Name)
	case event.Has(fsnotify.Rename):
		// spec.md §4.6: "Moved (file, not directory): rename flows
		// above." Hold the old path as pending rather than dispatching
		// a remove immediately, so the paired Create below can resolve
		// it into one RenameContentFile/RenameFreezetag call instead of
		// a remove+create pair that would transiently hide the file.
		w.handleRename(event.Name)
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		// spec.md §4.6: "Modified: equivalent to Deleted then Created on
		// the same path."
		w.handleRemove(event.Name)
		w.handleCreate(event.Name)
	}
}

// handleRename records p as awaiting its paired Create. p being a
// directory is the one case handleEvent's pending-finalize pass above
// can't cover (a renamed directory is never held pending at all, since
// directory events are ignored per spec.md §4.6 and directories get no
// paired Create the way files do).
func (w *Watcher) handleRename(p string) {
	wasDir, known := w.knownIsDir[p]
	if known {
		delete(w.knownIsDir, p)
	}
	if known && wasDir {
		return
	}

	w.pending = p
	w.pendingGen++
	gen := w.pendingGen
	time.AfterFunc(renameGrace, func() {
		select {
		case w.renameExpired <- pendingRenameTimeout{path: p, gen: gen}:
		case <-w.done:
		}
	})
}

// finalizePendingRename dispatches the pending rename's old path as a
// plain removal, used when no matching Create arrived.
func (w *Watcher) finalizePendingRename() {
	if w.pending == "" {
		return
	}
	old := w.pending
	w.pending = ""
	w.dispatchRemove(old)
}

func (w *Watcher) handleCreate(p string) {
	info, err := os.Lstat(p)
	if err != nil {
		flog.Errorf("watcher: cannot stat %q, already removed? %v", p, err)
		w.finalizePendingRename()
		return
	}
	if info.IsDir() {
		w.finalizePendingRename()
		w.knownIsDir[p] = true
		if err := w.fsw.Add(p); err != nil {
			flog.Errorf("watcher: cannot watch new directory %q: %v", p, err)
		}
		// New directories may already contain entries (e.g. a directory
		// moved in from elsewhere); pick those up too.
		if err := w.addRecursive(p); err != nil {
			flog.Errorf("watcher: cannot walk new directory %q: %v", p, err)
		}
		return
	}
	w.knownIsDir[p] = false

	if w.pending != "" {
		old := w.pending
		w.pending = ""
		w.dispatchRename(old, p)
		return
	}
	w.dispatchCreate(p)
}

func (w *Watcher) handleRemove(p string) {
	wasDir, known := w.knownIsDir[p]
	if known {
		delete(w.knownIsDir, p)
	}
	if known && wasDir {
		// Directories ignored per spec.md §4.6; fsnotify already drops
		// the watch on a removed directory automatically.
		return
	}
	w.dispatchRemove(p)
}

func (w *Watcher) dispatchCreate(p string) {
	if IsFreezetag(p) {
		flog.Debugf("watcher: freezetag created: %s", p)
		w.idx.AddFreezetag(p)
	} else {
		flog.Debugf("watcher: content file created: %s", p)
		w.idx.AddContentFile(p)
	}
}

func (w *Watcher) dispatchRemove(p string) {
	if IsFreezetag(p) {
		flog.Debugf("watcher: freezetag removed: %s", p)
		w.idx.RemoveFreezetag(p)
	} else {
		flog.Debugf("watcher: content file removed: %s", p)
		w.idx.RemoveContentFile(p)
	}
}

// dispatchRename resolves a paired Rename+Create into a single rename
// call, keyed on the old path's kind (a rename can't change whether a
// path is a freezetag mid-flight).
func (w *Watcher) dispatchRename(oldPath, newPath string) {
	if IsFreezetag(oldPath) {
		flog.Debugf("watcher: freezetag renamed: %s -> %s", oldPath, newPath)
		w.idx.RenameFreezetag(oldPath, newPath)
	} else {
		flog.Debugf("watcher: content file renamed: %s -> %s", oldPath, newPath)
		w.idx.RenameContentFile(oldPath, newPath)
	}
}
