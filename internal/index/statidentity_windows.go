//go:build windows

package index

import "os"

// statIdentity on Windows has no stable (dev, ino) pair available from a
// plain os.FileInfo without reopening the file for a
// GetFileInformationByHandle call; mtime alone is used as a best-effort
// key, matching the degraded precision spec.md §4.1 allows ("mtime
// precision is whatever the host exposes").
func statIdentity(fi os.FileInfo) (dev, ino uint64, mtime float64) {
	return 0, 0, float64(fi.ModTime().UnixNano()) / 1e9
}
