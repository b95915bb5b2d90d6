// Package freezetag is the stateless freezetag-file loader described in
// spec.md §1 ("Out of scope" — the on-disk format reader, treated as
// returning a structured record) and §2 (dependency order item 3). The
// exact wire format is an external collaborator's concern; this package
// decodes the JSON shape described in spec.md §6 ("Freezetag file
// format").
package freezetag

import (
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/freezefs/freezefs/internal/checksum"
)

// FileRecord is one member file listed inside a freezetag: its relative
// path under root, the raw-content checksum it should match, and the
// metadata byte blocks needed to reconstruct the original file.
type FileRecord struct {
	Path     string          `json:"path"`
	Checksum checksum.Checksum `json:"checksum"`
	Metadata checksum.Layout `json:"metadata"`
}

// Freezetag is the fully decoded sidecar record for one logical album
// root.
type Freezetag struct {
	Root  string       `json:"root"`
	Files []FileRecord `json:"files"`
}

// wireFile mirrors FileRecord as it appears on disk: a hex-encoded
// checksum and metadata blocks in a JSON-friendly field layout; spec.md §6
// specifies (offset, length, bytes) per metadata block.
type wireFile struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"` // hex-encoded
	Metadata []struct {
		Offset int64  `json:"offset"`
		Length int64  `json:"length"`
		Bytes  []byte `json:"bytes"`
	} `json:"metadata"`
}

type wireFreezetag struct {
	Root  string     `json:"root"`
	Files []wireFile `json:"files"`
}

// Load parses the freezetag file at path into a Freezetag record.
func Load(path string) (Freezetag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Freezetag{}, errors.Wrapf(err, "freezetag: cannot read %q", path)
	}

	var wire wireFreezetag
	if err := json.Unmarshal(data, &wire); err != nil {
		return Freezetag{}, errors.Wrapf(err, "freezetag: cannot parse %q", path)
	}
	if wire.Root == "" {
		return Freezetag{}, errors.Errorf("freezetag: %q has empty root", path)
	}

	ftag := Freezetag{Root: wire.Root, Files: make([]FileRecord, 0, len(wire.Files))}
	for _, wf := range wire.Files {
		layout := make(checksum.Layout, 0, len(wf.Metadata))
		for _, m := range wf.Metadata {
			layout = append(layout, checksum.Block{Offset: m.Offset, Length: m.Length, Bytes: m.Bytes})
		}
		sum, err := hex.DecodeString(wf.Checksum)
		if err != nil {
			return Freezetag{}, errors.Wrapf(err, "freezetag: %q has invalid checksum for %q", path, wf.Path)
		}
		ftag.Files = append(ftag.Files, FileRecord{
			Path:     wf.Path,
			Checksum: checksum.Checksum(sum),
			Metadata: layout,
		})
	}
	return ftag, nil
}
