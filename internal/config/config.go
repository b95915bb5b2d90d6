// Package config is the small option surface described in spec.md §6
// ("mount(source_directory, mount_point, verbose?, checksum_db_path?,
// uid?, gid?)"), bound to command-line flags. Grounded on
// backend/kvfs/kvfs.go's Options-struct-plus-registered-defaults idiom
// (there: fs.Option{Name, Help, Default} entries consumed by
// configstruct.Set into an Options struct); translated here to
// github.com/spf13/pflag struct-field binding since freezefs is a single
// binary with one command, not a multi-backend registry.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// defaultChecksumDBName is appended when ChecksumDBPath names a directory
// rather than a file, per spec.md §6's mount() default.
const defaultChecksumDBName = "freezefs.db"

// Config is the fully resolved set of options spec.md §6's mount()
// invocation needs.
type Config struct {
	SourceDir      string
	MountPoint     string
	Verbose        bool
	ChecksumDBPath string
	UID            int
	GID            int
}

// RegisterFlags binds Config's optional fields to fs, following the
// kvfs.go Options pattern of one Help string and one Default per field.
// SourceDir and MountPoint are positional (see cmd/freezefs) and are not
// registered here.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log debug-level detail about scanning, mounting, and watcher activity")
	fs.StringVar(&cfg.ChecksumDBPath, "checksum-db", "", "path to the persistent checksum cache "+
		"(default: a platform user-cache directory, filename freezefs.db)")
	fs.IntVar(&cfg.UID, "uid", os.Geteuid(), "uid reported for virtual files (default: caller's effective uid)")
	fs.IntVar(&cfg.GID, "gid", os.Getegid(), "gid reported for virtual files (default: caller's effective gid)")
}

// Resolve fills in defaults that depend on the running environment
// (the checksum db path) and validates the two positional arguments,
// matching spec.md §6's default resolution rule: "checksum_db_path = a
// platform-user cache location with filename freezefs.db (if a directory
// is supplied, the default filename is appended)".
func Resolve(cfg *Config, sourceDir, mountPoint string) (Config, error) {
	out := *cfg
	out.SourceDir = sourceDir
	out.MountPoint = mountPoint

	if out.SourceDir == "" {
		return Config{}, errors.New("config: source directory is required")
	}
	if out.MountPoint == "" {
		return Config{}, errors.New("config: mount point is required")
	}

	if out.ChecksumDBPath == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return Config{}, errors.Wrap(err, "config: cannot determine user cache directory")
		}
		out.ChecksumDBPath = filepath.Join(dir, "freezefs", defaultChecksumDBName)
	} else if isDir(out.ChecksumDBPath) {
		out.ChecksumDBPath = filepath.Join(out.ChecksumDBPath, defaultChecksumDBName)
	}

	return out, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
