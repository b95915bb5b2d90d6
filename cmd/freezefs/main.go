// Command freezefs mounts a read-only virtual filesystem that
// reconstructs tagged music files on demand, per spec.md §6's
// "mount(source_directory, mount_point, verbose?, checksum_db_path?,
// uid?, gid?)" invocation. Grounded on backend/torrent/cmd/backend.go's
// cobra.Command{Use, Short, Run} shape and cmdFlags registration idiom.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/freezefs/freezefs/internal/checksumstore"
	"github.com/freezefs/freezefs/internal/config"
	"github.com/freezefs/freezefs/internal/flog"
	"github.com/freezefs/freezefs/internal/ftagcache"
	"github.com/freezefs/freezefs/internal/fuseadapter"
	"github.com/freezefs/freezefs/internal/index"
	"github.com/freezefs/freezefs/internal/readpipeline"
	"github.com/freezefs/freezefs/internal/watcher"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "freezefs source_directory mount_point",
	Short: "Mount a virtual filesystem that reconstructs tagged music files on demand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(args[0], args[1])
	},
}

func init() {
	config.RegisterFlags(rootCmd.Flags(), &cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMount(sourceDir, mountPoint string) error {
	// spec.md §7: "FUSE library missing at start-up: fatal; print install
	// instructions for the host OS and exit non-zero."
	if err := fuseadapter.CheckAvailable(); err != nil {
		return err
	}

	resolved, err := config.Resolve(&cfg, sourceDir, mountPoint)
	if err != nil {
		return err
	}
	flog.SetVerbose(resolved.Verbose)

	store, err := checksumstore.Open(resolved.ChecksumDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ftags := ftagcache.New(ftagcache.DefaultCapacity, ftagcache.DefaultKeepAlive, index.NewFtagLoader())
	idx := index.New(store, ftags)

	// watcher.New performs the initial recursive directory scan (a
	// deterministic, lexically sorted filepath.Walk per spec.md's
	// supplemented scan behavior) before it starts watching, dispatching
	// every existing content file and freezetag exactly as a later watcher
	// event would.
	flog.Noticef("freezefs: scanning %q", resolved.SourceDir)
	w, err := watcher.New(resolved.SourceDir, idx)
	if err != nil {
		return err
	}
	defer w.Close()
	go w.Run()

	pl := readpipeline.New(idx)
	adapter := fuseadapter.New(idx, pl, uint32(resolved.UID), uint32(resolved.GID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		flog.Noticef("freezefs: unmounting %q", resolved.MountPoint)
		cancel()
	}()

	return adapter.Mount(ctx, resolved.MountPoint)
}
