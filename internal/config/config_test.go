package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezefs/freezefs/internal/config"
)

func TestResolveRequiresSourceAndMountPoint(t *testing.T) {
	var cfg config.Config
	_, err := config.Resolve(&cfg, "", "/mnt")
	assert.Error(t, err)

	_, err = config.Resolve(&cfg, "/src", "")
	assert.Error(t, err)
}

func TestResolveDefaultsChecksumDBToUserCacheDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)

	var cfg config.Config
	out, err := config.Resolve(&cfg, "/src", "/mnt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "freezefs", "freezefs.db"), out.ChecksumDBPath)
}

func TestResolveAppendsDefaultNameWhenGivenADirectory(t *testing.T) {
	dir := t.TempDir()
	var cfg config.Config
	cfg.ChecksumDBPath = dir
	out, err := config.Resolve(&cfg, "/src", "/mnt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "freezefs.db"), out.ChecksumDBPath)
}

func TestResolveKeepsExplicitFilePath(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "custom.db")
	var cfg config.Config
	cfg.ChecksumDBPath = explicit
	out, err := config.Resolve(&cfg, "/src", "/mnt")
	require.NoError(t, err)
	assert.Equal(t, explicit, out.ChecksumDBPath)
}

func TestRegisterFlagsBindsVerbose(t *testing.T) {
	var cfg config.Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs, &cfg)

	require.NoError(t, fs.Parse([]string{"--verbose"}))
	assert.True(t, cfg.Verbose)
}

func TestRegisterFlagsDefaultsUIDGIDToCaller(t *testing.T) {
	var cfg config.Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs, &cfg)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, os.Geteuid(), cfg.UID)
	assert.Equal(t, os.Getegid(), cfg.GID)
}
