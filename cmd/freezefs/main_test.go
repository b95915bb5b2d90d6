package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmdRequiresTwoArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"onlyone"})
	err := rootCmd.Args(rootCmd, []string{"onlyone"})
	assert.Error(t, err)

	err = rootCmd.Args(rootCmd, []string{"src", "mnt"})
	assert.NoError(t, err)
}
