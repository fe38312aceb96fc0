//go:build linux

package msr

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDevicePath(t *testing.T) {
	assert.Equal(t, "/dev/cpu/3/msr", devicePath(3))
}

// TestOpen_MissingDevice exercises the error path without requiring
// root or the msr kernel module — most CI and dev sandboxes have
// neither, so every other *CPU method is validated indirectly through
// platform/manycore's fake-backed tests instead.
func TestOpen_MissingDevice(t *testing.T) {
	if _, err := os.Stat("/dev/cpu/0/msr"); err == nil {
		t.Skip("msr device present; skipping missing-device path")
	}
	_, err := Open(0)
	assert.Error(t, err)
}
