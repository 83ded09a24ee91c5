//go:build !unix

package store

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("memory mapping is not supported on this platform")

// mapFile falls back to an in-memory copy. Shared mappings cannot be
// emulated without losing writes, so they are refused.
func mapFile(path string, how access) ([]byte, error) {
	if how == accessShared {
		return nil, errNoMmap
	}
	return os.ReadFile(path)
}

func syncMapping([]byte) error { return nil }

func unmap([]byte) error { return nil }
