package store

import (
	"fmt"
	"strings"
)

// Mode selects how the mutable regions are opened.
type Mode int

const (
	// ReadOnly maps regions copy-on-write. Writes stay in memory and are
	// discarded on close.
	ReadOnly Mode = iota
	// Staged reads regions fully into memory and rewrites them atomically
	// on close.
	Staged
	// Direct maps regions shared and writable; the kernel commits pages.
	Direct
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case Staged:
		return "staged"
	case Direct:
		return "direct"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "readonly", "read-only", "ro":
		return ReadOnly, nil
	case "staged", "memory":
		return Staged, nil
	case "direct", "mmap":
		return Direct, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}
