//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(path string, how access) ([]byte, error) {
	flag := os.O_RDONLY
	if how == accessShared {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, nil
	}

	prot := unix.PROT_READ
	flags := unix.MAP_SHARED
	switch how {
	case accessPrivate:
		// Writable in memory, never committed: the file is open read-only.
		prot |= unix.PROT_WRITE
		flags = unix.MAP_PRIVATE
	case accessShared:
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(f.Fd()), 0, int(info.Size()), prot, flags)
}

func syncMapping(b []byte) error {
	return unix.Msync(b, unix.MS_ASYNC)
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}
