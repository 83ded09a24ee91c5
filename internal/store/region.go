package store

import (
	"fmt"
	"os"
	"path/filepath"
)

type access int

const (
	// accessImmutable maps a region that is never written.
	accessImmutable access = iota
	// accessPrivate maps a region copy-on-write.
	accessPrivate
	// accessStaged reads a region into memory and writes it back on close.
	accessStaged
	// accessShared maps a region shared and writable.
	accessShared
)

func accessFor(m Mode) access {
	switch m {
	case Staged:
		return accessStaged
	case Direct:
		return accessShared
	}
	return accessPrivate
}

// region is one named binary file held in memory for the session.
type region struct {
	path   string
	data   []byte
	how    access
	mapped bool
}

func openRegion(path string, how access) (*region, error) {
	r := &region{path: path, how: how}
	if how == accessStaged {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading region %s: %w", filepath.Base(path), err)
		}
		r.data = data
		return r, nil
	}

	data, err := mapFile(path, how)
	if err != nil {
		return nil, fmt.Errorf("mapping region %s: %w", filepath.Base(path), err)
	}
	r.data = data
	r.mapped = len(data) > 0
	return r, nil
}

// flush asks the kernel to write dirty pages of a shared mapping.
func (r *region) flush() error {
	if r.how != accessShared || !r.mapped {
		return nil
	}
	return syncMapping(r.data)
}

func (r *region) close() error {
	if r.data == nil {
		return nil
	}
	var err error
	switch {
	case r.how == accessStaged:
		err = writeFileAtomic(r.path, r.data)
	case r.mapped:
		err = unmap(r.data)
	}
	r.data = nil
	r.mapped = false
	if err != nil {
		return fmt.Errorf("closing region %s: %w", filepath.Base(r.path), err)
	}
	return nil
}

// discard releases the region without writing staged data back.
func (r *region) discard() error {
	if r.data == nil {
		return nil
	}
	var err error
	if r.mapped {
		err = unmap(r.data)
	}
	r.data = nil
	r.mapped = false
	if err != nil {
		return fmt.Errorf("discarding region %s: %w", filepath.Base(r.path), err)
	}
	return nil
}

// writeFileAtomic replaces path with data via a temporary file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
