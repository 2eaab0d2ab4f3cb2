package storage

import (
	"errors"
	"fmt"
	"rmfs/filetype"
	"rmfs/names"
	"rmfs/pool"
)

// FileInfo describes a file without opening it.
type FileInfo struct {
	Name     string
	ID       names.ID
	Size     int64
	Category filetype.Category
}

// Unlink removes name and releases all of its blocks. Open descriptors of the file are not checked.
func (m *Manager) Unlink(name string) error {
	rec, err := m.dir.Find(name)
	if err != nil || rec.ID == names.InvalidID {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := m.release(pool.Owner(rec.ID)); err != nil {
		return err
	}

	if err := m.dir.DeleteByName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	m.stats.Add("unlink", rec.Size)
	m.logger.Debug("unlinked file", "name", name, "id", rec.ID)
	return nil
}

func (m *Manager) release(owner pool.Owner) error {
	id, ok := m.store.Head(owner)
	for ok {
		for id != pool.NoBlock {
			b, err := m.store.Block(id)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if err := m.store.Free(id); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			id = b.Next
		}

		id, ok = m.store.Head(owner)
	}

	return nil
}

// Rename moves the identifier and size of oldName to newName, so the chain follows the new name. An existing file
// named newName is unlinked first.
func (m *Manager) Rename(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("%w: empty target name", ErrInvalidArgument)
	}

	rec, err := m.dir.Find(oldName)
	if err != nil || rec.ID == names.InvalidID {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}

	if oldName == newName {
		return nil
	}

	if _, err := m.dir.Find(newName); err == nil {
		if err := m.Unlink(newName); err != nil {
			return err
		}
	}

	newID, err := m.dir.Create(newName)
	if errors.Is(err, names.ErrNoSpace) {
		return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	if err != nil {
		return fmt.Errorf("creating %q: %w", newName, err)
	}

	if err := m.dir.WriteRecord(newID, names.Record{Name: newName, ID: rec.ID, Size: rec.Size}); err != nil {
		if derr := m.dir.Delete(newID); derr != nil {
			m.logger.Error("failed to drop name of unfinished rename", "name", newName, "id", newID, "err", derr)
		}
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if err := m.dir.DeleteByName(oldName); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	m.stats.Add("rename", 0)
	m.logger.Debug("renamed file", "from", oldName, "to", newName, "id", rec.ID)
	return nil
}

// Stat describes name without taking a slot of the open file table. The directory only learns the size of a file
// on close, so while the file is open the largest size among its descriptors is reported instead.
func (m *Manager) Stat(name string) (FileInfo, error) {
	rec, err := m.dir.Find(name)
	if errors.Is(err, names.ErrNotFound) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("looking up %q: %w", name, err)
	}
	if rec.ID == names.InvalidID || rec.ID == names.ReservedID {
		return FileInfo{}, fmt.Errorf("%w: %q has identifier %d", ErrCorrupt, name, rec.ID)
	}

	info := FileInfo{
		Name:     name,
		ID:       rec.ID,
		Size:     rec.Size,
		Category: filetype.Normal,
	}

	open := false
	for i := range m.files {
		d := &m.files[i]
		if d.handle == InvalidHandle || d.id != rec.ID {
			continue
		}
		if !open || d.size > info.Size {
			info.Size = d.size
		}
		open = true
	}

	if head, ok := m.store.Head(pool.Owner(rec.ID)); ok {
		b, err := m.store.Block(head)
		if err != nil {
			return FileInfo{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		info.Category = b.Category
	}

	return info, nil
}

// Exists reports whether name is in the directory. An entry holding the invalid identifier is reported as
// ErrCorrupt rather than as missing.
func (m *Manager) Exists(name string) (bool, error) {
	rec, err := m.dir.Find(name)
	if errors.Is(err, names.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.ID == names.InvalidID {
		return false, fmt.Errorf("%w: %q has identifier 0", ErrCorrupt, name)
	}
	return true, nil
}

// ExistsDir is Exists for directory names. The namespace is flat, a directory exists only if a file of that exact
// name does.
func (m *Manager) ExistsDir(name string) (bool, error) {
	return m.Exists(name)
}

// FindPrefix returns the first file name starting with prefix.
func (m *Manager) FindPrefix(prefix string) (string, bool) {
	name, err := m.dir.FindPrefix(prefix)
	if err != nil {
		return "", false
	}
	return name, true
}

// List returns the names starting with prefix in the order they were created.
func (m *Manager) List(prefix string) []string {
	return m.dir.Names(prefix)
}

// OpenDir returns name unchanged; there is no directory iteration.
func (m *Manager) OpenDir(name string) string {
	return name
}

func (m *Manager) CloseDir(string) error {
	return nil
}

// Mkdir succeeds without doing anything since the namespace is flat.
func (m *Manager) Mkdir(string) error {
	return nil
}

func (m *Manager) Rmdir(string) error {
	return nil
}
