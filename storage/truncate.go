package storage

import (
	"fmt"
	"rmfs/pool"
)

// Truncate shrinks an open file to size bytes. The block holding the new end is split and every block after it is
// released. Sizes at or beyond the current size leave the content alone; an equal size still returns the spare
// capacity of the chain to the pool.
func (m *Manager) Truncate(h Handle, size int64) error {
	d, err := m.descriptor(h)
	if err != nil {
		return err
	}

	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidArgument, size)
	}

	if size > d.size {
		return nil
	}

	if err := m.truncate(d, size); err != nil {
		return err
	}

	d.size = size
	m.stats.Add("truncate", size)
	m.logger.Debug("truncated file", "handle", h, "id", d.id, "size", size)
	return nil
}

func (m *Manager) truncate(d *descriptor, size int64) error {
	id, ok := m.head(d)
	if !ok {
		return nil
	}

	var end int64
	release := false
	for id != pool.NoBlock {
		b, err := m.store.Block(id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		next := b.Next

		if release {
			if err := m.store.Free(id); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			id = next
			continue
		}

		before := end
		end += int64(b.Used)

		// a new size on the end of a block keeps the whole block and only drops what follows
		if end >= size {
			if err := m.store.Split(id, int(size-before)); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			release = true
		}

		id = next
	}

	return nil
}
