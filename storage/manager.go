package storage

import (
	"cosmossdk.io/log"
	"errors"
	"fmt"
	"os"
	"rmfs/common"
	"rmfs/filetype"
	"rmfs/names"
	"rmfs/pool"
)

// Handle refers to a slot of the open file table.
type Handle int

const InvalidHandle = Handle(-1)

type descriptor struct {
	handle   Handle
	id       names.ID
	cursor   int64
	size     int64
	category filetype.Category
	flags    int
	mode     os.FileMode

	// first caches the head of the chain; it is revalidated before use since another descriptor of the same file
	// may have created or released it.
	first pool.BlockID
}

func (d *descriptor) reset() {
	*d = descriptor{
		handle: InvalidHandle,
		first:  pool.NoBlock,
	}
}

func (d *descriptor) owner() pool.Owner {
	return pool.Owner(d.id)
}

// Manager is the file layer over a block store. It owns a fixed size table of open files and resolves file offsets
// into positions inside block chains.
//
// Manager is not safe for concurrent use. Opening the same name twice yields two independent descriptors sharing
// one chain; callers must coordinate their use.
type Manager struct {
	store  BlockStore
	dir    Directory
	files  []descriptor
	logger log.Logger
	stats  *common.Stats
}

func NewManager(store BlockStore, dir Directory, maxOpenFiles int, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	m := &Manager{
		store:  store,
		dir:    dir,
		files:  make([]descriptor, maxOpenFiles),
		logger: logger.With("module", "storage"),
		stats:  common.NewStats(),
	}

	for i := range m.files {
		m.files[i].reset()
	}
	return m
}

// Open opens name and returns a handle whose cursor is at the start of the file. If the name is unknown the file
// is created when flags has os.O_CREATE, in which case categories that pre-allocate get their first block right
// away. Flags and mode are kept on the descriptor but not enforced.
func (m *Manager) Open(name string, flags int, mode os.FileMode) (Handle, error) {
	slot := -1
	for i := range m.files {
		if m.files[i].handle == InvalidHandle {
			slot = i
			break
		}
	}

	if slot < 0 {
		return InvalidHandle, ErrTooManyOpenFiles
	}

	rec, err := m.dir.Find(name)
	if err != nil && !errors.Is(err, names.ErrNotFound) {
		return InvalidHandle, fmt.Errorf("looking up %q: %w", name, err)
	}

	if err != nil {
		if flags&os.O_CREATE == 0 {
			return InvalidHandle, fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return m.create(slot, name, flags, mode)
	}

	if rec.ID == names.InvalidID || rec.ID == names.ReservedID {
		return InvalidHandle, fmt.Errorf("%w: %q has identifier %d", ErrCorrupt, name, rec.ID)
	}

	d := &m.files[slot]
	d.reset()
	d.handle = Handle(slot)
	d.id = rec.ID
	d.size = rec.Size
	d.flags = flags
	d.mode = mode
	d.category = filetype.Normal

	// a file that was created but never written has no chain, which is fine
	if head, ok := m.store.Head(d.owner()); ok {
		b, err := m.store.Block(head)
		if err != nil {
			d.reset()
			return InvalidHandle, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		d.first = head
		d.category = b.Category
	}

	m.stats.Add("open", 0)
	m.logger.Debug("opened file", "name", name, "handle", d.handle, "id", d.id, "size", d.size, "category", d.category.String())
	return d.handle, nil
}

func (m *Manager) create(slot int, name string, flags int, mode os.FileMode) (Handle, error) {
	id, err := m.dir.Create(name)
	if errors.Is(err, names.ErrNoSpace) {
		return InvalidHandle, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	if errors.Is(err, names.ErrInvalidName) {
		return InvalidHandle, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err != nil {
		return InvalidHandle, fmt.Errorf("creating %q: %w", name, err)
	}

	category := filetype.Classify(name)
	first := pool.NoBlock

	if size := category.Prealloc(); size > 0 {
		first, err = m.store.Allocate(size, pool.Owner(id), category)
		if err != nil {
			if derr := m.dir.Delete(id); derr != nil {
				m.logger.Error("failed to drop name of unallocated file", "name", name, "id", id, "err", derr)
			}
			return InvalidHandle, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}
	}

	d := &m.files[slot]
	d.reset()
	d.handle = Handle(slot)
	d.id = id
	d.category = category
	d.flags = flags
	d.mode = mode
	d.first = first

	m.stats.Add("create", int64(category.Prealloc()))
	m.logger.Debug("created file", "name", name, "handle", d.handle, "id", id, "category", category.String())
	return d.handle, nil
}

// Close flushes the size of the file into the directory and releases the handle. Files of pre-allocating categories
// give back the capacity they did not use. The handle is released even when Close fails.
func (m *Manager) Close(h Handle) error {
	d, err := m.descriptor(h)
	if err != nil {
		return err
	}
	defer d.reset()

	rec, err := m.dir.ReadRecord(d.id)
	if err != nil {
		m.logger.Error("open file has no name record", "handle", h, "id", d.id, "err", err)
		return fmt.Errorf("%w: identifier %d: %v", ErrCorrupt, d.id, err)
	}

	rec.Size = d.size
	if err := m.dir.WriteRecord(d.id, rec); err != nil {
		return fmt.Errorf("%w: identifier %d: %v", ErrCorrupt, d.id, err)
	}

	if d.category.Prealloc() > 0 && m.capacity(d) > d.size {
		if err := m.truncate(d, d.size); err != nil {
			m.logger.Warn("failed to trim pre-allocated file on close", "handle", h, "id", d.id, "err", err)
		}
	}

	m.stats.Add("close", d.size)
	m.logger.Debug("closed file", "handle", h, "id", d.id, "size", d.size)
	return nil
}

// FileSize returns the logical size of an open file.
func (m *Manager) FileSize(h Handle) (int64, error) {
	d, err := m.descriptor(h)
	if err != nil {
		return 0, err
	}
	return d.size, nil
}

// EOF tells whether the cursor is exactly at the end of the file.
func (m *Manager) EOF(h Handle) (bool, error) {
	d, err := m.descriptor(h)
	if err != nil {
		return false, err
	}
	return d.cursor == d.size, nil
}

// Tell returns the cursor of an open file.
func (m *Manager) Tell(h Handle) (int64, error) {
	d, err := m.descriptor(h)
	if err != nil {
		return 0, err
	}
	return d.cursor, nil
}

// OpenCount is the number of occupied slots in the open file table.
func (m *Manager) OpenCount() int {
	n := 0
	for i := range m.files {
		if m.files[i].handle != InvalidHandle {
			n++
		}
	}
	return n
}

func (m *Manager) UsedSpace() int64 {
	return m.store.UsedSpace()
}

func (m *Manager) FreeSpace() int64 {
	return m.store.FreeSpace()
}

// Stats returns per operation counters.
func (m *Manager) Stats() []common.OpStat {
	return m.stats.Snapshot()
}

func (m *Manager) descriptor(h Handle) (*descriptor, error) {
	if h < 0 || int(h) >= len(m.files) || m.files[h].handle != h {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return &m.files[h], nil
}

// head returns the first block of the chain of d, refreshing the cached value.
func (m *Manager) head(d *descriptor) (pool.BlockID, bool) {
	if d.first != pool.NoBlock {
		b, err := m.store.Block(d.first)
		if err == nil && !b.Reserved && b.Head && b.Owner == d.owner() {
			return d.first, true
		}
	}

	id, ok := m.store.Head(d.owner())
	d.first = id
	return id, ok
}

// capacity sums the capacity of the chain of d.
func (m *Manager) capacity(d *descriptor) int64 {
	var total int64

	id, _ := m.head(d)
	for id != pool.NoBlock {
		b, err := m.store.Block(id)
		if err != nil {
			break
		}
		total += int64(b.Capacity)
		id = b.Next
	}
	return total
}
