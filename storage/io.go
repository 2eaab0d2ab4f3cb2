package storage

import (
	"errors"
	"fmt"
	"io"
	"rmfs/pool"
)

/*
	A file is the concatenation of the used bytes of its blocks in chain order. Capacity beyond the used bytes of the
	last block is the only place a file grows into without allocating; spare capacity of any other block is dead and
	never becomes part of the file.
*/

// position is the result of resolving a cursor against a chain.
type position struct {
	// block holding the cursor, pool.NoBlock if the cursor lies past every block
	block pool.BlockID
	off   int

	// last is the last block walked and end is the number of file bytes held by the chain up to it.
	last pool.BlockID
	end  int64
}

// locate walks the chain of d and finds the block the cursor falls into. For writes, the tail block also matches
// when the cursor lands inside its spare capacity.
func (m *Manager) locate(d *descriptor, forWrite bool) (position, error) {
	pos := position{block: pool.NoBlock, last: pool.NoBlock}

	id, _ := m.head(d)
	for id != pool.NoBlock {
		b, err := m.store.Block(id)
		if err != nil {
			return pos, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if b.Reserved || b.Owner != d.owner() {
			return pos, fmt.Errorf("%w: block %d does not belong to identifier %d", ErrCorrupt, id, d.id)
		}

		before := pos.end
		pos.end += int64(b.Used)

		if pos.end > d.cursor {
			pos.block, pos.off = id, int(d.cursor-before)
			return pos, nil
		}

		if forWrite && b.Next == pool.NoBlock && b.Capacity > b.Used && d.cursor-before < int64(b.Capacity) {
			pos.block, pos.off = id, int(d.cursor-before)
			return pos, nil
		}

		pos.last = id
		id = b.Next
	}

	return pos, nil
}

// Write writes data at the cursor, overwriting used bytes and growing the file as needed. When the cursor is past
// the end of the file the gap reads back as zeros. If an allocation fails the bytes written so far stay in place
// and their count is returned along with ErrAllocationFailed.
func (m *Manager) Write(h Handle, data []byte) (int, error) {
	d, err := m.descriptor(h)
	if err != nil {
		return 0, err
	}

	written := 0
	for len(data) > 0 {
		pos, err := m.locate(d, true)
		if err != nil {
			return written, err
		}

		var n int
		var grown int64
		if pos.block != pool.NoBlock {
			n, grown, err = m.writeBlock(pos.block, data, pos.off)
		} else {
			n, grown, err = m.writeNewBlock(d, pos, data)
		}

		if err != nil {
			m.stats.Add("write", int64(written))
			return written, err
		}

		d.cursor += int64(n)
		d.size += grown
		written += n
		data = data[n:]
	}

	m.stats.Add("write", int64(written))
	return written, nil
}

// writeBlock writes into an existing block and reports how much its used bytes grew. Blocks with a successor are
// only overwritten within their used bytes.
func (m *Manager) writeBlock(id pool.BlockID, data []byte, off int) (int, int64, error) {
	b, err := m.store.Block(id)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	limit := b.Capacity - off
	if b.Next != pool.NoBlock {
		limit = b.Used - off
	}
	if limit < len(data) {
		data = data[:limit]
	}

	n, err := m.store.WriteAt(id, data, off)
	if err != nil {
		return n, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: block %d accepted no bytes at offset %d", ErrCorrupt, id, off)
	}

	after, err := m.store.Block(id)
	if err != nil {
		return n, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return n, int64(after.Used - b.Used), nil
}

// writeNewBlock allocates a block big enough for the gap between the end of the chain and the cursor plus data,
// either as the head of an empty chain or linked after its last block.
func (m *Manager) writeNewBlock(d *descriptor, pos position, data []byte) (int, int64, error) {
	gap := d.cursor - pos.end
	size := gap + int64(len(data))

	var id pool.BlockID
	var err error
	if pos.last == pool.NoBlock {
		id, err = m.store.Allocate(int(size), d.owner(), d.category)
	} else {
		id, err = m.store.AllocateLinked(pos.last, int(size))
	}

	if err != nil {
		m.logger.Debug("block allocation failed", "id", d.id, "size", size, "err", err)
		return 0, 0, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	if pos.last == pool.NoBlock {
		d.first = id
	}

	n, err := m.store.WriteAt(id, data, int(gap))
	if err != nil {
		return n, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return n, gap + int64(n), nil
}

// Read reads from the cursor into dst, following the chain until dst is full or the file ends. Reading at or past
// the end of the file returns 0 and no error.
func (m *Manager) Read(h Handle, dst []byte) (int, error) {
	d, err := m.descriptor(h)
	if err != nil {
		return 0, err
	}

	if d.cursor >= d.size || len(dst) == 0 {
		return 0, nil
	}

	if rem := d.size - d.cursor; int64(len(dst)) > rem {
		dst = dst[:rem]
	}

	pos, err := m.locate(d, false)
	if err != nil {
		return 0, err
	}

	read := 0
	id, off := pos.block, pos.off
	for id != pool.NoBlock && read < len(dst) {
		n, err := m.store.ReadAt(id, dst[read:], off)
		read += n
		if err != nil && !errors.Is(err, io.EOF) {
			d.cursor += int64(read)
			return read, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		b, err := m.store.Block(id)
		if err != nil {
			d.cursor += int64(read)
			return read, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		id, off = b.Next, 0
	}

	d.cursor += int64(read)
	m.stats.Add("read", int64(read))
	return read, nil
}

// Seek moves the cursor relative to the start (io.SeekStart), the cursor (io.SeekCurrent) or the end of the file
// (io.SeekEnd). Positions past the end are allowed and are filled with zeros by the next write.
func (m *Manager) Seek(h Handle, offset int64, whence int) (int64, error) {
	if offset < 0 && whence == io.SeekStart {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, offset)
	}

	d, err := m.descriptor(h)
	if err != nil {
		return 0, err
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.cursor + offset
	case io.SeekEnd:
		abs = d.size + offset
	default:
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidArgument, abs)
	}

	d.cursor = abs
	m.stats.Add("seek", 0)
	return abs, nil
}
