package pool

import (
	"errors"
	"fmt"
	"io"
	"rmfs/filetype"
)

/*
	Pool is a flat byte arena described by an array of block headers. Every byte of the arena belongs to exactly one
	header: either an allocated block owned by a file, or a reserved extent that is free for allocation. Allocated
	blocks of one owner form a singly linked chain through Next, starting at the block flagged as Head. Header slots
	are scattered; array order says nothing about chain order.
*/

// BlockID is the index of a block header in the pool.
type BlockID int

// NoBlock terminates chains and marks missing blocks.
const NoBlock = BlockID(-1)

// Owner is the identifier of the file a block belongs to.
type Owner uint16

var (
	ErrOutOfSpace   = errors.New("pool is out of space")
	ErrInvalidBlock = errors.New("invalid block")
	ErrInvalidSize  = errors.New("invalid block size")
	ErrOffset       = errors.New("offset out of block bounds")
	ErrCorrupt      = errors.New("pool is corrupt")
)

type Block struct {
	Owner    Owner
	Category filetype.Category
	Offset   int
	Capacity int
	Used     int
	Next     BlockID
	Head     bool

	// Reserved blocks are free extents. They may still carry the owner of the block they used to be, so walks over
	// blocks of an owner must skip them.
	Reserved bool
}

// Slot is a header slot as it is persisted. Slots that are not Live hold no extent and are ready for reuse.
type Slot struct {
	Live  bool
	Block Block
}

type Pool struct {
	data      []byte
	slots     []Slot
	maxBlocks int
}

// New creates a pool of size bytes whose header array can describe at most maxBlocks extents. The array grows on
// demand, so maxBlocks is only a limit.
func New(size, maxBlocks int) *Pool {
	p := &Pool{
		data:      make([]byte, size),
		slots:     make([]Slot, 0),
		maxBlocks: maxBlocks,
	}

	if size > 0 && maxBlocks > 0 {
		p.slots = append(p.slots, Slot{
			Live: true,
			Block: Block{
				Offset:   0,
				Capacity: size,
				Next:     NoBlock,
				Reserved: true,
			},
		})
	}

	return p
}

// Allocate places a new chain head of size bytes for owner, first fit by lowest offset.
func (p *Pool) Allocate(size int, owner Owner, category filetype.Category) (BlockID, error) {
	id, err := p.place(size)
	if err != nil {
		return NoBlock, err
	}

	b := &p.slots[id].Block
	b.Owner = owner
	b.Category = category
	b.Head = true
	return id, nil
}

// AllocateLinked places a new block of size bytes and links it right after the given block, inheriting its owner
// and category.
func (p *Pool) AllocateLinked(after BlockID, size int) (BlockID, error) {
	if !p.allocated(after) {
		return NoBlock, fmt.Errorf("%w: %d", ErrInvalidBlock, after)
	}

	id, err := p.place(size)
	if err != nil {
		return NoBlock, err
	}

	prev := &p.slots[after].Block
	b := &p.slots[id].Block
	b.Owner = prev.Owner
	b.Category = prev.Category
	b.Head = false
	b.Next = prev.Next
	prev.Next = id

	return id, nil
}

// WriteAt copies as much of data as fits into the block starting at off. If off is beyond the used bytes of the
// block the gap is zero filled. Used bytes of a block never decrease by writing.
func (p *Pool) WriteAt(id BlockID, data []byte, off int) (int, error) {
	if !p.allocated(id) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBlock, id)
	}

	b := &p.slots[id].Block
	if off < 0 || off > b.Capacity {
		return 0, ErrOffset
	}

	if off > b.Used {
		clear(p.data[b.Offset+b.Used : b.Offset+off])
	}

	n := copy(p.data[b.Offset+off:b.Offset+b.Capacity], data)
	if off+n > b.Used {
		b.Used = off + n
	}

	return n, nil
}

// ReadAt reads used bytes of the block starting at off. It returns io.EOF when the block is exhausted before dst is
// filled.
func (p *Pool) ReadAt(id BlockID, dst []byte, off int) (int, error) {
	if !p.allocated(id) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBlock, id)
	}

	b := p.slots[id].Block
	if off < 0 {
		return 0, ErrOffset
	}

	if off >= b.Used {
		return 0, io.EOF
	}

	n := copy(dst, p.data[b.Offset+off:b.Offset+b.Used])
	if n < len(dst) {
		return n, io.EOF
	}

	return n, nil
}

// Split keeps the first at bytes of a block and releases the rest of its capacity to the pool.
func (p *Pool) Split(id BlockID, at int) error {
	if !p.allocated(id) {
		return fmt.Errorf("%w: %d", ErrInvalidBlock, id)
	}

	b := &p.slots[id].Block
	if at < 0 || at > b.Capacity {
		return ErrOffset
	}

	if at < b.Used {
		b.Used = at
	}

	if b.Capacity == at {
		return nil
	}

	start, length := b.Offset+at, b.Capacity-at

	// grow a free neighbour backwards instead of spending a header on the suffix
	if n := p.freeAt(start + length); n != NoBlock {
		b.Capacity = at
		p.slots[n].Block.Offset = start
		p.slots[n].Block.Capacity += length
		p.coalesce(n)
		return nil
	}

	s := p.newSlot()
	if s == NoBlock {
		// no header left to describe the suffix, the capacity stays with the block
		return nil
	}

	b = &p.slots[id].Block
	b.Capacity = at
	p.slots[s] = Slot{
		Live: true,
		Block: Block{
			Owner:    b.Owner,
			Offset:   start,
			Capacity: length,
			Next:     NoBlock,
			Reserved: true,
		},
	}
	p.coalesce(s)

	return nil
}

// Free returns a block to the pool. Its predecessor is linked to its successor, and if it was the head of its chain
// the successor becomes the head.
func (p *Pool) Free(id BlockID) error {
	if !p.allocated(id) {
		return fmt.Errorf("%w: %d", ErrInvalidBlock, id)
	}

	b := &p.slots[id].Block
	for i := range p.slots {
		s := &p.slots[i]
		if s.Live && !s.Block.Reserved && s.Block.Next == id {
			s.Block.Next = b.Next
		}
	}

	if b.Head && b.Next != NoBlock {
		p.slots[b.Next].Block.Head = true
	}

	b.Reserved = true
	b.Head = false
	b.Next = NoBlock
	b.Used = 0

	if b.Capacity == 0 {
		p.slots[id] = Slot{}
		return nil
	}

	p.coalesce(id)
	return nil
}

// Head finds the first block of the chain of owner.
func (p *Pool) Head(owner Owner) (BlockID, bool) {
	for i, s := range p.slots {
		if s.Live && !s.Block.Reserved && s.Block.Head && s.Block.Owner == owner {
			return BlockID(i), true
		}
	}

	return NoBlock, false
}

// Chain lists the blocks of owner in successor order.
func (p *Pool) Chain(owner Owner) []BlockID {
	res := make([]BlockID, 0)

	id, ok := p.Head(owner)
	if !ok {
		return res
	}

	for id != NoBlock && len(res) <= len(p.slots) {
		res = append(res, id)
		id = p.slots[id].Block.Next
	}

	return res
}

func (p *Pool) Block(id BlockID) (Block, error) {
	if id < 0 || int(id) >= len(p.slots) || !p.slots[id].Live {
		return Block{}, fmt.Errorf("%w: %d", ErrInvalidBlock, id)
	}

	return p.slots[id].Block, nil
}

// UsedSpace is the capacity held by allocated blocks.
func (p *Pool) UsedSpace() int64 {
	var n int64
	for _, s := range p.slots {
		if s.Live && !s.Block.Reserved {
			n += int64(s.Block.Capacity)
		}
	}
	return n
}

// FreeSpace is the capacity of all reserved extents. It can be fragmented.
func (p *Pool) FreeSpace() int64 {
	var n int64
	for _, s := range p.slots {
		if s.Live && s.Block.Reserved {
			n += int64(s.Block.Capacity)
		}
	}
	return n
}

func (p *Pool) Size() int {
	return len(p.data)
}

func (p *Pool) MaxBlocks() int {
	return p.maxBlocks
}

// place carves size bytes out of the lowest reserved extent that can hold them.
func (p *Pool) place(size int) (BlockID, error) {
	if size <= 0 {
		return NoBlock, ErrInvalidSize
	}

	fit := NoBlock
	for i, s := range p.slots {
		if !s.Live || !s.Block.Reserved || s.Block.Capacity < size {
			continue
		}
		if fit == NoBlock || s.Block.Offset < p.slots[fit].Block.Offset {
			fit = BlockID(i)
		}
	}

	if fit == NoBlock {
		return NoBlock, fmt.Errorf("%w: no extent of %d bytes", ErrOutOfSpace, size)
	}

	if p.slots[fit].Block.Capacity == size {
		p.slots[fit].Block = Block{
			Offset:   p.slots[fit].Block.Offset,
			Capacity: size,
			Next:     NoBlock,
		}
		return fit, nil
	}

	id := p.newSlot()
	if id == NoBlock {
		return NoBlock, fmt.Errorf("%w: no free block header", ErrOutOfSpace)
	}

	free := &p.slots[fit].Block
	p.slots[id] = Slot{
		Live: true,
		Block: Block{
			Offset:   free.Offset,
			Capacity: size,
			Next:     NoBlock,
		},
	}
	free.Offset += size
	free.Capacity -= size

	return id, nil
}

// newSlot returns an unused header slot, growing the header array up to maxBlocks.
func (p *Pool) newSlot() BlockID {
	for i, s := range p.slots {
		if !s.Live {
			return BlockID(i)
		}
	}

	if len(p.slots) >= p.maxBlocks {
		return NoBlock
	}

	p.slots = append(p.slots, Slot{})
	return BlockID(len(p.slots) - 1)
}

// coalesce merges the reserved extent at id with reserved extents directly before and after it.
func (p *Pool) coalesce(id BlockID) {
	b := p.slots[id].Block

	if prev := p.freeEndingAt(b.Offset, id); prev != NoBlock {
		p.slots[prev].Block.Capacity += b.Capacity
		p.slots[id] = Slot{}
		id = prev
		b = p.slots[id].Block
	}

	if next := p.freeAt(b.Offset + b.Capacity); next != NoBlock && next != id {
		p.slots[id].Block.Capacity += p.slots[next].Block.Capacity
		p.slots[next] = Slot{}
	}
}

func (p *Pool) freeAt(offset int) BlockID {
	for i, s := range p.slots {
		if s.Live && s.Block.Reserved && s.Block.Capacity > 0 && s.Block.Offset == offset {
			return BlockID(i)
		}
	}
	return NoBlock
}

func (p *Pool) freeEndingAt(offset int, except BlockID) BlockID {
	for i, s := range p.slots {
		if BlockID(i) == except {
			continue
		}
		if s.Live && s.Block.Reserved && s.Block.Capacity > 0 && s.Block.Offset+s.Block.Capacity == offset {
			return BlockID(i)
		}
	}
	return NoBlock
}

func (p *Pool) allocated(id BlockID) bool {
	return id >= 0 && int(id) < len(p.slots) && p.slots[id].Live && !p.slots[id].Block.Reserved
}
