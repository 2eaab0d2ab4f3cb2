package pool

import (
	"fmt"
	"sort"
)

// Snapshot returns copies of the header slots and of the arena.
func (p *Pool) Snapshot() ([]Slot, []byte) {
	slots := make([]Slot, len(p.slots))
	copy(slots, p.slots)

	data := make([]byte, len(p.data))
	copy(data, p.data)

	return slots, data
}

// Restore rebuilds a pool from a snapshot. Header slots keep their indexes, so block ids stay valid across a
// snapshot. Extents must cover the arena exactly once.
func Restore(maxBlocks int, slots []Slot, data []byte) (*Pool, error) {
	if len(slots) > maxBlocks {
		return nil, fmt.Errorf("%w: %d headers exceed maximum of %d", ErrCorrupt, len(slots), maxBlocks)
	}

	live := make([]Block, 0, len(slots))
	for i, s := range slots {
		if !s.Live {
			continue
		}

		b := s.Block
		if b.Offset < 0 || b.Capacity < 0 || b.Offset+b.Capacity > len(data) {
			return nil, fmt.Errorf("%w: block %d out of arena bounds", ErrCorrupt, i)
		}
		if b.Used < 0 || b.Used > b.Capacity {
			return nil, fmt.Errorf("%w: block %d uses %d of %d bytes", ErrCorrupt, i, b.Used, b.Capacity)
		}
		if !b.Category.Valid() {
			return nil, fmt.Errorf("%w: block %d has unknown category %d", ErrCorrupt, i, b.Category)
		}
		if b.Next != NoBlock {
			if b.Reserved || b.Next < 0 || int(b.Next) >= len(slots) || !slots[b.Next].Live ||
				slots[b.Next].Block.Reserved || slots[b.Next].Block.Owner != b.Owner {
				return nil, fmt.Errorf("%w: block %d links to invalid block %d", ErrCorrupt, i, b.Next)
			}
		}

		live = append(live, b)
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].Offset == live[j].Offset {
			return live[i].Capacity < live[j].Capacity
		}
		return live[i].Offset < live[j].Offset
	})

	end := 0
	for _, b := range live {
		if b.Offset != end {
			return nil, fmt.Errorf("%w: extents do not cover arena at offset %d", ErrCorrupt, end)
		}
		end = b.Offset + b.Capacity
	}
	if end != len(data) {
		return nil, fmt.Errorf("%w: extents do not cover arena at offset %d", ErrCorrupt, end)
	}

	if err := checkChains(slots); err != nil {
		return nil, err
	}

	p := &Pool{
		data:      make([]byte, len(data)),
		slots:     make([]Slot, len(slots)),
		maxBlocks: maxBlocks,
	}
	copy(p.data, data)
	copy(p.slots, slots)

	return p, nil
}

// checkChains makes sure every allocated block is reachable from exactly one head of its owner, which rules out
// cycles and shared tails.
func checkChains(slots []Slot) error {
	preds := make([]int, len(slots))
	heads := map[Owner]BlockID{}
	for i, s := range slots {
		if !s.Live || s.Block.Reserved {
			continue
		}
		if s.Block.Next != NoBlock {
			preds[s.Block.Next]++
		}
		if s.Block.Head {
			if _, ok := heads[s.Block.Owner]; ok {
				return fmt.Errorf("%w: owner %d has more than one head", ErrCorrupt, s.Block.Owner)
			}
			heads[s.Block.Owner] = BlockID(i)
		}
	}

	for i, s := range slots {
		if !s.Live || s.Block.Reserved {
			continue
		}
		if (s.Block.Head && preds[i] != 0) || (!s.Block.Head && preds[i] != 1) {
			return fmt.Errorf("%w: block %d is not on a single chain", ErrCorrupt, i)
		}
	}

	// with one predecessor per block a cycle can only be closed without any head on it
	seen := make([]bool, len(slots))
	for _, id := range heads {
		for id != NoBlock && !seen[id] {
			seen[id] = true
			id = slots[id].Block.Next
		}
	}
	for i, s := range slots {
		if s.Live && !s.Block.Reserved && !seen[i] {
			return fmt.Errorf("%w: block %d is not reachable from a head", ErrCorrupt, i)
		}
	}

	return nil
}
