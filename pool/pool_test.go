package pool

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"rmfs/filetype"
	"testing"
)

func TestAllocate_Then_Write_And_Read(t *testing.T) {
	p := New(1<<10, 16)

	id, err := p.Allocate(64, 7, filetype.Normal)
	require.NoError(t, err)

	n, err := p.WriteAt(id, []byte("test"), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	n, err = p.ReadAt(id, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("test"), buf)

	b, err := p.Block(id)
	require.NoError(t, err)
	assert.Equal(t, Block{Owner: 7, Offset: 0, Capacity: 64, Used: 4, Next: NoBlock, Head: true}, b)

	assert.EqualValues(t, 64, p.UsedSpace())
	assert.EqualValues(t, 1<<10-64, p.FreeSpace())
}

func TestWriteAt_Clips_At_Capacity(t *testing.T) {
	p := New(1<<10, 16)
	id, err := p.Allocate(8, 1, filetype.Normal)
	require.NoError(t, err)

	n, err := p.WriteAt(id, []byte("0123456789"), 2)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	b, _ := p.Block(id)
	assert.Equal(t, 8, b.Used)

	// the gap before the first write is zero filled
	buf := make([]byte, 8)
	n, err = p.ReadAt(id, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, '0', '1', '2', '3', '4', '5'}, buf[:n])

	_, err = p.WriteAt(id, []byte("x"), 9)
	assert.ErrorIs(t, err, ErrOffset)

	n, err = p.WriteAt(id, []byte("x"), 8)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteAt_Overwrite_Does_Not_Shrink_Used(t *testing.T) {
	p := New(1<<10, 16)
	id, _ := p.Allocate(16, 1, filetype.Normal)

	_, err := p.WriteAt(id, []byte("testtest"), 0)
	require.NoError(t, err)
	_, err = p.WriteAt(id, []byte("TE"), 0)
	require.NoError(t, err)

	b, _ := p.Block(id)
	assert.Equal(t, 8, b.Used)

	buf := make([]byte, 16)
	n, err := p.ReadAt(id, buf, 0)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "TEsttest", string(buf[:n]))
}

func TestReadAt_Past_Used_Returns_EOF(t *testing.T) {
	p := New(1<<10, 16)
	id, _ := p.Allocate(16, 1, filetype.Normal)
	_, _ = p.WriteAt(id, []byte("test"), 0)

	buf := make([]byte, 4)
	n, err := p.ReadAt(id, buf, 2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
	assert.Equal(t, "st", string(buf[:n]))

	n, err = p.ReadAt(id, buf, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestAllocateLinked_Builds_Chain(t *testing.T) {
	p := New(1<<10, 16)
	head, err := p.Allocate(16, 3, filetype.RecordStore)
	require.NoError(t, err)

	// a foreign block between the two makes header order differ from chain order
	other, err := p.Allocate(16, 4, filetype.Normal)
	require.NoError(t, err)

	second, err := p.AllocateLinked(head, 32)
	require.NoError(t, err)

	b, _ := p.Block(second)
	assert.EqualValues(t, 3, b.Owner)
	assert.Equal(t, filetype.RecordStore, b.Category)
	assert.False(t, b.Head)

	assert.Equal(t, []BlockID{head, second}, p.Chain(3))
	assert.Equal(t, []BlockID{other}, p.Chain(4))
	assert.Empty(t, p.Chain(5))

	_, err = p.AllocateLinked(NoBlock, 8)
	assert.ErrorIs(t, err, ErrInvalidBlock)
}

func TestAllocate_Should_Fail_When_Out_Of_Space(t *testing.T) {
	p := New(64, 16)

	_, err := p.Allocate(65, 1, filetype.Normal)
	assert.ErrorIs(t, err, ErrOutOfSpace)

	_, err = p.Allocate(64, 1, filetype.Normal)
	require.NoError(t, err)
	assert.Zero(t, p.FreeSpace())

	_, err = p.Allocate(1, 2, filetype.Normal)
	assert.ErrorIs(t, err, ErrOutOfSpace)

	_, err = p.Allocate(0, 2, filetype.Normal)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestAllocate_Should_Fail_When_Headers_Are_Exhausted(t *testing.T) {
	p := New(1<<10, 2)

	_, err := p.Allocate(8, 1, filetype.Normal)
	require.NoError(t, err)

	// the remaining free extent needs the last header, so the next block has none left
	_, err = p.Allocate(8, 2, filetype.Normal)
	assert.ErrorIs(t, err, ErrOutOfSpace)

	// taking the whole remaining extent needs no new header
	_, err = p.Allocate(1<<10-8, 2, filetype.Normal)
	assert.NoError(t, err)
}

func TestFree_Coalesces_Neighbours(t *testing.T) {
	p := New(96, 16)
	a, _ := p.Allocate(32, 1, filetype.Normal)
	b, _ := p.Allocate(32, 2, filetype.Normal)
	c, _ := p.Allocate(32, 3, filetype.Normal)

	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(c))
	require.NoError(t, p.Free(b))

	assert.EqualValues(t, 96, p.FreeSpace())

	// only a single extent can hold the whole arena
	id, err := p.Allocate(96, 9, filetype.Normal)
	require.NoError(t, err)
	blk, _ := p.Block(id)
	assert.Equal(t, 0, blk.Offset)

	assert.ErrorIs(t, p.Free(NoBlock), ErrInvalidBlock)
}

func TestFree_Relinks_Chain(t *testing.T) {
	p := New(1<<10, 16)
	head, _ := p.Allocate(8, 1, filetype.Normal)
	mid, _ := p.AllocateLinked(head, 8)
	tail, _ := p.AllocateLinked(mid, 8)

	require.NoError(t, p.Free(mid))
	assert.Equal(t, []BlockID{head, tail}, p.Chain(1))

	require.NoError(t, p.Free(head))
	assert.Equal(t, []BlockID{tail}, p.Chain(1))

	b, _ := p.Block(tail)
	assert.True(t, b.Head)

	require.NoError(t, p.Free(tail))
	_, ok := p.Head(1)
	assert.False(t, ok)
}

func TestFree_Keeps_Stale_Owner_On_Reserved_Block(t *testing.T) {
	p := New(1<<10, 16)
	a, _ := p.Allocate(8, 1, filetype.Normal)
	_, _ = p.Allocate(8, 2, filetype.Normal)

	require.NoError(t, p.Free(a))

	b, err := p.Block(a)
	require.NoError(t, err)
	assert.True(t, b.Reserved)
	assert.EqualValues(t, 1, b.Owner)

	_, ok := p.Head(1)
	assert.False(t, ok)
}

func TestSplit_Releases_Suffix(t *testing.T) {
	p := New(1<<10, 16)
	id, _ := p.Allocate(100, 1, filetype.Normal)
	fence, _ := p.Allocate(10, 2, filetype.Normal)
	_, _ = p.WriteAt(id, bytes.Repeat([]byte{1}, 80), 0)

	require.NoError(t, p.Split(id, 30))

	b, _ := p.Block(id)
	assert.Equal(t, 30, b.Capacity)
	assert.Equal(t, 30, b.Used)
	assert.EqualValues(t, 40, p.UsedSpace())
	assert.EqualValues(t, 1<<10-40, p.FreeSpace())

	// released suffix sits between the block and the fence
	other, err := p.Allocate(70, 3, filetype.Normal)
	require.NoError(t, err)
	ob, _ := p.Block(other)
	assert.Equal(t, 30, ob.Offset)

	assert.ErrorIs(t, p.Split(id, 31), ErrOffset)
	require.NoError(t, p.Split(fence, 10))
}

func TestSplit_At_Zero_Keeps_Empty_Head(t *testing.T) {
	p := New(1<<10, 16)
	id, _ := p.Allocate(64, 1, filetype.InstallDescriptor)
	_, _ = p.WriteAt(id, []byte("0123456789"), 0)

	require.NoError(t, p.Split(id, 0))

	b, err := p.Block(id)
	require.NoError(t, err)
	assert.True(t, b.Head)
	assert.Zero(t, b.Used)
	assert.Zero(t, b.Capacity)
	assert.EqualValues(t, 1<<10, p.FreeSpace())

	// an empty block is released without leaving an extent behind
	require.NoError(t, p.Free(id))
	_, err = p.Block(id)
	assert.ErrorIs(t, err, ErrInvalidBlock)
}

func TestSplit_Without_Free_Header_Only_Shrinks_Used(t *testing.T) {
	p := New(64, 2)
	a, _ := p.Allocate(32, 1, filetype.Normal)
	b, _ := p.Allocate(32, 2, filetype.Normal)
	_, _ = p.WriteAt(a, bytes.Repeat([]byte{1}, 32), 0)
	_, _ = p.WriteAt(b, bytes.Repeat([]byte{2}, 32), 0)

	require.NoError(t, p.Split(a, 10))

	blk, _ := p.Block(a)
	assert.Equal(t, 10, blk.Used)
	assert.Equal(t, 32, blk.Capacity)
}

func TestSnapshot_Restore(t *testing.T) {
	p := New(256, 8)
	head, _ := p.Allocate(32, 1, filetype.Settings)
	next, _ := p.AllocateLinked(head, 16)
	_, _ = p.WriteAt(head, []byte("hello"), 0)
	_, _ = p.WriteAt(next, []byte("world"), 0)

	slots, data := p.Snapshot()
	r, err := Restore(8, slots, data)
	require.NoError(t, err)

	assert.Equal(t, p.Chain(1), r.Chain(1))
	buf := make([]byte, 5)
	_, err = r.ReadAt(next, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))
	assert.Equal(t, p.FreeSpace(), r.FreeSpace())

	// the snapshot is a copy
	_, _ = p.WriteAt(next, []byte("W"), 0)
	_, _ = r.ReadAt(next, buf, 0)
	assert.Equal(t, "world", string(buf))
}

func TestRestore_Rejects_Corrupt_Headers(t *testing.T) {
	p := New(64, 4)
	a, _ := p.Allocate(16, 1, filetype.Normal)
	slots, data := p.Snapshot()

	overlapping := append([]Slot(nil), slots...)
	overlapping[a].Block.Capacity = 20
	_, err := Restore(4, overlapping, data)
	assert.ErrorIs(t, err, ErrCorrupt)

	overused := append([]Slot(nil), slots...)
	overused[a].Block.Used = 17
	_, err = Restore(4, overused, data)
	assert.ErrorIs(t, err, ErrCorrupt)

	dangling := append([]Slot(nil), slots...)
	dangling[a].Block.Next = 3
	_, err = Restore(4, dangling, data)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Restore(1, slots, data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRestore_Rejects_Broken_Chains(t *testing.T) {
	p := New(64, 8)
	a, _ := p.Allocate(8, 1, filetype.Normal)
	b, _ := p.AllocateLinked(a, 8)
	c, _ := p.AllocateLinked(b, 8)
	slots, data := p.Snapshot()

	_, err := Restore(8, slots, data)
	require.NoError(t, err)

	cycle := append([]Slot(nil), slots...)
	cycle[c].Block.Next = b
	_, err = Restore(8, cycle, data)
	assert.ErrorIs(t, err, ErrCorrupt)

	headless := append([]Slot(nil), slots...)
	headless[a].Block.Next = NoBlock
	headless[c].Block.Next = b
	_, err = Restore(8, headless, data)
	assert.ErrorIs(t, err, ErrCorrupt)

	twoHeads := append([]Slot(nil), slots...)
	twoHeads[c].Block.Head = true
	_, err = Restore(8, twoHeads, data)
	assert.ErrorIs(t, err, ErrCorrupt)
}
