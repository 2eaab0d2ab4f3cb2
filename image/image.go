package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"io"
	"math"
	"os"
	"path/filepath"
	"rmfs/filetype"
	"rmfs/names"
	"rmfs/pool"
)

/*
	An image file is laid out as

		magic "RMFS" | version | 16 byte image id | snappy(body)

	and the body, all integers big endian, as

		pool size u64 | max blocks u32 | slot count u32 | slots... | arena bytes |
		max names u32 | record count u32 | records...

	A slot is live u8 | owner u16 | category u8 | offset u32 | capacity u32 | used u32 | next u32 | flags u8 where next
	is 0xFFFFFFFF for no successor. A record is name length u16 | name | id u16 | size u64.
*/

const (
	magic = "RMFS"

	// Version is the version of the image layout written by Save.
	Version byte = 1

	headerSize = len(magic) + 1 + 16
	slotSize   = 1 + 2 + 1 + 4 + 4 + 4 + 4 + 1
	noNext     = math.MaxUint32

	flagHead     = 1 << 0
	flagReserved = 1 << 1
)

var (
	ErrBadMagic = errors.New("not an rmfs image")
	ErrVersion  = errors.New("unsupported image version")
	ErrTooLarge = errors.New("value does not fit in image layout")
)

// Image is a pool and the directory naming its chains, as loaded from or saved to a file.
type Image struct {
	ID   uuid.UUID
	Pool *pool.Pool
	Dir  *names.Directory
}

// New creates an empty image with a fresh id.
func New(poolSize, maxBlocks, maxNames int) *Image {
	return &Image{
		ID:   uuid.New(),
		Pool: pool.New(poolSize, maxBlocks),
		Dir:  names.New(maxNames),
	}
}

func Save(w io.Writer, p *pool.Pool, d *names.Directory, id uuid.UUID) error {
	body, err := encodeBody(p, d)
	if err != nil {
		return err
	}

	header := make([]byte, 0, headerSize)
	header = append(header, magic...)
	header = append(header, Version)
	header = append(header, id[:]...)

	if _, err := w.Write(header); err != nil {
		return err
	}

	_, err = w.Write(snappy.Encode(nil, body))
	return err
}

func Load(r io.Reader) (*Image, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header", ErrBadMagic)
		}
		return nil, err
	}

	if string(header[:len(magic)]) != magic {
		return nil, ErrBadMagic
	}
	if v := header[len(magic)]; v != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}

	id, err := uuid.FromBytes(header[len(magic)+1:])
	if err != nil {
		return nil, err
	}

	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	body, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pool.ErrCorrupt, err)
	}

	img, err := decodeBody(body)
	if err != nil {
		return nil, err
	}

	img.ID = id
	return img, nil
}

// SaveFile writes the image next to path and renames it over path, so a crash never leaves a half written image.
func SaveFile(path string, img *Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Save(tmp, img.Pool, img.Dir, img.ID); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return img, nil
}

func encodeBody(p *pool.Pool, d *names.Directory) ([]byte, error) {
	slots, data := p.Snapshot()
	records := d.Records()

	if int64(len(data)) > math.MaxUint32 || int64(p.MaxBlocks()) > math.MaxUint32 || int64(d.MaxEntries()) > math.MaxUint32 {
		return nil, ErrTooLarge
	}

	res := make([]byte, 0, 16+len(slots)*slotSize+len(data)+8+len(records)*16)
	res = binary.BigEndian.AppendUint64(res, uint64(len(data)))
	res = binary.BigEndian.AppendUint32(res, uint32(p.MaxBlocks()))
	res = binary.BigEndian.AppendUint32(res, uint32(len(slots)))

	for _, s := range slots {
		b := s.Block

		next := uint32(noNext)
		if b.Next != pool.NoBlock {
			next = uint32(b.Next)
		}

		var flags byte
		if b.Head {
			flags |= flagHead
		}
		if b.Reserved {
			flags |= flagReserved
		}

		live := byte(0)
		if s.Live {
			live = 1
		}

		res = append(res, live)
		res = binary.BigEndian.AppendUint16(res, uint16(b.Owner))
		res = append(res, byte(b.Category))
		res = binary.BigEndian.AppendUint32(res, uint32(b.Offset))
		res = binary.BigEndian.AppendUint32(res, uint32(b.Capacity))
		res = binary.BigEndian.AppendUint32(res, uint32(b.Used))
		res = binary.BigEndian.AppendUint32(res, next)
		res = append(res, flags)
	}

	res = append(res, data...)

	res = binary.BigEndian.AppendUint32(res, uint32(d.MaxEntries()))
	res = binary.BigEndian.AppendUint32(res, uint32(len(records)))
	for _, r := range records {
		if len(r.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: name of %d bytes", ErrTooLarge, len(r.Name))
		}

		res = binary.BigEndian.AppendUint16(res, uint16(len(r.Name)))
		res = append(res, r.Name...)
		res = binary.BigEndian.AppendUint16(res, uint16(r.ID))
		res = binary.BigEndian.AppendUint64(res, uint64(r.Size))
	}

	return res, nil
}

// decoder reads big endian fields off a body and remembers the first overrun.
type decoder struct {
	data   []byte
	offset int
	err    error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.data)-d.offset < n {
		d.err = fmt.Errorf("%w: image body truncated at %d", pool.ErrCorrupt, d.offset)
		return nil
	}

	b := d.data[d.offset : d.offset+n]
	d.offset += n
	return b
}

func (d *decoder) u8() byte {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func decodeBody(body []byte) (*Image, error) {
	dec := &decoder{data: body}

	size := dec.u64()
	maxBlocks := int(dec.u32())
	count := int(dec.u32())
	if dec.err != nil {
		return nil, dec.err
	}

	if count > maxBlocks || size > uint64(len(body)) {
		return nil, fmt.Errorf("%w: header claims %d slots of %d and %d bytes", pool.ErrCorrupt, count, maxBlocks, size)
	}

	// slots, arena and the record table header must all fit in what is left of the body
	if need := uint64(count)*slotSize + size + 8; need > uint64(len(body)-dec.offset) {
		return nil, fmt.Errorf("%w: header claims %d bytes, body has %d", pool.ErrCorrupt, need, len(body)-dec.offset)
	}

	slots := make([]pool.Slot, count)
	for i := range slots {
		live := dec.u8()
		owner := dec.u16()
		category := filetype.Category(dec.u8())
		offset := dec.u32()
		capacity := dec.u32()
		used := dec.u32()
		next := dec.u32()
		flags := dec.u8()

		b := pool.Block{
			Owner:    pool.Owner(owner),
			Category: category,
			Offset:   int(offset),
			Capacity: int(capacity),
			Used:     int(used),
			Next:     pool.NoBlock,
			Head:     flags&flagHead != 0,
			Reserved: flags&flagReserved != 0,
		}
		if next != noNext {
			b.Next = pool.BlockID(next)
		}

		slots[i] = pool.Slot{Live: live == 1, Block: b}
	}

	data := dec.take(int(size))

	maxNames := int(dec.u32())
	recordCount := int(dec.u32())
	if dec.err != nil {
		return nil, dec.err
	}

	records := make([]names.Record, 0)
	for i := 0; i < recordCount && dec.err == nil; i++ {
		name := string(dec.take(int(dec.u16())))
		id := names.ID(dec.u16())
		recSize := dec.u64()

		records = append(records, names.Record{Name: name, ID: id, Size: int64(recSize)})
	}
	if dec.err != nil {
		return nil, dec.err
	}

	if dec.offset != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes in image body", pool.ErrCorrupt, len(body)-dec.offset)
	}

	p, err := pool.Restore(maxBlocks, slots, data)
	if err != nil {
		return nil, err
	}

	dir := names.New(maxNames)
	if err := dir.Restore(records); err != nil {
		return nil, fmt.Errorf("%w: %v", pool.ErrCorrupt, err)
	}

	return &Image{Pool: p, Dir: dir}, nil
}
