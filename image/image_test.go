package image

import (
	"bytes"
	"encoding/binary"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"rmfs/filetype"
	"rmfs/names"
	"rmfs/pool"
	"testing"
)

func populated(t *testing.T) *Image {
	img := New(1<<12, 32, 16)

	a, err := img.Dir.Create("a.jad")
	require.NoError(t, err)
	head, err := img.Pool.Allocate(64, pool.Owner(a), filetype.InstallDescriptor)
	require.NoError(t, err)
	next, err := img.Pool.AllocateLinked(head, 32)
	require.NoError(t, err)
	_, _ = img.Pool.WriteAt(head, bytes.Repeat([]byte("h"), 64), 0)
	_, _ = img.Pool.WriteAt(next, []byte("tail"), 0)
	require.NoError(t, img.Dir.WriteRecord(a, names.Record{ID: a, Size: 68}))

	b, err := img.Dir.Create("b")
	require.NoError(t, err)
	other, err := img.Pool.Allocate(16, pool.Owner(b), filetype.Normal)
	require.NoError(t, err)
	_, _ = img.Pool.WriteAt(other, []byte("bbb"), 0)
	require.NoError(t, img.Pool.Free(other))

	_, err = img.Dir.Create("c")
	require.NoError(t, err)

	return img
}

func TestSave_Then_Load(t *testing.T) {
	img := populated(t)

	buf := bytes.Buffer{}
	require.NoError(t, Save(&buf, img.Pool, img.Dir, img.ID))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	assert.Equal(t, img.ID, loaded.ID)
	assert.Equal(t, img.Dir.Records(), loaded.Dir.Records())
	assert.Equal(t, img.Dir.MaxEntries(), loaded.Dir.MaxEntries())
	assert.Equal(t, img.Pool.MaxBlocks(), loaded.Pool.MaxBlocks())
	assert.Equal(t, img.Pool.Size(), loaded.Pool.Size())

	slots, data := img.Pool.Snapshot()
	lslots, ldata := loaded.Pool.Snapshot()
	assert.Equal(t, slots, lslots)
	assert.Equal(t, data, ldata)

	rec, err := loaded.Dir.Find("a.jad")
	require.NoError(t, err)
	assert.EqualValues(t, 68, rec.Size)
	assert.Len(t, loaded.Pool.Chain(pool.Owner(rec.ID)), 2)
}

func TestSave_Then_Load_Empty_Image(t *testing.T) {
	img := New(256, 4, 0)

	buf := bytes.Buffer{}
	require.NoError(t, Save(&buf, img.Pool, img.Dir, img.ID))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Zero(t, loaded.Dir.Len())
	assert.EqualValues(t, 256, loaded.Pool.FreeSpace())
}

func TestLoad_Should_Reject_Foreign_Data(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("definitely not an image at all")))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Load(bytes.NewReader([]byte("RM")))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoad_Should_Reject_Other_Versions(t *testing.T) {
	img := populated(t)
	buf := bytes.Buffer{}
	require.NoError(t, Save(&buf, img.Pool, img.Dir, img.ID))

	raw := buf.Bytes()
	raw[len(magic)] = Version + 1

	_, err := Load(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrVersion)
}

func TestLoad_Should_Reject_Damaged_Body(t *testing.T) {
	img := populated(t)
	body, err := encodeBody(img.Pool, img.Dir)
	require.NoError(t, err)

	header := append([]byte(magic), Version)
	header = append(header, img.ID[:]...)

	// not snappy at all
	_, err = Load(bytes.NewReader(append(header, 0xff, 0xff, 0xff)))
	assert.ErrorIs(t, err, pool.ErrCorrupt)

	// cut short
	short := append(append([]byte(nil), header...), snappy.Encode(nil, body[:len(body)-3])...)
	_, err = Load(bytes.NewReader(short))
	assert.ErrorIs(t, err, pool.ErrCorrupt)

	// trailing garbage
	long := append(append([]byte(nil), header...), snappy.Encode(nil, append(body, 0))...)
	_, err = Load(bytes.NewReader(long))
	assert.ErrorIs(t, err, pool.ErrCorrupt)

	// first slot claims more than the arena
	bad := append([]byte(nil), body...)
	bad[16+1+2+1+4] = 0xff
	broken := append(append([]byte(nil), header...), snappy.Encode(nil, bad)...)
	_, err = Load(bytes.NewReader(broken))
	assert.ErrorIs(t, err, pool.ErrCorrupt)

	// huge slot counts in a tiny body are refused before anything is allocated for them
	crafted := binary.BigEndian.AppendUint64(nil, 0)
	crafted = binary.BigEndian.AppendUint32(crafted, 0xFFFFFFF0)
	crafted = binary.BigEndian.AppendUint32(crafted, 0xFFFFFFF0)
	framed := append(append([]byte(nil), header...), snappy.Encode(nil, crafted)...)
	_, err = Load(bytes.NewReader(framed))
	assert.ErrorIs(t, err, pool.ErrCorrupt)

	// a large header limit alone is fine, the slots still have to be in the body
	lying := append([]byte(nil), body...)
	binary.BigEndian.PutUint32(lying[8:], 0xFFFFFFF0)
	binary.BigEndian.PutUint32(lying[12:], 0xFFFFFF00)
	framed = append(append([]byte(nil), header...), snappy.Encode(nil, lying)...)
	_, err = Load(bytes.NewReader(framed))
	assert.ErrorIs(t, err, pool.ErrCorrupt)
}

func TestSaveFile_Then_LoadFile(t *testing.T) {
	id, _ := uuid.NewUUID()
	path := id.String()
	defer os.Remove(path)

	img := populated(t)
	require.NoError(t, SaveFile(path, img))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, img.ID, loaded.ID)
	assert.Equal(t, img.Dir.Records(), loaded.Dir.Records())

	// saving again replaces the file in place
	_, err = img.Dir.Create("d")
	require.NoError(t, err)
	require.NoError(t, SaveFile(path, img))

	loaded, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Dir.Len())

	_, err = LoadFile(path + ".missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Accepts_Large_Header_Limit(t *testing.T) {
	img := New(256, 0xFFFFFFF0, 0)
	id, err := img.Dir.Create("a")
	require.NoError(t, err)
	_, err = img.Pool.Allocate(16, pool.Owner(id), filetype.Normal)
	require.NoError(t, err)

	buf := bytes.Buffer{}
	require.NoError(t, Save(&buf, img.Pool, img.Dir, img.ID))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0xFFFFFFF0, loaded.Pool.MaxBlocks())
	assert.Len(t, loaded.Pool.Chain(pool.Owner(id)), 1)
}

func TestLoad_Should_Reject_Negative_Sizes(t *testing.T) {
	img := New(256, 8, 0)
	_, err := img.Dir.Create("a")
	require.NoError(t, err)

	body, err := encodeBody(img.Pool, img.Dir)
	require.NoError(t, err)

	// the size of the only record is the last field of the body
	binary.BigEndian.PutUint64(body[len(body)-8:], 1<<63)

	header := append([]byte(magic), Version)
	header = append(header, img.ID[:]...)
	_, err = Load(bytes.NewReader(append(header, snappy.Encode(nil, body)...)))
	assert.ErrorIs(t, err, pool.ErrCorrupt)
}
