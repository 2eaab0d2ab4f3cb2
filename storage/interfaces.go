package storage

import (
	"rmfs/filetype"
	"rmfs/names"
	"rmfs/pool"
)

// BlockStore is the raw storage the file layer places its block chains in.
type BlockStore interface {
	Allocate(size int, owner pool.Owner, category filetype.Category) (pool.BlockID, error)
	AllocateLinked(after pool.BlockID, size int) (pool.BlockID, error)
	WriteAt(id pool.BlockID, data []byte, off int) (int, error)
	ReadAt(id pool.BlockID, dst []byte, off int) (int, error)
	Split(id pool.BlockID, at int) error
	Free(id pool.BlockID) error
	Head(owner pool.Owner) (pool.BlockID, bool)
	Block(id pool.BlockID) (pool.Block, error)
	UsedSpace() int64
	FreeSpace() int64
}

// Directory maps file names to identifiers and keeps the size of closed files.
type Directory interface {
	Find(name string) (names.Record, error)
	FindPrefix(prefix string) (string, error)
	Names(prefix string) []string
	Create(name string) (names.ID, error)
	Delete(id names.ID) error
	DeleteByName(name string) error
	ReadRecord(id names.ID) (names.Record, error)
	WriteRecord(id names.ID, rec names.Record) error
}

var _ BlockStore = &pool.Pool{}
var _ Directory = &names.Directory{}
