package vfs

import (
	"io"
	"os"
	"rmfs/filetype"
)

// FileInfo describes a file. Size includes writes of descriptors that are still open.
type FileInfo struct {
	Name     string
	Size     int64
	Category filetype.Category
}

// FS is a small file system interface over a storage manager. Names are flat; a '/' in a name is just a character.
type FS interface {
	Open(name string) (File, error)
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Rename(oldName, newName string) error
	ReadDir(prefix string) (names []string, err error)
	Stat(name string) (FileInfo, error)
	Mkdir(name string, perm os.FileMode) error
	Rmdir(name string) error
}

type File interface {
	io.ReadWriteSeeker
	io.Closer
	Truncate(size int64) error
	Name() string
}
