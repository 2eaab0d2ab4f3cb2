package vfs

import (
	"cosmossdk.io/log"
	"errors"
	"io"
	"io/fs"
	"os"
	"rmfs/storage"
)

var _ File = &file{}

type file struct {
	m          *storage.Manager
	h          storage.Handle
	name       string
	appendMode bool
	closed     bool
}

func (f *file) Read(p []byte) (n int, err error) {
	if f.closed {
		return 0, f.pathErr("read", fs.ErrClosed)
	}

	n, err = f.m.Read(f.h, p)
	if err != nil {
		return n, f.pathErr("read", err)
	}

	// the manager reports the end of a file as an empty read
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (n int, err error) {
	if f.closed {
		return 0, f.pathErr("write", fs.ErrClosed)
	}

	if f.appendMode {
		if _, err := f.m.Seek(f.h, 0, io.SeekEnd); err != nil {
			return 0, f.pathErr("write", err)
		}
	}

	n, err = f.m.Write(f.h, p)
	if err != nil {
		return n, f.pathErr("write", err)
	}
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, f.pathErr("seek", fs.ErrClosed)
	}

	pos, err := f.m.Seek(f.h, offset, whence)
	if err != nil {
		return pos, f.pathErr("seek", err)
	}
	return pos, nil
}

func (f *file) Close() error {
	if f.closed {
		return f.pathErr("close", fs.ErrClosed)
	}

	f.closed = true
	if err := f.m.Close(f.h); err != nil {
		return f.pathErr("close", err)
	}
	return nil
}

// Truncate only shrinks; a size beyond the end of the file is ignored.
func (f *file) Truncate(size int64) error {
	if f.closed {
		return f.pathErr("truncate", fs.ErrClosed)
	}

	if err := f.m.Truncate(f.h, size); err != nil {
		return f.pathErr("truncate", err)
	}
	return nil
}

func (f *file) Name() string {
	return f.name
}

func (f *file) pathErr(op string, err error) error {
	return &fs.PathError{Op: op, Path: f.name, Err: err}
}

type storageFS struct {
	m      *storage.Manager
	logger log.Logger
}

var _ FS = &storageFS{}

func New(m *storage.Manager, logger log.Logger) FS {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &storageFS{
		m:      m,
		logger: logger.With("module", "vfs"),
	}
}

func (s *storageFS) Open(name string) (File, error) {
	return s.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens name like os.OpenFile does. O_CREATE, O_EXCL, O_TRUNC and O_APPEND are honoured; access modes are
// recorded but not enforced.
func (s *storageFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
		ok, err := s.m.Exists(name)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		if ok {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
		}
	}

	h, err := s.m.Open(name, flag, perm)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	f := &file{
		m:          s.m,
		h:          h,
		name:       name,
		appendMode: flag&os.O_APPEND != 0,
	}

	if flag&os.O_TRUNC != 0 {
		if err := f.Truncate(0); err != nil {
			if cerr := f.Close(); cerr != nil {
				s.logger.Error("failed to close file after truncate error", "name", name, "err", cerr)
			}
			return nil, err
		}
	}

	return f, nil
}

func (s *storageFS) Remove(name string) error {
	if err := s.m.Unlink(name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

func (s *storageFS) Rename(oldName, newName string) error {
	if err := s.m.Rename(oldName, newName); err != nil {
		return &os.LinkError{Op: "rename", Old: oldName, New: newName, Err: err}
	}
	return nil
}

// ReadDir lists every name starting with prefix.
func (s *storageFS) ReadDir(prefix string) (names []string, err error) {
	return s.m.List(prefix), nil
}

// Stat never opens the file, so it works with a full open file table and leaves open files alone.
func (s *storageFS) Stat(name string) (FileInfo, error) {
	info, err := s.m.Stat(name)
	if err != nil {
		return FileInfo{}, &fs.PathError{Op: "stat", Path: name, Err: err}
	}

	return FileInfo{
		Name:     name,
		Size:     info.Size,
		Category: info.Category,
	}, nil
}

func (s *storageFS) Mkdir(name string, _ os.FileMode) error {
	return s.m.Mkdir(name)
}

func (s *storageFS) Rmdir(name string) error {
	return s.m.Rmdir(name)
}

// IsNotExist reports whether err tells that a file does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
