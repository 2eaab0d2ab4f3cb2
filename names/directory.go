package names

import (
	"errors"
	"strings"
)

// ID is the short identifier shared by a name record and every block of the file it names.
type ID uint16

const (
	// InvalidID is never assigned; a lookup yielding it means the table is damaged.
	InvalidID = ID(0)

	// ReservedID marks a failed allocation in persisted records and is never assigned.
	ReservedID = ID(0xFFFF)
)

var (
	ErrNotFound    = errors.New("name not found")
	ErrExists      = errors.New("name already exists")
	ErrNoSpace     = errors.New("name table is full")
	ErrInvalidName = errors.New("invalid file name")
	ErrInvalidID   = errors.New("invalid identifier")
	ErrInvalidSize = errors.New("invalid file size")
)

// Record is one entry of the name table.
type Record struct {
	Name string
	ID   ID

	// Size is the file size as of the last close of the file.
	Size int64
}

// Directory maps file names to identifiers and persisted sizes. Records are kept in insertion order, which is also
// the order prefix searches are answered in. Directory is not safe for concurrent use.
type Directory struct {
	records    []Record
	byName     map[string]int
	maxEntries int
}

func New(maxEntries int) *Directory {
	return &Directory{
		records:    make([]Record, 0),
		byName:     map[string]int{},
		maxEntries: maxEntries,
	}
}

func (d *Directory) Find(name string) (Record, error) {
	i, ok := d.byName[name]
	if !ok {
		return Record{}, ErrNotFound
	}

	return d.records[i], nil
}

// FindPrefix returns the first stored name starting with prefix.
func (d *Directory) FindPrefix(prefix string) (string, error) {
	for _, r := range d.records {
		if strings.HasPrefix(r.Name, prefix) {
			return r.Name, nil
		}
	}

	return "", ErrNotFound
}

// Names lists every stored name starting with prefix in insertion order.
func (d *Directory) Names(prefix string) []string {
	res := make([]string, 0)
	for _, r := range d.records {
		if strings.HasPrefix(r.Name, prefix) {
			res = append(res, r.Name)
		}
	}

	return res
}

// Create adds a record for name with the lowest free identifier and a zero size.
func (d *Directory) Create(name string) (ID, error) {
	if name == "" {
		return InvalidID, ErrInvalidName
	}

	if _, ok := d.byName[name]; ok {
		return InvalidID, ErrExists
	}

	if d.maxEntries > 0 && len(d.records) >= d.maxEntries {
		return InvalidID, ErrNoSpace
	}

	id := d.freeID()
	if id == InvalidID {
		return InvalidID, ErrNoSpace
	}

	d.records = append(d.records, Record{Name: name, ID: id})
	d.byName[name] = len(d.records) - 1
	return id, nil
}

func (d *Directory) Delete(id ID) error {
	i := d.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}

	d.remove(i)
	return nil
}

func (d *Directory) DeleteByName(name string) error {
	i, ok := d.byName[name]
	if !ok {
		return ErrNotFound
	}

	d.remove(i)
	return nil
}

func (d *Directory) ReadRecord(id ID) (Record, error) {
	i := d.indexOf(id)
	if i < 0 {
		return Record{}, ErrNotFound
	}

	return d.records[i], nil
}

// WriteRecord overwrites identifier and size of the record currently holding id. The stored name is kept, whatever
// rec.Name says.
func (d *Directory) WriteRecord(id ID, rec Record) error {
	if rec.ID == InvalidID || rec.ID == ReservedID {
		return ErrInvalidID
	}

	i := d.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}

	d.records[i].ID = rec.ID
	d.records[i].Size = rec.Size
	return nil
}

func (d *Directory) Len() int {
	return len(d.records)
}

func (d *Directory) MaxEntries() int {
	return d.maxEntries
}

// Records returns a copy of all records in insertion order.
func (d *Directory) Records() []Record {
	res := make([]Record, len(d.records))
	copy(res, d.records)
	return res
}

// Restore replaces the content of the directory with records, keeping their order.
func (d *Directory) Restore(records []Record) error {
	byName := make(map[string]int, len(records))
	seen := make(map[ID]bool, len(records))
	for i, r := range records {
		if r.Name == "" {
			return ErrInvalidName
		}
		if r.ID == InvalidID || r.ID == ReservedID || seen[r.ID] {
			return ErrInvalidID
		}
		if _, ok := byName[r.Name]; ok {
			return ErrExists
		}
		if r.Size < 0 {
			return ErrInvalidSize
		}

		byName[r.Name] = i
		seen[r.ID] = true
	}

	if d.maxEntries > 0 && len(records) > d.maxEntries {
		return ErrNoSpace
	}

	d.records = make([]Record, len(records))
	copy(d.records, records)
	d.byName = byName
	return nil
}

// indexOf scans records in order, as identifiers may transiently be shared while a rename is in flight.
func (d *Directory) indexOf(id ID) int {
	for i, r := range d.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (d *Directory) remove(i int) {
	delete(d.byName, d.records[i].Name)
	if i < len(d.records)-1 {
		copy(d.records[i:], d.records[i+1:])
	}
	d.records = d.records[:len(d.records)-1]

	for j := i; j < len(d.records); j++ {
		d.byName[d.records[j].Name] = j
	}
}

func (d *Directory) freeID() ID {
	used := make(map[ID]bool, len(d.records))
	for _, r := range d.records {
		used[r.ID] = true
	}

	for id := ID(1); id < ReservedID; id++ {
		if !used[id] {
			return id
		}
	}
	return InvalidID
}
