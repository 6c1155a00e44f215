// Package directory implements the flat directory-entry array described in
// spec.md §4.D: a file whose content is an array of fixed-width entries,
// with vacancy reuse on insert and tombstone-on-remove.
package directory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/oss-samples/blockfs/internal/node"
)

// MaxNameLen is the maximum encoded length of an entry name.
const MaxNameLen = 64

// EntrySize is the encoded, fixed size of a DirEntry record.
const EntrySize = 1 /*FileType*/ + 3 /*pad*/ + 4 /*NodeIndex*/ + MaxNameLen

var (
	// ErrEntryNotFound is returned by GetEntry/RemoveEntry when no live
	// entry with the given name exists.
	ErrEntryNotFound = errors.New("directory: entry not found")
	// ErrNameTooLong is returned when a name's encoded form would exceed
	// MaxNameLen bytes.
	ErrNameTooLong = errors.New("directory: name too long")
	// ErrCorruptedName is returned when a stored name fails to decode as
	// valid UTF-8 — a data-corruption condition, not a user error.
	ErrCorruptedName = errors.New("directory: corrupted name")
)

// Entry is a single fixed-width directory record. NodeIndex == 0 marks a
// tombstone, available for reuse by a later AddEntry.
type Entry struct {
	FileType  node.FileType
	NodeIndex uint32
	Name      string
}

func (e Entry) isTombstone() bool { return e.NodeIndex == 0 }

// Encode serializes a single entry to EntrySize bytes.
func (e Entry) Encode() ([]byte, error) {
	if len(e.Name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	buf := make([]byte, EntrySize)
	buf[0] = byte(e.FileType)
	binary.LittleEndian.PutUint32(buf[4:8], e.NodeIndex)
	copy(buf[8:8+MaxNameLen], e.Name)
	return buf, nil
}

// decodeEntry parses a single EntrySize-byte record.
func decodeEntry(buf []byte) (Entry, error) {
	if len(buf) < EntrySize {
		return Entry{}, fmt.Errorf("directory: buffer too small: need %d, got %d", EntrySize, len(buf))
	}
	ft := node.FileType(buf[0])
	idx := binary.LittleEndian.Uint32(buf[4:8])
	raw := buf[8 : 8+MaxNameLen]
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	if !utf8.Valid(raw[:end]) {
		return Entry{}, ErrCorruptedName
	}
	return Entry{FileType: ft, NodeIndex: idx, Name: string(raw[:end])}, nil
}

// Directory is the in-memory decoded form of a directory's file content.
type Directory struct {
	Entries []Entry
}

// Decode parses a whole-file buffer (whose length must be a multiple of
// EntrySize) into a Directory.
func Decode(buf []byte) (*Directory, error) {
	if len(buf)%EntrySize != 0 {
		return nil, fmt.Errorf("directory: size %d is not a multiple of entry size %d", len(buf), EntrySize)
	}
	n := len(buf) / EntrySize
	d := &Directory{Entries: make([]Entry, n)}
	for i := 0; i < n; i++ {
		e, err := decodeEntry(buf[i*EntrySize : (i+1)*EntrySize])
		if err != nil {
			return nil, err
		}
		d.Entries[i] = e
	}
	return d, nil
}

// Encode serializes the directory back into a whole-file buffer.
func (d *Directory) Encode() ([]byte, error) {
	buf := make([]byte, 0, len(d.Entries)*EntrySize)
	for _, e := range d.Entries {
		eb, err := e.Encode()
		if err != nil {
			return nil, err
		}
		buf = append(buf, eb...)
	}
	return buf, nil
}

// AddEntry inserts e, reusing the first tombstone slot if one exists,
// otherwise appending.
func (d *Directory) AddEntry(e Entry) error {
	if len(e.Name) > MaxNameLen {
		return ErrNameTooLong
	}
	for i, existing := range d.Entries {
		if existing.isTombstone() {
			d.Entries[i] = e
			return nil
		}
	}
	d.Entries = append(d.Entries, e)
	return nil
}

// GetEntry returns the first live entry with the given name.
func (d *Directory) GetEntry(name string) (Entry, error) {
	for _, e := range d.Entries {
		if !e.isTombstone() && e.Name == name {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

// RemoveEntry tombstones the first live entry with the given name
// (NodeIndex := 0) and returns its prior value.
func (d *Directory) RemoveEntry(name string) (Entry, error) {
	for i, e := range d.Entries {
		if !e.isTombstone() && e.Name == name {
			prior := e
			d.Entries[i] = Entry{}
			return prior, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

// IsEmpty reports whether the directory contains only "." and ".."
// (i.e. every other entry is a tombstone).
func (d *Directory) IsEmpty() bool {
	live := 0
	for _, e := range d.Entries {
		if !e.isTombstone() {
			live++
		}
	}
	return live == 2
}
