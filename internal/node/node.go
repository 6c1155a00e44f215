// Package node implements the on-device file record described in
// spec.md §4.C: a fixed-size node with a bounded extent list supporting
// sparse files, logical→physical resolution, and extent insertion,
// splitting, merging, and shrinking.
package node

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ExtentsPerNode is the reference extent-list capacity (spec.md §6). The
// cap is a hard limit by design: a file with more distinct runs than this
// cannot be represented.
const ExtentsPerNode = 15

// extentEntrySize is the encoded size of a single Extent (two uint32s).
const extentEntrySize = 8

// EntrySize is the encoded, fixed size of a Node record.
const EntrySize = 8 /*Size*/ + 4 /*LinkCount*/ + 1 /*FileType*/ + 3 /*pad*/ + ExtentsPerNode*extentEntrySize

// FileType distinguishes what a node represents.
type FileType byte

const (
	FileTypeNone FileType = 0
	FileTypeFile FileType = 1
	FileTypeDir  FileType = 2
)

var (
	// ErrOutOfExtents is returned when an insertion would need more than
	// ExtentsPerNode non-null extents.
	ErrOutOfExtents = errors.New("node: out of extents")
	// ErrAlreadyMapped is returned by MapBlock when the logical block is
	// already backed by a physical block.
	ErrAlreadyMapped = errors.New("node: logical block already mapped")
	// ErrInvalidHoleCount is returned by AppendHole(0).
	ErrInvalidHoleCount = errors.New("node: hole count must be > 0")
)

// Node is the fixed-size on-device record for a file or directory.
type Node struct {
	Size      uint64
	LinkCount uint32
	FileType  FileType
	Extents   [ExtentsPerNode]Extent
}

// Encode serializes the node into an EntrySize-byte little-endian,
// zero-padded buffer.
func (n Node) Encode() []byte {
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], n.Size)
	binary.LittleEndian.PutUint32(buf[8:12], n.LinkCount)
	buf[12] = byte(n.FileType)
	// buf[13:16] left zero: explicit padding.
	off := 16
	for _, e := range n.Extents {
		binary.LittleEndian.PutUint32(buf[off:off+4], e.Start)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], e.End)
		off += extentEntrySize
	}
	return buf
}

// Decode parses a Node out of a buffer previously produced by Encode.
func Decode(buf []byte) (Node, error) {
	if len(buf) < EntrySize {
		return Node{}, fmt.Errorf("node: buffer too small: need %d, got %d", EntrySize, len(buf))
	}
	var n Node
	n.Size = binary.LittleEndian.Uint64(buf[0:8])
	n.LinkCount = binary.LittleEndian.Uint32(buf[8:12])
	n.FileType = FileType(buf[12])
	off := 16
	for i := range n.Extents {
		n.Extents[i] = Extent{
			Start: binary.LittleEndian.Uint32(buf[off : off+4]),
			End:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
		off += extentEntrySize
	}
	return n, nil
}

// nonNullCount returns the number of extents preceding the first Null
// extent (spec.md invariant: all null extents follow all non-null ones).
func (n *Node) nonNullCount() int {
	for i, e := range n.Extents {
		if e.Kind() == ExtentNull {
			return i
		}
	}
	return len(n.Extents)
}

// Resolution classifies the result of resolving a logical block.
type Resolution int

const (
	// ResolvedMapped means the logical block has a physical backing block.
	ResolvedMapped Resolution = iota
	// ResolvedHole means the logical block falls within a hole and reads
	// as zeros without occupying a data block.
	ResolvedHole
	// ResolvedUnmapped means the logical block is beyond the node's
	// current extent list (e.g. within size but past the extent tail).
	ResolvedUnmapped
)

// PhysicalBlock walks the extent list to resolve a logical block index.
func (n *Node) PhysicalBlock(logical uint32) (uint32, Resolution) {
	offset := logical
	for _, e := range n.Extents {
		if e.Kind() == ExtentNull {
			break
		}
		l := e.Length()
		if offset < l {
			if e.Kind() == ExtentHole {
				return 0, ResolvedHole
			}
			return e.Start + offset, ResolvedMapped
		}
		offset -= l
	}
	return 0, ResolvedUnmapped
}

// PhysicalBlockFromOffset resolves the logical block containing the given
// byte offset.
func (n *Node) PhysicalBlockFromOffset(byteOffset uint64, blockSize uint32) (uint32, Resolution) {
	return n.PhysicalBlock(uint32(byteOffset / uint64(blockSize)))
}

// spliceAt replaces the single extent at index i with pieces, shifting
// every extent after i right to make room, failing without mutating the
// node if the result would exceed ExtentsPerNode non-null extents.
func (n *Node) spliceAt(i int, pieces []Extent) error {
	nn := n.nonNullCount()
	newCount := nn - 1 + len(pieces)
	if newCount > len(n.Extents) {
		return ErrOutOfExtents
	}

	var newArr [ExtentsPerNode]Extent
	copy(newArr[:i], n.Extents[:i])
	copy(newArr[i:i+len(pieces)], pieces)
	copy(newArr[i+len(pieces):newCount], n.Extents[i+1:nn])
	n.Extents = newArr
	return nil
}

// MapBlock inserts a physical mapping at the given logical block, per the
// three-step algorithm in spec.md §4.C.
func (n *Node) MapBlock(logical, phys uint32) error {
	offset := logical
	for i := 0; i < len(n.Extents); i++ {
		e := n.Extents[i]

		if e.Kind() == ExtentNull {
			if offset == 0 {
				if i > 0 {
					prev := n.Extents[i-1]
					if prev.Kind() == ExtentMapped && prev.End == phys {
						n.Extents[i-1].End = phys + 1
						return nil
					}
				}
				n.Extents[i] = Extent{Start: phys, End: phys + 1}
				return nil
			}
			if i+1 >= len(n.Extents) {
				return ErrOutOfExtents
			}
			n.Extents[i] = Extent{Start: 0, End: offset}
			n.Extents[i+1] = Extent{Start: phys, End: phys + 1}
			return nil
		}

		l := e.Length()
		if offset < l {
			if e.Kind() == ExtentMapped {
				return ErrAlreadyMapped
			}

			leftLen := offset
			rightLen := l - offset - 1
			var pieces []Extent
			if leftLen > 0 {
				pieces = append(pieces, Extent{Start: 0, End: leftLen})
			}
			pieces = append(pieces, Extent{Start: phys, End: phys + 1})
			if rightLen > 0 {
				pieces = append(pieces, Extent{Start: 0, End: rightLen})
			}
			return n.spliceAt(i, pieces)
		}
		offset -= l
	}
	return ErrOutOfExtents
}

// AppendHole appends count unmapped logical blocks, extending a trailing
// hole in place when one exists. count must be > 0.
func (n *Node) AppendHole(count uint32) error {
	if count == 0 {
		return ErrInvalidHoleCount
	}
	nn := n.nonNullCount()
	if nn > 0 && n.Extents[nn-1].Kind() == ExtentHole {
		n.Extents[nn-1].End += count
		return nil
	}
	if nn >= len(n.Extents) {
		return ErrOutOfExtents
	}
	n.Extents[nn] = Extent{Start: 0, End: count}
	return nil
}

// BlockCount returns the sum of lengths of non-null, non-hole (i.e.
// mapped) extents: the number of physical data blocks the node occupies.
func (n *Node) BlockCount() uint32 {
	var total uint32
	for _, e := range n.Extents {
		switch e.Kind() {
		case ExtentNull:
			return total
		case ExtentMapped:
			total += e.End - e.Start
		}
	}
	return total
}

// FreedRange is a half-open span of physical block indices that ShrinkTo
// unmapped and the caller (the transaction) must free in the block map.
type FreedRange struct {
	Start, End uint32
}

// ShrinkTo performs the extent-list bookkeeping half of truncate_file
// (spec.md §4.F): given the new logical block count, it nullifies extents
// entirely beyond the threshold, shrinks the extent straddling it (freeing
// or shortening as appropriate for mapped vs. hole extents), and leaves
// extents entirely within the threshold untouched. It returns the
// physical spans that became free so the caller can release them in the
// block allocation map; holes never produce a FreedRange.
func (n *Node) ShrinkTo(blocksNeeded uint32) []FreedRange {
	var freed []FreedRange
	blocksPassed := uint32(0)

	for i := 0; i < len(n.Extents); i++ {
		e := n.Extents[i]
		if e.Kind() == ExtentNull {
			break
		}
		l := e.Length()

		switch {
		case blocksPassed >= blocksNeeded:
			if e.Kind() == ExtentMapped {
				freed = append(freed, FreedRange{Start: e.Start, End: e.End})
			}
			n.Extents[i] = Extent{}

		case blocksPassed+l <= blocksNeeded:
			blocksPassed += l

		default:
			keep := blocksNeeded - blocksPassed
			if e.Kind() == ExtentMapped {
				if e.Start+keep < e.End {
					freed = append(freed, FreedRange{Start: e.Start + keep, End: e.End})
				}
				n.Extents[i] = Extent{Start: e.Start, End: e.Start + keep}
			} else {
				n.Extents[i] = Extent{Start: 0, End: keep}
			}
			blocksPassed = blocksNeeded
		}
	}

	return freed
}
