// Package storage models the block device that the rest of blockfs is
// layered on top of: a fixed-size, random-access array of blocks. It is
// intentionally the thinnest package in the module — the specification
// treats the backing store as an external byte-addressable block array.
package storage

import "fmt"

// Device is a fixed-size random-access block store.
type Device interface {
	// ReadBlock returns a copy of the block at index i.
	ReadBlock(i uint32) ([]byte, error)
	// WriteBlock overwrites the block at index i with b. len(b) must equal
	// the device's block size.
	WriteBlock(i uint32, b []byte) error
	// BlockCount returns the number of blocks in the device.
	BlockCount() uint32
	// BlockSize returns the size, in bytes, of a single block.
	BlockSize() uint32
}

// ErrOutOfBounds is returned when a block index is not in [0, BlockCount()).
type ErrOutOfBounds struct {
	Index uint32
	Count uint32
}

func (e *ErrOutOfBounds) Error() string {
	return fmt.Sprintf("block index %d out of bounds (device has %d blocks)", e.Index, e.Count)
}

// Memory is an in-memory Device. It is the only implementation blockfs
// ships; a real port would swap this for a file- or mmap-backed device
// without touching any other package.
type Memory struct {
	blockSize uint32
	blocks    [][]byte
}

// NewMemory allocates a zero-filled in-memory device of blockCount blocks,
// each blockSize bytes long.
func NewMemory(blockSize, blockCount uint32) *Memory {
	blocks := make([][]byte, blockCount)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &Memory{blockSize: blockSize, blocks: blocks}
}

func (m *Memory) BlockCount() uint32 { return uint32(len(m.blocks)) }
func (m *Memory) BlockSize() uint32  { return m.blockSize }

func (m *Memory) ReadBlock(i uint32) ([]byte, error) {
	if i >= uint32(len(m.blocks)) {
		return nil, &ErrOutOfBounds{Index: i, Count: uint32(len(m.blocks))}
	}
	out := make([]byte, m.blockSize)
	copy(out, m.blocks[i])
	return out, nil
}

func (m *Memory) WriteBlock(i uint32, b []byte) error {
	if i >= uint32(len(m.blocks)) {
		return &ErrOutOfBounds{Index: i, Count: uint32(len(m.blocks))}
	}
	if uint32(len(b)) != m.blockSize {
		return fmt.Errorf("storage: write of %d bytes does not match block size %d", len(b), m.blockSize)
	}
	copy(m.blocks[i], b)
	return nil
}
