// Package layout describes the on-device geometry pinned at block 0 of a
// formatted blockfs volume: the superblock and the region table it
// implies, per spec.md §3 and §6.
package layout

import (
	"encoding/binary"
	"fmt"
)

// EntrySize of the plain-old-data Superblock record.
const EntrySize = 4 * 6 // six uint32 fields

// Superblock is the immutable geometry header pinned at block index 0.
// All offsets are block indices. Bit-exact, little-endian, no padding
// beyond the explicit field list.
type Superblock struct {
	BlockCount      uint32
	NodeCount       uint32
	BlockMapOffset  uint32
	NodeMapOffset   uint32
	NodeTableOffset uint32
	DataOffset      uint32
}

// Validate checks the invariants from spec.md §3: region offsets are
// non-decreasing, the block map starts after block 0, and nothing runs
// past the end of the device.
func (s Superblock) Validate() error {
	if !(0 < s.BlockMapOffset &&
		s.BlockMapOffset <= s.NodeMapOffset &&
		s.NodeMapOffset <= s.NodeTableOffset &&
		s.NodeTableOffset <= s.DataOffset &&
		s.DataOffset <= s.BlockCount) {
		return fmt.Errorf("layout: invalid superblock geometry %+v", s)
	}
	return nil
}

// Encode serializes the superblock into a block-sized buffer (the caller
// supplies blockSize; it must be >= EntrySize). Bytes beyond the encoded
// fields are left zero.
func (s Superblock) Encode(blockSize uint32) ([]byte, error) {
	if blockSize < EntrySize {
		return nil, fmt.Errorf("layout: block size %d too small for superblock", blockSize)
	}
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.BlockCount)
	binary.LittleEndian.PutUint32(buf[4:8], s.NodeCount)
	binary.LittleEndian.PutUint32(buf[8:12], s.BlockMapOffset)
	binary.LittleEndian.PutUint32(buf[12:16], s.NodeMapOffset)
	binary.LittleEndian.PutUint32(buf[16:20], s.NodeTableOffset)
	binary.LittleEndian.PutUint32(buf[20:24], s.DataOffset)
	return buf, nil
}

// DecodeSuperblock parses a superblock out of a block-sized buffer
// previously produced by Encode.
func DecodeSuperblock(buf []byte) (Superblock, error) {
	if len(buf) < EntrySize {
		return Superblock{}, fmt.Errorf("layout: buffer too small for superblock")
	}
	return Superblock{
		BlockCount:      binary.LittleEndian.Uint32(buf[0:4]),
		NodeCount:       binary.LittleEndian.Uint32(buf[4:8]),
		BlockMapOffset:  binary.LittleEndian.Uint32(buf[8:12]),
		NodeMapOffset:   binary.LittleEndian.Uint32(buf[12:16]),
		NodeTableOffset: binary.LittleEndian.Uint32(buf[16:20]),
		DataOffset:      binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// ceilDiv computes ceil(a/b) for positive b.
func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Geometry computes a Superblock for a fresh volume of blockCount blocks
// and nodeCount nodes, given the block and node record sizes, following
// the region table in spec.md §6 (superblock, block map, node map, node
// table, data — in that order, contiguous and non-overlapping). A node
// never straddles two blocks: the node table holds blockSize/nodeSize
// nodes per block, so it spans ceil(nodeCount / (blockSize/nodeSize))
// blocks.
func Geometry(blockSize, blockCount, nodeCount, nodeSize uint32) (Superblock, error) {
	const superblockBlocks = 1

	if nodeSize == 0 || nodeSize > blockSize {
		return Superblock{}, fmt.Errorf("layout: node size %d does not fit block size %d", nodeSize, blockSize)
	}

	blockMapOffset := uint32(superblockBlocks)
	blockMapBlocks := ceilDiv(blockCount, blockSize)

	nodeMapOffset := blockMapOffset + blockMapBlocks
	nodeMapBlocks := ceilDiv(nodeCount, blockSize)

	nodeTableOffset := nodeMapOffset + nodeMapBlocks
	nodeTableBlocks := ceilDiv(nodeCount, blockSize/nodeSize)

	dataOffset := nodeTableOffset + nodeTableBlocks

	s := Superblock{
		BlockCount:      blockCount,
		NodeCount:       nodeCount,
		BlockMapOffset:  blockMapOffset,
		NodeMapOffset:   nodeMapOffset,
		NodeTableOffset: nodeTableOffset,
		DataOffset:      dataOffset,
	}
	if err := s.Validate(); err != nil {
		return Superblock{}, fmt.Errorf("layout: geometry does not fit device of %d blocks: %w", blockCount, err)
	}
	return s, nil
}
