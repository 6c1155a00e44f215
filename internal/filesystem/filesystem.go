// Package filesystem implements Component G of spec.md §4.G: computing
// and persisting the on-device layout at format time, and reconstructing
// it at mount time. A Filesystem owns the superblock and the two
// in-memory allocation maps for the lifetime of the mount.
package filesystem

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oss-samples/blockfs/internal/bitmap"
	"github.com/oss-samples/blockfs/internal/directory"
	"github.com/oss-samples/blockfs/internal/layout"
	"github.com/oss-samples/blockfs/internal/logger"
	"github.com/oss-samples/blockfs/internal/node"
	"github.com/oss-samples/blockfs/internal/storage"
	"github.com/oss-samples/blockfs/internal/txn"
)

// ErrInvalidFilesystem is returned by Mount when the on-device superblock
// or allocation maps fail to validate.
type ErrInvalidFilesystem struct {
	Reason string
}

func (e *ErrInvalidFilesystem) Error() string {
	return fmt.Sprintf("filesystem: invalid filesystem: %s", e.Reason)
}

// Filesystem owns the superblock and the two in-memory allocation maps
// for a mounted volume. It borrows no storage.Device of its own — every
// operation against it goes through a txn.Transaction.
type Filesystem struct {
	Super    layout.Superblock
	BlockMap *bitmap.Map
	NodeMap  *bitmap.Map

	// MountID is a per-mount correlation identifier, logged when the
	// filesystem is formatted or mounted so multi-mount test runs can tell
	// their logs apart.
	MountID uuid.UUID
}

// The following four methods satisfy txn.FilesystemState.

func (fs *Filesystem) Superblock() layout.Superblock { return fs.Super }
func (fs *Filesystem) BlockBitmap() *bitmap.Map       { return fs.BlockMap }
func (fs *Filesystem) NodeBitmap() *bitmap.Map        { return fs.NodeMap }

func (fs *Filesystem) SetBitmaps(block, nodeMap *bitmap.Map) {
	fs.BlockMap = block
	fs.NodeMap = nodeMap
}

// Format lays out a fresh filesystem of blockCount blocks and nodeCount
// nodes on dev: it computes the region geometry, builds empty allocation
// maps marking metadata regions and the null node Used, creates the root
// directory node (which must land at txn.RootIndex), writes its initial
// "."/".." content, and commits.
func Format(dev storage.Device, blockCount, nodeCount uint32) (*Filesystem, error) {
	blockSize := dev.BlockSize()
	super, err := layout.Geometry(blockSize, blockCount, nodeCount, node.EntrySize)
	if err != nil {
		return nil, err
	}

	blockMap := bitmap.New(int(blockCount))
	if err := blockMap.AllocateSpan(bitmap.Span{Start: 0, End: int(super.DataOffset)}); err != nil {
		return nil, fmt.Errorf("filesystem: format: marking metadata blocks used: %w", err)
	}

	nodeMap := bitmap.New(int(nodeCount))
	if err := nodeMap.AllocateAt(0); err != nil {
		return nil, fmt.Errorf("filesystem: format: marking null node used: %w", err)
	}

	fs := &Filesystem{
		Super:    super,
		BlockMap: blockMap,
		NodeMap:  nodeMap,
		MountID:  uuid.New(),
	}

	t := txn.New(fs, dev)

	sbBytes, err := super.Encode(blockSize)
	if err != nil {
		return nil, err
	}
	if err := t.WriteBlock(0, sbBytes); err != nil {
		return nil, err
	}

	_, rootIdx, err := t.CreateNode(node.FileTypeDir)
	if err != nil {
		return nil, fmt.Errorf("filesystem: format: creating root node: %w", err)
	}
	if rootIdx != txn.RootIndex {
		logger.Fatal("filesystem: root node landed at index %d, expected %d", rootIdx, txn.RootIndex)
	}

	rootNode, err := t.ReadNode(rootIdx)
	if err != nil {
		return nil, err
	}
	rootNode.LinkCount = 1
	if err := t.WriteNode(rootIdx, rootNode); err != nil {
		return nil, err
	}

	rootDir := &directory.Directory{}
	_ = rootDir.AddEntry(directory.Entry{FileType: node.FileTypeDir, NodeIndex: rootIdx, Name: "."})
	_ = rootDir.AddEntry(directory.Entry{FileType: node.FileTypeDir, NodeIndex: rootIdx, Name: ".."})
	if err := t.WriteDirectory(rootIdx, rootDir); err != nil {
		return nil, err
	}

	if err := t.Commit(); err != nil {
		return nil, err
	}

	logger.Infof("formatted filesystem: %d blocks, %d nodes, mount %s", blockCount, nodeCount, fs.MountID)
	return fs, nil
}

// Mount reconstructs a Filesystem from an already-formatted device: it
// reads block 0 as the superblock, then reads the two bitmap regions
// back into allocation maps.
func Mount(dev storage.Device) (*Filesystem, error) {
	sbBlock, err := dev.ReadBlock(0)
	if err != nil {
		return nil, &ErrInvalidFilesystem{Reason: err.Error()}
	}
	super, err := layout.DecodeSuperblock(sbBlock)
	if err != nil {
		return nil, &ErrInvalidFilesystem{Reason: err.Error()}
	}
	if err := super.Validate(); err != nil {
		return nil, &ErrInvalidFilesystem{Reason: err.Error()}
	}

	blockMap, err := readBitmap(dev, super.BlockMapOffset, int(super.BlockCount))
	if err != nil {
		return nil, &ErrInvalidFilesystem{Reason: err.Error()}
	}
	nodeMap, err := readBitmap(dev, super.NodeMapOffset, int(super.NodeCount))
	if err != nil {
		return nil, &ErrInvalidFilesystem{Reason: err.Error()}
	}

	fs := &Filesystem{
		Super:    super,
		BlockMap: blockMap,
		NodeMap:  nodeMap,
		MountID:  uuid.New(),
	}
	logger.Infof("mounted filesystem: %d blocks, %d nodes, mount %s", super.BlockCount, super.NodeCount, fs.MountID)
	return fs, nil
}

func readBitmap(dev storage.Device, offset uint32, count int) (*bitmap.Map, error) {
	blockSize := int(dev.BlockSize())
	nChunks := (count + blockSize - 1) / blockSize
	buf := make([]byte, 0, nChunks*blockSize)
	for c := 0; c < nChunks; c++ {
		blk, err := dev.ReadBlock(offset + uint32(c))
		if err != nil {
			return nil, err
		}
		buf = append(buf, blk...)
	}
	return bitmap.FromBytes(buf, count)
}
