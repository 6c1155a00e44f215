// Package txn implements the transactional block cache described in
// spec.md §4.F: a per-operation staging buffer over a block device, plus
// every node/file/directory operation expressed in terms of it. It is the
// core orchestrator — node table access, file I/O in terms of extents,
// directory I/O in terms of file I/O, and allocation-map sync on commit
// all live here.
package txn

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oss-samples/blockfs/internal/bitmap"
	"github.com/oss-samples/blockfs/internal/directory"
	"github.com/oss-samples/blockfs/internal/layout"
	"github.com/oss-samples/blockfs/internal/metrics"
	"github.com/oss-samples/blockfs/internal/node"
	"github.com/oss-samples/blockfs/internal/storage"
)

// RootIndex is the node index the root directory is guaranteed to occupy.
const RootIndex = 1

// FilesystemState is the narrow view of a mounted filesystem that a
// transaction needs: its geometry and its two allocation maps.
// internal/filesystem.Filesystem implements this interface. Transaction
// depends on it rather than on the concrete type so that
// internal/filesystem (which opens a transaction during Format) and
// internal/txn do not import one another.
type FilesystemState interface {
	Superblock() layout.Superblock
	BlockBitmap() *bitmap.Map
	NodeBitmap() *bitmap.Map
	SetBitmaps(block, node *bitmap.Map)
}

type txnState int

const (
	stateActive txnState = iota
	stateConsumed
)

var (
	// ErrBlockIndexOutOfBounds is returned by ReadBlock/WriteBlock for an
	// index outside the device's range.
	ErrBlockIndexOutOfBounds = errors.New("txn: block index out of bounds")
	// ErrNodeIndexOutOfBounds is returned by ReadNode/WriteNode for an
	// index outside the node table's range.
	ErrNodeIndexOutOfBounds = errors.New("txn: node index out of bounds")
	// ErrFileNotFound is returned when a name does not resolve to a
	// directory entry.
	ErrFileNotFound = errors.New("txn: file not found")
	// ErrFileTypeNotLinkable is returned when link_file/unlink_file target
	// something other than a file.
	ErrFileTypeNotLinkable = errors.New("txn: file type not linkable")
	// ErrFileTypeNotTruncateable is returned when truncate_file targets
	// something other than a file.
	ErrFileTypeNotTruncateable = errors.New("txn: file type not truncateable")
	// ErrNotDirectory is returned when a directory operation targets a
	// non-directory entry.
	ErrNotDirectory = errors.New("txn: not a directory")
	// ErrNotEmpty is returned by RemoveDirectory when the target still
	// holds entries besides "." and "..".
	ErrNotEmpty = errors.New("txn: directory not empty")
	// ErrTransactionConsumed is returned by Commit on a transaction that
	// was already committed or discarded. Other operations do not check
	// the transaction's state.
	ErrTransactionConsumed = errors.New("txn: transaction already consumed")
)

// Transaction buffers writes over a block device for the duration of a
// single syscall. It borrows a FilesystemState and a storage.Device, owns
// its own staging map and its own working copies of the two allocation
// maps, and is consumed by Commit.
//
// Allocation-map mutations land only in the transaction's working copies
// (blockMap/nodeMap below) until Commit swaps them into the filesystem —
// this is the delta-overlay remedy spec.md §9 asks for, applied to a
// dropped (never committed) transaction: nothing it allocated or freed is
// ever visible to the filesystem or to a later transaction.
type Transaction struct {
	fs  FilesystemState
	dev storage.Device

	staged   map[uint32][]byte
	blockMap *bitmap.Map
	nodeMap  *bitmap.Map

	state txnState
}

// New opens a transaction against fs and dev.
func New(fs FilesystemState, dev storage.Device) *Transaction {
	return &Transaction{
		fs:       fs,
		dev:      dev,
		staged:   make(map[uint32][]byte),
		blockMap: fs.BlockBitmap().Clone(),
		nodeMap:  fs.NodeBitmap().Clone(),
		state:    stateActive,
	}
}

// Discard abandons the transaction without committing. Any allocation-map
// mutations performed via the transaction's working copies are thrown
// away; nothing was ever written to the filesystem's bitmaps or to the
// device.
func (t *Transaction) Discard() {
	if t.state == stateActive {
		metrics.TransactionAbortsTotal.Inc()
	}
	t.state = stateConsumed
}

func (t *Transaction) checkActive() error {
	if t.state != stateActive {
		return ErrTransactionConsumed
	}
	return nil
}

// ReadBlock returns the staged block at i if one has been written this
// transaction, otherwise falls through to the device.
func (t *Transaction) ReadBlock(i uint32) ([]byte, error) {
	if i >= t.dev.BlockCount() {
		return nil, fmt.Errorf("%w: %d", ErrBlockIndexOutOfBounds, i)
	}
	if b, ok := t.staged[i]; ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return t.dev.ReadBlock(i)
}

// WriteBlock stages a write to block i; no device I/O happens here.
func (t *Transaction) WriteBlock(i uint32, b []byte) error {
	if i >= t.dev.BlockCount() {
		return fmt.Errorf("%w: %d", ErrBlockIndexOutOfBounds, i)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	t.staged[i] = cp
	return nil
}

// nodeLocation translates a node index to (block index, byte offset
// within that block), per spec.md §4.F.
func (t *Transaction) nodeLocation(n uint32) (blockIndex uint32, byteOffset uint32) {
	blockSize := t.dev.BlockSize()
	nodesPerBlock := blockSize / node.EntrySize
	super := t.fs.Superblock()
	blockIndex = super.NodeTableOffset + n/nodesPerBlock
	byteOffset = (n % nodesPerBlock) * node.EntrySize
	return
}

// ReadNode decodes the node at index n.
func (t *Transaction) ReadNode(n uint32) (node.Node, error) {
	if n >= t.fs.Superblock().NodeCount {
		return node.Node{}, fmt.Errorf("%w: %d", ErrNodeIndexOutOfBounds, n)
	}
	blockIdx, byteOff := t.nodeLocation(n)
	blk, err := t.ReadBlock(blockIdx)
	if err != nil {
		return node.Node{}, err
	}
	return node.Decode(blk[byteOff : byteOff+node.EntrySize])
}

// WriteNode encodes nd and read-modify-writes it into the node table
// through the staging layer.
func (t *Transaction) WriteNode(n uint32, nd node.Node) error {
	if n >= t.fs.Superblock().NodeCount {
		return fmt.Errorf("%w: %d", ErrNodeIndexOutOfBounds, n)
	}
	blockIdx, byteOff := t.nodeLocation(n)
	blk, err := t.ReadBlock(blockIdx)
	if err != nil {
		return err
	}
	copy(blk[byteOff:byteOff+node.EntrySize], nd.Encode())
	return t.WriteBlock(blockIdx, blk)
}

// CreateNode first-fits a free node-table slot, writes a zeroed node of
// the given filetype into it, and returns both the node and its index.
// Node index 0 is permanently reserved and never returned.
func (t *Transaction) CreateNode(filetype node.FileType) (node.Node, uint32, error) {
	span, err := t.nodeMap.Allocate(1)
	if err != nil {
		metrics.AllocationFailuresTotal.WithLabelValues("nodes").Inc()
		return node.Node{}, 0, fmt.Errorf("txn: create_node: %w", err)
	}
	idx := uint32(span.Start)
	nd := node.Node{FileType: filetype}
	if err := t.WriteNode(idx, nd); err != nil {
		return node.Node{}, 0, err
	}
	metrics.NodesAllocatedTotal.Inc()
	return nd, idx, nil
}

// DeleteNode frees every mapped extent's physical span, frees the node
// index itself, and overwrites the node record with zeroes.
func (t *Transaction) DeleteNode(n uint32) error {
	nd, err := t.ReadNode(n)
	if err != nil {
		return err
	}
	for _, e := range nd.Extents {
		if e.Kind() == node.ExtentNull {
			break
		}
		if e.Kind() == node.ExtentMapped {
			if err := t.blockMap.Free(bitmap.Span{Start: int(e.Start), End: int(e.End)}); err != nil {
				return err
			}
			metrics.BlocksFreedTotal.Add(float64(e.End - e.Start))
		}
	}
	if err := t.nodeMap.Free(bitmap.Span{Start: int(n), End: int(n) + 1}); err != nil {
		return err
	}
	metrics.NodesFreedTotal.Inc()
	return t.WriteNode(n, node.Node{})
}

// chunkBounds computes, for the chunk of a read/write starting at
// logicalOff within a file, the logical block it falls in, the byte
// offset within that block, and how many bytes of this chunk remain
// before either the block or the requested range ends.
func chunkBounds(logicalOff uint64, blockSize uint64, remaining uint64) (logical uint32, inBlockOff uint64, length uint64) {
	logical = uint32(logicalOff / blockSize)
	inBlockOff = logicalOff % blockSize
	length = blockSize - inBlockOff
	if length > remaining {
		length = remaining
	}
	return
}

// ReadFileAt implements the POSIX-style short-read-at-EOF contract of
// spec.md §4.F: 0 bytes when off >= size, else min(len(buf), size-off)
// bytes, chunked at block boundaries, with holes and unmapped-but-in-size
// blocks read as zeros.
func (t *Transaction) ReadFileAt(n uint32, off uint64, buf []byte) (int, error) {
	nd, err := t.ReadNode(n)
	if err != nil {
		return 0, err
	}
	if off >= nd.Size {
		return 0, nil
	}
	toRead := nd.Size - off
	if uint64(len(buf)) < toRead {
		toRead = uint64(len(buf))
	}

	blockSize := uint64(t.dev.BlockSize())
	var written uint64
	for written < toRead {
		logical, inBlockOff, length := chunkBounds(off+written, blockSize, toRead-written)
		dst := buf[written : written+length]

		phys, res := nd.PhysicalBlock(logical)
		if res == node.ResolvedMapped {
			blk, err := t.ReadBlock(phys)
			if err != nil {
				return int(written), err
			}
			copy(dst, blk[inBlockOff:inBlockOff+length])
		} else {
			for i := range dst {
				dst[i] = 0
			}
		}
		written += length
	}
	return int(written), nil
}

// WriteFileAt implements spec.md §4.F write_file_at. Per the resolved
// write-past-EOF decision (DESIGN.md), off > size is a no-op returning 0:
// this matches spec.md §8's literal boundary behavior and end-to-end
// scenario 4, which pin the reference's reject-past-EOF result rather
// than the sparse-growth alternative §9 raises.
func (t *Transaction) WriteFileAt(n uint32, off uint64, data []byte) (int, error) {
	nd, err := t.ReadNode(n)
	if err != nil {
		return 0, err
	}
	if off > nd.Size {
		return 0, nil
	}

	blockSize := uint64(t.dev.BlockSize())
	total := uint64(len(data))
	var written uint64
	for written < total {
		logical, inBlockOff, length := chunkBounds(off+written, blockSize, total-written)

		phys, res := nd.PhysicalBlock(logical)
		freshlyAllocated := false
		if res != node.ResolvedMapped {
			span, err := t.blockMap.Allocate(1)
			if err != nil {
				metrics.AllocationFailuresTotal.WithLabelValues("blocks").Inc()
				return int(written), fmt.Errorf("txn: write_file_at: %w", err)
			}
			phys = uint32(span.Start)
			if err := nd.MapBlock(logical, phys); err != nil {
				_ = t.blockMap.Free(bitmap.Span{Start: span.Start, End: span.End})
				if errors.Is(err, node.ErrOutOfExtents) {
					metrics.AllocationFailuresTotal.WithLabelValues("extents").Inc()
				}
				return int(written), fmt.Errorf("txn: write_file_at: %w", err)
			}
			metrics.BlocksAllocatedTotal.Inc()
			freshlyAllocated = true
		}

		var blk []byte
		if freshlyAllocated && length == blockSize {
			blk = make([]byte, blockSize)
		} else {
			blk, err = t.ReadBlock(phys)
			if err != nil {
				return int(written), err
			}
		}
		copy(blk[inBlockOff:inBlockOff+length], data[written:written+length])
		if err := t.WriteBlock(phys, blk); err != nil {
			return int(written), err
		}

		written += length
	}

	if off+written > nd.Size {
		nd.Size = off + written
	}
	if err := t.WriteNode(n, nd); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// TruncateFile implements spec.md §4.F truncate_file. Growing only moves
// size; the new tail reads as zeros via the sparse-file rule with no
// immediate allocation. Shrinking walks the extent list via
// node.ShrinkTo and frees whatever physical spans it reports.
func (t *Transaction) TruncateFile(n uint32, newSize uint64) error {
	nd, err := t.ReadNode(n)
	if err != nil {
		return err
	}
	if nd.FileType != node.FileTypeFile {
		return ErrFileTypeNotTruncateable
	}
	if newSize >= nd.Size {
		nd.Size = newSize
		return t.WriteNode(n, nd)
	}

	blockSize := uint64(t.dev.BlockSize())
	blocksNeeded := uint32((newSize + blockSize - 1) / blockSize)
	freed := nd.ShrinkTo(blocksNeeded)
	for _, f := range freed {
		if err := t.blockMap.Free(bitmap.Span{Start: int(f.Start), End: int(f.End)}); err != nil {
			return err
		}
		metrics.BlocksFreedTotal.Add(float64(f.End - f.Start))
	}
	nd.Size = newSize
	return t.WriteNode(n, nd)
}

// ReadDirectory decodes n's whole-file content as a Directory.
func (t *Transaction) ReadDirectory(n uint32) (*directory.Directory, error) {
	nd, err := t.ReadNode(n)
	if err != nil {
		return nil, err
	}
	if nd.FileType != node.FileTypeDir {
		return nil, ErrNotDirectory
	}
	buf := make([]byte, nd.Size)
	if _, err := t.ReadFileAt(n, 0, buf); err != nil {
		return nil, err
	}
	return directory.Decode(buf)
}

// WriteDirectory encodes dir and writes it as n's whole-file content.
func (t *Transaction) WriteDirectory(n uint32, dir *directory.Directory) error {
	buf, err := dir.Encode()
	if err != nil {
		return err
	}
	_, err = t.WriteFileAt(n, 0, buf)
	return err
}

// CreateFile allocates a node of the given filetype, sets link_count = 1,
// inserts a directory entry for it in parent, and returns the new index.
func (t *Transaction) CreateFile(parent uint32, name string, filetype node.FileType) (uint32, error) {
	nd, idx, err := t.CreateNode(filetype)
	if err != nil {
		return 0, err
	}
	nd.LinkCount = 1
	if err := t.WriteNode(idx, nd); err != nil {
		return 0, err
	}

	dir, err := t.ReadDirectory(parent)
	if err != nil {
		return 0, err
	}
	if err := dir.AddEntry(directory.Entry{FileType: filetype, NodeIndex: idx, Name: name}); err != nil {
		return 0, err
	}
	if err := t.WriteDirectory(parent, dir); err != nil {
		return 0, err
	}
	return idx, nil
}

// CreateDirectory is create_file with filetype Dir, with the new node's
// body initialized to "." (self) and ".." (parent).
func (t *Transaction) CreateDirectory(parent uint32, name string) (uint32, error) {
	idx, err := t.CreateFile(parent, name, node.FileTypeDir)
	if err != nil {
		return 0, err
	}
	dir := &directory.Directory{}
	_ = dir.AddEntry(directory.Entry{FileType: node.FileTypeDir, NodeIndex: idx, Name: "."})
	_ = dir.AddEntry(directory.Entry{FileType: node.FileTypeDir, NodeIndex: parent, Name: ".."})
	if err := t.WriteDirectory(idx, dir); err != nil {
		return 0, err
	}
	return idx, nil
}

// LinkFile hard-links node n into parent under name. Only files (not
// directories) may be linked.
func (t *Transaction) LinkFile(parent, n uint32, name string) error {
	nd, err := t.ReadNode(n)
	if err != nil {
		return err
	}
	if nd.FileType != node.FileTypeFile {
		return ErrFileTypeNotLinkable
	}
	nd.LinkCount++
	if err := t.WriteNode(n, nd); err != nil {
		return err
	}

	dir, err := t.ReadDirectory(parent)
	if err != nil {
		return err
	}
	if err := dir.AddEntry(directory.Entry{FileType: nd.FileType, NodeIndex: n, Name: name}); err != nil {
		return err
	}
	return t.WriteDirectory(parent, dir)
}

// UnlinkFile tombstones name's directory entry, decrements the target's
// link_count, and — only when the count reaches zero and free is true —
// deletes the node.
func (t *Transaction) UnlinkFile(parent uint32, name string, free bool) error {
	dir, err := t.ReadDirectory(parent)
	if err != nil {
		return err
	}
	entry, err := dir.GetEntry(name)
	if err != nil {
		return ErrFileNotFound
	}
	if entry.FileType != node.FileTypeFile {
		return ErrFileTypeNotLinkable
	}
	if _, err := dir.RemoveEntry(name); err != nil {
		return err
	}
	if err := t.WriteDirectory(parent, dir); err != nil {
		return err
	}

	nd, err := t.ReadNode(entry.NodeIndex)
	if err != nil {
		return err
	}
	nd.LinkCount--
	if nd.LinkCount == 0 && free {
		return t.DeleteNode(entry.NodeIndex)
	}
	return t.WriteNode(entry.NodeIndex, nd)
}

// RemoveDirectory tombstones name's entry in parent and deletes the
// target node, refusing unless the target is an empty directory.
func (t *Transaction) RemoveDirectory(parent uint32, name string) error {
	dir, err := t.ReadDirectory(parent)
	if err != nil {
		return err
	}
	entry, err := dir.GetEntry(name)
	if err != nil {
		return ErrFileNotFound
	}
	if entry.FileType != node.FileTypeDir {
		return ErrNotDirectory
	}
	targetDir, err := t.ReadDirectory(entry.NodeIndex)
	if err != nil {
		return err
	}
	if !targetDir.IsEmpty() {
		return ErrNotEmpty
	}
	if _, err := dir.RemoveEntry(name); err != nil {
		return err
	}
	if err := t.WriteDirectory(parent, dir); err != nil {
		return err
	}
	return t.DeleteNode(entry.NodeIndex)
}

// Lookup resolves a single path component against parent's directory.
func (t *Transaction) Lookup(parent uint32, name string) (uint32, error) {
	dir, err := t.ReadDirectory(parent)
	if err != nil {
		return 0, err
	}
	entry, err := dir.GetEntry(name)
	if err != nil {
		return 0, ErrFileNotFound
	}
	return entry.NodeIndex, nil
}

// FindNode resolves path to a node index by walking it component by
// component, starting from the root for an absolute path (leading "/")
// or from cwd otherwise. This is the full walk spec.md §9 asks
// implementers to provide in place of the reference's tentative handling
// of deep absolute paths.
func (t *Transaction) FindNode(path string, cwd uint32) (uint32, error) {
	if path == "" {
		return cwd, nil
	}
	current := cwd
	if strings.HasPrefix(path, "/") {
		current = RootIndex
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		idx, err := t.Lookup(current, part)
		if err != nil {
			return 0, err
		}
		current = idx
	}
	return current, nil
}

// Commit consumes the transaction: it stages any changed allocation-map
// blocks first, flushes every staged block to the device in ascending
// block-index order, then swaps the transaction's working bitmaps into
// the filesystem. Until this call returns successfully, nothing the
// transaction allocated, freed, or wrote is visible outside it.
func (t *Transaction) Commit() error {
	if err := t.checkActive(); err != nil {
		return err
	}

	super := t.fs.Superblock()
	if err := t.stageBitmap(super.BlockMapOffset, t.blockMap); err != nil {
		return err
	}
	if err := t.stageBitmap(super.NodeMapOffset, t.nodeMap); err != nil {
		return err
	}

	indices := make([]uint32, 0, len(t.staged))
	for i := range t.staged {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	for _, i := range indices {
		if err := t.dev.WriteBlock(i, t.staged[i]); err != nil {
			return err
		}
	}

	t.fs.SetBitmaps(t.blockMap, t.nodeMap)
	t.state = stateConsumed

	metrics.TransactionCommitsTotal.Inc()
	metrics.FreeBlocksGauge.Set(float64(t.blockMap.FreeCount()))
	metrics.FreeNodesGauge.Set(float64(t.nodeMap.FreeCount()))
	return nil
}

// stageBitmap encodes m into BLOCK_SIZE-sized chunks and stages a write
// for each chunk that differs from what is currently persisted at
// mapOffset, to avoid superfluous writes.
func (t *Transaction) stageBitmap(mapOffset uint32, m *bitmap.Map) error {
	b := m.AsBytes()
	blockSize := int(t.dev.BlockSize())
	nChunks := (len(b) + blockSize - 1) / blockSize

	for chunk := 0; chunk < nChunks; chunk++ {
		start := chunk * blockSize
		end := start + blockSize
		piece := make([]byte, blockSize)
		if end > len(b) {
			end = len(b)
		}
		copy(piece, b[start:end])

		blockIdx := mapOffset + uint32(chunk)
		existing, err := t.dev.ReadBlock(blockIdx)
		if err != nil {
			return err
		}
		if !bytes.Equal(existing, piece) {
			t.staged[blockIdx] = piece
		}
	}
	return nil
}
