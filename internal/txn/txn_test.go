package txn_test

import (
	"testing"

	"github.com/oss-samples/blockfs/internal/filesystem"
	"github.com/oss-samples/blockfs/internal/node"
	"github.com/oss-samples/blockfs/internal/storage"
	"github.com/oss-samples/blockfs/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockSize = 512

func newFormatted(t *testing.T, blockCount, nodeCount uint32) (*storage.Memory, *filesystem.Filesystem) {
	t.Helper()
	dev := storage.NewMemory(blockSize, blockCount)
	fs, err := filesystem.Format(dev, blockCount, nodeCount)
	require.NoError(t, err)
	return dev, fs
}

func TestWriteBlockStagesWithoutTouchingDevice(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)

	payload := make([]byte, blockSize)
	payload[0] = 0xAB
	require.NoError(t, tx.WriteBlock(40, payload))

	staged, err := tx.ReadBlock(40)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), staged[0])

	onDevice, err := dev.ReadBlock(40)
	require.NoError(t, err)
	assert.NotEqual(t, byte(0xAB), onDevice[0], "uncommitted write must not reach the device")
}

func TestWriteFileThenReadFileRoundTrips(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)

	idx, err := tx.CreateFile(txn.RootIndex, "a", node.FileTypeFile)
	require.NoError(t, err)

	n, err := tx.WriteFileAt(idx, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	nr, err := tx.ReadFileAt(idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, nr)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, tx.Commit())
}

func TestWriteFileAtOffsetEqualSizeAppends(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)
	idx, err := tx.CreateFile(txn.RootIndex, "a", node.FileTypeFile)
	require.NoError(t, err)

	n, err := tx.WriteFileAt(idx, 0, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = tx.WriteFileAt(idx, 3, []byte("def"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 6)
	nr, err := tx.ReadFileAt(idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 6, nr)
	assert.Equal(t, "abcdef", string(buf))
}

func TestWriteFileAtPastEOFIsRejected(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)
	idx, err := tx.CreateFile(txn.RootIndex, "c", node.FileTypeFile)
	require.NoError(t, err)

	n, err := tx.WriteFileAt(idx, 2048, []byte("tail"))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "write past EOF must write 0 bytes")

	nd, err := tx.ReadNode(idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nd.Size, "write past EOF must not modify the file")
}

func TestReadFileAtEOFReturnsZero(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)
	idx, err := tx.CreateFile(txn.RootIndex, "a", node.FileTypeFile)
	require.NoError(t, err)
	_, err = tx.WriteFileAt(idx, 0, []byte("hi"))
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := tx.ReadFileAt(idx, 2, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTruncateShrinkFreesBlocksAndShrinksSize(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)
	idx, err := tx.CreateFile(txn.RootIndex, "b", node.FileTypeFile)
	require.NoError(t, err)

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = 'x'
	}
	_, err = tx.WriteFileAt(idx, 0, payload)
	require.NoError(t, err)

	require.NoError(t, tx.TruncateFile(idx, 400))

	nd, err := tx.ReadNode(idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), nd.Size)
	assert.Equal(t, uint32(1), nd.BlockCount(), "400 bytes needs exactly one 512-byte block")
}

func TestTruncateGrowCreatesSparseZeroTail(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)
	idx, err := tx.CreateFile(txn.RootIndex, "c", node.FileTypeFile)
	require.NoError(t, err)

	_, err = tx.WriteFileAt(idx, 2048, nil)
	require.NoError(t, err)
	require.NoError(t, tx.TruncateFile(idx, 2052))

	buf := make([]byte, 4)
	n, err := tx.ReadFileAt(idx, 2048, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestLinkAndUnlinkTrackLinkCount(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)

	idx, err := tx.CreateFile(txn.RootIndex, "x", node.FileTypeFile)
	require.NoError(t, err)
	require.NoError(t, tx.LinkFile(txn.RootIndex, idx, "y"))

	nd, err := tx.ReadNode(idx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), nd.LinkCount)

	require.NoError(t, tx.UnlinkFile(txn.RootIndex, "x", true))
	nd, err = tx.ReadNode(idx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), nd.LinkCount)

	require.NoError(t, tx.UnlinkFile(txn.RootIndex, "y", true))
	_, err = tx.Lookup(txn.RootIndex, "y")
	assert.ErrorIs(t, err, txn.ErrFileNotFound)
}

func TestUnlinkFreesNodeWhenLinkCountReachesZeroAndNotOpen(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)

	idx, err := tx.CreateFile(txn.RootIndex, "x", node.FileTypeFile)
	require.NoError(t, err)
	require.NoError(t, tx.UnlinkFile(txn.RootIndex, "x", true))

	flag, err := tx.ReadNode(idx)
	require.NoError(t, err)
	assert.Equal(t, node.FileTypeNone, flag.FileType, "deleted node should be zeroed")
}

func TestMkdirRmdirRequiresEmpty(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)

	didx, err := tx.CreateDirectory(txn.RootIndex, "d")
	require.NoError(t, err)

	_, err = tx.CreateFile(didx, "inside", node.FileTypeFile)
	require.NoError(t, err)

	err = tx.RemoveDirectory(txn.RootIndex, "d")
	assert.ErrorIs(t, err, txn.ErrNotEmpty)

	require.NoError(t, tx.UnlinkFile(didx, "inside", true))
	require.NoError(t, tx.RemoveDirectory(txn.RootIndex, "d"))

	_, err = tx.Lookup(txn.RootIndex, "d")
	assert.ErrorIs(t, err, txn.ErrFileNotFound)
}

func TestFindNodeAbsoluteAndRelative(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)

	didx, err := tx.CreateDirectory(txn.RootIndex, "d")
	require.NoError(t, err)
	fidx, err := tx.CreateFile(didx, "f", node.FileTypeFile)
	require.NoError(t, err)

	got, err := tx.FindNode("/d/f", txn.RootIndex)
	require.NoError(t, err)
	assert.Equal(t, fidx, got)

	got, err = tx.FindNode("f", didx)
	require.NoError(t, err)
	assert.Equal(t, fidx, got)

	got, err = tx.FindNode("..", didx)
	require.NoError(t, err)
	assert.Equal(t, uint32(txn.RootIndex), got)
}

func TestDiscardLeavesFilesystemUntouched(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	freeBefore := fs.NodeBitmap().FreeCount()

	tx := txn.New(fs, dev)
	_, err := tx.CreateFile(txn.RootIndex, "ghost", node.FileTypeFile)
	require.NoError(t, err)
	tx.Discard()

	assert.Equal(t, freeBefore, fs.NodeBitmap().FreeCount(), "discarded allocations must not leak into the filesystem's bitmap")

	tx2 := txn.New(fs, dev)
	_, err = tx2.Lookup(txn.RootIndex, "ghost")
	assert.ErrorIs(t, err, txn.ErrFileNotFound)
}

func TestOperationAfterCommitFails(t *testing.T) {
	dev, fs := newFormatted(t, 64, 16)
	tx := txn.New(fs, dev)
	require.NoError(t, tx.Commit())

	err := tx.Commit()
	assert.ErrorIs(t, err, txn.ErrTransactionConsumed)
}

func TestWriteFileAtPropagatesOutOfExtents(t *testing.T) {
	dev, fs := newFormatted(t, 128, 16)
	tx := txn.New(fs, dev)
	idx, err := tx.CreateFile(txn.RootIndex, "frag", node.FileTypeFile)
	require.NoError(t, err)

	// Forge a node whose extent array is already at capacity with
	// non-adjacent single-block mapped extents, so the next insertion has
	// nowhere to go.
	nd, err := tx.ReadNode(idx)
	require.NoError(t, err)
	for i := 0; i < node.ExtentsPerNode; i++ {
		require.NoError(t, nd.MapBlock(uint32(i), uint32(10+2*i)))
	}
	nd.Size = uint64(node.ExtentsPerNode) * blockSize
	require.NoError(t, tx.WriteNode(idx, nd))

	_, err = tx.WriteFileAt(idx, nd.Size, []byte{1})
	assert.Error(t, err)
}
