package filesystem_test

import (
	"testing"

	"github.com/oss-samples/blockfs/internal/bitmap"
	"github.com/oss-samples/blockfs/internal/filesystem"
	"github.com/oss-samples/blockfs/internal/storage"
	"github.com/oss-samples/blockfs/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 512

func newDevice(blockCount uint32) *storage.Memory {
	return storage.NewMemory(testBlockSize, blockCount)
}

func TestFormatPlacesRootAtRootIndex(t *testing.T) {
	dev := newDevice(64)
	fs, err := filesystem.Format(dev, 64, 16)
	require.NoError(t, err)

	flag, err := fs.NodeBitmap().At(txn.RootIndex)
	require.NoError(t, err)
	assert.Equal(t, bitmap.Used, flag)
}

func TestFormatMarksNullNodeUsed(t *testing.T) {
	dev := newDevice(64)
	fs, err := filesystem.Format(dev, 64, 16)
	require.NoError(t, err)

	flag, err := fs.NodeBitmap().At(0)
	require.NoError(t, err)
	assert.Equal(t, bitmap.Used, flag)
}

func TestFormatMarksMetadataBlocksUsed(t *testing.T) {
	dev := newDevice(64)
	fs, err := filesystem.Format(dev, 64, 16)
	require.NoError(t, err)

	for i := 0; i < int(fs.Super.DataOffset); i++ {
		flag, err := fs.BlockBitmap().At(i)
		require.NoError(t, err)
		assert.Equal(t, bitmap.Used, flag, "metadata block %d should be Used", i)
	}
}

func TestFormatThenMountRoundTrips(t *testing.T) {
	dev := newDevice(64)
	_, err := filesystem.Format(dev, 64, 16)
	require.NoError(t, err)

	fs, err := filesystem.Mount(dev)
	require.NoError(t, err)

	tx := txn.New(fs, dev)
	dir, err := tx.ReadDirectory(txn.RootIndex)
	require.NoError(t, err)
	assert.True(t, dir.IsEmpty())

	self, err := dir.GetEntry(".")
	require.NoError(t, err)
	assert.Equal(t, uint32(txn.RootIndex), self.NodeIndex)

	parent, err := dir.GetEntry("..")
	require.NoError(t, err)
	assert.Equal(t, uint32(txn.RootIndex), parent.NodeIndex)
}

func TestMountRejectsUnformattedDevice(t *testing.T) {
	dev := newDevice(64)
	_, err := filesystem.Mount(dev)
	assert.Error(t, err)
}
