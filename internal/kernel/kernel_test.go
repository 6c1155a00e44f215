package kernel_test

import (
	"testing"

	"github.com/oss-samples/blockfs/internal/kernel"
	"github.com/oss-samples/blockfs/internal/node"
	"github.com/oss-samples/blockfs/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 512

func newKernel(t *testing.T, blockCount, nodeCount uint32) *kernel.Kernel {
	t.Helper()
	dev := storage.NewMemory(testBlockSize, blockCount)
	k := kernel.New(dev)
	require.NoError(t, k.Mkfs(blockCount, nodeCount))
	return k
}

func TestMkfsThenLsRootShowsDotAndDotDot(t *testing.T) {
	k := newKernel(t, 16, 16)

	entries, err := k.Ls("/")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]uint32{}
	for _, e := range entries {
		byName[e.Name] = e.NodeIndex
	}
	assert.Equal(t, uint32(1), byName["."])
	assert.Equal(t, uint32(1), byName[".."])
}

func TestOperationsBeforeMountFail(t *testing.T) {
	dev := storage.NewMemory(testBlockSize, 16)
	k := kernel.New(dev)

	_, err := k.Create("/a")
	assert.ErrorIs(t, err, kernel.ErrFilesystemNotMounted)
}

func TestCreateWriteSeekReadRoundTrip(t *testing.T) {
	k := newKernel(t, 32, 16)

	_, err := k.Create("/greeting")
	require.NoError(t, err)

	fd, err := k.Open("/greeting")
	require.NoError(t, err)

	n, err := k.Write(fd, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, k.Seek(fd, 0))
	buf := make([]byte, 5)
	nr, err := k.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, nr)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, k.Close(fd))
}

func TestWriteTruncateStatReportsSizeAndBlockCount(t *testing.T) {
	k := newKernel(t, 32, 16)
	_, err := k.Create("/data")
	require.NoError(t, err)

	fd, err := k.Open("/data")
	require.NoError(t, err)

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = 'z'
	}
	_, err = k.Write(fd, payload)
	require.NoError(t, err)
	require.NoError(t, k.Close(fd))

	require.NoError(t, k.Truncate("/data", 400))

	st, err := k.Stat("/data")
	require.NoError(t, err)
	assert.Equal(t, uint64(400), st.Size)
	assert.Equal(t, uint32(1), st.BlockCount)
	assert.Equal(t, node.FileTypeFile, st.FileType)
}

func TestWritePastEOFRejectedThenTruncateThenReadZeros(t *testing.T) {
	k := newKernel(t, 32, 16)
	_, err := k.Create("/sparse")
	require.NoError(t, err)

	fd, err := k.Open("/sparse")
	require.NoError(t, err)
	require.NoError(t, k.Seek(fd, 2048))

	n, err := k.Write(fd, []byte("tail"))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "write past EOF must reject, writing 0 bytes")

	require.NoError(t, k.Truncate("/sparse", 2052))

	require.NoError(t, k.Seek(fd, 2048))
	buf := make([]byte, 4)
	nr, err := k.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, nr)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)

	require.NoError(t, k.Close(fd))
}

func TestLinkUnlinkTracksLinkCountAndFreesOnLastUnlink(t *testing.T) {
	k := newKernel(t, 32, 16)
	_, err := k.Create("/x")
	require.NoError(t, err)

	require.NoError(t, k.Link("/x", "/y"))

	st, err := k.Stat("/x")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.LinkCount)

	require.NoError(t, k.Unlink("/x"))
	st, err = k.Stat("/y")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), st.LinkCount)

	require.NoError(t, k.Unlink("/y"))
	_, err = k.Stat("/y")
	assert.Error(t, err)
}

func TestUnlinkWhileOpenDefersDeletionUntilClose(t *testing.T) {
	k := newKernel(t, 32, 16)
	_, err := k.Create("/ghost")
	require.NoError(t, err)

	fd, err := k.Open("/ghost")
	require.NoError(t, err)

	require.NoError(t, k.Unlink("/ghost"))

	// The node must still be writable/readable through the still-open
	// descriptor even though its directory entry is gone.
	n, err := k.Write(fd, []byte("boo"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, k.Close(fd))

	_, err = k.Open("/ghost")
	assert.Error(t, err, "name should no longer resolve after unlink")
}

func TestMkdirCdRmdirAndRootRmdirNotPermitted(t *testing.T) {
	k := newKernel(t, 32, 16)

	_, err := k.Mkdir("/sub")
	require.NoError(t, err)

	require.NoError(t, k.Cd("/sub"))
	require.NoError(t, k.Cd(".."))

	require.NoError(t, k.Rmdir("/sub"))
	_, err = k.Ls("/sub")
	assert.Error(t, err)

	err = k.Rmdir("/")
	assert.ErrorIs(t, err, kernel.ErrNotPermitted)
}

func TestCreateRejectsTrailingSlashAndDuplicateName(t *testing.T) {
	k := newKernel(t, 32, 16)

	_, err := k.Create("/dir/")
	assert.ErrorIs(t, err, kernel.ErrIsDir)

	_, err = k.Create("/a")
	require.NoError(t, err)
	_, err = k.Create("/a")
	assert.ErrorIs(t, err, kernel.ErrFileExists)
}

func TestInvalidDescriptorOperationsFail(t *testing.T) {
	k := newKernel(t, 16, 16)

	_, err := k.Read(7, make([]byte, 1))
	assert.ErrorIs(t, err, kernel.ErrInvalidFileDescriptor)

	err = k.Seek(7, 0)
	assert.ErrorIs(t, err, kernel.ErrInvalidFileDescriptor)
}

func TestDescriptorReuseTakesLowestFreeValue(t *testing.T) {
	k := newKernel(t, 16, 16)
	_, err := k.Create("/a")
	require.NoError(t, err)
	_, err = k.Create("/b")
	require.NoError(t, err)

	fd0, err := k.Open("/a")
	require.NoError(t, err)
	fd1, err := k.Open("/b")
	require.NoError(t, err)
	assert.Equal(t, 0, fd0)
	assert.Equal(t, 1, fd1)

	require.NoError(t, k.Close(fd0))

	fd2, err := k.Open("/a")
	require.NoError(t, err)
	assert.Equal(t, 0, fd2, "closed descriptor 0 should be reused before allocating a new one")
}

func TestMountReconstructsStateAfterFreshKernel(t *testing.T) {
	dev := storage.NewMemory(testBlockSize, 32)
	k1 := kernel.New(dev)
	require.NoError(t, k1.Mkfs(32, 16))
	_, err := k1.Create("/persisted")
	require.NoError(t, err)
	fd, err := k1.Open("/persisted")
	require.NoError(t, err)
	_, err = k1.Write(fd, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, k1.Close(fd))

	k2 := kernel.New(dev)
	require.NoError(t, k2.Mount())

	st, err := k2.Stat("/persisted")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Size)
}
