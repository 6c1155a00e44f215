// Package kernel implements Component H of spec.md §4.H: the open-file
// table, current-directory state, and the user-visible call set that
// translates paths into node operations against a mounted filesystem.
package kernel

import (
	"errors"
	"strings"

	"github.com/jacobsa/syncutil"
	"github.com/oss-samples/blockfs/internal/bitmap"
	"github.com/oss-samples/blockfs/internal/directory"
	"github.com/oss-samples/blockfs/internal/filesystem"
	"github.com/oss-samples/blockfs/internal/logger"
	"github.com/oss-samples/blockfs/internal/node"
	"github.com/oss-samples/blockfs/internal/storage"
	"github.com/oss-samples/blockfs/internal/txn"
)

var (
	// ErrFilesystemNotMounted is returned by every call that needs a
	// mounted filesystem before one has been formatted or mounted.
	ErrFilesystemNotMounted = errors.New("kernel: filesystem not mounted")
	// ErrInvalidFileDescriptor is returned when a descriptor does not
	// name a currently open file.
	ErrInvalidFileDescriptor = errors.New("kernel: invalid file descriptor")
	// ErrFileExists is returned by Create when the target name is
	// already occupied in the parent directory.
	ErrFileExists = errors.New("kernel: file exists")
	// ErrNotDir is returned when a path component that should be a
	// directory is not.
	ErrNotDir = errors.New("kernel: not a directory")
	// ErrNotPermitted is returned by Rmdir("/").
	ErrNotPermitted = errors.New("kernel: operation not permitted")
	// ErrIsDir is returned by Create for a path with a trailing slash.
	ErrIsDir = errors.New("kernel: is a directory")
)

// OpenFile is the pair (node_index, offset) a descriptor addresses.
type OpenFile struct {
	NodeIndex uint32
	Offset    uint64
}

// Usage reports the current occupancy of the two allocation maps, a
// supplemented read-only diagnostic beyond spec.md's literal call set.
type Usage struct {
	FreeBlocks, TotalBlocks int
	FreeNodes, TotalNodes   int
}

// Stat is the metadata Kernel.Stat returns for a path.
type Stat struct {
	NodeIndex  uint32
	FileType   node.FileType
	Size       uint64
	LinkCount  uint32
	BlockCount uint32
}

// Kernel holds the open-file table, the optional mounted filesystem, the
// storage device, and the current-directory node index.
type Kernel struct {
	dev       storage.Device
	fs        *filesystem.Filesystem
	openFiles map[int]*OpenFile
	cwd       uint32

	// exitOnViolation mirrors cfg.Debug.ExitOnInvariantViolation: when
	// true, a violated invariant is fatal (logged, then panics); when
	// false it is only logged. Defaults to false, matching --debug-invariants.
	exitOnViolation bool

	mu syncutil.InvariantMutex
}

// New constructs a Kernel over dev. No filesystem is mounted until Mkfs or
// Mount is called.
func New(dev storage.Device) *Kernel {
	k := &Kernel{
		dev:       dev,
		openFiles: make(map[int]*OpenFile),
		cwd:       txn.RootIndex,
	}
	k.mu = syncutil.NewInvariantMutex(k.checkInvariants)
	return k
}

// SetExitOnInvariantViolation controls whether checkInvariants panics
// (via logger.Fatal) or only logs (via logger.Errorf) when it finds a
// violated invariant, per cfg.Debug.ExitOnInvariantViolation.
func (k *Kernel) SetExitOnInvariantViolation(v bool) {
	k.exitOnViolation = v
}

// violation reports a broken invariant found by checkInvariants, fatally
// or not depending on exitOnViolation.
func (k *Kernel) violation(format string, args ...any) {
	if k.exitOnViolation {
		logger.Fatal(format, args...)
		return
	}
	logger.Errorf(format, args...)
}

// checkInvariants checks the spec.md §8 properties that must hold after
// every committed transaction: node 0 is Used; for every node the node
// map marks Used and whose link_count is non-zero, null extents follow
// non-null ones, mapped extents are Used in the block map and start at or
// after data_offset, and a directory's size is a multiple of the entry
// size with a "." entry pointing to itself. It does not check ".." or
// that no directory entry references node 0. A violation indicates a
// corrupted on-device structure or a bug in a prior operation, which
// spec.md §7 calls a fatal internal contract violation.
func (k *Kernel) checkInvariants() {
	if k.fs == nil {
		return
	}

	t := txn.New(k.fs, k.dev)

	// INVARIANT: node 0 is permanently Used.
	used0, err := k.fs.NodeBitmap().At(0)
	if err != nil {
		k.violation("kernel: invariant violation: node map has no index 0: %v", err)
	}
	if used0 != bitmap.Used {
		k.violation("kernel: invariant violation: node 0 is not marked Used")
	}

	for n := uint32(1); n < k.fs.Super.NodeCount; n++ {
		nodeFlag, err := k.fs.NodeBitmap().At(int(n))
		if err != nil {
			k.violation("kernel: invariant violation: node map index %d: %v", n, err)
		}
		if nodeFlag == bitmap.Free {
			continue
		}
		nd, err := t.ReadNode(n)
		if err != nil {
			k.violation("kernel: invariant violation: reading node %d: %v", n, err)
		}
		if nd.LinkCount == 0 {
			continue
		}

		// INVARIANT: extent ordering — all null extents follow all non-null.
		seenNull := false
		for _, e := range nd.Extents {
			if e.Kind() == node.ExtentNull {
				seenNull = true
				continue
			}
			if seenNull {
				k.violation("kernel: invariant violation: node %d has a non-null extent after a null one", n)
			}
		}

		for _, e := range nd.Extents {
			if e.Kind() != node.ExtentMapped {
				if e.Kind() == node.ExtentNull {
					break
				}
				continue
			}
			// INVARIANT: mapped extents are marked Used in the block map.
			for b := e.Start; b < e.End; b++ {
				bf, err := k.fs.BlockBitmap().At(int(b))
				if err != nil || bf != bitmap.Used {
					k.violation("kernel: invariant violation: node %d extent [%d,%d) block %d not Used", n, e.Start, e.End, b)
				}
			}
			// INVARIANT: no extent points into metadata.
			if e.Start < k.fs.Super.DataOffset {
				k.violation("kernel: invariant violation: node %d extent starts at %d, before data_offset %d", n, e.Start, k.fs.Super.DataOffset)
			}
		}

		if nd.FileType == node.FileTypeDir {
			// INVARIANT: directory size is a multiple of the entry size, "."
			// points to itself.
			if nd.Size%uint64(directory.EntrySize) != 0 {
				k.violation("kernel: invariant violation: directory node %d size %d not a multiple of entry size", n, nd.Size)
			}
			dir, err := t.ReadDirectory(n)
			if err != nil {
				k.violation("kernel: invariant violation: reading directory node %d: %v", n, err)
				continue
			}
			self, err := dir.GetEntry(".")
			if err != nil || self.NodeIndex != n {
				k.violation("kernel: invariant violation: directory node %d has no valid '.' entry", n)
			}
		}
	}
}

func (k *Kernel) requireMounted() error {
	if k.fs == nil {
		return ErrFilesystemNotMounted
	}
	return nil
}

// splitPath returns (parent, name) per spec.md §4.H: parent = "/" if
// p = "/name", parent = "." when p has no "/", else the substring before
// the last "/".
func splitPath(p string) (parent, name string) {
	idx := strings.LastIndex(p, "/")
	if idx == -1 {
		return ".", p
	}
	if idx == 0 {
		return "/", p[1:]
	}
	return p[:idx], p[idx+1:]
}

func (k *Kernel) nextDescriptor() int {
	for fd := 0; ; fd++ {
		if _, ok := k.openFiles[fd]; !ok {
			return fd
		}
	}
}

// Mkfs formats the device with blockCount blocks and nodeCount nodes and
// mounts the result.
func (k *Kernel) Mkfs(blockCount, nodeCount uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	fs, err := filesystem.Format(k.dev, blockCount, nodeCount)
	if err != nil {
		return err
	}
	k.fs = fs
	k.cwd = txn.RootIndex
	k.openFiles = make(map[int]*OpenFile)
	return nil
}

// Mount reconstructs a filesystem already present on the device.
func (k *Kernel) Mount() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	fs, err := filesystem.Mount(k.dev)
	if err != nil {
		return err
	}
	k.fs = fs
	k.cwd = txn.RootIndex
	k.openFiles = make(map[int]*OpenFile)
	return nil
}

// Create makes a new, empty file at path and returns its node index. A
// trailing slash is rejected as IsDir; an existing entry is ErrFileExists.
func (k *Kernel) Create(path string) (uint32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return 0, err
	}
	if strings.HasSuffix(path, "/") {
		return 0, ErrIsDir
	}

	parentPath, name := splitPath(path)
	t := txn.New(k.fs, k.dev)
	parentIdx, err := t.FindNode(parentPath, k.cwd)
	if err != nil {
		return 0, err
	}
	if _, err := t.Lookup(parentIdx, name); err == nil {
		return 0, ErrFileExists
	}

	idx, err := t.CreateFile(parentIdx, name, node.FileTypeFile)
	if err != nil {
		return 0, err
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}
	return idx, nil
}

// Mkdir makes a new, empty directory at path.
func (k *Kernel) Mkdir(path string) (uint32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return 0, err
	}
	path = strings.TrimSuffix(path, "/")
	parentPath, name := splitPath(path)

	t := txn.New(k.fs, k.dev)
	parentIdx, err := t.FindNode(parentPath, k.cwd)
	if err != nil {
		return 0, err
	}
	if _, err := t.Lookup(parentIdx, name); err == nil {
		return 0, ErrFileExists
	}

	idx, err := t.CreateDirectory(parentIdx, name)
	if err != nil {
		return 0, err
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}
	return idx, nil
}

// Rmdir removes the empty directory at path. Trailing slashes are
// stripped; removing root is ErrNotPermitted.
func (k *Kernel) Rmdir(path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return err
	}
	path = strings.TrimSuffix(path, "/")
	if path == "/" || path == "" {
		return ErrNotPermitted
	}

	parentPath, name := splitPath(path)
	t := txn.New(k.fs, k.dev)
	parentIdx, err := t.FindNode(parentPath, k.cwd)
	if err != nil {
		return err
	}

	if err := t.RemoveDirectory(parentIdx, name); err != nil {
		return err
	}
	return t.Commit()
}

// Cd changes the current directory to path.
func (k *Kernel) Cd(path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return err
	}
	t := txn.New(k.fs, k.dev)
	idx, err := t.FindNode(path, k.cwd)
	if err != nil {
		return err
	}
	nd, err := t.ReadNode(idx)
	if err != nil {
		return err
	}
	if nd.FileType != node.FileTypeDir {
		return ErrNotDir
	}
	k.cwd = idx
	return nil
}

// Ls lists the entries of path ("" means the current directory).
func (k *Kernel) Ls(path string) ([]directory.Entry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return nil, err
	}
	t := txn.New(k.fs, k.dev)
	idx, err := t.FindNode(path, k.cwd)
	if err != nil {
		return nil, err
	}
	dir, err := t.ReadDirectory(idx)
	if err != nil {
		return nil, err
	}

	var out []directory.Entry
	for _, e := range dir.Entries {
		if e.NodeIndex != 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// Open opens path for reading and writing and returns its descriptor.
func (k *Kernel) Open(path string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return 0, err
	}
	t := txn.New(k.fs, k.dev)
	idx, err := t.FindNode(path, k.cwd)
	if err != nil {
		return 0, err
	}

	fd := k.nextDescriptor()
	k.openFiles[fd] = &OpenFile{NodeIndex: idx, Offset: 0}
	return fd, nil
}

func (k *Kernel) lookupOpen(fd int) (*OpenFile, error) {
	of, ok := k.openFiles[fd]
	if !ok {
		return nil, ErrInvalidFileDescriptor
	}
	return of, nil
}

// referencedElsewhere reports whether any open description other than
// the one at excludeFD still references node n.
func (k *Kernel) referencedElsewhere(n uint32, excludeFD int) bool {
	for fd, of := range k.openFiles {
		if fd != excludeFD && of.NodeIndex == n {
			return true
		}
	}
	return false
}

// Close closes fd. If no other open description references the same
// node afterward, and that node's link_count is 0, the node is deleted —
// deferred deletion of an unlinked-but-still-open file.
func (k *Kernel) Close(fd int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return err
	}
	of, err := k.lookupOpen(fd)
	if err != nil {
		return err
	}
	delete(k.openFiles, fd)

	if k.referencedElsewhere(of.NodeIndex, -1) {
		return nil
	}

	t := txn.New(k.fs, k.dev)
	nd, err := t.ReadNode(of.NodeIndex)
	if err != nil {
		return err
	}
	if nd.LinkCount != 0 {
		return nil
	}
	if err := t.DeleteNode(of.NodeIndex); err != nil {
		return err
	}
	return t.Commit()
}

// Read reads up to len(buf) bytes from fd at its current offset, advancing it.
func (k *Kernel) Read(fd int, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return 0, err
	}
	of, err := k.lookupOpen(fd)
	if err != nil {
		return 0, err
	}

	t := txn.New(k.fs, k.dev)
	n, err := t.ReadFileAt(of.NodeIndex, of.Offset, buf)
	if err != nil {
		return 0, err
	}
	of.Offset += uint64(n)
	return n, nil
}

// Write writes data to fd at its current offset, advancing it by however
// many bytes were actually written (0 if the offset is past EOF).
func (k *Kernel) Write(fd int, data []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return 0, err
	}
	of, err := k.lookupOpen(fd)
	if err != nil {
		return 0, err
	}

	t := txn.New(k.fs, k.dev)
	n, err := t.WriteFileAt(of.NodeIndex, of.Offset, data)
	if err != nil {
		return 0, err
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}
	of.Offset += uint64(n)
	return n, nil
}

// Seek repositions fd's offset to an absolute byte offset.
func (k *Kernel) Seek(fd int, offset uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return err
	}
	of, err := k.lookupOpen(fd)
	if err != nil {
		return err
	}
	of.Offset = offset
	return nil
}

// Link creates a new hard link newPath referring to the same node as oldPath.
func (k *Kernel) Link(oldPath, newPath string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return err
	}
	t := txn.New(k.fs, k.dev)
	idx, err := t.FindNode(oldPath, k.cwd)
	if err != nil {
		return err
	}

	parentPath, name := splitPath(newPath)
	parentIdx, err := t.FindNode(parentPath, k.cwd)
	if err != nil {
		return err
	}
	if err := t.LinkFile(parentIdx, idx, name); err != nil {
		return err
	}
	return t.Commit()
}

// Unlink removes path's directory entry. If the target node is currently
// open, the node itself is kept alive (free = false) until every open
// description referencing it is closed.
func (k *Kernel) Unlink(path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return err
	}
	parentPath, name := splitPath(path)
	t := txn.New(k.fs, k.dev)
	parentIdx, err := t.FindNode(parentPath, k.cwd)
	if err != nil {
		return err
	}
	targetIdx, err := t.Lookup(parentIdx, name)
	if err != nil {
		return err
	}

	isOpened := k.referencedElsewhere(targetIdx, -1)
	if err := t.UnlinkFile(parentIdx, name, !isOpened); err != nil {
		return err
	}
	return t.Commit()
}

// Truncate resizes path's file to newSize.
func (k *Kernel) Truncate(path string, newSize uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return err
	}
	t := txn.New(k.fs, k.dev)
	idx, err := t.FindNode(path, k.cwd)
	if err != nil {
		return err
	}
	if err := t.TruncateFile(idx, newSize); err != nil {
		return err
	}
	return t.Commit()
}

// Stat returns metadata for path.
func (k *Kernel) Stat(path string) (Stat, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return Stat{}, err
	}
	t := txn.New(k.fs, k.dev)
	idx, err := t.FindNode(path, k.cwd)
	if err != nil {
		return Stat{}, err
	}
	nd, err := t.ReadNode(idx)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		NodeIndex:  idx,
		FileType:   nd.FileType,
		Size:       nd.Size,
		LinkCount:  nd.LinkCount,
		BlockCount: nd.BlockCount(),
	}, nil
}

// Usage reports current allocation-map occupancy, supplementing
// spec.md's literal call set with a read-only diagnostic.
func (k *Kernel) Usage() (Usage, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireMounted(); err != nil {
		return Usage{}, err
	}
	return Usage{
		FreeBlocks:  k.fs.BlockBitmap().FreeCount(),
		TotalBlocks: k.fs.BlockBitmap().Count(),
		FreeNodes:   k.fs.NodeBitmap().FreeCount(),
		TotalNodes:  k.fs.NodeBitmap().Count(),
	}, nil
}
