package cfg

const (
	// DefaultBlockSizeBytes is the block size a bare mkfs uses when the
	// caller does not override it.
	DefaultBlockSizeBytes uint32 = 512

	// DefaultBlockCount and DefaultNodeCount size a freshly formatted
	// device when the shell is started without explicit geometry flags.
	DefaultBlockCount uint32 = 4096
	DefaultNodeCount  uint32 = 1024
)
