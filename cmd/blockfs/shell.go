package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/oss-samples/blockfs/cfg"
	"github.com/oss-samples/blockfs/internal/kernel"
	"github.com/oss-samples/blockfs/internal/node"
	"github.com/oss-samples/blockfs/internal/storage"
)

// fileTypeName renders a node.FileType the way stat prints it; node.FileType
// itself has no String method.
func fileTypeName(ft node.FileType) string {
	switch ft {
	case node.FileTypeFile:
		return "file"
	case node.FileTypeDir:
		return "directory"
	default:
		return "none"
	}
}

// helpTable mirrors spec.md §6's shell command surface.
var helpTable = []struct {
	usage, desc string
}{
	{"mkfs <nodes>", "format filesystem"},
	{"mount", "mount filesystem"},
	{"create <path>", "create a file"},
	{"mkdir <path>", "create a directory"},
	{"rmdir <path>", "remove a directory"},
	{"cd <path>", "change current directory"},
	{"open <path>", "open file"},
	{"close <fd>", "close file"},
	{"read <fd> <size>", "read bytes from file"},
	{"write <fd> <string>", "write string to file"},
	{"seek <fd> <offset>", "seek to offset"},
	{"link <old> <new>", "create hard link"},
	{"unlink <path>", "remove file/link"},
	{"truncate <path> <size>", "resize file"},
	{"stat <path>", "display file stats"},
	{"ls [path]", "list directory"},
	{"clear", "clear the screen"},
	{"exit", "exit the shell"},
}

// runShell drives the interactive loop of spec.md §6 over a fixed-size
// in-memory device, dispatching whitespace-split commands to a Kernel.
func runShell(c cfg.Config, in io.Reader, out io.Writer) error {
	dev := storage.NewMemory(c.Device.BlockSizeBytes, c.Device.BlockCount)
	k := kernel.New(dev)
	k.SetExitOnInvariantViolation(cfg.ShouldExitOnInvariantViolation(&c))

	fmt.Fprintln(out, "Filesystem shell opened.")
	fmt.Fprintln(out, "Type 'help' for commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return nil
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		command, args := parts[0], parts[1:]
		if command == "exit" {
			return nil
		}
		dispatch(out, k, &c, command, args)
	}
}

func dispatch(out io.Writer, k *kernel.Kernel, c *cfg.Config, command string, args []string) {
	switch command {
	case "mkfs":
		cmdMkfs(out, k, c, args)
	case "mount":
		if err := k.Mount(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(out, "Filesystem mounted.")
	case "create":
		cmdCreate(out, k, args)
	case "mkdir":
		cmdMkdir(out, k, args)
	case "rmdir":
		cmdSimple(out, args, 1, "Usage: rmdir <path>", func() error { return k.Rmdir(args[0]) })
	case "cd":
		cmdSimple(out, args, 1, "Usage: cd <path>", func() error { return k.Cd(args[0]) })
	case "open":
		cmdOpen(out, k, args)
	case "close":
		cmdClose(out, k, args)
	case "read":
		cmdRead(out, k, args)
	case "write":
		cmdWrite(out, k, args)
	case "seek":
		cmdSeek(out, k, args)
	case "link":
		cmdSimple(out, args, 2, "Usage: link <old> <new>", func() error { return k.Link(args[0], args[1]) })
	case "unlink":
		cmdSimple(out, args, 1, "Usage: unlink <path>", func() error { return k.Unlink(args[0]) })
	case "truncate":
		cmdTruncate(out, k, args)
	case "stat":
		cmdStat(out, k, args)
	case "ls":
		cmdLs(out, k, args)
	case "clear":
		fmt.Fprint(out, "\x1b[2J\x1b[1;1H")
	case "help":
		cmdHelp(out)
	default:
		fmt.Fprintf(out, "Unknown command: %s\n", command)
	}
}

// cmdSimple runs a zero-result operation, printing "ok" or the error.
func cmdSimple(out io.Writer, args []string, want int, usage string, op func() error) {
	if len(args) < want {
		fmt.Fprintln(out, usage)
		return
	}
	if err := op(); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "ok")
}

func cmdMkfs(out io.Writer, k *kernel.Kernel, c *cfg.Config, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: mkfs <node_count>")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintln(out, "Usage: mkfs <node_count>")
		return
	}
	if err := k.Mkfs(c.Device.BlockCount, uint32(n)); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Filesystem formatted with %d nodes.\n", n)
}

func cmdCreate(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: create <path>")
		return
	}
	idx, err := k.Create(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Created %s (node %d)\n", args[0], idx)
}

func cmdMkdir(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: mkdir <path>")
		return
	}
	idx, err := k.Mkdir(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Created %s (node %d)\n", args[0], idx)
}

func cmdOpen(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: open <path>")
		return
	}
	fd, err := k.Open(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "File opened.")
	fmt.Fprintf(out, "fd: %d\n", fd)
}

func cmdClose(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: close <fd>")
		return
	}
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(out, "Usage: close <fd>")
		return
	}
	if err := k.Close(fd); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "ok")
}

func cmdRead(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: read <fd> <size>")
		return
	}
	fd, err1 := strconv.Atoi(args[0])
	size, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || size < 0 {
		fmt.Fprintln(out, "Usage: read <fd> <size>")
		return
	}
	buf := make([]byte, size)
	n, err := k.Read(fd, buf)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Read %d bytes: %q\n", n, string(buf[:n]))
}

func cmdWrite(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: write <fd> <data>")
		return
	}
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(out, "Usage: write <fd> <data>")
		return
	}
	data := strings.Join(args[1:], " ")
	n, err := k.Write(fd, []byte(data))
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Written %d bytes.\n", n)
}

func cmdSeek(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: seek <fd> <offset>")
		return
	}
	fd, err1 := strconv.Atoi(args[0])
	offset, err2 := strconv.ParseUint(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		fmt.Fprintln(out, "Usage: seek <fd> <offset>")
		return
	}
	if err := k.Seek(fd, offset); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "ok")
}

func cmdTruncate(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: truncate <path> <size>")
		return
	}
	size, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintln(out, "Usage: truncate <path> <size>")
		return
	}
	if err := k.Truncate(args[0], size); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "ok")
}

func cmdStat(out io.Writer, k *kernel.Kernel, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: stat <path>")
		return
	}
	st, err := k.Stat(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "File: %s\n", args[0])
	fmt.Fprintf(out, "Type: %s\n", fileTypeName(st.FileType))
	fmt.Fprintf(out, "Size: %d\n", st.Size)
	fmt.Fprintf(out, "Links: %d\n", st.LinkCount)
	fmt.Fprintf(out, "Blocks: %d\n", st.BlockCount)
	fmt.Fprintf(out, "Node index: %d\n", st.NodeIndex)
}

func cmdLs(out io.Writer, k *kernel.Kernel, args []string) {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	entries, err := k.Ls(path)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s %d\n", e.Name, e.NodeIndex)
	}
}

func cmdHelp(out io.Writer) {
	fmt.Fprintln(out, "COMMANDS")
	for _, c := range helpTable {
		fmt.Fprintf(out, "  %-25s %s\n", c.usage, c.desc)
	}
}
