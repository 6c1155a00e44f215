package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/oss-samples/blockfs/cfg"
)

func runScript(t *testing.T, script string) string {
	t.Helper()
	c := cfg.GetDefaultConfig()
	var out bytes.Buffer
	if err := runShell(c, strings.NewReader(script), &out); err != nil {
		t.Fatalf("runShell returned an error: %v", err)
	}
	return out.String()
}

func TestShellMkfsThenLsShowsDotEntries(t *testing.T) {
	out := runScript(t, "mkfs 16\nls /\nexit\n")
	if !strings.Contains(out, "Filesystem formatted with 16 nodes.") {
		t.Fatalf("missing mkfs confirmation, got:\n%s", out)
	}
	if !strings.Contains(out, ". 1") || !strings.Contains(out, ".. 1") {
		t.Fatalf("expected root listing to include '.' and '..' at node 1, got:\n%s", out)
	}
}

func TestShellCreateOpenWriteReadRoundTrip(t *testing.T) {
	out := runScript(t, strings.Join([]string{
		"mkfs 16",
		"create /greeting",
		"open /greeting",
		"write 0 hello there",
		"seek 0 0",
		"read 0 11",
		"close 0",
		"exit",
	}, "\n") + "\n")

	if !strings.Contains(out, "File opened.") || !strings.Contains(out, "fd: 0") {
		t.Fatalf("missing open confirmation, got:\n%s", out)
	}
	if !strings.Contains(out, "Written 11 bytes.") {
		t.Fatalf("missing write confirmation, got:\n%s", out)
	}
	if !strings.Contains(out, `Read 11 bytes: "hello there"`) {
		t.Fatalf("missing read confirmation, got:\n%s", out)
	}
}

func TestShellStatReportsFields(t *testing.T) {
	out := runScript(t, strings.Join([]string{
		"mkfs 16",
		"create /f",
		"open /f",
		"write 0 abc",
		"stat /f",
		"exit",
	}, "\n") + "\n")

	for _, line := range []string{"File: /f", "Type: file", "Size: 3", "Links: 1", "Node index:"} {
		if !strings.Contains(out, line) {
			t.Fatalf("missing %q in stat output, got:\n%s", line, out)
		}
	}
}

func TestShellUnknownCommandReported(t *testing.T) {
	out := runScript(t, "bogus\nexit\n")
	if !strings.Contains(out, "Unknown command: bogus") {
		t.Fatalf("expected unknown command message, got:\n%s", out)
	}
}

func TestShellUsageMessageOnMissingArgs(t *testing.T) {
	out := runScript(t, "create\nexit\n")
	if !strings.Contains(out, "Usage: create <path>") {
		t.Fatalf("expected usage message, got:\n%s", out)
	}
}

func TestShellOperationsBeforeMkfsFail(t *testing.T) {
	out := runScript(t, "ls /\nexit\n")
	if !strings.Contains(out, "Error:") {
		t.Fatalf("expected an error before mkfs, got:\n%s", out)
	}
}

func TestShellHelpListsCommandsWithoutHelpItself(t *testing.T) {
	out := runScript(t, "help\nexit\n")
	if !strings.Contains(out, "mkfs <nodes>") {
		t.Fatalf("expected help to list mkfs, got:\n%s", out)
	}
	if strings.Contains(out, "help ") {
		t.Fatalf("expected help not to list itself, got:\n%s", out)
	}
}

func TestShellClearEmitsAnsiEscape(t *testing.T) {
	out := runScript(t, "clear\nexit\n")
	if !strings.Contains(out, "\x1b[2J\x1b[1;1H") {
		t.Fatalf("expected ANSI clear escape, got:\n%q", out)
	}
}
