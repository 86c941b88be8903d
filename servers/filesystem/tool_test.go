package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelctx/mcp"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewServer([]string{dir})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s, dir
}

func callTool(t *testing.T, s *Server, name string, args any) mcp.CallToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("Failed to marshal arguments: %v", err)
	}
	result, err := s.CallTool(context.Background(), mcp.CallToolParams{Name: name, Arguments: raw})
	if err != nil {
		t.Fatalf("CallTool %s failed: %v", name, err)
	}
	return result
}

func TestReadFile(t *testing.T) {
	s, dir := newTestServer(t)

	testContent := "test content"
	testFile := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(testFile, []byte(testContent), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result := callTool(t, s, "read_file", readFileArgs{Path: testFile})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	if len(result.Content) != 1 || result.Content[0].Text != testContent {
		t.Errorf("Expected content %q, got %+v", testContent, result.Content)
	}

	// Reading a missing file is a tool-level failure, not a protocol error.
	result = callTool(t, s, "read_file", readFileArgs{Path: filepath.Join(dir, "nope.txt")})
	if !result.IsError {
		t.Error("Expected IsError for non-existent file, got success")
	}
}

func TestWriteFile(t *testing.T) {
	s, dir := newTestServer(t)

	testFile := filepath.Join(dir, "write_test.txt")
	result := callTool(t, s, "write_file", writeFileArgs{Path: testFile, Content: "hello"})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}

	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read written file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Expected file content 'hello', got %q", data)
	}
}

func TestEditFile(t *testing.T) {
	s, dir := newTestServer(t)

	testFile := filepath.Join(dir, "edit_test.txt")
	if err := os.WriteFile(testFile, []byte("alpha\nbeta\ngamma\n"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result := callTool(t, s, "edit_file", editFileArgs{
		Path:  testFile,
		Edits: []editOperation{{OldText: "beta", NewText: "delta"}},
	})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, "---") {
		t.Errorf("Expected a unified diff, got %q", result.Content[0].Text)
	}

	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read edited file: %v", err)
	}
	if !strings.Contains(string(data), "delta") || strings.Contains(string(data), "beta") {
		t.Errorf("Edit was not applied: %q", data)
	}

	// A dry run reports the diff without touching the file.
	result = callTool(t, s, "edit_file", editFileArgs{
		Path:   testFile,
		Edits:  []editOperation{{OldText: "gamma", NewText: "epsilon"}},
		DryRun: true,
	})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	data, _ = os.ReadFile(testFile)
	if strings.Contains(string(data), "epsilon") {
		t.Error("Dry run modified the file")
	}

	// An edit whose old text is absent fails.
	result = callTool(t, s, "edit_file", editFileArgs{
		Path:  testFile,
		Edits: []editOperation{{OldText: "no such text", NewText: "x"}},
	})
	if !result.IsError {
		t.Error("Expected IsError for unmatched edit, got success")
	}
}

func TestListDirectory(t *testing.T) {
	s, dir := newTestServer(t)

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0700); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	result := callTool(t, s, "list_directory", listDirectoryArgs{Path: dir})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	listing := result.Content[0].Text
	if !strings.Contains(listing, "[FILE] a.txt") {
		t.Errorf("Listing missing file entry: %q", listing)
	}
	if !strings.Contains(listing, "[DIR] sub") {
		t.Errorf("Listing missing directory entry: %q", listing)
	}
}

func TestMoveFile(t *testing.T) {
	s, dir := newTestServer(t)

	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(src, []byte("content"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result := callTool(t, s, "move_file", moveFileArgs{Source: src, Destination: dst})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Source still exists after move")
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("Destination missing after move: %v", err)
	}

	// Moving onto an existing file fails.
	if err := os.WriteFile(src, []byte("again"), 0600); err != nil {
		t.Fatalf("Failed to recreate test file: %v", err)
	}
	result = callTool(t, s, "move_file", moveFileArgs{Source: src, Destination: dst})
	if !result.IsError {
		t.Error("Expected IsError for existing destination, got success")
	}
}

func TestSearchFiles(t *testing.T) {
	s, dir := newTestServer(t)

	mustWrite := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}
	mustWrite("main.go", "package main")
	mustWrite("util/helper.go", "package util")
	mustWrite("util/helper_test.go", "package util")
	mustWrite("README.md", "readme")

	// Glob pattern over relative paths.
	result := callTool(t, s, "search_files", searchFilesArgs{Path: dir, Pattern: "**.go"})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	matches := result.Content[0].Text
	if !strings.Contains(matches, "main.go") || !strings.Contains(matches, "helper.go") {
		t.Errorf("Glob search missed files: %q", matches)
	}
	if strings.Contains(matches, "README.md") {
		t.Errorf("Glob search matched non-go file: %q", matches)
	}

	// Substring match when the pattern has no wildcard.
	result = callTool(t, s, "search_files", searchFilesArgs{Path: dir, Pattern: "readme"})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, "README.md") {
		t.Errorf("Substring search missed README.md: %q", result.Content[0].Text)
	}

	// Exclusions drop whole directories.
	result = callTool(t, s, "search_files", searchFilesArgs{
		Path:    dir,
		Pattern: "**.go",
		Exclude: []string{"util"},
	})
	if result.IsError {
		t.Fatalf("Expected success, got error: %s", result.Content[0].Text)
	}
	if strings.Contains(result.Content[0].Text, "helper.go") {
		t.Errorf("Exclusion did not drop util directory: %q", result.Content[0].Text)
	}
}

func TestValidatePathRejectsEscape(t *testing.T) {
	s, dir := newTestServer(t)

	for _, path := range []string{
		"/etc/passwd",
		filepath.Join(dir, "..", "outside.txt"),
	} {
		if _, err := s.validatePath(path); err == nil {
			t.Errorf("Expected error for path %s outside root, got none", path)
		}
	}

	inside := filepath.Join(dir, "ok.txt")
	if _, err := s.validatePath(inside); err != nil {
		t.Errorf("Expected no error for path inside root, got %v", err)
	}
}

func TestResources(t *testing.T) {
	s, dir := newTestServer(t)

	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("hello"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	list, err := s.ListResources(context.Background(), mcp.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources failed: %v", err)
	}
	if len(list.Resources) != 1 {
		t.Fatalf("Expected 1 resource, got %d", len(list.Resources))
	}

	read, err := s.ReadResource(context.Background(), mcp.ReadResourceParams{URI: list.Resources[0].URI})
	if err != nil {
		t.Fatalf("ReadResource failed: %v", err)
	}
	if len(read.Contents) != 1 || read.Contents[0].Text != "hello" {
		t.Errorf("Expected text contents 'hello', got %+v", read.Contents)
	}

	// A URI outside the roots is rejected.
	if _, err := s.ReadResource(context.Background(), mcp.ReadResourceParams{URI: "file:///etc/passwd"}); err == nil {
		t.Error("Expected error for resource outside roots, got none")
	}
}

func TestSetLogLevel(t *testing.T) {
	s, _ := newTestServer(t)

	if got := s.LogLevel(); got != mcp.LogLevelInfo {
		t.Errorf("Expected default level info, got %q", got)
	}
	if err := s.SetLogLevel(context.Background(), mcp.SetLogLevelParams{Level: mcp.LogLevelDebug}); err != nil {
		t.Fatalf("SetLogLevel failed: %v", err)
	}
	if got := s.LogLevel(); got != mcp.LogLevelDebug {
		t.Errorf("Expected level debug, got %q", got)
	}
}
