package filesystem

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/modelctx/mcp"
)

var toolList = mcp.ListToolsResult{
	Tools: []mcp.Tool{
		{
			Name: "read_file",
			Description: "Read the complete contents of a file. " +
				"Only works within the allowed root directories.",
			InputSchema: pathOnlySchema,
		},
		{
			Name: "write_file",
			Description: "Create a new file or overwrite an existing one with the given content. " +
				"Only works within the allowed root directories.",
			InputSchema: writeFileSchema,
		},
		{
			Name: "edit_file",
			Description: "Apply text replacements to a file and return a unified diff of the changes. " +
				"Set dryRun to preview the diff without writing. " +
				"Only works within the allowed root directories.",
			InputSchema: editFileSchema,
		},
		{
			Name: "create_directory",
			Description: "Create a directory, including missing parents. Succeeds silently if it " +
				"already exists. Only works within the allowed root directories.",
			InputSchema: pathOnlySchema,
		},
		{
			Name: "list_directory",
			Description: "List the entries of a directory, marking each as [FILE] or [DIR]. " +
				"Only works within the allowed root directories.",
			InputSchema: pathOnlySchema,
		},
		{
			Name: "move_file",
			Description: "Move or rename a file or directory. Fails if the destination exists. " +
				"Both paths must be within the allowed root directories.",
			InputSchema: moveFileSchema,
		},
		{
			Name: "search_files",
			Description: "Recursively find files under a path whose relative path matches a glob " +
				"pattern, skipping anything matching the exclude patterns. " +
				"Only searches within the allowed root directories.",
			InputSchema: searchFilesSchema,
		},
		{
			Name: "get_file_info",
			Description: "Return size, modification time, permissions and type for a file or " +
				"directory without reading its content.",
			InputSchema: pathOnlySchema,
		},
	},
}

func (s *Server) readFile(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args readFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := s.validatePath(args.Path)
	if err != nil {
		return toolError(err), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return toolError(fmt.Errorf("failed to stat %s: %w", args.Path, err)), nil
	}
	if info.IsDir() {
		return toolError(fmt.Errorf("%s is a directory, not a file", args.Path)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return toolError(fmt.Errorf("failed to read %s: %w", args.Path, err)), nil
	}
	return toolText(string(data)), nil
}

func (s *Server) writeFile(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args writeFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := s.validatePath(args.Path)
	if err != nil {
		return toolError(err), nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0600); err != nil {
		return toolError(fmt.Errorf("failed to write %s: %w", args.Path, err)), nil
	}
	return toolText(fmt.Sprintf("File %s written successfully", args.Path)), nil
}

func (s *Server) editFile(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args editFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := s.validatePath(args.Path)
	if err != nil {
		return toolError(err), nil
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return toolError(fmt.Errorf("failed to read %s: %w", args.Path, err)), nil
	}

	modified, err := applyEdits(string(original), args.Edits)
	if err != nil {
		return toolError(err), nil
	}
	diff := unifiedDiff(string(original), modified, args.Path)

	if !args.DryRun {
		if err := os.WriteFile(path, []byte(modified), 0600); err != nil {
			return toolError(fmt.Errorf("failed to write %s: %w", args.Path, err)), nil
		}
	}
	return toolText(diff), nil
}

func (s *Server) createDirectory(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args createDirectoryArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := s.validatePath(args.Path)
	if err != nil {
		return toolError(err), nil
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return toolError(fmt.Errorf("failed to create directory %s: %w", args.Path, err)), nil
	}
	return toolText(fmt.Sprintf("Directory %s created successfully", args.Path)), nil
}

func (s *Server) listDirectory(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args listDirectoryArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := s.validatePath(args.Path)
	if err != nil {
		return toolError(err), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return toolError(fmt.Errorf("failed to read directory %s: %w", args.Path, err)), nil
	}

	var sb strings.Builder
	for _, entry := range entries {
		prefix := "[FILE]"
		if entry.IsDir() {
			prefix = "[DIR]"
		}
		fmt.Fprintf(&sb, "%s %s\n", prefix, entry.Name())
	}
	return toolText(sb.String()), nil
}

func (s *Server) moveFile(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args moveFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	source, err := s.validatePath(args.Source)
	if err != nil {
		return toolError(err), nil
	}
	destination, err := s.validatePath(args.Destination)
	if err != nil {
		return toolError(err), nil
	}
	if _, err := os.Stat(destination); err == nil {
		return toolError(fmt.Errorf("destination %s already exists", args.Destination)), nil
	}
	if err := os.Rename(source, destination); err != nil {
		return toolError(fmt.Errorf("failed to move %s: %w", args.Source, err)), nil
	}
	return toolText(fmt.Sprintf("Moved %s to %s", args.Source, args.Destination)), nil
}

func (s *Server) searchFiles(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args searchFilesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := s.validatePath(args.Path)
	if err != nil {
		return toolError(err), nil
	}
	matches, err := searchFiles(path, args.Pattern, args.Exclude)
	if err != nil {
		return toolError(err), nil
	}
	if len(matches) == 0 {
		return toolText("No files found"), nil
	}
	return toolText(strings.Join(matches, "\n")), nil
}

func (s *Server) getFileInfo(params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args getFileInfoArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	path, err := s.validatePath(args.Path)
	if err != nil {
		return toolError(err), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return toolError(fmt.Errorf("failed to stat %s: %w", args.Path, err)), nil
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	text := fmt.Sprintf("Path: %s\nType: %s\nSize: %d\nMode: %s\nModified: %s\n",
		args.Path, kind, info.Size(), info.Mode(), info.ModTime().Format("2006-01-02 15:04:05"))
	return toolText(text), nil
}

func toolText(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}},
	}
}

// toolError reports a failure of the tool's own logic as a result the model
// can read, rather than a protocol error.
func toolError(err error) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: err.Error()}},
		IsError: true,
	}
}
