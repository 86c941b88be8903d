package filesystem

// readFileArgs is the argument struct for the read_file tool.
type readFileArgs struct {
	Path string `json:"path"`
}

// writeFileArgs is the argument struct for the write_file tool.
type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// editFileArgs is the argument struct for the edit_file tool.
type editFileArgs struct {
	Path   string          `json:"path"`
	Edits  []editOperation `json:"edits"`
	DryRun bool            `json:"dryRun"`
}

// editOperation replaces one exact occurrence of OldText with NewText.
type editOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// createDirectoryArgs is the argument struct for the create_directory tool.
type createDirectoryArgs struct {
	Path string `json:"path"`
}

// listDirectoryArgs is the argument struct for the list_directory tool.
type listDirectoryArgs struct {
	Path string `json:"path"`
}

// moveFileArgs is the argument struct for the move_file tool.
type moveFileArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// searchFilesArgs is the argument struct for the search_files tool.
type searchFilesArgs struct {
	Path    string   `json:"path"`
	Pattern string   `json:"pattern"`
	Exclude []string `json:"excludePatterns"`
}

// getFileInfoArgs is the argument struct for the get_file_info tool.
type getFileInfoArgs struct {
	Path string `json:"path"`
}

var pathOnlySchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      }
    },
    "required": ["path"]
  }
`)

var writeFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "content": {
        "type": "string"
      }
    },
    "required": ["path", "content"]
  }
`)

var editFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "edits": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "oldText": {
              "type": "string"
            },
            "newText": {
              "type": "string"
            }
          },
          "required": ["oldText", "newText"]
        }
      },
      "dryRun": {
        "type": "boolean"
      }
    },
    "required": ["path", "edits"]
  }
`)

var moveFileSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "source": {
        "type": "string"
      },
      "destination": {
        "type": "string"
      }
    },
    "required": ["source", "destination"]
  }
`)

var searchFilesSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "pattern": {
        "type": "string"
      },
      "excludePatterns": {
        "type": "array",
        "items": {
          "type": "string"
        }
      }
    },
    "required": ["path", "pattern"]
  }
`)
