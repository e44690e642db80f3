package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DeleteTool removes a single file. Directories are rejected; use bash
// for recursive removal.
func DeleteTool() *ToolDef {
	return &ToolDef{
		Name:        "delete",
		Description: "Delete a file.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "The file path to delete",
				},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, tc *ToolContext, input map[string]interface{}) (*ToolResult, error) {
			path, _ := input["path"].(string)
			if path == "" {
				return &ToolResult{Output: "Error: path is required", IsError: true}, nil
			}

			if !filepath.IsAbs(path) && tc.WorkDir != "" {
				path = filepath.Join(tc.WorkDir, path)
			}

			info, err := os.Stat(path)
			if err != nil {
				return &ToolResult{Output: fmt.Sprintf("Error: %v", err), IsError: true}, nil
			}
			if info.IsDir() {
				return &ToolResult{Output: "Error: path is a directory, use bash for recursive removal", IsError: true}, nil
			}

			if err := os.Remove(path); err != nil {
				return &ToolResult{Output: fmt.Sprintf("Error deleting file: %v", err), IsError: true}, nil
			}

			return &ToolResult{Output: fmt.Sprintf("Deleted %s", path)}, nil
		},
	}
}
