package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"read_file":    "read",
		"FILE_READ":    "read",
		"write_file":   "write",
		"editFile":     "edit",
		"remove_file":  "delete",
		"run_command":  "bash",
		"shell":        "bash",
		"search":       "grep",
		"find_files":   "glob",
		"ListDir":      "ls",
		"read":         "read", // already canonical, passes through
		"unknown_tool": "unknown_tool",
	}
	for in, want := range cases {
		assert.Equal(t, want, Canonicalize(in), "input %q", in)
	}
}

func TestExtractNativePrefersNativeOverText(t *testing.T) {
	natives := []Call{{ID: "1", Name: "read_file", Input: map[string]interface{}{"file_path": "a.go"}}}
	calls := Extract(natives, `{"name":"write","input":{"path":"b.go","content":"x"}}`, 1)

	require.Len(t, calls, 1)
	assert.Equal(t, "read", calls[0].Name)
	assert.Equal(t, "a.go", calls[0].Input["path"])
}

func TestNormalizeInputRewritesWildcardAndPerToolAliases(t *testing.T) {
	calls := Extract([]Call{
		{ID: "1", Name: "edit_file", Input: map[string]interface{}{
			"filePath":  "main.go",
			"oldString": "foo",
			"newString": "bar",
		}},
	}, "", 1)

	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, "edit", c.Name)
	assert.Equal(t, "main.go", c.Input["path"])
	assert.Equal(t, "foo", c.Input["old_string"])
	assert.Equal(t, "bar", c.Input["new_string"])
	assert.NotContains(t, c.Input, "filePath")
	assert.NotContains(t, c.Input, "oldString")
}

func TestNormalizeInputEveryPathAlias(t *testing.T) {
	for _, alias := range []string{"file_path", "filePath", "filename", "file", "filepath", "name", "file_name"} {
		calls := Extract([]Call{
			{ID: "1", Name: "read", Input: map[string]interface{}{alias: "a.go"}},
		}, "", 1)
		require.Len(t, calls, 1, "alias %q", alias)
		assert.Equal(t, "a.go", calls[0].Input["path"], "alias %q", alias)
	}
}

func TestNormalizeInputEveryCommandAlias(t *testing.T) {
	for _, alias := range []string{"cmd", "shell_command", "exec", "run"} {
		calls := Extract([]Call{
			{ID: "1", Name: "bash", Input: map[string]interface{}{alias: "ls"}},
		}, "", 1)
		require.Len(t, calls, 1, "alias %q", alias)
		assert.Equal(t, "ls", calls[0].Input["command"], "alias %q", alias)
	}
}

func TestNormalizeInputEveryOldStringAlias(t *testing.T) {
	aliases := []string{
		"oldString", "old_text", "oldText", "old",
		"old_content", "oldContent", "find", "search", "original", "before", "pattern", "target", "match",
	}
	for _, alias := range aliases {
		calls := Extract([]Call{
			{ID: "1", Name: "edit", Input: map[string]interface{}{
				"path":      "a.go",
				alias:       "foo",
				"new_text":  "bar",
			}},
		}, "", 1)
		require.Len(t, calls, 1, "alias %q", alias)
		assert.Equal(t, "foo", calls[0].Input["old_string"], "alias %q", alias)
	}
}

func TestNormalizeInputEveryNewStringAlias(t *testing.T) {
	aliases := []string{
		"newString", "new_text", "newText", "new",
		"new_content", "newContent", "replace", "replacement", "modified", "after", "content", "updated", "with",
	}
	for _, alias := range aliases {
		calls := Extract([]Call{
			{ID: "1", Name: "edit", Input: map[string]interface{}{
				"path":      "a.go",
				"old_text":  "foo",
				alias:       "bar",
			}},
		}, "", 1)
		require.Len(t, calls, 1, "alias %q", alias)
		assert.Equal(t, "bar", calls[0].Input["new_string"], "alias %q", alias)
	}
}

func TestNormalizeInputJoinsLineArrays(t *testing.T) {
	calls := Extract([]Call{
		{ID: "1", Name: "write", Input: map[string]interface{}{
			"path": "a.txt",
			"text": []interface{}{"line one", "line two"},
		}},
	}, "", 1)

	require.Len(t, calls, 1)
	assert.Equal(t, "line one\nline two", calls[0].Input["content"])
}

func TestExtractRewritesBlankEditToWrite(t *testing.T) {
	calls := Extract([]Call{
		{ID: "1", Name: "edit", Input: map[string]interface{}{
			"path":       "new.go",
			"old_string": "   ",
			"new_string": "package main\n",
		}},
	}, "", 1)

	require.Len(t, calls, 1)
	assert.Equal(t, "write", calls[0].Name)
	assert.Equal(t, "new.go", calls[0].Input["path"])
	assert.Equal(t, "package main\n", calls[0].Input["content"])
}

func TestExtractDedupesIdenticalCalls(t *testing.T) {
	dup := Call{ID: "1", Name: "read", Input: map[string]interface{}{"path": "a.go"}}
	dup2 := Call{ID: "2", Name: "read_file", Input: map[string]interface{}{"file_path": "a.go"}}
	calls := Extract([]Call{dup, dup2}, "", 1)

	assert.Len(t, calls, 1)
}

func TestExtractFromTextFencedJSON(t *testing.T) {
	text := "Here's the call:\n```json\n{\"name\": \"read\", \"input\": {\"path\": \"x.go\"}}\n```\n"
	calls := Extract(nil, text, 3)

	require.Len(t, calls, 1)
	assert.Equal(t, "read", calls[0].Name)
	assert.True(t, calls[0].FromText)
	assert.Equal(t, "x.go", calls[0].Input["path"])
}

func TestExtractFromTextOpenAIShape(t *testing.T) {
	text := `{"tool_calls":[{"function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]}`
	calls := Extract(nil, text, 2)

	require.Len(t, calls, 1)
	assert.Equal(t, "bash", calls[0].Name)
	assert.Equal(t, "ls", calls[0].Input["command"])
}

func TestExtractFromTextNoToolCallReturnsEmpty(t *testing.T) {
	calls := Extract(nil, "just a plain reply, no tool call here", 1)
	assert.Empty(t, calls)
}

func TestValidateNilSchemaAlwaysPasses(t *testing.T) {
	validate := Validate(nil)
	assert.Equal(t, "", validate(map[string]interface{}{"anything": 1}))
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"path"},
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}
	validate := Validate(schema)
	assert.Equal(t, "", validate(map[string]interface{}{"path": "a.go"}))
	assert.NotEqual(t, "", validate(map[string]interface{}{}))
}

func TestValidateRejectsWrongType(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}
	validate := Validate(schema)
	assert.NotEqual(t, "", validate(map[string]interface{}{"path": 5}))
}
