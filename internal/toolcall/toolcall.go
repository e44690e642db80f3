// Package toolcall normalizes tool calls coming out of a turn's
// assistant response into one canonical shape, regardless of whether
// the model emitted a native tool_use block or described the call in
// prose.
//
// Different model families and prompting styles disagree on tool
// names ("read_file" vs. "file_read"), argument key names
// ("old_string" vs. "oldString" vs. "old_text"), and on whether they
// use native tool-calling at all. This package is the single place
// that resolves all of that before a call reaches dispatch, so the
// rest of the turn engine only ever sees the names and argument keys
// Ted's own tools expect (internal/tool's ReadTool/EditTool/BashTool
// parameter names are the canonical target).
package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Call is one normalized tool invocation, ready for dispatch.
type Call struct {
	ID    string
	Name  string
	Input map[string]interface{}
	// FromText is true when this call was recovered from prose rather
	// than a native tool_use block.
	FromText bool
	// Warning can carry a non-fatal input-schema validation message.
	// Neither Extract nor Validate sets it; PromptEngine.Run stores
	// Validate's result on Part.InputWarning instead. A warning never
	// blocks dispatch — it only surfaces to the user/log.
	Warning string
}

// Validate checks a call's normalized input against the tool's declared
// JSON Schema (a ToolDef.Parameters map, e.g. from tool.Registry.Get).
// It returns "" when the input is well-formed or schema is nil/empty —
// partial or exploratory tool schemas should never hard-fail a turn —
// and a short diagnostic string otherwise. Compile errors in the schema
// itself are treated the same as a pass: a broken schema is a tool-
// authoring bug, not a reason to reject a model's well-formed call.
func Validate(schema map[string]interface{}) func(input map[string]interface{}) string {
	if len(schema) == 0 {
		return func(map[string]interface{}) string { return "" }
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return func(map[string]interface{}) string { return "" }
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("call.json", bytes.NewReader(schemaJSON)); err != nil {
		return func(map[string]interface{}) string { return "" }
	}
	compiled, err := compiler.Compile("call.json")
	if err != nil {
		return func(map[string]interface{}) string { return "" }
	}
	return func(input map[string]interface{}) string {
		// jsonschema validates decoded JSON values, not Go maps directly;
		// round-trip through encoding/json so numeric/nested types match
		// what a real unmarshal would have produced.
		raw, err := json.Marshal(input)
		if err != nil {
			return ""
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return ""
		}
		if err := compiled.Validate(v); err != nil {
			return err.Error()
		}
		return ""
	}
}

// nameAliases maps a model-used tool name to the name actually
// registered in internal/tool's Registry — "read"/"write"/"edit"/
// "delete"/"bash"/"grep"/"glob"/"ls", not a "file_"-prefixed synonym,
// since Registry.Execute does an exact-name map lookup with no alias
// resolution of its own. Only entries that differ from the canonical
// name are listed.
var nameAliases = map[string]string{
	"read_file":   "read",
	"readfile":    "read",
	"file_read":   "read",
	"write_file":  "write",
	"create_file": "write",
	"writefile":   "write",
	"file_write":  "write",
	"edit_file":   "edit",
	"editfile":    "edit",
	"file_edit":   "edit",
	"delete_file": "delete",
	"deletefile":  "delete",
	"remove_file": "delete",
	"file_delete": "delete",
	"run_command": "bash",
	"execute":     "bash",
	"shell":       "bash",
	"search":      "grep",
	"find_files":  "glob",
	"list_dir":    "ls",
	"listdir":     "ls",
}

// argAliases maps, per canonical tool name, a set of alternate
// argument keys to the canonical key. "*" applies to every tool.
var argAliases = map[string]map[string][]string{
	"*": {
		"path":    {"file_path", "filePath", "filename", "file", "filepath", "name", "file_name"},
		"command": {"cmd", "shell_command", "exec", "run"},
		"pattern": {"query", "regex"},
	},
	"edit": {
		"old_string": {
			"oldString", "old_text", "oldText", "old",
			"old_content", "oldContent", "find", "search", "original", "before", "pattern", "target", "match",
		},
		"new_string": {
			"newString", "new_text", "newText", "new",
			"new_content", "newContent", "replace", "replacement", "modified", "after", "content", "updated", "with",
		},
	},
	"write": {
		"content": {"text", "contents", "data"},
	},
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(\\{.*?\\})\\s*```")

// Canonicalize resolves a raw model-supplied tool name to Ted's name.
func Canonicalize(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := nameAliases[lower]; ok {
		return canon
	}
	return name
}

// normalizeInput rewrites alias argument keys to their canonical form
// for the given (already-canonicalized) tool name. Array-of-strings
// values are joined with "\n", matching how multi-line old/new string
// arguments are sometimes emitted as a line array instead of a single
// string.
func normalizeInput(toolName string, input map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(input))
	for k, v := range input {
		out[k] = v
	}

	apply := func(aliases map[string][]string) {
		for canon, alts := range aliases {
			if _, ok := out[canon]; ok {
				continue
			}
			for _, alt := range alts {
				if v, ok := out[alt]; ok {
					out[canon] = coerceString(v)
					delete(out, alt)
					break
				}
			}
		}
	}

	apply(argAliases["*"])
	if specific, ok := argAliases[toolName]; ok {
		apply(specific)
	}
	return out
}

func coerceString(v interface{}) interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return v
	}
	lines := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			lines = append(lines, s)
		}
	}
	if len(lines) != len(arr) {
		return v
	}
	return strings.Join(lines, "\n")
}

// isBlankEdit reports whether an edit call's old_string is empty or
// whitespace-only, i.e. the model intends to write the whole file
// rather than perform a targeted replacement.
func isBlankEdit(input map[string]interface{}) bool {
	old, ok := input["old_string"].(string)
	if !ok {
		return false
	}
	return strings.TrimSpace(old) == ""
}

// rewriteBlankEdit turns a blank-old_string edit call into an
// equivalent write call, matching the convention that an
// empty-old-string edit means "replace the file's contents".
func rewriteBlankEdit(c Call) Call {
	content, _ := c.Input["new_string"].(string)
	path, _ := c.Input["path"].(string)
	return Call{
		ID:       c.ID,
		Name:     "write",
		Input:    map[string]interface{}{"path": path, "content": content},
		FromText: c.FromText,
	}
}

// canonicalJSON produces a stable, sorted-key JSON encoding of v, used
// as the dedup key for a (name, input) pair.
func canonicalJSON(v map[string]interface{}) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]struct {
		K string
		V interface{}
	}, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, struct {
			K string
			V interface{}
		}{k, v[k]})
	}
	b, _ := json.Marshal(ordered)
	return string(b)
}

// Extract normalizes a batch of native tool_use blocks. If natives is
// non-empty, text is ignored entirely — native calls always take
// precedence. If natives is empty, Extract falls back to parsing text
// for fenced/bare JSON objects or an OpenAI-shaped {"tool_calls": [...]}
// payload. The result is deduplicated by (canonical name, canonical
// JSON input) within the batch, and blank-old_string edit calls
// are rewritten to write.
func Extract(natives []Call, text string, turn int) []Call {
	var raw []Call
	if len(natives) > 0 {
		raw = natives
	} else {
		raw = extractFromText(text, turn)
	}

	seen := make(map[string]bool)
	var result []Call
	for _, c := range raw {
		c.Name = Canonicalize(c.Name)
		c.Input = normalizeInput(c.Name, c.Input)
		if c.Name == "edit" && isBlankEdit(c.Input) {
			c = rewriteBlankEdit(c)
		}
		key := c.Name + "\x00" + canonicalJSON(c.Input)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, c)
	}
	return result
}

func extractFromText(text string, turn int) []Call {
	var calls []Call
	idx := 0
	nextID := func() string {
		idx++
		return fmt.Sprintf("text_tool_%d_%d", turn, idx)
	}

	// OpenAI-shaped {"tool_calls": [{"function": {...}}]}.
	var oaiShape struct {
		ToolCalls []struct {
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	}
	if json.Unmarshal([]byte(strings.TrimSpace(text)), &oaiShape) == nil && len(oaiShape.ToolCalls) > 0 {
		for _, tc := range oaiShape.ToolCalls {
			var input map[string]interface{}
			if json.Unmarshal(tc.Function.Arguments, &input) != nil {
				// OpenAI encodes arguments as a JSON string holding the object.
				var encoded string
				if json.Unmarshal(tc.Function.Arguments, &encoded) == nil {
					json.Unmarshal([]byte(encoded), &input)
				}
			}
			calls = append(calls, Call{ID: nextID(), Name: tc.Function.Name, Input: input, FromText: true})
		}
		return calls
	}

	// Fenced ```json blocks.
	for _, m := range fencedJSONPattern.FindAllStringSubmatch(text, -1) {
		if c, ok := parseInlineCall(m[1], nextID); ok {
			calls = append(calls, c)
		}
	}
	if len(calls) > 0 {
		return calls
	}

	// Bare inline JSON object containing "name"/"tool"+"input"/"arguments".
	if c, ok := parseInlineCall(strings.TrimSpace(text), nextID); ok {
		calls = append(calls, c)
	}
	return calls
}

func parseInlineCall(s string, nextID func() string) (Call, bool) {
	var obj struct {
		Name      string                 `json:"name"`
		Tool      string                 `json:"tool"`
		Input     map[string]interface{} `json:"input"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Call{}, false
	}
	name := obj.Name
	if name == "" {
		name = obj.Tool
	}
	if name == "" {
		return Call{}, false
	}
	input := obj.Input
	if input == nil {
		input = obj.Arguments
	}
	return Call{ID: nextID(), Name: name, Input: input, FromText: true}, true
}
