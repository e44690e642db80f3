package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsToolEnabledDisableWinsOverEnable(t *testing.T) {
	p := CapPermissions{Enable: []string{"write", "bash"}, Disable: []string{"bash"}}

	assert.True(t, p.IsToolEnabled("write"))
	assert.False(t, p.IsToolEnabled("bash"), "disable must win even though bash is also in enable")
	assert.False(t, p.IsToolEnabled("edit"), "not in enable list")
}

func TestIsToolEnabledEmptyEnableMeansEverythingNonDisabled(t *testing.T) {
	p := CapPermissions{Disable: []string{"delete"}}

	assert.True(t, p.IsToolEnabled("write"))
	assert.False(t, p.IsToolEnabled("delete"))
}

func TestIsCommandBlocked(t *testing.T) {
	p := CapPermissions{BlockedCommands: []string{"rm -rf /", "curl"}}

	assert.True(t, p.IsCommandBlocked("curl http://evil.example"))
	assert.True(t, p.IsCommandBlocked("sudo rm -rf / --no-preserve-root"))
	assert.False(t, p.IsCommandBlocked("ls -la"))
}

func TestIsPathAutoApproved(t *testing.T) {
	p := CapPermissions{AutoApprovePaths: []string{"*.md", "docs/*"}}

	assert.True(t, p.IsPathAutoApproved("README.md"))
	assert.True(t, p.IsPathAutoApproved("docs/guide.md"))
	assert.False(t, p.IsPathAutoApproved("main.go"))
}

func TestMergeCapPermissionsUnionsListsAndLastWriterWinsOnBooleans(t *testing.T) {
	base := CapPermissions{
		Enable:                   []string{"read"},
		RequireEditConfirmation:  true,
		RequireShellConfirmation: true,
		BlockedCommands:          []string{"rm -rf /"},
	}
	next := CapPermissions{
		Enable:                   []string{"write"},
		RequireEditConfirmation:  false,
		RequireShellConfirmation: true,
		BlockedCommands:          []string{"rm -rf /", "curl"},
	}

	merged := mergeCapPermissions(base, next)

	assert.ElementsMatch(t, []string{"read", "write"}, merged.Enable)
	assert.ElementsMatch(t, []string{"rm -rf /", "curl"}, merged.BlockedCommands)
	assert.False(t, merged.RequireEditConfirmation, "next's value replaces base's, no OR/union on booleans")
	assert.True(t, merged.RequireShellConfirmation)
}

func TestToCapPermissionsMissingTableIsZeroValue(t *testing.T) {
	var nilTable *capToolPermissionsFile
	p := nilTable.toCapPermissions()

	assert.False(t, p.RequireEditConfirmation, "a wholly-absent [tool_permissions] table gets the zero value, not the per-field default")
	assert.False(t, p.RequireShellConfirmation)
}

func TestToCapPermissionsPresentTableDefaultsOmittedFieldsToTrue(t *testing.T) {
	f := &capToolPermissionsFile{Enable: []string{"read"}}
	p := f.toCapPermissions()

	assert.True(t, p.RequireEditConfirmation, "present table, field omitted, defaults to true")
	assert.True(t, p.RequireShellConfirmation)
	assert.Equal(t, []string{"read"}, p.Enable)
}

func TestToCapPermissionsExplicitFalseIsHonored(t *testing.T) {
	no := false
	f := &capToolPermissionsFile{RequireEditConfirmation: &no}
	p := f.toCapPermissions()

	assert.False(t, p.RequireEditConfirmation)
	assert.True(t, p.RequireShellConfirmation, "only the explicitly-set field is overridden")
}

func TestResolveWalksExtendsDepthFirstAndDedupes(t *testing.T) {
	caps := map[string]*Agent{
		"grandparent": {Name: "grandparent"},
		"parent":      {Name: "parent", Extends: []string{"grandparent"}},
		"child":       {Name: "child", Extends: []string{"parent", "grandparent"}},
	}
	source := func(n string) (*Agent, bool) { c, ok := caps[n]; return c, ok }

	chain, err := Resolve("child", source)
	require.NoError(t, err)

	var names []string
	for _, c := range chain {
		names = append(names, c.Name)
	}
	// base is always first, then depth-first with no duplicate even
	// though "grandparent" is reachable two ways.
	assert.Equal(t, []string{"base", "grandparent", "parent", "child"}, names)
}

func TestResolveUnknownCapErrors(t *testing.T) {
	source := func(n string) (*Agent, bool) { return nil, false }
	_, err := Resolve("missing", source)
	assert.Error(t, err)
}

func TestMergeOrdersByPriorityAndUnionsToolPermissions(t *testing.T) {
	low := &Agent{Name: "low", Priority: 0, Prompt: "be helpful", CapPermissions: CapPermissions{Enable: []string{"read"}, RequireEditConfirmation: true}}
	high := &Agent{Name: "high", Priority: 10, Prompt: "be terse", Model: "claude-sonnet", CapPermissions: CapPermissions{Enable: []string{"write"}, RequireEditConfirmation: false}}

	merged := Merge([]*Agent{high, low}) // passed out of order; Merge must still sort by Priority

	assert.Equal(t, "be helpful\n\nbe terse", merged.Prompt)
	assert.Equal(t, "claude-sonnet", merged.Model)
	assert.ElementsMatch(t, []string{"read", "write"}, merged.CapPermissions.Enable)
	assert.False(t, merged.CapPermissions.RequireEditConfirmation, "the higher-priority cap's confirmation flag wins")
}

func TestMergeEmptyChainReturnsBaseCap(t *testing.T) {
	merged := Merge(nil)
	assert.Equal(t, "base", merged.Name)
	assert.True(t, merged.CapPermissions.RequireEditConfirmation)
}

func TestLoadCapFileParsesToolPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewer.toml")
	contents := `
name = "reviewer"
description = "reviews code"
priority = 5

[tool_permissions]
enable = ["read", "grep"]
require_shell_confirmation = false
blocked_commands = ["rm -rf /"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cap, err := LoadCapFile(path)
	require.NoError(t, err)

	assert.Equal(t, "reviewer", cap.Name)
	assert.Equal(t, 5, cap.Priority)
	assert.ElementsMatch(t, []string{"read", "grep"}, cap.CapPermissions.Enable)
	assert.True(t, cap.CapPermissions.RequireEditConfirmation, "omitted field defaults true")
	assert.False(t, cap.CapPermissions.RequireShellConfirmation, "explicitly set to false")
	assert.Equal(t, []string{"rm -rf /"}, cap.CapPermissions.BlockedCommands)
}

func TestResolveCapChainLayersMultipleNamesFromCLI(t *testing.T) {
	workdir := t.TempDir()
	capsDir := filepath.Join(workdir, ".ted", "caps")
	require.NoError(t, os.MkdirAll(capsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(capsDir, "strict.toml"), []byte(`
name = "strict"
priority = 1
[tool_permissions]
disable = ["bash"]
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(capsDir, "fast.toml"), []byte(`
name = "fast"
priority = 2
model = "claude-haiku"
[tool_permissions]
require_shell_confirmation = false
`), 0644))

	merged, err := ResolveCapChain([]string{"strict", "fast"}, workdir)
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku", merged.Model)
	assert.Contains(t, merged.CapPermissions.Disable, "bash")
	assert.False(t, merged.CapPermissions.RequireShellConfirmation)
}
