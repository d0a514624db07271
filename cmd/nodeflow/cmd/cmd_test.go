package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/config"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

const textWorkflow = `
name: greeting
nodes:
  - id: greet
    type: text
    data:
      text: hello there
  - id: sign
    type: text
    data:
      text: regards
`

const cyclicWorkflow = `{
  "nodes": [
    {"id": "a", "type": "llm", "data": {"userMessage": "x"}},
    {"id": "b", "type": "llm", "data": {"userMessage": "y"}}
  ],
  "edges": [
    {"id": "e1", "source": "a", "target": "b", "targetHandle": "system_prompt"},
    {"id": "e2", "source": "b", "target": "a", "targetHandle": "system_prompt"}
  ]
}`

const mixedWorkflow = `
nodes:
  - id: prompt
    type: text
    data:
      text: describe the cat
  - id: ask
    type: llm
  - id: ghost-target
    type: text
    data:
      text: unused
edges:
  - id: e1
    source: prompt
    target: ask
    targetHandle: prompt
  - id: e2
    source: missing
    target: ghost-target
`

// resetFlags restores every flag of c and its subcommands to its default.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupWorkspace isolates a test in a temp dir with a sqlite ledger and no
// generative backend.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "NODEFLOW_LLM_API_KEY", "NODEFLOW_OUTPUT", "CI", "GITHUB_ACTIONS"} {
		t.Setenv(name, "")
	}
	t.Setenv("NODEFLOW_LEDGER_BACKEND", "sqlite")
	t.Setenv("NODEFLOW_LEDGER_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("NODEFLOW_LOG_LEVEL", "error")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nodeflow 1.2.3")
	assert.Contains(t, out, "commit: abc123")
	assert.Equal(t, "1.2.3", GetVersion())
}

func TestValidateCommand(t *testing.T) {
	dir := setupWorkspace(t)

	t.Run("waves and dropped edges", func(t *testing.T) {
		path := writeFile(t, dir, "mixed.yaml", mixedWorkflow)
		out, err := execute(t, "validate", path)
		require.NoError(t, err)
		assert.Contains(t, out, "wave 1:")
		assert.Contains(t, out, "prompt (text)")
		assert.Contains(t, out, "wave 2: ask (llm)")
		assert.Contains(t, out, "dropped edge e2")
	})

	t.Run("json output", func(t *testing.T) {
		path := writeFile(t, dir, "mixed.yaml", mixedWorkflow)
		out, err := execute(t, "validate", path, "--output-mode", "json")
		require.NoError(t, err)

		var got waveReport
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "mixed", got.Workflow)
		require.Len(t, got.Waves, 2)
		assert.Equal(t, []core.NodeID{"ask"}, got.Waves[1])
		require.Len(t, got.Dropped, 1)
	})

	t.Run("cycle", func(t *testing.T) {
		path := writeFile(t, dir, "cycle.json", cyclicWorkflow)
		_, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Equal(t, core.CodeDAGCycle, core.GetCode(err))
		assert.Equal(t, 1, ExitCode(err))
	})

	t.Run("bad output mode", func(t *testing.T) {
		path := writeFile(t, dir, "mixed.yaml", mixedWorkflow)
		_, err := execute(t, "validate", path, "--output-mode", "tui")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown output mode")
	})
}

func TestRunCommand_TextWorkflow(t *testing.T) {
	dir := setupWorkspace(t)
	path := writeFile(t, dir, "greeting.yaml", textWorkflow)
	reportPath := filepath.Join(dir, "out", "report.json")

	out, err := execute(t, "run", path, "--output", reportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "SUCCESS")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report core.RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, core.RunStatusSuccess, report.Status)
	assert.Equal(t, "regards", report.Results["sign"].Output)

	// The run was recorded in the ledger.
	out, err = execute(t, "runs", "--output-mode", "json")
	require.NoError(t, err)
	var runs []core.WorkflowRun
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, "greeting", runs[0].WorkflowID)

	out, err = execute(t, "status", string(report.RunID))
	require.NoError(t, err)
	assert.Contains(t, out, string(report.RunID))
	assert.Contains(t, out, "greet")
}

func TestRunCommand_QuietPrintsResult(t *testing.T) {
	dir := setupWorkspace(t)
	path := writeFile(t, dir, "greeting.yaml", textWorkflow)

	out, err := execute(t, "run", path, "-q", "--node", "greet")
	require.NoError(t, err)
	assert.Equal(t, "hello there\n", out)
}

func TestRunCommand_SingleNeedsNode(t *testing.T) {
	dir := setupWorkspace(t)
	path := writeFile(t, dir, "greeting.yaml", textWorkflow)

	_, err := execute(t, "run", path, "--type", "single")
	require.Error(t, err)
	assert.Equal(t, core.CodeMissingTarget, core.GetCode(err))
}

func TestRunCommand_UnknownNodeSuggests(t *testing.T) {
	dir := setupWorkspace(t)
	path := writeFile(t, dir, "greeting.yaml", textWorkflow)

	_, err := execute(t, "run", path, "--type", "single", "--node", "gret")
	require.Error(t, err)
	assert.Equal(t, core.CodeNodeNotFound, core.GetCode(err))
	assert.Contains(t, err.Error(), "did you mean greet")

	out, err := execute(t, "runs", "--output-mode", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestRunCommand_FailedNodeExitCode(t *testing.T) {
	dir := setupWorkspace(t)
	path := writeFile(t, dir, "mixed.yaml", mixedWorkflow)

	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, out, "ask")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "generative backend not configured")
}

func TestRunCommand_JSONMode(t *testing.T) {
	dir := setupWorkspace(t)
	path := writeFile(t, dir, "greeting.yaml", textWorkflow)

	out, err := execute(t, "run", path, "--output-mode", "json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	var report core.RunReport
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &report))
	assert.Equal(t, core.RunStatusSuccess, report.Status)
	assert.Contains(t, out, `"type":"run_started"`)
}

func TestStatusCommand_NotFound(t *testing.T) {
	setupWorkspace(t)

	_, err := execute(t, "status", "no-such-run")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestRunsCommand_BadLimit(t *testing.T) {
	setupWorkspace(t)

	_, err := execute(t, "runs", "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit")
}

func TestInitCommand(t *testing.T) {
	dir := setupWorkspace(t)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized nodeflow")

	data, err := os.ReadFile(filepath.Join(dir, ".nodeflow", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ledger:")

	_, err = execute(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = execute(t, "init", "--force")
	require.NoError(t, err)
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "nodeflow workflow", schema["title"])
	assert.Contains(t, out, `"nodes"`)
	assert.Contains(t, out, `"extract"`)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, ExitCode(&runFailedError{status: "partial"}))
	assert.Equal(t, 1, ExitCode(assert.AnError))
}

func TestLedgerDir(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ledger.Backend = "memory"
	assert.Equal(t, ".", ledgerDir(cfg))

	cfg.Ledger.Backend = "sqlite"
	cfg.Ledger.Path = filepath.Join("data", "runs", "ledger.db")
	assert.Equal(t, filepath.Join("data", "runs"), ledgerDir(cfg))
}
