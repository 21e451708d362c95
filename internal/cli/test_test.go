package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: create_offline
description: create offline then reconnect
steps:
  - create: {entity: student, id: s1, data: {name: Ada}}
  - network: online
  - sync: manual
    expect: {outcome: no_pending}
assertions:
  - type: final_state
    table: students
    where: {id: s1}
    expect: {is_dirty: false}
`

const failingScenario = `name: wrong_expectation
description: offline create stays dirty
steps:
  - create: {entity: student, id: s1}
assertions:
  - type: final_state
    table: students
    where: {id: s1}
    expect: {is_dirty: false}
`

// writeScenarioTree creates <tmp>/scenarios with the given files and an
// empty sibling golden directory.
func writeScenarioTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	scenariosDir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "golden"), 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, name), []byte(content), 0644))
	}
	return scenariosDir
}

func runTestCommand(args ...string) (int, string, string) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := Execute(append([]string{"test"}, args...), stdout, stderr)
	return code, stdout.String(), stderr.String()
}

func TestTestCommandMissingArgs(t *testing.T) {
	code, _, stderr := runTestCommand()
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	code, _, stderr := runTestCommand("/nonexistent/scenarios")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	dir := writeScenarioTree(t, nil)

	code, stdout, _ := runTestCommand(dir)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	dir := writeScenarioTree(t, nil)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := Execute([]string{"--format", "json", "test", dir}, stdout, stderr)
	require.Equal(t, ExitSuccess, code)

	var response CLIResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := writeScenarioTree(t, map[string]string{"create_offline.yaml": passingScenario})
	goldenPath := filepath.Join(filepath.Dir(dir), "golden", "create_offline.golden")

	code, stdout, stderr := runTestCommand(dir)
	assert.Equal(t, ExitFailure, code, "missing golden file fails")
	assert.Contains(t, stdout, "golden comparison failed")
	assert.Contains(t, stderr, "1 scenario(s) failed")

	code, stdout, _ = runTestCommand(dir, "--update")
	require.Equal(t, ExitSuccess, code, stdout)
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"action":"submit"`)

	code, stdout, _ = runTestCommand(dir)
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "✓ create_offline")
	assert.Contains(t, stdout, "Test Summary: 1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	code, stdout, _ = runTestCommand(dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "trace does not match golden file")
}

func TestTestCommandAssertionFailureJSON(t *testing.T) {
	dir := writeScenarioTree(t, map[string]string{
		"create_offline.yaml":    passingScenario,
		"wrong_expectation.yaml": failingScenario,
	})
	code, _, _ := runTestCommand(dir, "--update")
	require.Equal(t, ExitFailure, code, "assertion failures are reported even while updating")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code = Execute([]string{"--format", "json", "test", dir}, stdout, stderr)
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, stderr.String())

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	assert.Equal(t, "E_TEST_FAILED", response.Error.Code)
	assert.Equal(t, 2, response.Data.Total)
	assert.Equal(t, 1, response.Data.Passed)
	assert.Equal(t, 1, response.Data.Failed)
}

func TestTestCommandFilter(t *testing.T) {
	dir := writeScenarioTree(t, map[string]string{
		"create_offline.yaml":    passingScenario,
		"wrong_expectation.yaml": failingScenario,
	})

	code, stdout, _ := runTestCommand(dir, "--update", "--filter", "create*")
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "1 total")
}

func TestTestCommandRepositoryScenarios(t *testing.T) {
	dir := filepath.Join("..", "harness", "testdata", "scenarios")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("harness scenarios not found")
	}

	code, stdout, _ := runTestCommand(dir)
	assert.Equal(t, ExitSuccess, code, stdout)
}

func TestTestHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"test", "--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "conformance")
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	// Create scenario files
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "conflict-a.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "conflict-b.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "offline-create.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "conflict-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		assert.Contains(t, filepath.Base(f), "conflict-")
	}
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	// Create scenario files in root and subdir
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
