package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/app"
	"github.com/roach88/offsync/internal/netmon"
	tu "github.com/roach88/offsync/internal/testutil"
)

// cliEnv runs commands against one database with a scripted remote.
type cliEnv struct {
	t      *testing.T
	db     string
	remote *tu.ScriptedRemote
	online bool
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{
		t:      t,
		db:     filepath.Join(t.TempDir(), "client.db"),
		remote: tu.NewScriptedRemote(),
	}
}

func (e *cliEnv) interfaces() *netmon.InterfaceSource {
	up := e.online
	return &netmon.InterfaceSource{
		Interval: 5 * time.Millisecond,
		Logger:   zap.NewNop(),
		List: func() ([]netmon.Interface, error) {
			return []netmon.Interface{
				{Name: "lo", Up: true, Loopback: true, Addrs: 1},
				{Name: "wlan0", Up: up, Addrs: 1},
			}, nil
		},
	}
}

// run executes the CLI with --db and --tenant set and returns the exit
// code with both outputs.
func (e *cliEnv) run(args ...string) (int, string, string) {
	e.t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	full := append([]string{"--db", e.db, "--tenant", "t1"}, args...)
	code := Execute(full, stdout, stderr,
		app.WithRemote(e.remote),
		app.WithInterfaceSource(e.interfaces()),
		app.WithClock(tu.NewSteppingClock(tu.Epoch, time.Millisecond)),
	)
	return code, stdout.String(), stderr.String()
}

// runJSON executes the CLI with --format json and decodes the envelope.
func (e *cliEnv) runJSON(args ...string) (int, map[string]any) {
	e.t.Helper()
	code, stdout, _ := e.run(append([]string{"--format", "json"}, args...)...)
	var resp map[string]any
	require.NoError(e.t, json.Unmarshal([]byte(stdout), &resp), stdout)
	return code, resp
}

func TestCreateAndGet(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("create", "student", "--id", "s1", "--set", "name=Ada")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "student/s1 v1 [dirty]")
	assert.Contains(t, out, `"name":"Ada"`)

	code, out, _ = env.run("get", "student", "s1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "student/s1 v1 [dirty]")
}

func TestCreateWithJSONData(t *testing.T) {
	env := newCLIEnv(t)

	code, resp := env.runJSON("create", "grade", "--id", "g1", "--data", `{"score":5,"student":"s1"}`)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "ok", resp["status"])

	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "data is a flat record object")
	assert.Equal(t, "g1", data["id"])
	assert.Equal(t, float64(1), data["_version"])
	assert.Equal(t, float64(5), data["score"])
	assert.Equal(t, "s1", data["student"])
}

func TestCreateInvalidData(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("create", "student", "--data", `[1,2]`)
	assert.Equal(t, ExitCommandError, code)

	code, _, _ = env.run("create", "student", "--set", "noequals")
	assert.Equal(t, ExitCommandError, code)
}

func TestCreateUnknownEntityType(t *testing.T) {
	env := newCLIEnv(t)

	code, _, stderr := env.run("create", "spaceship", "--id", "x")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid entity type")
}

func TestCreateDuplicateID(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("create", "student", "--id", "s1")
	require.Equal(t, ExitSuccess, code)

	code, resp := env.runJSON("create", "student", "--id", "s1")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, CodeDuplicate, resp["error"].(map[string]any)["code"])
}

func TestUpdateMergesAndBumpsVersion(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("create", "student", "--id", "s1", "--set", "name=Ada", "--set", "year=2")
	require.Equal(t, ExitSuccess, code)

	code, out, _ := env.run("update", "student", "s1", "--set", "name=Grace")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "student/s1 v2 [dirty]")
	assert.Contains(t, out, `"name":"Grace"`)
	assert.Contains(t, out, `"year":"2"`)
}

func TestUpdateWithoutFields(t *testing.T) {
	env := newCLIEnv(t)

	code, _, stderr := env.run("update", "student", "s1")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "nothing to update")
}

func TestUpdateMissingRecord(t *testing.T) {
	env := newCLIEnv(t)

	code, resp := env.runJSON("update", "student", "missing", "--set", "name=x")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, CodeNotFound, resp["error"].(map[string]any)["code"])
}

func TestDeleteAndList(t *testing.T) {
	env := newCLIEnv(t)

	for _, id := range []string{"s1", "s2"} {
		code, _, _ := env.run("create", "student", "--id", id)
		require.Equal(t, ExitSuccess, code)
	}

	code, out, _ := env.run("delete", "student", "s1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "student/s1 v2 [dirty,deleted]")

	code, out, _ = env.run("list", "student")
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, out, "student/s1")
	assert.Contains(t, out, "student/s2")

	code, out, _ = env.run("list", "student", "--all")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "student/s1")
	assert.Contains(t, out, "student/s2")
}

func TestListEmpty(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("list", "teacher")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "No teacher records.")
}

func TestGetMissingRecord(t *testing.T) {
	env := newCLIEnv(t)

	code, _, stderr := env.run("get", "student", "nope")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "Error ["+CodeNotFound+"]")
}

func TestRecordCommandsRequireTenant(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	db := filepath.Join(t.TempDir(), "client.db")
	t.Setenv("OFFSYNC_TENANT", "")

	code := Execute([]string{"--db", db, "create", "student"}, stdout, stderr,
		app.WithRemote(tu.NewScriptedRemote()))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), "tenant is required")
}
