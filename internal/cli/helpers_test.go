package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const tasksSchema = `package tasks

class: Task: {
	primary_key: "name"
	properties: {
		name:  string
		count: int
		done?: bool
	}
}
`

// testEnv is a scratch database with a schema file next to it.
type testEnv struct {
	dir    string
	path   string
	schema string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "tasks.cue")
	require.NoError(t, os.WriteFile(schemaPath, []byte(tasksSchema), 0o644))
	return testEnv{dir: dir, path: filepath.Join(dir, "test.realm"), schema: schemaPath}
}

// args prefixes the global flags that point at the environment.
func (e testEnv) args(args ...string) []string {
	return append([]string{"--path", e.path, "--schema", e.schema}, args...)
}

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// decodeData decodes the data payload of a JSON success response.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}
