package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against a temp repo and captures stdout.
func run(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--root", root, "--json"))
	err := cmd.Execute()
	return out.String(), err
}

func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	src := `def check_password(user, password):
    return user.hash == password


def login(user, password):
    if check_password(user, password):
        return "ok"
    return "denied"
`
	require.NoError(t, os.MkdirAll(filepath.Join(root, "auth"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "auth", "login.py"), []byte(src), 0o644))
	// Static embeddings keep the test hermetic.
	cfgYAML := `embeddings:
  profiles:
    code:
      provider: static
      dim: 32
    docs:
      provider: static
      dim: 32
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".llmc.yaml"), []byte(cfgYAML), 0o644))
	return root
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	want := []string{"index", "search", "where-used", "lineage", "daemon",
		"stats", "status", "health", "serve"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestIndexThenSearch(t *testing.T) {
	root := writeRepo(t)

	out, err := run(t, root, "index", "--embed")
	require.NoError(t, err, out)

	out, err = run(t, root, "search", "where is check_password")
	require.NoError(t, err, out)

	var resp struct {
		Results []struct {
			Path   string `json:"path"`
			Symbol string `json:"symbol"`
		} `json:"results"`
		Profile   string `json:"profile"`
		Source    string `json:"source"`
		Freshness string `json:"freshness"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "code", resp.Profile)
	assert.NotEmpty(t, resp.Source)
	assert.Equal(t, "auth/login.py", resp.Results[0].Path)
}

func TestSearchBeforeIndexReturnsEmpty(t *testing.T) {
	root := writeRepo(t)

	out, err := run(t, root, "search", "anything")
	require.NoError(t, err, out)

	var resp struct {
		Results   []json.RawMessage `json:"results"`
		Freshness string            `json:"freshness"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Results)
	assert.Equal(t, "unknown", resp.Freshness)
}

func TestWhereUsedCommand(t *testing.T) {
	root := writeRepo(t)

	out, err := run(t, root, "index")
	require.NoError(t, err, out)

	out, err = run(t, root, "where-used", "check_password")
	require.NoError(t, err, out)

	var resp struct {
		Usages []struct {
			EdgeType string `json:"edge_type"`
		} `json:"usages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Usages)
	assert.Equal(t, "calls", resp.Usages[0].EdgeType)
}

func TestStatusAndStatsCommands(t *testing.T) {
	root := writeRepo(t)

	out, err := run(t, root, "index")
	require.NoError(t, err, out)

	out, err = run(t, root, "status")
	require.NoError(t, err, out)
	var status struct {
		Status struct {
			State string `json:"state"`
		} `json:"status"`
		Freshness string `json:"freshness"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "ready", status.Status.State)

	out, err = run(t, root, "stats")
	require.NoError(t, err, out)
	var stats struct {
		Files int `json:"files"`
		Spans int `json:"spans"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 2, stats.Spans)
}
