package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-easm/database"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "easm "+Version+"\n", out)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "templates", "import", "--db", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestTemplatesImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "easm.db")

	out, err := run(t, "--db", path, "templates", "import")
	require.NoError(t, err)
	assert.Contains(t, out, "quick")

	out, err = run(t, "--db", path, "templates", "import")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	db, err := database.New(path)
	require.NoError(t, err)
	defer db.Close()

	tpl, err := db.GetTemplateByName(context.Background(), "full")
	require.NoError(t, err)
	assert.Equal(t, "full", tpl.Name)
}

func TestTemplatesImport_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(file, []byte("templates:\n  - name: critical-only\n    config:\n      severity: [critical]\n"), 0o600))

	out, err := run(t, "--db", filepath.Join(dir, "easm.db"), "templates", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "critical-only")

	require.NoError(t, os.WriteFile(file, []byte("templates:\n  - name: broken\n    unknown: true\n"), 0o600))
	_, err = run(t, "--db", filepath.Join(dir, "easm.db"), "templates", "import", file)
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "easm.yaml")
	dbPath := filepath.Join(dir, "from-file.db")
	require.NoError(t, os.WriteFile(file, []byte("database:\n  path: "+dbPath+"\n"), 0o600))

	_, err := run(t, "--config", file, "templates", "import")
	require.NoError(t, err)
	assert.FileExists(t, dbPath)
}
