//go:build unix

package nuclei

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-easm/models"
	"golang.org/x/sys/unix"
)

// recordingLauncher wraps ExecLauncher to expose the spawned pid.
type recordingLauncher struct {
	ExecLauncher
	cmd Command
}

func (l *recordingLauncher) Command(name string, args []string, stdout, stderr io.Writer) Command {
	l.cmd = l.ExecLauncher.Command(name, args, stdout, stderr)
	return l.cmd
}

// gone reports whether pid no longer runs. A killed child reparented to
// init may linger as a zombie until it is reaped.
func gone(pid int) bool {
	if errors.Is(unix.Kill(pid, 0), unix.ESRCH) {
		return true
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	fields := strings.Fields(string(stat[bytes.LastIndexByte(stat, ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func TestScanner_Execute_Timeout(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	bin := filepath.Join(dir, "nuclei")
	script := "#!/bin/sh\nsleep 30 &\necho $! > " + pidFile + "\nwait\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o700))

	l := &recordingLauncher{}
	s := NewScanner(bin, "", l)
	s.TempDir = t.TempDir()

	req := request()
	req.Config.Timeout = 1

	start := time.Now()
	_, err := s.Execute(context.Background(), req)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.Less(t, elapsed, 5*time.Second)

	require.NotNil(t, l.cmd)
	pid := l.cmd.Pid()
	require.NotZero(t, pid)
	assert.True(t, gone(pid), "process %d still alive", pid)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	child, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return gone(child) }, 2*time.Second, 20*time.Millisecond, "child %d still alive", child)

	entries, err := os.ReadDir(s.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanner_Version(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "nuclei")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'Nuclei Engine Version: v3.3.0' >&2\n"), 0o700))

	s := NewScanner(bin, "", nil)
	v, err := s.Version(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Nuclei Engine Version: v3.3.0", v)
}
