package nuclei

import (
	"errors"
	"io"
	"os/exec"
	"time"
)

// Command is a process handle created by a Launcher.
type Command interface {
	// Start spawns the process.
	Start() error
	// Wait blocks until the process exits. A nonzero exit is reported through
	// the exit code; err is only set when the process could not be supervised.
	Wait() (exitCode int, err error)
	// Kill terminates the process and every child it spawned.
	Kill() error
	// Pid returns the process id once started.
	Pid() int
}

// Launcher creates commands. Tests inject fakes so no real process is spawned.
type Launcher interface {
	Command(name string, args []string, stdout, stderr io.Writer) Command
}

// ExecLauncher launches real processes with os/exec, each in its own
// process group so Kill reaches the children too.
type ExecLauncher struct{}

// Command implements Launcher.
func (ExecLauncher) Command(name string, args []string, stdout, stderr io.Writer) Command {
	cmd := exec.Command(name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children holding the output pipes open must not block Wait forever.
	cmd.WaitDelay = 5 * time.Second
	isolate(cmd)
	return &execCommand{cmd: cmd}
}

type execCommand struct {
	cmd *exec.Cmd
}

func (c *execCommand) Start() error {
	return c.cmd.Start()
}

func (c *execCommand) Wait() (int, error) {
	err := c.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if c.cmd.ProcessState != nil {
		// exec.ErrWaitDelay: the process exited but a child kept the pipes open.
		return c.cmd.ProcessState.ExitCode(), nil
	}
	return -1, err
}

func (c *execCommand) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return killGroup(c.cmd.Process)
}

func (c *execCommand) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}
