//go:build !unix

package nuclei

import (
	"errors"
	"os"
	"os/exec"
)

func isolate(cmd *exec.Cmd) {}

func killGroup(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
