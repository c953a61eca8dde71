// Package nuclei runs the nuclei vulnerability scanner as a bounded-time
// subprocess and decodes its JSONL output.
package nuclei

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go-easm/models"
)

// ErrNotInstalled indicates the nuclei binary is missing or not executable.
var ErrNotInstalled = errors.New("nuclei: binary not found")

// DefaultTimeout bounds an invocation whose configuration carries no timeout.
const DefaultTimeout = time.Hour

// Request defines one scanner invocation.
type Request struct {
	ScanID  uint // key of the live process in the Registry, 0 to skip registration
	Targets []string
	Config  models.ScanConfig
}

// Outcome defines the result of an invocation that ran to completion.
type Outcome struct {
	Success        bool                    `json:"success"`
	Findings       []models.Finding        `json:"findings,omitempty"`
	SeverityCounts map[models.Severity]int `json:"vulnerabilities_by_severity,omitempty"`
	Stdout         string                  `json:"stdout,omitempty"`
	Stderr         string                  `json:"stderr,omitempty"`
	ExitCode       int                     `json:"exit_code"`
	Duration       time.Duration           `json:"duration"`
	Error          string                  `json:"error,omitempty"`
}

// Scanner wraps the nuclei binary.
type Scanner struct {
	Binary        string // path or name of the nuclei binary
	TemplatesPath string // default templates directory
	TempDir       string // parent of the per-call work directory, "" for os.TempDir

	launcher Launcher
	registry *Registry
}

// NewScanner returns a *Scanner using launcher to spawn processes.
// A nil launcher selects ExecLauncher.
func NewScanner(binary, templatesPath string, launcher Launcher) *Scanner {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	return &Scanner{
		Binary:        binary,
		TemplatesPath: templatesPath,
		launcher:      launcher,
		registry:      NewRegistry(),
	}
}

// Registry returns the live-process registry of the scanner.
func (s *Scanner) Registry() *Registry {
	return s.registry
}

// Verify checks that the nuclei binary exists and is executable.
func (s *Scanner) Verify() error {
	if !strings.ContainsRune(s.Binary, os.PathSeparator) {
		if _, err := exec.LookPath(s.Binary); err != nil {
			return fmt.Errorf("%w: %s is not in PATH", ErrNotInstalled, s.Binary)
		}
		return nil
	}

	info, err := os.Stat(s.Binary)
	if err != nil {
		return fmt.Errorf("%w at %s", ErrNotInstalled, s.Binary)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrNotInstalled, s.Binary)
	}
	return nil
}

// Execute runs one scan and waits for it within the configured timeout.
//
// Failure policy: a nonzero exit code with no decoded finding produces an
// unsuccessful Outcome carrying stderr as its error. A nonzero exit code
// with at least one decoded finding is a degraded success: the partial
// results are kept.
//
// Infrastructure failures return models.ErrExecution, an expired timeout
// returns models.ErrTimeout and a kill through Cancel or ctx returns
// models.ErrCancelled. In all three cases the process group is gone when
// Execute returns.
func (s *Scanner) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", models.ErrConfiguration)
	}

	start := time.Now()

	dir, err := os.MkdirTemp(s.TempDir, "nuclei-scan-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", models.ErrExecution, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logrus.Warnf("failed to remove work dir %s: %v", dir, err)
		}
	}()

	targetsFile := filepath.Join(dir, "targets.txt")
	if err := os.WriteFile(targetsFile, []byte(strings.Join(req.Targets, "\n")+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("%w: write targets: %v", models.ErrExecution, err)
	}
	outputFile := filepath.Join(dir, "results.jsonl")

	args := BuildArgs(Invocation{
		Config:           req.Config,
		TargetsFile:      targetsFile,
		OutputFile:       outputFile,
		DefaultTemplates: s.defaultTemplates(),
	})

	timeout := req.Config.TimeoutDuration()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	log := logrus.WithField("scan_id", req.ScanID)
	log.Infof("Executing nuclei: %s %s", s.Binary, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	exitCode, err := s.supervise(ctx, req.ScanID, args, &stdout, &stderr, timeout)
	if err != nil {
		return nil, err
	}

	findings, err := ParseFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read results: %v", models.ErrExecution, err)
	}

	out := &Outcome{
		Findings:       findings,
		SeverityCounts: CountBySeverity(findings),
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		ExitCode:       exitCode,
		Duration:       time.Since(start),
	}

	if exitCode != 0 && len(findings) == 0 {
		out.Error = strings.TrimSpace(out.Stderr)
		if out.Error == "" {
			out.Error = fmt.Sprintf("nuclei exited with code %d", exitCode)
		}
		log.Errorf("Nuclei scan failed: %s", out.Error)
		return out, nil
	}
	if exitCode != 0 {
		log.Warnf("Nuclei exited with code %d, keeping %d partial findings", exitCode, len(findings))
	}

	out.Success = true
	log.Infof("Nuclei scan completed in %s. Found %d vulnerabilities", out.Duration.Round(time.Millisecond), len(findings))
	return out, nil
}

// Cancel kills the live process of scanID. It reports whether one was running.
func (s *Scanner) Cancel(scanID uint) bool {
	return s.registry.Kill(scanID)
}

// Version returns the version banner of the nuclei binary.
func (s *Scanner) Version(ctx context.Context) (string, error) {
	var stdout, stderr bytes.Buffer
	code, err := s.supervise(ctx, 0, []string{"-version"}, &stdout, &stderr, time.Minute)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("%w: nuclei -version exited with code %d: %s", models.ErrExecution, code, strings.TrimSpace(stderr.String()))
	}

	// nuclei prints its banner on stderr.
	if v := strings.TrimSpace(stdout.String()); v != "" {
		return v, nil
	}
	return strings.TrimSpace(stderr.String()), nil
}

// UpdateTemplates downloads the latest community templates.
func (s *Scanner) UpdateTemplates(ctx context.Context) error {
	logrus.Info("Updating nuclei templates...")

	var stdout, stderr bytes.Buffer
	code, err := s.supervise(ctx, 0, []string{"-update-templates"}, &stdout, &stderr, 10*time.Minute)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: failed to update templates: %s", models.ErrExecution, strings.TrimSpace(stderr.String()))
	}

	logrus.Info("Nuclei templates updated successfully")
	return nil
}

// supervise starts the binary and waits for it, killing the process group
// when the timeout expires, ctx is done or the registry kills it.
func (s *Scanner) supervise(ctx context.Context, scanID uint, args []string, stdout, stderr *bytes.Buffer, timeout time.Duration) (int, error) {
	cmd := s.launcher.Command(s.Binary, args, stdout, stderr)
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("%w: start %s: %v", models.ErrExecution, s.Binary, err)
	}

	var h *handle
	if scanID != 0 {
		var err error
		if h, err = s.registry.register(scanID, cmd); err != nil {
			_ = cmd.Kill()
			_, _ = cmd.Wait()
			return -1, err
		}
		defer s.registry.unregister(scanID, h)
	}

	done := make(chan waitResult, 1)
	go func() {
		code, err := cmd.Wait()
		done <- waitResult{code, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if h != nil && h.killed.Load() {
			return -1, fmt.Errorf("%w: process of scan %d was killed", models.ErrCancelled, scanID)
		}
		if res.err != nil {
			return -1, fmt.Errorf("%w: wait for %s: %v", models.ErrExecution, s.Binary, res.err)
		}
		return res.code, nil

	case <-timer.C:
		s.terminate(cmd, done)
		return -1, fmt.Errorf("%w: nuclei scan timeout after %s", models.ErrTimeout, timeout)

	case <-ctx.Done():
		s.terminate(cmd, done)
		return -1, fmt.Errorf("%w: %w", models.ErrCancelled, ctx.Err())
	}
}

type waitResult struct {
	code int
	err  error
}

// terminate kills the process group and reaps the leader.
func (s *Scanner) terminate(cmd Command, done <-chan waitResult) {
	if err := cmd.Kill(); err != nil {
		logrus.Errorf("failed to kill nuclei process %d: %v", cmd.Pid(), err)
	}
	<-done
}

func (s *Scanner) defaultTemplates() string {
	if s.TemplatesPath == "" {
		return ""
	}
	if _, err := os.Stat(s.TemplatesPath); err != nil {
		return ""
	}
	return s.TemplatesPath
}
