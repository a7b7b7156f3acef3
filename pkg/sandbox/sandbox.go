//go:build linux

// Package sandbox runs developer-generated code under resource limits and
// a denylist scan, the way ui/security's InfrastructureDetector matches
// signatures against request headers - here the signatures are scanned
// against source text before anything is executed.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"syscall"
	"time"

	"github.com/artemis-pipeline/artemis/core"
)

// defaultDenylist blocks source text that attempts to escape the sandbox's
// resource limits or touch the host outside its working directory.
var defaultDenylist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)os\.RemoveAll\(\s*"/"\s*\)`),
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)syscall\.Exec\b`),
	regexp.MustCompile(`(?i)/etc/passwd`),
	regexp.MustCompile(`(?i)curl\s+.*\|\s*sh`),
	regexp.MustCompile(`(?i)wget\s+.*\|\s*sh`),
}

// Result is the outcome of one sandboxed execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Sandbox runs commands under CPU/memory/file-size limits and a wall-clock
// timeout, rejecting source text that matches its denylist before
// execution ever starts.
type Sandbox struct {
	cfg      core.SandboxConfig
	denylist []*regexp.Regexp
	wallClock time.Duration
	logger   core.Logger
}

// New creates a Sandbox enforcing cfg's limits. An empty or unparseable
// WallClock falls back to 60s.
func New(cfg core.SandboxConfig, logger core.Logger) *Sandbox {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	wallClock, err := time.ParseDuration(cfg.WallClock)
	if err != nil || wallClock <= 0 {
		wallClock = 60 * time.Second
	}
	return &Sandbox{cfg: cfg, denylist: defaultDenylist, wallClock: wallClock, logger: logger}
}

// ScanSource checks source text against the denylist, returning the first
// matching pattern's description if one is found.
func (s *Sandbox) ScanSource(source string) error {
	for _, pattern := range s.denylist {
		if pattern.MatchString(source) {
			return &core.FrameworkError{
				Op:      "Sandbox.ScanSource",
				Kind:    "sandbox",
				Message: fmt.Sprintf("source matched denylisted pattern %q", pattern.String()),
				Err:     core.ErrSandboxViolation,
			}
		}
	}
	return nil
}

// Execute scans source, then runs name with args in dir under the
// sandbox's CPU/memory/file-size limits and wall-clock timeout. dir should
// already contain whatever files the command needs - Execute does not
// write source to disk itself, since the calling stage controls layout.
func (s *Sandbox) Execute(ctx context.Context, source, dir, name string, args ...string) (Result, error) {
	if err := s.ScanSource(source); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.wallClock)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Rlimits are process-wide: they are lowered for the whole process
	// around Start, so the forked child inherits them, and setRlimits'
	// restore func runs right after Start. The OS thread stays pinned for
	// that window.
	runtime.LockOSThread()
	restore := setRlimits(s.cfg)
	startErr := cmd.Start()
	restore()
	runtime.UnlockOSThread()

	if startErr != nil {
		return Result{}, fmt.Errorf("start sandboxed command: %w", startErr)
	}

	start := time.Now()
	err := cmd.Wait()
	duration := time.Since(start)

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		killProcessGroup(cmd)
		return result, &core.FrameworkError{
			Op:      "Sandbox.Execute",
			Kind:    "sandbox",
			Message: fmt.Sprintf("command exceeded wall clock of %s", s.wallClock),
			Err:     core.ErrTimeout,
		}
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("run sandboxed command: %w", err)
	}

	return result, nil
}

// killProcessGroup force-terminates the whole process group the sandboxed
// command spawned, so child processes don't survive a timeout.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// setRlimits lowers RLIMIT_CPU, RLIMIT_AS, and RLIMIT_FSIZE (soft and hard
// limits both) to cfg's caps, returning a func that calls Setrlimit with
// the previously saved limits and ignores its errors. Rlimits are
// process-wide, so the caps apply to this process as well as to a child
// forked while they are in place.
func setRlimits(cfg core.SandboxConfig) func() {
	prevCPU := saveRlimit(syscall.RLIMIT_CPU)
	prevAS := saveRlimit(syscall.RLIMIT_AS)
	prevFsize := saveRlimit(syscall.RLIMIT_FSIZE)

	if cfg.CPUSeconds > 0 {
		_ = syscall.Setrlimit(syscall.RLIMIT_CPU, &syscall.Rlimit{Cur: uint64(cfg.CPUSeconds), Max: uint64(cfg.CPUSeconds)})
	}
	if cfg.MemoryMB > 0 {
		bytesLimit := uint64(cfg.MemoryMB) * 1024 * 1024
		_ = syscall.Setrlimit(syscall.RLIMIT_AS, &syscall.Rlimit{Cur: bytesLimit, Max: bytesLimit})
	}
	if cfg.MaxFileSizeMB > 0 {
		bytesLimit := uint64(cfg.MaxFileSizeMB) * 1024 * 1024
		_ = syscall.Setrlimit(syscall.RLIMIT_FSIZE, &syscall.Rlimit{Cur: bytesLimit, Max: bytesLimit})
	}

	return func() {
		restoreRlimit(syscall.RLIMIT_CPU, prevCPU)
		restoreRlimit(syscall.RLIMIT_AS, prevAS)
		restoreRlimit(syscall.RLIMIT_FSIZE, prevFsize)
	}
}

func saveRlimit(resource int) syscall.Rlimit {
	var lim syscall.Rlimit
	_ = syscall.Getrlimit(resource, &lim)
	return lim
}

func restoreRlimit(resource int, saved syscall.Rlimit) {
	_ = syscall.Setrlimit(resource, &saved)
}
