// Package runner launches external computations with a bounded lifetime.
//
// Each invocation starts one child process, writes a single JSON document to
// its stdin, collects stdout and stderr, and reduces whatever happened to a
// Result. Callers never see exit codes, pipes or signals directly.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"scriptgate/internal/config"
)

const (
	defaultMaxOutputBytes     = 8 << 20
	defaultMaxDiagnosticBytes = 64 << 10
	defaultDeadline           = 60 * time.Second
	defaultKillGrace          = 2 * time.Second

	// PreviewBytes bounds the stdout excerpt carried by MalformedOutput.
	PreviewBytes = 500
)

var (
	errOutputTooLarge = errors.New("output exceeds size limit")
	errEmptyOutput    = errors.New("empty output")
)

// Target describes how to launch one external computation.
type Target struct {
	Name    string
	Command string
	Args    []string
	Script  string   // appended to argv after Args, resolved against Dir
	Dir     string   // working directory
	Env     []string // KEY=VALUE pairs added to the inherited environment
}

// Request is one invocation of a registered target.
type Request struct {
	Target   string
	Payload  json.RawMessage
	Deadline time.Duration
}

type Config struct {
	Targets            map[string]Target
	WorkDir            string
	MaxOutputBytes     int
	MaxDiagnosticBytes int
	KillGrace          time.Duration
	Logger             *slog.Logger
}

// Runner executes registered targets. It is safe for concurrent use; the
// target registry is read-only after New.
type Runner struct {
	targets   map[string]Target
	workDir   string
	maxOutput int
	maxDiag   int
	killGrace time.Duration
	logger    *slog.Logger
}

func New(cfg Config) *Runner {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.MaxDiagnosticBytes <= 0 {
		cfg.MaxDiagnosticBytes = defaultMaxDiagnosticBytes
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	// A zero WaitDelay would let a background child holding stdout keep
	// Wait blocked forever.
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	targets := make(map[string]Target, len(cfg.Targets))
	for name, t := range cfg.Targets {
		t.Name = name
		targets[name] = t
	}
	return &Runner{
		targets:   targets,
		workDir:   cfg.WorkDir,
		maxOutput: cfg.MaxOutputBytes,
		maxDiag:   cfg.MaxDiagnosticBytes,
		killGrace: cfg.KillGrace,
		logger:    cfg.Logger,
	}
}

// FromConfig builds a Runner from the runner and targets sections.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Runner {
	targets := make(map[string]Target, len(cfg.Targets))
	for name, tc := range cfg.Targets {
		env := make([]string, 0, len(tc.Env))
		for k, v := range tc.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		targets[name] = Target{
			Command: tc.Command,
			Args:    append([]string(nil), tc.Args...),
			Script:  tc.Script,
			Dir:     tc.Dir,
			Env:     env,
		}
	}
	return New(Config{
		Targets:            targets,
		WorkDir:            cfg.Runner.WorkDir,
		MaxOutputBytes:     cfg.Runner.MaxOutputBytes,
		MaxDiagnosticBytes: cfg.Runner.MaxDiagnosticBytes,
		KillGrace:          time.Duration(cfg.Runner.KillGraceSeconds) * time.Second,
		Logger:             logger,
	})
}

// Names returns the registered target names, sorted.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the registered target.
func (r *Runner) Lookup(name string) (Target, bool) {
	t, ok := r.targets[name]
	return t, ok
}

// Check reports why a target cannot currently be launched, or nil.
func (r *Runner) Check(name string) error {
	t, ok := r.targets[name]
	if !ok {
		return fmt.Errorf("target %q is not registered", name)
	}
	argv, _, err := r.resolve(t)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("executable %s: %w", t.Command, err)
	}
	if t.Script != "" {
		if err := readable(argv[len(argv)-1]); err != nil {
			return fmt.Errorf("script %s: %w", argv[len(argv)-1], err)
		}
	}
	return nil
}

// Available reports whether Check passes.
func (r *Runner) Available(name string) bool {
	return r.Check(name) == nil
}

// resolve builds argv and the working directory for t.
func (r *Runner) resolve(t Target) ([]string, string, error) {
	if strings.TrimSpace(t.Command) == "" {
		return nil, "", fmt.Errorf("target %q has no command", t.Name)
	}
	dir := t.Dir
	if dir == "" {
		dir = r.workDir
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	command := t.Command
	if strings.ContainsRune(command, filepath.Separator) && !filepath.IsAbs(command) {
		command = filepath.Join(dir, command)
	}

	argv := append([]string{command}, t.Args...)
	if t.Script != "" {
		script := t.Script
		if !filepath.IsAbs(script) {
			script = filepath.Join(dir, script)
		}
		argv = append(argv, script)
	}
	return argv, dir, nil
}

// Run executes req and always returns exactly one Result.
//
// The child is bound to req.Deadline only. Cancelling ctx (a client going
// away) does not stop it; the deadline kills the whole process group.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	logger := r.logger.With("target", req.Target)

	t, ok := r.targets[req.Target]
	if !ok {
		return LaunchFailure{Reason: fmt.Sprintf("target %q is not registered", req.Target)}
	}
	argv, dir, err := r.resolve(t)
	if err != nil {
		return LaunchFailure{Reason: err.Error()}
	}
	if t.Script != "" {
		if _, err := os.Stat(argv[len(argv)-1]); err != nil {
			return LaunchFailure{Reason: fmt.Sprintf("script not found: %s", argv[len(argv)-1])}
		}
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()

	stdout := &cappedBuffer{max: r.maxOutput}
	stderr := &cappedBuffer{max: r.maxDiag}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), t.Env...)
	cmd.Stdin = bytes.NewReader(req.Payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.killGrace
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return LaunchFailure{Reason: err.Error()}
	}
	logger.Debug("target started", "pid", cmd.Process.Pid, "deadline", deadline)

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	r.logDiagnostics(logger, stderr)

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The child exited but something it spawned still holds the pipes.
		killGroup(cmd)
		waitErr = nil
		if cmd.ProcessState != nil && !cmd.ProcessState.Success() {
			waitErr = &exec.ExitError{ProcessState: cmd.ProcessState}
		}
	}

	if waitErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("target timed out", "elapsed", elapsed, "deadline", deadline)
		return Timeout{Elapsed: elapsed}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		logger.Warn("target exited non-zero", "exit_code", code, "stderr_tail", tail(stderr.String(), 512))
		return NonZeroExit{Code: code, Diagnostic: stderr.String()}
	}
	if waitErr != nil {
		return LaunchFailure{Reason: waitErr.Error()}
	}

	return parseOutput(stdout)
}

// parseOutput accepts stdout only if it is exactly one JSON value.
func parseOutput(stdout *cappedBuffer) Result {
	raw := stdout.Bytes()
	if stdout.overflow {
		return MalformedOutput{Raw: preview(raw), Err: errOutputTooLarge}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return MalformedOutput{Raw: preview(raw), Err: errEmptyOutput}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var value json.RawMessage
	if err := dec.Decode(&value); err != nil {
		return MalformedOutput{Raw: preview(raw), Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return MalformedOutput{Raw: preview(raw), Err: errors.New("unexpected data after JSON value")}
	}
	return Success{Payload: value}
}

func (r *Runner) logDiagnostics(logger *slog.Logger, stderr *cappedBuffer) {
	if stderr.Len() == 0 || !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	sc := bufio.NewScanner(bytes.NewReader(stderr.Bytes()))
	for sc.Scan() {
		logger.Debug("target stderr", "line", sc.Text())
	}
	if stderr.overflow {
		logger.Debug("target stderr truncated", "limit", r.maxDiag)
	}
}

func preview(b []byte) []byte {
	if len(b) > PreviewBytes {
		b = b[:PreviewBytes]
	}
	return append([]byte(nil), b...)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// cappedBuffer keeps the first max bytes and silently drains the rest so a
// chatty child never blocks on a full pipe.
type cappedBuffer struct {
	bytes.Buffer
	max      int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remain := b.max - b.Buffer.Len()
	if remain <= 0 {
		if len(p) > 0 {
			b.overflow = true
		}
		return len(p), nil
	}
	if len(p) > remain {
		b.Buffer.Write(p[:remain])
		b.overflow = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
