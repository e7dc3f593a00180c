// Package collab invokes the external collaborator programs that do the
// document work: the extractor/consolidator, the renderer, and the PDF
// converter. Each invocation is a fresh subprocess with a deadline; the
// engine owns retry and status bookkeeping.
package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// stderrCap bounds how much collaborator stderr we keep for error messages.
const stderrCap = 2000

// ParseCommand splits a configured command string into argv on whitespace.
// Collaborator paths must not contain spaces; quoting is deliberately not
// supported to keep the config format predictable.
func ParseCommand(s string) ([]string, error) {
	argv := strings.Fields(s)
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

// runResult carries the subprocess outcome back to the typed wrappers.
type runResult struct {
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

// run executes argv with extra args, a stdin payload, and extra environment
// entries. The subprocess gets its own process group so a timeout kills the
// whole tree, not just the direct child.
func run(ctx context.Context, argv []string, args []string, stdin []byte, extraEnv []string, timeout time.Duration) (*runResult, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := append(append([]string{}, argv[1:]...), args...)
	cmd := exec.CommandContext(cctx, argv[0], full...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second
	cmd.Env = append(os.Environ(), extraEnv...)

	// Never let a collaborator hang on an interactive read.
	var in io.Reader = strings.NewReader("")
	if stdin != nil {
		in = bytes.NewReader(stdin)
	}
	cmd.Stdin = in

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &runResult{
		Stdout:   stdout.Bytes(),
		Stderr:   truncate(stderr.String(), stderrCap),
		Duration: time.Since(start),
	}
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("%s timed out after %s", argv[0], timeout)
		}
		if ctx.Err() == context.Canceled {
			return res, context.Canceled
		}
		return res, fmt.Errorf("%s: %w (stderr: %s)", argv[0], err, res.Stderr)
	}
	return res, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
