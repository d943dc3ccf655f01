package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Runner executes an external tool. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ErrToolMissing is returned when the binary cannot be found on PATH.
var ErrToolMissing = errors.New("ocr: tool not installed")

// ExecRunner runs tools through os/exec with OMP_THREAD_LIMIT=1.
type ExecRunner struct {
	Logger *slog.Logger
	// Timeout bounds a single invocation; zero leaves only ctx.
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "OMP_THREAD_LIMIT=1")
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()
	switch {
	case errors.Is(err, exec.ErrNotFound):
		log.Error("ocr.exec.missing", "tool", name)
		return nil, nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	case err != nil:
		log.Error("ocr.exec.failed", "tool", name, "elapsed_ms", elapsed, "error", err,
			"stderr", truncate(stderr.String(), 4<<10))
	default:
		log.Debug("ocr.exec.ok", "tool", name, "elapsed_ms", elapsed, "stdout_bytes", stdout.Len())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
