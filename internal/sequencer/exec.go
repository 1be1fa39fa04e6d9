package sequencer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/conveyorhq/conveyor/internal/utils"
)

// outputLimit caps how much combined tool output is retained per step.
// External tools own their own diagnostics; we keep the tail, which is
// where terraform, psql, and friends print their errors.
const outputLimit = 64 * 1024

// ExecRunner runs commands as local child processes.
type ExecRunner struct {
	// BaseDir is prepended to relative step working directories.
	BaseDir string
}

// Run executes the command, honoring the step timeout and context
// cancellation, and returns the combined stdout/stderr.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)

	dir := cmd.Dir
	if dir != "" && r.BaseDir != "" && !os.IsPathSeparator(dir[0]) {
		dir = r.BaseDir + string(os.PathSeparator) + dir
	} else if dir == "" {
		dir = r.BaseDir
	}
	proc.Dir = dir

	proc.Env = append(os.Environ(), utils.MergeEnv(cmd.Env)...)

	var buf bytes.Buffer
	proc.Stdout = &buf
	proc.Stderr = &buf

	err := proc.Run()
	output := tail(buf.Bytes())

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("%s timed out after %s", cmd.Argv[0], cmd.Timeout)
	}
	if err != nil {
		return output, fmt.Errorf("%s exited with error: %w", cmd.Argv[0], err)
	}
	return output, nil
}

func tail(b []byte) string {
	if len(b) <= outputLimit {
		return string(b)
	}
	return string(b[len(b)-outputLimit:])
}
