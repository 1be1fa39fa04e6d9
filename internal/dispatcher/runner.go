package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/conveyorhq/conveyor/internal/scan"
	"github.com/conveyorhq/conveyor/internal/sequencer"
)

// builtinPrefix marks step commands handled in-process instead of being
// spawned as child processes.
const builtinPrefix = "internal:"

const builtinSecretScan = "internal:secret-scan"

// BuiltinRunner intercepts internal: commands and delegates everything else
// to the base runner. Templates use it to call engine capabilities, such as
// the credential scanner, through the same step syntax as external tools.
type BuiltinRunner struct {
	Base    sequencer.Runner
	Scanner *scan.Scanner
	WorkDir string
}

// NewBuiltinRunner wires the in-process commands over an exec-backed base.
func NewBuiltinRunner(workDir string) (*BuiltinRunner, error) {
	scanner, err := scan.New()
	if err != nil {
		return nil, err
	}
	return &BuiltinRunner{
		Base:    &sequencer.ExecRunner{BaseDir: workDir},
		Scanner: scanner,
		WorkDir: workDir,
	}, nil
}

func (r *BuiltinRunner) Run(ctx context.Context, cmd sequencer.Command) (string, error) {
	switch cmd.Argv[0] {
	case builtinSecretScan:
		return r.secretScan(ctx, cmd)
	default:
		if len(cmd.Argv[0]) > len(builtinPrefix) && cmd.Argv[0][:len(builtinPrefix)] == builtinPrefix {
			return "", fmt.Errorf("unknown builtin command %s", cmd.Argv[0])
		}
		return r.Base.Run(ctx, cmd)
	}
}

func (r *BuiltinRunner) secretScan(ctx context.Context, cmd sequencer.Command) (string, error) {
	if r.Scanner == nil {
		return "", fmt.Errorf("%s: scanner not configured", builtinSecretScan)
	}

	target := "."
	if len(cmd.Argv) > 1 {
		target = cmd.Argv[1]
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(r.WorkDir, cmd.Dir, target)
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}
	return r.Scanner.Check(ctx, target)
}
