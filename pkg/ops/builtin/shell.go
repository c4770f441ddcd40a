package builtin

import (
	"context"

	"github.com/shipshape-io/shipshape/pkg/ops"
)

// ShellRun runs an arbitrary shell command.
//
// Arguments:
//
//	cmd     (string, required) the command line
//	creates (string, optional) a path whose existence marks the host
//	        converged, so the command is skipped
//	chdir   (string, optional) working directory for the command
//
// Without creates the operation never converges: it emits its command
// on every run.
type ShellRun struct{}

// Name implements ops.Operation.
func (ShellRun) Name() string { return "shell.run" }

// Commands implements ops.Operation.
func (ShellRun) Commands(ctx context.Context, target *ops.Target) ([]ops.Command, error) {
	cmd, err := requireString(target.Args, "shell.run", "cmd")
	if err != nil {
		return nil, err
	}

	if creates, ok := target.Args.String("creates"); ok && creates != "" {
		st, err := fileStat(ctx, target, creates)
		if err != nil {
			return nil, err
		}
		if st.Exists {
			return nil, nil
		}
	}

	if dir, ok := target.Args.String("chdir"); ok && dir != "" {
		cmd = "cd " + ops.Quote(dir) + " && " + cmd
	}
	return []ops.Command{{Cmd: cmd}}, nil
}
