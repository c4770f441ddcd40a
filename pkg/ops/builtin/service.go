package builtin

import (
	"context"
	"fmt"

	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// ServiceRunning ensures a systemd unit's running and enabled state.
//
// Arguments:
//
//	name    (string, required) the unit name
//	running (bool, optional, default true) desired active state
//	enabled (bool, optional) desired boot state; omitted leaves the
//	        boot state alone
type ServiceRunning struct{}

// Name implements ops.Operation.
func (ServiceRunning) Name() string { return "service.running" }

// Commands implements ops.Operation.
func (ServiceRunning) Commands(ctx context.Context, target *ops.Target) ([]ops.Command, error) {
	name, err := requireString(target.Args, "service.running", "name")
	if err != nil {
		return nil, err
	}
	running := target.Args.BoolOr("running", true)
	enabled, enabledSet := target.Args.Bool("enabled")

	v, err := target.Facts.Get(ctx, "service.status", name)
	if err != nil {
		return nil, err
	}
	status, ok := v.(facts.ServiceStatus)
	if !ok {
		return nil, fmt.Errorf("fact service.status returned %T", v)
	}

	quoted := ops.Quote(name)
	var cmds []ops.Command
	if enabledSet && enabled != status.Enabled {
		verb := "enable"
		if !enabled {
			verb = "disable"
		}
		cmds = append(cmds, ops.Command{Cmd: "systemctl " + verb + " " + quoted})
	}
	if running != status.Active {
		verb := "start"
		if !running {
			verb = "stop"
		}
		cmds = append(cmds, ops.Command{Cmd: "systemctl " + verb + " " + quoted})
	}
	return cmds, nil
}
