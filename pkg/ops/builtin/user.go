package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// UserPresent ensures a system user exists with the requested shell,
// home, and supplementary groups, or is absent.
//
// Arguments:
//
//	name    (string, required)
//	present (bool, optional, default true) false removes the user
//	shell   (string, optional) login shell to enforce
//	home    (string, optional) home directory to enforce
//	groups  ([]string, optional) supplementary groups the user must be
//	        a member of; missing ones are added, extra ones are kept
type UserPresent struct{}

// Name implements ops.Operation.
func (UserPresent) Name() string { return "user.present" }

// Commands implements ops.Operation.
func (UserPresent) Commands(ctx context.Context, target *ops.Target) ([]ops.Command, error) {
	name, err := requireString(target.Args, "user.present", "name")
	if err != nil {
		return nil, err
	}
	present := target.Args.BoolOr("present", true)
	shell, _ := target.Args.String("shell")
	home, _ := target.Args.String("home")
	groups, _ := target.Args.StringSlice("groups")

	v, err := target.Facts.Get(ctx, "user.entry", name)
	if err != nil {
		return nil, err
	}
	entry, ok := v.(facts.UserEntry)
	if !ok {
		return nil, fmt.Errorf("fact user.entry returned %T", v)
	}

	quoted := ops.Quote(name)
	if !present {
		if !entry.Exists {
			return nil, nil
		}
		return []ops.Command{{Cmd: "userdel " + quoted}}, nil
	}

	if !entry.Exists {
		cmd := "useradd -m"
		if shell != "" {
			cmd += " -s " + ops.Quote(shell)
		}
		if home != "" {
			cmd += " -d " + ops.Quote(home)
		}
		if len(groups) > 0 {
			cmd += " -G " + ops.Quote(strings.Join(groups, ","))
		}
		return []ops.Command{{Cmd: cmd + " " + quoted}}, nil
	}

	var cmds []ops.Command
	if shell != "" && shell != entry.Shell {
		cmds = append(cmds, ops.Command{Cmd: "usermod -s " + ops.Quote(shell) + " " + quoted})
	}
	if home != "" && home != entry.Home {
		cmds = append(cmds, ops.Command{Cmd: "usermod -d " + ops.Quote(home) + " -m " + quoted})
	}
	if len(groups) > 0 {
		missing, err := missingGroups(ctx, target, name, groups)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			cmds = append(cmds, ops.Command{
				Cmd: "usermod -aG " + ops.Quote(strings.Join(missing, ",")) + " " + quoted,
			})
		}
	}
	return cmds, nil
}

// missingGroups returns the requested groups the user is not yet in.
func missingGroups(ctx context.Context, target *ops.Target, name string, want []string) ([]string, error) {
	v, err := target.Facts.Get(ctx, "user.groups", name)
	if err != nil {
		return nil, err
	}
	current, ok := v.([]string)
	if !ok && v != nil {
		return nil, fmt.Errorf("fact user.groups returned %T", v)
	}
	member := make(map[string]bool, len(current))
	for _, g := range current {
		member[g] = true
	}
	var missing []string
	for _, g := range want {
		if !member[g] {
			missing = append(missing, g)
		}
	}
	return missing, nil
}
