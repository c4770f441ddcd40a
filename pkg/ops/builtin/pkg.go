package builtin

import (
	"context"
	"fmt"

	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// PkgInstalled ensures a system package is installed or removed.
//
// Arguments:
//
//	name    (string, required) the package name
//	present (bool, optional, default true) false removes the package
//	latest  (bool, optional, default false) upgrade when already
//	        installed
//
// The package manager is detected through the pkg.manager fact; the
// install state comes from deb.version or rpm.version depending on the
// manager family.
type PkgInstalled struct{}

// Name implements ops.Operation.
func (PkgInstalled) Name() string { return "pkg.installed" }

// Commands implements ops.Operation.
func (PkgInstalled) Commands(ctx context.Context, target *ops.Target) ([]ops.Command, error) {
	name, err := requireString(target.Args, "pkg.installed", "name")
	if err != nil {
		return nil, err
	}
	present := target.Args.BoolOr("present", true)
	latest := target.Args.BoolOr("latest", false)

	manager, err := stringFact(ctx, target, "pkg.manager", "")
	if err != nil {
		return nil, err
	}
	versionKind := "rpm.version"
	if manager == "apt" {
		versionKind = "deb.version"
	}

	v, err := target.Facts.Get(ctx, versionKind, name)
	if err != nil {
		return nil, err
	}
	ver, ok := v.(facts.PkgVersion)
	if !ok {
		return nil, fmt.Errorf("fact %s returned %T", versionKind, v)
	}

	quoted := ops.Quote(name)
	switch {
	case present && !ver.Installed:
		cmd, err := installCommand(manager, quoted)
		if err != nil {
			return nil, err
		}
		return []ops.Command{{Cmd: cmd}}, nil
	case present && latest:
		cmd, err := upgradeCommand(manager, quoted)
		if err != nil {
			return nil, err
		}
		return []ops.Command{{Cmd: cmd}}, nil
	case !present && ver.Installed:
		cmd, err := removeCommand(manager, quoted)
		if err != nil {
			return nil, err
		}
		return []ops.Command{{Cmd: cmd}}, nil
	}
	return nil, nil
}

func installCommand(manager, pkg string) (string, error) {
	switch manager {
	case "apt":
		return "DEBIAN_FRONTEND=noninteractive apt-get install -y " + pkg, nil
	case "dnf":
		return "dnf install -y " + pkg, nil
	case "yum":
		return "yum install -y " + pkg, nil
	case "zypper":
		return "zypper --non-interactive install " + pkg, nil
	}
	return "", fmt.Errorf("pkg.installed: no supported package manager detected")
}

func upgradeCommand(manager, pkg string) (string, error) {
	switch manager {
	case "apt":
		return "DEBIAN_FRONTEND=noninteractive apt-get install -y --only-upgrade " + pkg, nil
	case "dnf":
		return "dnf upgrade -y " + pkg, nil
	case "yum":
		return "yum update -y " + pkg, nil
	case "zypper":
		return "zypper --non-interactive update " + pkg, nil
	}
	return "", fmt.Errorf("pkg.installed: no supported package manager detected")
}

func removeCommand(manager, pkg string) (string, error) {
	switch manager {
	case "apt":
		return "DEBIAN_FRONTEND=noninteractive apt-get remove -y " + pkg, nil
	case "dnf":
		return "dnf remove -y " + pkg, nil
	case "yum":
		return "yum remove -y " + pkg, nil
	case "zypper":
		return "zypper --non-interactive remove " + pkg, nil
	}
	return "", fmt.Errorf("pkg.installed: no supported package manager detected")
}
