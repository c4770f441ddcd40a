// Package builtin is the standard operation catalog: shell execution,
// file management, packages, services, and users.
//
// Every descriptor is a pure diff: Commands compares the desired
// arguments against observed facts and returns only the commands that
// close the gap, or nothing when the host is already converged. No
// descriptor executes anything itself.
package builtin

import (
	"context"
	"fmt"

	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// Register adds the full builtin catalog to a registry.
func Register(reg *ops.Registry) {
	reg.MustRegister(ShellRun{})
	reg.MustRegister(FilesPut{})
	reg.MustRegister(FilesLine{})
	reg.MustRegister(FilesDirectory{})
	reg.MustRegister(PkgInstalled{})
	reg.MustRegister(ServiceRunning{})
	reg.MustRegister(UserPresent{})
}

// Registry returns a fresh registry holding the builtin catalog.
func Registry() *ops.Registry {
	reg := ops.NewRegistry()
	Register(reg)
	return reg
}

// fileStat fetches the file.stat fact for a path.
func fileStat(ctx context.Context, target *ops.Target, path string) (facts.FileStat, error) {
	v, err := target.Facts.Get(ctx, "file.stat", path)
	if err != nil {
		return facts.FileStat{}, err
	}
	st, ok := v.(facts.FileStat)
	if !ok {
		return facts.FileStat{}, fmt.Errorf("fact file.stat returned %T", v)
	}
	return st, nil
}

// stringFact fetches a string-valued fact.
func stringFact(ctx context.Context, target *ops.Target, kind, args string) (string, error) {
	v, err := target.Facts.Get(ctx, kind, args)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("fact %s returned %T", kind, v)
	}
	return s, nil
}

// requireString returns a required string argument or a diff error.
func requireString(args ops.Args, op, key string) (string, error) {
	s, ok := args.String(key)
	if !ok || s == "" {
		return "", fmt.Errorf("%s requires a %q argument", op, key)
	}
	return s, nil
}
