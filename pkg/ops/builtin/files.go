package builtin

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shipshape-io/shipshape/pkg/ops"
)

// FilesPut uploads a local file to the host.
//
// Arguments:
//
//	src   (string, required) local source path
//	dest  (string, required) remote destination path
//	mode  (string, optional) octal mode to enforce, e.g. "0644"
//	user  (string, optional) owner to enforce
//	group (string, optional) group to enforce
//
// The upload happens only when the remote SHA-256 differs from the
// local file's; mode and ownership are enforced independently of the
// content.
type FilesPut struct{}

// Name implements ops.Operation.
func (FilesPut) Name() string { return "files.put" }

// Commands implements ops.Operation.
func (FilesPut) Commands(ctx context.Context, target *ops.Target) ([]ops.Command, error) {
	src, err := requireString(target.Args, "files.put", "src")
	if err != nil {
		return nil, err
	}
	dest, err := requireString(target.Args, "files.put", "dest")
	if err != nil {
		return nil, err
	}

	localSum, err := localSHA256(src)
	if err != nil {
		return nil, fmt.Errorf("files.put: %w", err)
	}
	remoteSum, err := stringFact(ctx, target, "file.sha256", dest)
	if err != nil {
		return nil, err
	}

	var cmds []ops.Command
	if remoteSum != localSum {
		cmds = append(cmds, ops.Command{
			Upload: &ops.Upload{LocalPath: src, RemotePath: dest},
		})
	}

	mode, _ := target.Args.String("mode")
	user, _ := target.Args.String("user")
	group, _ := target.Args.String("group")
	if mode == "" && user == "" && group == "" {
		return cmds, nil
	}

	st, err := fileStat(ctx, target, dest)
	if err != nil {
		return nil, err
	}
	// A fresh upload starts with default mode and ownership, so every
	// requested attribute needs enforcing.
	fresh := len(cmds) > 0
	if mode != "" && (fresh || !sameMode(mode, st.Mode)) {
		cmds = append(cmds, ops.Command{Cmd: "chmod " + mode + " " + ops.Quote(dest)})
	}
	if owner := chownSpec(user, group, st.User, st.Group, fresh); owner != "" {
		cmds = append(cmds, ops.Command{Cmd: "chown " + owner + " " + ops.Quote(dest)})
	}
	return cmds, nil
}

// FilesLine ensures a file contains an exact line.
//
// Arguments:
//
//	path  (string, required) the file to edit
//	line  (string, required) the exact line wanted
//	match (string, optional) regex identifying an existing line to
//	      replace instead of appending
type FilesLine struct{}

// Name implements ops.Operation.
func (FilesLine) Name() string { return "files.line" }

// Commands implements ops.Operation.
func (FilesLine) Commands(ctx context.Context, target *ops.Target) ([]ops.Command, error) {
	path, err := requireString(target.Args, "files.line", "path")
	if err != nil {
		return nil, err
	}
	line, err := requireString(target.Args, "files.line", "line")
	if err != nil {
		return nil, err
	}

	present, err := probeYesNo(ctx, target,
		fmt.Sprintf("grep -qxF %s %s 2>/dev/null", ops.Quote(line), ops.Quote(path)))
	if err != nil {
		return nil, err
	}
	if present {
		return nil, nil
	}

	if match, ok := target.Args.String("match"); ok && match != "" {
		matched, err := probeYesNo(ctx, target,
			fmt.Sprintf("grep -qE %s %s 2>/dev/null", ops.Quote(match), ops.Quote(path)))
		if err != nil {
			return nil, err
		}
		if matched {
			return []ops.Command{{
				Cmd: fmt.Sprintf("sed -i -E %s %s",
					ops.Quote("/"+match+"/c\\"+line), ops.Quote(path)),
			}}, nil
		}
	}
	return []ops.Command{{
		Cmd: fmt.Sprintf("echo %s >> %s", ops.Quote(line), ops.Quote(path)),
	}}, nil
}

// FilesDirectory ensures a directory exists or is absent.
//
// Arguments:
//
//	path    (string, required)
//	present (bool, optional, default true) false removes the directory
//	mode    (string, optional) octal mode to enforce
type FilesDirectory struct{}

// Name implements ops.Operation.
func (FilesDirectory) Name() string { return "files.directory" }

// Commands implements ops.Operation.
func (FilesDirectory) Commands(ctx context.Context, target *ops.Target) ([]ops.Command, error) {
	path, err := requireString(target.Args, "files.directory", "path")
	if err != nil {
		return nil, err
	}
	present := target.Args.BoolOr("present", true)
	mode, _ := target.Args.String("mode")

	st, err := fileStat(ctx, target, path)
	if err != nil {
		return nil, err
	}

	if !present {
		if !st.Exists {
			return nil, nil
		}
		return []ops.Command{{Cmd: "rm -rf " + ops.Quote(path)}}, nil
	}

	if st.Exists && !st.IsDir {
		return nil, fmt.Errorf("files.directory: %s exists and is not a directory", path)
	}

	var cmds []ops.Command
	if !st.Exists {
		cmds = append(cmds, ops.Command{Cmd: "mkdir -p " + ops.Quote(path)})
	}
	if mode != "" && (!st.Exists || !sameMode(mode, st.Mode)) {
		cmds = append(cmds, ops.Command{Cmd: "chmod " + mode + " " + ops.Quote(path)})
	}
	return cmds, nil
}

// probeYesNo runs a remote test through the command.output fact. The
// probe is wrapped so it always exits zero and prints yes or no,
// keeping a negative result from registering as a fact error.
func probeYesNo(ctx context.Context, target *ops.Target, test string) (bool, error) {
	out, err := stringFact(ctx, target, "command.output",
		test+" && echo yes || echo no")
	if err != nil {
		return false, err
	}
	return out == "yes", nil
}

// localSHA256 hashes a local file for content comparison.
func localSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// sameMode compares octal mode strings ignoring leading zeros, so
// "0644" matches the "644" stat reports.
func sameMode(want, got string) bool {
	trim := func(s string) string {
		t := strings.TrimLeft(s, "0")
		if t == "" {
			return "0"
		}
		return t
	}
	return trim(want) == trim(got)
}

// chownSpec renders the chown owner argument for the requested user and
// group, empty when nothing needs changing.
func chownSpec(user, group, curUser, curGroup string, force bool) string {
	changeUser := user != "" && (force || user != curUser)
	changeGroup := group != "" && (force || group != curGroup)
	switch {
	case changeUser && changeGroup:
		return user + ":" + group
	case changeUser:
		return user
	case changeGroup:
		return ":" + group
	}
	return ""
}
