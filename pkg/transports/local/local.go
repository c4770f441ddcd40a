// Package local runs deploy commands on the controlling machine
// itself. It backs the implicit @local inventory host and gives engine
// tests a real connector without any network.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// DefaultShell interprets command lines when none is configured.
const DefaultShell = "/bin/sh"

// Options configures a Connector.
type Options struct {
	// Facts is the registry probe commands are rendered from. Nil means
	// the builtin catalog.
	Facts *facts.Registry

	// Shell interprets command lines. Empty means DefaultShell.
	Shell string

	// SudoPassword is fed to sudo -S for escalated commands. Empty
	// assumes NOPASSWD sudo.
	SudoPassword string

	// Logger receives transport progress logs.
	Logger zerolog.Logger
}

// Connector opens local sessions. Connect never dials anything; every
// host handed to it executes on this machine.
type Connector struct {
	facts        *facts.Registry
	shell        string
	sudoPassword string
	log          zerolog.Logger
}

// New creates a local connector.
func New(opts Options) *Connector {
	reg := opts.Facts
	if reg == nil {
		reg = facts.Catalog()
	}
	shell := opts.Shell
	if shell == "" {
		shell = DefaultShell
	}
	return &Connector{
		facts:        reg,
		shell:        shell,
		sudoPassword: opts.SudoPassword,
		log:          opts.Logger,
	}
}

// Connect returns a session bound to the host name for logging; the
// commands all run locally.
func (c *Connector) Connect(ctx context.Context, host *inventory.Host) (engine.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{
		host:         host,
		facts:        c.facts,
		shell:        c.shell,
		sudoPassword: c.sudoPassword,
		log:          c.log,
	}, nil
}

type session struct {
	host         *inventory.Host
	facts        *facts.Registry
	shell        string
	sudoPassword string
	log          zerolog.Logger
}

// Run executes one command through the shell. Non-zero exits come back
// in the result; the error is reserved for execution failures and
// cancellation.
func (s *session) Run(ctx context.Context, cmd ops.Command) (*engine.CommandResult, error) {
	proc := s.buildCmd(ctx, cmd)

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	s.log.Debug().
		Str("host", s.host.Name).
		Str("command", cmd.String()).
		Msg("executing local command")

	start := time.Now()
	err := proc.Run()
	result := &engine.CommandResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("command cancelled: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute command: %w", err)
	}
	return result, nil
}

// buildCmd assembles the exec.Cmd, going through sudo when the command
// asks for escalation.
func (s *session) buildCmd(ctx context.Context, cmd ops.Command) *exec.Cmd {
	if !cmd.Sudo {
		return exec.CommandContext(ctx, s.shell, "-c", cmd.Cmd)
	}

	args := make([]string, 0, 6)
	if s.sudoPassword != "" {
		args = append(args, "-S")
	}
	if cmd.SudoUser != "" {
		args = append(args, "-u", cmd.SudoUser)
	}
	args = append(args, s.shell, "-c", cmd.Cmd)

	proc := exec.CommandContext(ctx, "sudo", args...)
	if s.sudoPassword != "" {
		proc.Stdin = bytes.NewBufferString(s.sudoPassword + "\n")
	}
	return proc
}

// Upload copies a file into place, creating parent directories and
// carrying the source mode across.
func (s *session) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	if dir := filepath.Dir(remotePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dst, err := os.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return os.Chmod(remotePath, info.Mode().Perm())
}

// QueryFact renders the probe for one fact kind, runs it locally, and
// decodes the output.
func (s *session) QueryFact(ctx context.Context, kind, args string) (any, error) {
	def, err := s.facts.Get(kind)
	if err != nil {
		return nil, err
	}
	probe, err := def.Command(args)
	if err != nil {
		return nil, fmt.Errorf("fact %s: %w", kind, err)
	}

	res, err := s.Run(ctx, ops.Command{Cmd: probe})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		if def.Default != nil {
			return def.Default(), nil
		}
		return nil, fmt.Errorf("fact %s probe exited %d: %s", kind, res.ExitCode, res.Stderr)
	}
	return def.Parse([]byte(res.Stdout))
}

// Close is a no-op; there is no connection to release.
func (s *session) Close() error {
	return nil
}
