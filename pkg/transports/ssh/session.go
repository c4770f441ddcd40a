package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// session is one host's connection for the duration of a run. The
// engine serializes calls, so no internal locking is needed beyond the
// close guard shared with the keepalive goroutine.
type session struct {
	host   *inventory.Host
	cfg    Config
	client *ssh.Client
	facts  *facts.Registry
	log    zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSession(host *inventory.Host, cfg Config, client *ssh.Client, reg *facts.Registry, log zerolog.Logger) *session {
	s := &session{
		host:   host,
		cfg:    cfg,
		client: client,
		facts:  reg,
		log:    log,
		done:   make(chan struct{}),
	}
	if cfg.KeepAliveInterval > 0 {
		go s.keepAlive()
	}
	return s
}

// Run executes one command on the host. Non-zero exits come back in
// the result; the error is reserved for transport failures.
func (s *session) Run(ctx context.Context, cmd ops.Command) (*engine.CommandResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	rendered := renderCommand(cmd, s.cfg.SudoPassword)
	s.log.Debug().
		Str("host", s.host.Name).
		Str("command", cmd.String()).
		Msg("executing command")

	start := time.Now()
	if err := sess.Start(rendered); err != nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to start command: %w", err), IsTemporary: true}
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		// Ask nicely first, then insist.
		_ = sess.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = sess.Signal(ssh.SIGKILL)
		<-waitCh
		return nil, &TransportError{Op: "exec", Err: ctx.Err(), IsTemporary: true}
	case err = <-waitCh:
	}

	result := &engine.CommandResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, &TransportError{Op: "exec", Err: err, IsTemporary: true}
	}
	return result, nil
}

// Upload copies a local file to the host over SFTP, creating parent
// directories and carrying the local file mode across.
func (s *session) Upload(ctx context.Context, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to stat local file: %w", err)}
	}

	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}
	defer sftpClient.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote directory %s: %w", dir, err)}
		}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err)}
	}
	defer remote.Close()

	s.log.Debug().
		Str("host", s.host.Name).
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", info.Size()).
		Msg("uploading file")

	if err := copyWithContext(ctx, remote, local); err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := sftpClient.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to set remote mode: %w", err)}
	}
	return nil
}

// QueryFact renders the probe for one fact kind, runs it, and decodes
// the output. A non-zero probe exit yields the kind's default when it
// has one.
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

// Close shuts the connection down. Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.client.Close()
		s.log.Debug().Str("host", s.host.Name).Msg("SSH connection closed")
	})
	return s.closeErr
}

// keepAlive sends server keepalive requests until the session closes
// or too many go unanswered.
func (s *session) keepAlive() {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				failures++
				s.log.Warn().
					Str("host", s.host.Name).
					Int("failures", failures).
					Err(err).
					Msg("keepalive failed")
				if failures > s.cfg.MaxKeepAliveRetries {
					s.log.Error().Str("host", s.host.Name).Msg("keepalive retries exhausted, closing connection")
					_ = s.Close()
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

// renderCommand wraps the command line for escalation. With a sudo
// password the password is piped to sudo -S; without one sudo must be
// passwordless for the login user.
func renderCommand(cmd ops.Command, sudoPassword string) string {
	if !cmd.Sudo {
		return cmd.Cmd
	}
	sudo := "sudo"
	if sudoPassword != "" {
		sudo += " -S"
	}
	if cmd.SudoUser != "" {
		sudo += " -u " + cmd.SudoUser
	}
	if sudoPassword != "" {
		return fmt.Sprintf("echo '%s' | %s %s", sudoPassword, sudo, cmd.Cmd)
	}
	return sudo + " " + cmd.Cmd
}

// copyWithContext streams src to dst, checking for cancellation
// between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
