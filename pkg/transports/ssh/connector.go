package ssh

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/inventory"
)

// Options configures a Connector.
type Options struct {
	// Config is the fleet-wide connection template. The zero value is
	// replaced with DefaultConfig.
	Config Config

	// Facts is the registry probe commands are rendered from. Nil means
	// the builtin catalog.
	Facts *facts.Registry

	// Logger receives transport progress logs. The zero value logs
	// nothing.
	Logger zerolog.Logger
}

// Connector opens SSH sessions for the deploy engine. One connector
// serves a whole run; it holds no per-host state and is safe for
// concurrent Connect calls from the engine's worker pool.
type Connector struct {
	base  Config
	facts *facts.Registry
	log   zerolog.Logger
}

// New creates an SSH connector.
func New(opts Options) *Connector {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	reg := opts.Facts
	if reg == nil {
		reg = facts.Catalog()
	}
	return &Connector{
		base:  cfg,
		facts: reg,
		log:   opts.Logger,
	}
}

// hostConfig merges one inventory host into the connection template.
func (c *Connector) hostConfig(host *inventory.Host) Config {
	cfg := c.base
	cfg.Host = host.ConnectAddress()
	if host.Port > 0 {
		cfg.Port = host.Port
	}
	if host.User != "" {
		cfg.User = host.User
	}
	if host.KeyPath != "" {
		cfg.PrivateKeyPath = host.KeyPath
		cfg.AuthMethod = AuthMethodKey
	}
	return cfg
}

type dialResult struct {
	client *ssh.Client
	err    error
}

// Connect dials the host and returns its exclusive session. The dial
// itself is not interruptible, so it runs on its own goroutine; when
// the context ends first the eventual connection is closed instead of
// leaked.
func (c *Connector) Connect(ctx context.Context, host *inventory.Host) (engine.Session, error) {
	cfg := c.hostConfig(host)
	if err := cfg.Validate(); err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	c.log.Debug().
		Str("host", host.Name).
		Str("address", cfg.Address()).
		Str("auth", string(cfg.AuthMethod)).
		Msg("establishing SSH connection")

	ch := make(chan dialResult, 1)
	go func() {
		client, err := dial(cfg)
		ch <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		s := newSession(host, cfg, r.client, c.facts, c.log)
		c.log.Info().
			Str("host", host.Name).
			Str("address", cfg.Address()).
			Msg("SSH connection established")
		return s, nil
	}
}

// dial opens the SSH connection, directly or through the configured
// jump host.
func dial(cfg Config) (*ssh.Client, error) {
	clientConfig, agentConn, err := cfg.buildClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}
	if agentConn != nil {
		// The agent is only needed during the handshake.
		defer agentConn.Close()
	}

	if cfg.IsProxyEnabled() {
		return dialViaProxy(cfg, clientConfig)
	}

	client, err := ssh.Dial("tcp", cfg.Address(), clientConfig)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}
	return client, nil
}

// dialViaProxy connects to the target through the jump host.
func dialViaProxy(cfg Config, targetConfig *ssh.ClientConfig) (*ssh.Client, error) {
	proxyCfg := Config{
		Host:                  cfg.ProxyHost,
		Port:                  cfg.ProxyPort,
		User:                  cfg.ProxyUser,
		AuthMethod:            cfg.ProxyAuthMethod,
		Password:              cfg.ProxyPassword,
		PrivateKeyPath:        cfg.ProxyPrivateKeyPath,
		KnownHostsPath:        cfg.KnownHostsPath,
		StrictHostKeyChecking: cfg.StrictHostKeyChecking,
		ConnectTimeout:        cfg.ConnectTimeout,
	}
	proxyClientConfig, agentConn, err := proxyCfg.buildClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect-proxy", Err: fmt.Errorf("failed to build proxy config: %w", err), IsAuthError: true}
	}
	if agentConn != nil {
		defer agentConn.Close()
	}

	proxyClient, err := ssh.Dial("tcp", proxyCfg.Address(), proxyClientConfig)
	if err != nil {
		return nil, &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
	}

	targetAddress := cfg.Address()
	proxyConn, err := proxyClient.Dial("tcp", targetAddress)
	if err != nil {
		_ = proxyClient.Close()
		return nil, &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(proxyConn, targetAddress, targetConfig)
	if err != nil {
		_ = proxyConn.Close()
		_ = proxyClient.Close()
		return nil, &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true, IsAuthError: true}
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}
