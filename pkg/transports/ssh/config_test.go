package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("AuthMethod = %s, want key", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("StrictHostKeyChecking disabled by default")
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %s, want 10s", cfg.ConnectTimeout)
	}
	if cfg.KeepAliveInterval != 30*time.Second {
		t.Errorf("KeepAliveInterval = %s, want 30s", cfg.KeepAliveInterval)
	}
	if cfg.MaxKeepAliveRetries != 3 {
		t.Errorf("MaxKeepAliveRetries = %d, want 3", cfg.MaxKeepAliveRetries)
	}
	if !strings.HasSuffix(cfg.KnownHostsPath, filepath.Join(".ssh", "known_hosts")) {
		t.Errorf("KnownHostsPath = %s, want ~/.ssh/known_hosts", cfg.KnownHostsPath)
	}
}

func validKeyConfig(t *testing.T) Config {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(keyPath, []byte("not a real key"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Host = "node-1.example.com"
	cfg.User = "deploy"
	cfg.PrivateKeyPath = keyPath
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "host is required"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"missing user", func(c *Config) { c.User = "" }, "user is required"},
		{"password auth without password", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
		}, "password is required"},
		{"unknown auth method", func(c *Config) {
			c.AuthMethod = "kerberos"
		}, "unsupported auth method"},
		{"missing key file", func(c *Config) {
			c.PrivateKeyPath = "/nonexistent/id_rsa"
		}, "not found"},
		{"zero connect timeout", func(c *Config) {
			c.ConnectTimeout = 0
		}, "connect timeout"},
		{"proxy without user", func(c *Config) {
			c.ProxyHost = "bastion.example.com"
		}, "proxy user is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validKeyConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDiscoversDefaultKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(sshDir, "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("not a real key"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Host = "node-1"
	cfg.User = "deploy"
	cfg.PrivateKeyPath = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.PrivateKeyPath != keyPath {
		t.Errorf("PrivateKeyPath = %s, want discovered %s", cfg.PrivateKeyPath, keyPath)
	}
}

func TestValidateKeyAuthWithoutAnyKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Host = "node-1"
	cfg.User = "deploy"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "no default key found") {
		t.Fatalf("Validate() = %v, want missing-key error", err)
	}
}

func TestValidateAgentRequiresSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	cfg := DefaultConfig()
	cfg.Host = "node-1"
	cfg.User = "deploy"
	cfg.AuthMethod = AuthMethodAgent

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SSH_AUTH_SOCK") {
		t.Fatalf("Validate() = %v, want agent socket error", err)
	}
}

func TestAddressHelpers(t *testing.T) {
	cfg := Config{Host: "10.0.0.5", Port: 2222}
	if got := cfg.Address(); got != "10.0.0.5:2222" {
		t.Errorf("Address() = %s", got)
	}
	if cfg.IsProxyEnabled() {
		t.Error("IsProxyEnabled() = true without proxy host")
	}
	if got := cfg.ProxyAddress(); got != "" {
		t.Errorf("ProxyAddress() = %q, want empty", got)
	}

	cfg.ProxyHost = "bastion"
	cfg.ProxyPort = 22
	if !cfg.IsProxyEnabled() {
		t.Error("IsProxyEnabled() = false with proxy host")
	}
	if got := cfg.ProxyAddress(); got != "bastion:22" {
		t.Errorf("ProxyAddress() = %s", got)
	}
}
