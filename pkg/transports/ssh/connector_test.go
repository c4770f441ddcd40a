package ssh

import (
	"context"
	"errors"
	"testing"

	"github.com/shipshape-io/shipshape/pkg/inventory"
)

func TestNewDefaults(t *testing.T) {
	c := New(Options{})

	if c.base != DefaultConfig() {
		t.Errorf("base config = %+v, want defaults", c.base)
	}
	if c.facts == nil {
		t.Error("fact registry not defaulted to the catalog")
	}
}

func TestHostConfigMerge(t *testing.T) {
	base := DefaultConfig()
	base.User = "root"
	base.Port = 22
	c := New(Options{Config: base})

	host := &inventory.Host{
		Name:    "web-1",
		Address: "10.1.2.3",
		Port:    2222,
		User:    "deploy",
		KeyPath: "/etc/keys/web-1",
	}

	cfg := c.hostConfig(host)
	if cfg.Host != "10.1.2.3" {
		t.Errorf("Host = %s, want inventory address", cfg.Host)
	}
	if cfg.Port != 2222 {
		t.Errorf("Port = %d, want inventory port", cfg.Port)
	}
	if cfg.User != "deploy" {
		t.Errorf("User = %s, want inventory user", cfg.User)
	}
	if cfg.PrivateKeyPath != "/etc/keys/web-1" {
		t.Errorf("PrivateKeyPath = %s, want inventory key", cfg.PrivateKeyPath)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("AuthMethod = %s, want key when inventory names one", cfg.AuthMethod)
	}
}

func TestHostConfigFallsBackToTemplate(t *testing.T) {
	base := DefaultConfig()
	base.User = "admin"
	c := New(Options{Config: base})

	cfg := c.hostConfig(&inventory.Host{Name: "db-1"})
	if cfg.Host != "db-1" {
		t.Errorf("Host = %s, want host name fallback", cfg.Host)
	}
	if cfg.Port != 22 {
		t.Errorf("Port = %d, want template port", cfg.Port)
	}
	if cfg.User != "admin" {
		t.Errorf("User = %s, want template user", cfg.User)
	}
}

func TestConnectRejectsInvalidConfig(t *testing.T) {
	// No user anywhere: validation must fail before any dialing.
	c := New(Options{})

	_, err := c.Connect(context.Background(), &inventory.Host{Name: "web-1"})
	if err == nil {
		t.Fatal("Connect() succeeded with invalid config")
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Connect() error = %T, want *TransportError", err)
	}
	if !terr.IsAuthError {
		t.Errorf("IsAuthError = false, want config errors flagged as auth")
	}
	if terr.Op != "connect" {
		t.Errorf("Op = %s, want connect", terr.Op)
	}
}
