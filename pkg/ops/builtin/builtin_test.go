package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shipshape-io/shipshape/pkg/facts"
	"github.com/shipshape-io/shipshape/pkg/inventory"
	"github.com/shipshape-io/shipshape/pkg/ops"
)

// stubFacts serves canned fact values keyed by "kind|args". A stored
// error is returned as a fact error.
type stubFacts map[string]any

func (s stubFacts) Get(_ context.Context, kind, args string) (any, error) {
	v, ok := s[kind+"|"+args]
	if !ok {
		return nil, fmt.Errorf("no stub fact for %s %q", kind, args)
	}
	if err, isErr := v.(error); isErr {
		return nil, err
	}
	return v, nil
}

func newTarget(args ops.Args, f stubFacts) *ops.Target {
	return &ops.Target{
		Host:  &inventory.Host{Name: "test-1"},
		Facts: f,
		Args:  args,
	}
}

func commandLines(t *testing.T, op ops.Operation, target *ops.Target) []string {
	t.Helper()
	cmds, err := op.Commands(context.Background(), target)
	if err != nil {
		t.Fatalf("%s diff failed: %v", op.Name(), err)
	}
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		lines = append(lines, c.String())
	}
	return lines
}

func TestRegistryHoldsCatalog(t *testing.T) {
	reg := Registry()
	want := []string{
		"files.directory", "files.line", "files.put",
		"pkg.installed", "service.running", "shell.run", "user.present",
	}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("catalog = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("catalog[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestShellRunAlwaysEmits(t *testing.T) {
	target := newTarget(ops.Args{"cmd": "systemctl daemon-reload"}, nil)
	lines := commandLines(t, ShellRun{}, target)
	if len(lines) != 1 || lines[0] != "systemctl daemon-reload" {
		t.Errorf("commands = %v", lines)
	}

	target = newTarget(ops.Args{"cmd": "make install", "chdir": "/opt/app"}, nil)
	lines = commandLines(t, ShellRun{}, target)
	if len(lines) != 1 || lines[0] != "cd /opt/app && make install" {
		t.Errorf("commands = %v", lines)
	}
}

func TestShellRunCreatesConverges(t *testing.T) {
	f := stubFacts{"file.stat|/var/done": facts.FileStat{Exists: true}}
	target := newTarget(ops.Args{"cmd": "run-once", "creates": "/var/done"}, f)
	if lines := commandLines(t, ShellRun{}, target); len(lines) != 0 {
		t.Errorf("converged shell.run emitted %v", lines)
	}

	f = stubFacts{"file.stat|/var/done": facts.FileStat{}}
	target = newTarget(ops.Args{"cmd": "run-once", "creates": "/var/done"}, f)
	if lines := commandLines(t, ShellRun{}, target); len(lines) != 1 {
		t.Errorf("unconverged shell.run emitted %v", lines)
	}
}

func TestShellRunRequiresCmd(t *testing.T) {
	if _, err := (ShellRun{}).Commands(context.Background(), newTarget(ops.Args{}, nil)); err == nil {
		t.Fatal("expected error for missing cmd argument")
	}
}

func putFixture(t *testing.T) (string, string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "app.conf")
	if err := os.WriteFile(src, []byte("listen 8080\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	sum, err := localSHA256(src)
	if err != nil {
		t.Fatalf("hash fixture: %v", err)
	}
	return src, sum
}

func TestFilesPutUploadsOnDrift(t *testing.T) {
	src, _ := putFixture(t)
	f := stubFacts{"file.sha256|/etc/app.conf": "other"}
	target := newTarget(ops.Args{"src": src, "dest": "/etc/app.conf"}, f)

	cmds, err := (FilesPut{}).Commands(context.Background(), target)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Upload == nil {
		t.Fatalf("commands = %+v, want one upload", cmds)
	}
	if cmds[0].Upload.LocalPath != src || cmds[0].Upload.RemotePath != "/etc/app.conf" {
		t.Errorf("upload = %+v", cmds[0].Upload)
	}
}

func TestFilesPutConverged(t *testing.T) {
	src, sum := putFixture(t)
	f := stubFacts{"file.sha256|/etc/app.conf": sum}
	target := newTarget(ops.Args{"src": src, "dest": "/etc/app.conf"}, f)
	if lines := commandLines(t, FilesPut{}, target); len(lines) != 0 {
		t.Errorf("converged files.put emitted %v", lines)
	}
}

func TestFilesPutEnforcesModeAndOwner(t *testing.T) {
	src, sum := putFixture(t)
	f := stubFacts{
		"file.sha256|/etc/app.conf": sum,
		"file.stat|/etc/app.conf": facts.FileStat{
			Exists: true, Mode: "600", User: "root", Group: "root",
		},
	}
	target := newTarget(ops.Args{
		"src": src, "dest": "/etc/app.conf",
		"mode": "0644", "user": "app", "group": "app",
	}, f)

	lines := commandLines(t, FilesPut{}, target)
	want := []string{"chmod 0644 /etc/app.conf", "chown app:app /etc/app.conf"}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Errorf("commands = %v, want %v", lines, want)
	}

	// Matching mode and owner: nothing to do.
	f["file.stat|/etc/app.conf"] = facts.FileStat{
		Exists: true, Mode: "644", User: "app", Group: "app",
	}
	if lines := commandLines(t, FilesPut{}, target); len(lines) != 0 {
		t.Errorf("converged files.put emitted %v", lines)
	}
}

func TestFilesLine(t *testing.T) {
	probe := "command.output|grep -qxF 'PermitRootLogin no' /etc/ssh/sshd_config 2>/dev/null && echo yes || echo no"
	args := ops.Args{"path": "/etc/ssh/sshd_config", "line": "PermitRootLogin no"}

	f := stubFacts{probe: "yes"}
	if lines := commandLines(t, FilesLine{}, newTarget(args, f)); len(lines) != 0 {
		t.Errorf("converged files.line emitted %v", lines)
	}

	f = stubFacts{probe: "no"}
	lines := commandLines(t, FilesLine{}, newTarget(args, f))
	if len(lines) != 1 || !strings.Contains(lines[0], ">> /etc/ssh/sshd_config") {
		t.Errorf("append command = %v", lines)
	}
}

func TestFilesLineReplacesMatch(t *testing.T) {
	args := ops.Args{
		"path":  "/etc/ssh/sshd_config",
		"line":  "PermitRootLogin no",
		"match": "^PermitRootLogin",
	}
	f := stubFacts{
		"command.output|grep -qxF 'PermitRootLogin no' /etc/ssh/sshd_config 2>/dev/null && echo yes || echo no": "no",
		"command.output|grep -qE '^PermitRootLogin' /etc/ssh/sshd_config 2>/dev/null && echo yes || echo no":    "yes",
	}
	lines := commandLines(t, FilesLine{}, newTarget(args, f))
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "sed -i -E ") {
		t.Errorf("replace command = %v", lines)
	}
}

func TestFilesDirectory(t *testing.T) {
	f := stubFacts{"file.stat|/srv/app": facts.FileStat{}}
	args := ops.Args{"path": "/srv/app", "mode": "0750"}
	lines := commandLines(t, FilesDirectory{}, newTarget(args, f))
	want := []string{"mkdir -p /srv/app", "chmod 0750 /srv/app"}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Errorf("commands = %v, want %v", lines, want)
	}

	f = stubFacts{"file.stat|/srv/app": facts.FileStat{Exists: true, IsDir: true, Mode: "755"}}
	lines = commandLines(t, FilesDirectory{}, newTarget(args, f))
	if len(lines) != 1 || lines[0] != "chmod 0750 /srv/app" {
		t.Errorf("mode drift commands = %v", lines)
	}

	f = stubFacts{"file.stat|/srv/app": facts.FileStat{Exists: true, IsDir: true, Mode: "750"}}
	if lines := commandLines(t, FilesDirectory{}, newTarget(args, f)); len(lines) != 0 {
		t.Errorf("converged directory emitted %v", lines)
	}
}

func TestFilesDirectoryAbsent(t *testing.T) {
	f := stubFacts{"file.stat|/srv/old": facts.FileStat{Exists: true, IsDir: true, Mode: "755"}}
	args := ops.Args{"path": "/srv/old", "present": false}
	lines := commandLines(t, FilesDirectory{}, newTarget(args, f))
	if len(lines) != 1 || lines[0] != "rm -rf /srv/old" {
		t.Errorf("commands = %v", lines)
	}

	f = stubFacts{"file.stat|/srv/old": facts.FileStat{}}
	if lines := commandLines(t, FilesDirectory{}, newTarget(args, f)); len(lines) != 0 {
		t.Errorf("absent directory emitted %v", lines)
	}
}

func TestFilesDirectoryRejectsFile(t *testing.T) {
	f := stubFacts{"file.stat|/srv/app": facts.FileStat{Exists: true}}
	_, err := (FilesDirectory{}).Commands(context.Background(),
		newTarget(ops.Args{"path": "/srv/app"}, f))
	if err == nil {
		t.Fatal("expected error for non-directory path")
	}
}

func TestPkgInstalled(t *testing.T) {
	f := stubFacts{
		"pkg.manager|":      "apt",
		"deb.version|nginx": facts.PkgVersion{},
	}
	args := ops.Args{"name": "nginx"}
	lines := commandLines(t, PkgInstalled{}, newTarget(args, f))
	if len(lines) != 1 || lines[0] != "DEBIAN_FRONTEND=noninteractive apt-get install -y nginx" {
		t.Errorf("install commands = %v", lines)
	}

	f["deb.version|nginx"] = facts.PkgVersion{Installed: true, Version: "1.24.0"}
	if lines := commandLines(t, PkgInstalled{}, newTarget(args, f)); len(lines) != 0 {
		t.Errorf("installed package emitted %v", lines)
	}

	latest := ops.Args{"name": "nginx", "latest": true}
	lines = commandLines(t, PkgInstalled{}, newTarget(latest, f))
	if len(lines) != 1 || !strings.Contains(lines[0], "--only-upgrade") {
		t.Errorf("upgrade commands = %v", lines)
	}

	absent := ops.Args{"name": "nginx", "present": false}
	lines = commandLines(t, PkgInstalled{}, newTarget(absent, f))
	if len(lines) != 1 || !strings.Contains(lines[0], "apt-get remove -y nginx") {
		t.Errorf("remove commands = %v", lines)
	}
}

func TestPkgInstalledRPMFamily(t *testing.T) {
	f := stubFacts{
		"pkg.manager|":        "dnf",
		"rpm.version|postfix": facts.PkgVersion{},
	}
	lines := commandLines(t, PkgInstalled{}, newTarget(ops.Args{"name": "postfix"}, f))
	if len(lines) != 1 || lines[0] != "dnf install -y postfix" {
		t.Errorf("commands = %v", lines)
	}
}

func TestPkgInstalledUnknownManager(t *testing.T) {
	f := stubFacts{
		"pkg.manager|":      "unknown",
		"rpm.version|nginx": facts.PkgVersion{},
	}
	_, err := (PkgInstalled{}).Commands(context.Background(),
		newTarget(ops.Args{"name": "nginx"}, f))
	if err == nil {
		t.Fatal("expected error for unknown package manager")
	}
}

func TestServiceRunning(t *testing.T) {
	f := stubFacts{"service.status|nginx": facts.ServiceStatus{}}
	args := ops.Args{"name": "nginx", "enabled": true}
	lines := commandLines(t, ServiceRunning{}, newTarget(args, f))
	want := []string{"systemctl enable nginx", "systemctl start nginx"}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Errorf("commands = %v, want %v", lines, want)
	}

	f = stubFacts{"service.status|nginx": facts.ServiceStatus{Active: true, Enabled: true}}
	if lines := commandLines(t, ServiceRunning{}, newTarget(args, f)); len(lines) != 0 {
		t.Errorf("converged service emitted %v", lines)
	}

	stop := ops.Args{"name": "nginx", "running": false}
	lines = commandLines(t, ServiceRunning{}, newTarget(stop, f))
	if len(lines) != 1 || lines[0] != "systemctl stop nginx" {
		t.Errorf("stop commands = %v", lines)
	}
}

func TestUserPresent(t *testing.T) {
	f := stubFacts{"user.entry|deploy": facts.UserEntry{}}
	args := ops.Args{
		"name": "deploy", "shell": "/bin/bash",
		"groups": []string{"docker", "sudo"},
	}
	lines := commandLines(t, UserPresent{}, newTarget(args, f))
	if len(lines) != 1 || lines[0] != "useradd -m -s /bin/bash -G docker,sudo deploy" {
		t.Errorf("create commands = %v", lines)
	}
}

func TestUserPresentDrift(t *testing.T) {
	f := stubFacts{
		"user.entry|deploy":  facts.UserEntry{Exists: true, Shell: "/bin/sh", Home: "/home/deploy"},
		"user.groups|deploy": []string{"docker"},
	}
	args := ops.Args{
		"name": "deploy", "shell": "/bin/bash",
		"groups": []string{"docker", "sudo"},
	}
	lines := commandLines(t, UserPresent{}, newTarget(args, f))
	want := []string{"usermod -s /bin/bash deploy", "usermod -aG sudo deploy"}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Errorf("commands = %v, want %v", lines, want)
	}

	f["user.entry|deploy"] = facts.UserEntry{Exists: true, Shell: "/bin/bash", Home: "/home/deploy"}
	f["user.groups|deploy"] = []string{"docker", "sudo", "extra"}
	if lines := commandLines(t, UserPresent{}, newTarget(args, f)); len(lines) != 0 {
		t.Errorf("converged user emitted %v", lines)
	}
}

func TestUserPresentAbsent(t *testing.T) {
	f := stubFacts{"user.entry|old": facts.UserEntry{Exists: true}}
	lines := commandLines(t, UserPresent{}, newTarget(ops.Args{"name": "old", "present": false}, f))
	if len(lines) != 1 || lines[0] != "userdel old" {
		t.Errorf("commands = %v", lines)
	}

	f = stubFacts{"user.entry|old": facts.UserEntry{}}
	if lines := commandLines(t, UserPresent{}, newTarget(ops.Args{"name": "old", "present": false}, f)); len(lines) != 0 {
		t.Errorf("absent user emitted %v", lines)
	}
}
