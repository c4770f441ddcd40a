package facts

import (
	"strings"
	"testing"
)

func catalogDef(t *testing.T, kind string) *Definition {
	t.Helper()
	def, err := Catalog().Get(kind)
	if err != nil {
		t.Fatalf("catalog missing %s: %v", kind, err)
	}
	return def
}

func TestCatalogKinds(t *testing.T) {
	r := Catalog()
	for _, kind := range []string{
		"os.release", "kernel", "arch", "hostname", "cpu.count",
		"memory.mb", "disk.usage", "file.stat", "file.sha256",
		"directory", "command.output", "pkg.manager", "deb.version",
		"rpm.version", "service.status", "user.entry", "user.groups",
	} {
		if _, err := r.Get(kind); err != nil {
			t.Errorf("catalog missing kind %s", kind)
		}
	}

	if _, err := r.Get("no.such.fact"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOSReleaseParse(t *testing.T) {
	def := catalogDef(t, "os.release")

	output := `PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
NAME="Debian GNU/Linux"
VERSION_ID="12"
VERSION="12 (bookworm)"
ID=debian
`
	v, err := def.Parse([]byte(output))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	rel, ok := v.(OSRelease)
	if !ok {
		t.Fatalf("Parse returned %T", v)
	}
	if rel.ID != "debian" || rel.VersionID != "12" || rel.Name != "Debian GNU/Linux" {
		t.Errorf("parsed release = %+v", rel)
	}
}

func TestMemoryParse(t *testing.T) {
	def := catalogDef(t, "memory.mb")

	output := "MemTotal:        8046508 kB\nMemFree:         1511152 kB\n"
	v, err := def.Parse([]byte(output))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v.(int64) != 7857 {
		t.Errorf("memory.mb = %v, want 7857", v)
	}

	if _, err := def.Parse([]byte("garbage\n")); err == nil {
		t.Error("expected error for output without MemTotal")
	}
}

func TestDiskUsageParse(t *testing.T) {
	def := catalogDef(t, "disk.usage")

	cmd, err := def.Command("")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if !strings.Contains(cmd, "df -kP /") {
		t.Errorf("default path not applied: %q", cmd)
	}

	output := "/dev/sda1  41152812 9327356  30095488  24% /\n"
	v, err := def.Parse([]byte(output))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	usage := v.(DiskUsage)
	if usage.Filesystem != "/dev/sda1" || usage.UsePercent != 24 || usage.MountPoint != "/" {
		t.Errorf("parsed usage = %+v", usage)
	}
	if usage.TotalKB != 41152812 || usage.UsedKB != 9327356 {
		t.Errorf("parsed sizes = %+v", usage)
	}
}

func TestFileStatParse(t *testing.T) {
	def := catalogDef(t, "file.stat")

	v, err := def.Parse([]byte("regular file|644|0|0|root|root|220|'/etc/motd'\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	st := v.(FileStat)
	if !st.Exists || st.IsDir || st.Mode != "644" || st.Size != 220 || st.User != "root" {
		t.Errorf("parsed stat = %+v", st)
	}

	v, err = def.Parse([]byte("directory|755|0|0|root|root|4096|'/etc'\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !v.(FileStat).IsDir {
		t.Error("directory not detected")
	}

	v, err = def.Parse([]byte("symbolic link|777|0|0|root|root|7|'/bin' -> '/usr/bin'\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	st = v.(FileStat)
	if !st.IsLink || st.Target != "/usr/bin" {
		t.Errorf("parsed link = %+v", st)
	}

	// A missing path resolves through the probe default, not Parse.
	if def.Default == nil {
		t.Fatal("file.stat must carry a default for missing paths")
	}
	if st := def.Default().(FileStat); st.Exists {
		t.Error("default stat must report non-existence")
	}

	if _, err := def.Command(""); err == nil {
		t.Error("expected error for missing path argument")
	}
}

func TestFileStatCommandQuotesPath(t *testing.T) {
	def := catalogDef(t, "file.stat")

	cmd, err := def.Command("/tmp/with space")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if !strings.Contains(cmd, "'/tmp/with space'") {
		t.Errorf("path not quoted: %q", cmd)
	}
	if !strings.Contains(cmd, "%F|%a|%u|%g|%U|%G|%s|%N") {
		t.Errorf("stat format mangled: %q", cmd)
	}
}

func TestPkgVersionParse(t *testing.T) {
	def := catalogDef(t, "deb.version")

	v, err := def.Parse([]byte("1.22.1-9\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pkg := v.(PkgVersion)
	if !pkg.Installed || pkg.Version != "1.22.1-9" {
		t.Errorf("parsed version = %+v", pkg)
	}

	v, err = def.Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v.(PkgVersion).Installed {
		t.Error("empty output must parse as not installed")
	}

	rpm := catalogDef(t, "rpm.version")
	v, err = rpm.Parse([]byte("package nginx is not installed\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v.(PkgVersion).Installed {
		t.Error("rpm not-installed message must parse as not installed")
	}
}

func TestServiceStatusParse(t *testing.T) {
	def := catalogDef(t, "service.status")

	tests := []struct {
		output  string
		active  bool
		enabled bool
	}{
		{"active|enabled\n", true, true},
		{"inactive|disabled\n", false, false},
		{"active|static\n", true, true},
		{"failed|enabled\n", false, true},
	}
	for _, tt := range tests {
		v, err := def.Parse([]byte(tt.output))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tt.output, err)
		}
		st := v.(ServiceStatus)
		if st.Active != tt.active || st.Enabled != tt.enabled {
			t.Errorf("Parse(%q) = %+v", tt.output, st)
		}
	}
}

func TestUserEntryParse(t *testing.T) {
	def := catalogDef(t, "user.entry")

	v, err := def.Parse([]byte("deploy:x:1001:1001::/home/deploy:/bin/bash\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	entry := v.(UserEntry)
	if !entry.Exists || entry.UID != 1001 || entry.Home != "/home/deploy" || entry.Shell != "/bin/bash" {
		t.Errorf("parsed entry = %+v", entry)
	}

	groups := catalogDef(t, "user.groups")
	v, err = groups.Parse([]byte("deploy docker sudo\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	list := v.([]string)
	if len(list) != 3 || list[1] != "docker" {
		t.Errorf("parsed groups = %v", list)
	}
}

func TestPkgManagerParse(t *testing.T) {
	def := catalogDef(t, "pkg.manager")

	tests := []struct {
		output string
		want   string
	}{
		{"apt-get\n", "apt"},
		{"dnf\n", "dnf"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		v, err := def.Parse([]byte(tt.output))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tt.output, err)
		}
		if v != tt.want {
			t.Errorf("Parse(%q) = %v, want %s", tt.output, v, tt.want)
		}
	}
}

func TestNoArgFactsRejectArgs(t *testing.T) {
	for _, kind := range []string{"kernel", "cpu.count", "memory.mb", "pkg.manager"} {
		def := catalogDef(t, kind)
		if _, err := def.Command("unexpected"); err == nil {
			t.Errorf("fact %s accepted arguments", kind)
		}
	}
}
