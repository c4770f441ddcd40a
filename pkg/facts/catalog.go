package facts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shipshape-io/shipshape/pkg/ops"
)

// Catalog returns a registry populated with the builtin fact kinds.
func Catalog() *Registry {
	r := NewRegistry()
	r.MustRegister(osReleaseFact())
	r.MustRegister(kernelFact())
	r.MustRegister(archFact())
	r.MustRegister(hostnameFact())
	r.MustRegister(cpuCountFact())
	r.MustRegister(memoryFact())
	r.MustRegister(diskUsageFact())
	r.MustRegister(fileStatFact())
	r.MustRegister(fileSHA256Fact())
	r.MustRegister(directoryFact())
	r.MustRegister(commandOutputFact())
	r.MustRegister(pkgManagerFact())
	r.MustRegister(debVersionFact())
	r.MustRegister(rpmVersionFact())
	r.MustRegister(serviceStatusFact())
	r.MustRegister(userEntryFact())
	r.MustRegister(userGroupsFact())
	return r
}

// noArgs rejects argument strings for facts that take none.
func noArgs(kind, command string) func(string) (string, error) {
	return func(args string) (string, error) {
		if strings.TrimSpace(args) != "" {
			return "", fmt.Errorf("fact %s takes no arguments", kind)
		}
		return command, nil
	}
}

// pathArg renders a command around a single required path argument.
func pathArg(kind, format string) func(string) (string, error) {
	return func(args string) (string, error) {
		path := strings.TrimSpace(args)
		if path == "" {
			return "", fmt.Errorf("fact %s requires a path argument", kind)
		}
		return fmt.Sprintf(format, ops.Quote(path)), nil
	}
}

// nameArg renders a command around a single required name argument.
func nameArg(kind, format string) func(string) (string, error) {
	return func(args string) (string, error) {
		name := strings.TrimSpace(args)
		if name == "" {
			return "", fmt.Errorf("fact %s requires a name argument", kind)
		}
		return fmt.Sprintf(format, ops.Quote(name)), nil
	}
}

func osReleaseFact() *Definition {
	return &Definition{
		Kind:    "os.release",
		Command: noArgs("os.release", "cat /etc/os-release 2>/dev/null || cat /usr/lib/os-release"),
		Parse: func(output []byte) (any, error) {
			rel := OSRelease{}
			for _, line := range strings.Split(string(output), "\n") {
				key, value, ok := strings.Cut(line, "=")
				if !ok {
					continue
				}
				value = strings.Trim(strings.TrimSpace(value), `"`)
				switch key {
				case "ID":
					rel.ID = value
				case "NAME":
					rel.Name = value
				case "VERSION":
					rel.Version = value
				case "VERSION_ID":
					rel.VersionID = value
				case "PRETTY_NAME":
					rel.PrettyName = value
				}
			}
			return rel, nil
		},
	}
}

func kernelFact() *Definition {
	return &Definition{
		Kind:    "kernel",
		Command: noArgs("kernel", "uname -r"),
		Parse:   parseTrimmedString,
	}
}

func archFact() *Definition {
	return &Definition{
		Kind:    "arch",
		Command: noArgs("arch", "uname -m"),
		Parse:   parseTrimmedString,
	}
}

func hostnameFact() *Definition {
	return &Definition{
		Kind:    "hostname",
		Command: noArgs("hostname", "hostname"),
		Parse:   parseTrimmedString,
	}
}

func cpuCountFact() *Definition {
	return &Definition{
		Kind:    "cpu.count",
		Command: noArgs("cpu.count", "nproc 2>/dev/null || grep -c ^processor /proc/cpuinfo"),
		Parse: func(output []byte) (any, error) {
			n, err := strconv.Atoi(strings.TrimSpace(string(output)))
			if err != nil {
				return nil, fmt.Errorf("unexpected nproc output %q", strings.TrimSpace(string(output)))
			}
			return n, nil
		},
	}
}

func memoryFact() *Definition {
	return &Definition{
		Kind:    "memory.mb",
		Command: noArgs("memory.mb", "cat /proc/meminfo"),
		Parse: func(output []byte) (any, error) {
			for _, line := range strings.Split(string(output), "\n") {
				fields := strings.Fields(line)
				if len(fields) < 2 || fields[0] != "MemTotal:" {
					continue
				}
				kb, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("unexpected MemTotal value %q", fields[1])
				}
				return kb / 1024, nil
			}
			return nil, fmt.Errorf("MemTotal not found in /proc/meminfo")
		},
	}
}

func diskUsageFact() *Definition {
	return &Definition{
		Kind: "disk.usage",
		Command: func(args string) (string, error) {
			path := strings.TrimSpace(args)
			if path == "" {
				path = "/"
			}
			return fmt.Sprintf("df -kP %s | tail -n +2", ops.Quote(path)), nil
		},
		Parse: func(output []byte) (any, error) {
			fields := strings.Fields(strings.TrimSpace(string(output)))
			if len(fields) < 6 {
				return nil, fmt.Errorf("unexpected df output %q", strings.TrimSpace(string(output)))
			}
			usage := DiskUsage{
				Filesystem: fields[0],
				MountPoint: fields[5],
			}
			usage.TotalKB, _ = strconv.ParseInt(fields[1], 10, 64)
			usage.UsedKB, _ = strconv.ParseInt(fields[2], 10, 64)
			usage.AvailableKB, _ = strconv.ParseInt(fields[3], 10, 64)
			usage.UsePercent, _ = strconv.Atoi(strings.TrimSuffix(fields[4], "%"))
			return usage, nil
		},
	}
}

func fileStatFact() *Definition {
	return &Definition{
		Kind:    "file.stat",
		Command: pathArg("file.stat", `stat -c '%%F|%%a|%%u|%%g|%%U|%%G|%%s|%%N' %s`),
		Default: func() any { return FileStat{} },
		Parse: func(output []byte) (any, error) {
			parts := strings.SplitN(strings.TrimSpace(string(output)), "|", 8)
			if len(parts) < 8 {
				return nil, fmt.Errorf("unexpected stat output %q", strings.TrimSpace(string(output)))
			}
			st := FileStat{
				Exists: true,
				Mode:   parts[1],
				User:   parts[4],
				Group:  parts[5],
			}
			st.UID, _ = strconv.Atoi(parts[2])
			st.GID, _ = strconv.Atoi(parts[3])
			st.Size, _ = strconv.ParseInt(parts[6], 10, 64)
			switch parts[0] {
			case "directory":
				st.IsDir = true
			case "symbolic link":
				st.IsLink = true
				if _, target, ok := strings.Cut(parts[7], "-> "); ok {
					st.Target = strings.Trim(target, "'")
				}
			}
			return st, nil
		},
	}
}

func fileSHA256Fact() *Definition {
	return &Definition{
		Kind:    "file.sha256",
		Command: pathArg("file.sha256", "sha256sum %s 2>/dev/null | cut -d' ' -f1"),
		Default: func() any { return "" },
		Parse:   parseTrimmedString,
	}
}

func directoryFact() *Definition {
	return &Definition{
		Kind:    "directory",
		Command: pathArg("directory", "test -d %s && echo yes || echo no"),
		Parse: func(output []byte) (any, error) {
			return strings.TrimSpace(string(output)) == "yes", nil
		},
	}
}

func commandOutputFact() *Definition {
	return &Definition{
		Kind: "command.output",
		Command: func(args string) (string, error) {
			if strings.TrimSpace(args) == "" {
				return "", fmt.Errorf("fact command.output requires a command argument")
			}
			return args, nil
		},
		Parse: parseTrimmedString,
	}
}

func pkgManagerFact() *Definition {
	return &Definition{
		Kind: "pkg.manager",
		Command: noArgs("pkg.manager",
			`for m in apt-get dnf yum zypper; do command -v $m >/dev/null 2>&1 && { echo $m; break; }; done`),
		Parse: func(output []byte) (any, error) {
			switch strings.TrimSpace(string(output)) {
			case "apt-get":
				return "apt", nil
			case "dnf":
				return "dnf", nil
			case "yum":
				return "yum", nil
			case "zypper":
				return "zypper", nil
			}
			return "unknown", nil
		},
	}
}

func debVersionFact() *Definition {
	return &Definition{
		Kind:    "deb.version",
		Command: nameArg("deb.version", `dpkg-query -W -f='${Version}' %s 2>/dev/null`),
		Default: func() any { return PkgVersion{} },
		Parse:   parsePkgVersion,
	}
}

func rpmVersionFact() *Definition {
	return &Definition{
		Kind:    "rpm.version",
		Command: nameArg("rpm.version", `rpm -q --queryformat '%%{VERSION}-%%{RELEASE}' %s`),
		Default: func() any { return PkgVersion{} },
		Parse:   parsePkgVersion,
	}
}

func serviceStatusFact() *Definition {
	return &Definition{
		Kind: "service.status",
		Command: nameArg("service.status",
			`echo "$(systemctl is-active %[1]s 2>/dev/null)|$(systemctl is-enabled %[1]s 2>/dev/null)"`),
		Parse: func(output []byte) (any, error) {
			active, enabled, _ := strings.Cut(strings.TrimSpace(string(output)), "|")
			return ServiceStatus{
				Active:  active == "active",
				Enabled: enabled == "enabled" || enabled == "static",
			}, nil
		},
	}
}

func userEntryFact() *Definition {
	return &Definition{
		Kind:    "user.entry",
		Command: nameArg("user.entry", "getent passwd %s"),
		Default: func() any { return UserEntry{} },
		Parse: func(output []byte) (any, error) {
			parts := strings.Split(strings.TrimSpace(string(output)), ":")
			if len(parts) < 7 {
				return nil, fmt.Errorf("unexpected passwd entry %q", strings.TrimSpace(string(output)))
			}
			entry := UserEntry{
				Exists: true,
				Home:   parts[5],
				Shell:  parts[6],
			}
			entry.UID, _ = strconv.Atoi(parts[2])
			entry.GID, _ = strconv.Atoi(parts[3])
			return entry, nil
		},
	}
}

func userGroupsFact() *Definition {
	return &Definition{
		Kind:    "user.groups",
		Command: nameArg("user.groups", "id -nG %s 2>/dev/null"),
		Default: func() any { return []string(nil) },
		Parse: func(output []byte) (any, error) {
			trimmed := strings.TrimSpace(string(output))
			if trimmed == "" {
				return []string(nil), nil
			}
			return strings.Fields(trimmed), nil
		},
	}
}

func parseTrimmedString(output []byte) (any, error) {
	return strings.TrimSpace(string(output)), nil
}

func parsePkgVersion(output []byte) (any, error) {
	version := strings.TrimSpace(string(output))
	if version == "" || strings.Contains(version, "not installed") {
		return PkgVersion{}, nil
	}
	return PkgVersion{Installed: true, Version: version}, nil
}
