package policy

// Builtins returns the policies compiled into every engine. They can be
// disabled by name but not unloaded.
func Builtins() []Policy {
	return []Policy{
		sudoProductionPolicy(),
		destructiveCommandsPolicy(),
		targetCeilingPolicy(),
	}
}

// sudoProductionPolicy denies sudo operations on hosts in the
// production group unless the run sets allow_sudo_production.
func sudoProductionPolicy() Policy {
	return Policy{
		Name:        "sudo-production",
		Description: "Denies sudo operations on production-group hosts unless the run sets allow_sudo_production",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "production"},
		Rego: `package shipshape

import rego.v1

production_hosts contains h if {
	some h in input.run.groups.production
}

deny contains violation if {
	not input.run.allow_sudo_production
	some op in input.operations
	op.sudo
	some h in op.hosts
	production_hosts[h]
	violation := {
		"message": sprintf("operation %q runs sudo on production host %q", [op.display_name, h]),
		"severity": "error",
		"op": op.display_name,
		"host": h,
	}
}`,
	}
}

// destructiveCommandsPolicy denies shell.run commands that match
// well-known destructive patterns.
func destructiveCommandsPolicy() Policy {
	return Policy{
		Name:        "destructive-commands",
		Description: "Denies shell.run commands that wipe filesystems or block devices",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "shell"},
		Rego: `package shipshape

import rego.v1

destructive_patterns := [
	"rm\\s+(-[a-zA-Z]+\\s+)*/($|\\s|\\*)",
	"mkfs(\\.|\\s)",
	"dd\\s+.*of=/dev/(sd|nvme|vd|xvd)",
	">\\s*/dev/(sd|nvme|vd|xvd)",
	"wipefs",
]

deny contains violation if {
	some op in input.operations
	op.name == "shell.run"
	cmd := op.args.cmd
	is_string(cmd)
	some pattern in destructive_patterns
	regex.match(pattern, cmd)
	violation := {
		"message": sprintf("operation %q runs a destructive command: %s", [op.display_name, cmd]),
		"severity": "error",
		"op": op.display_name,
	}
}`,
	}
}

// targetCeilingPolicy denies runs targeting more hosts than the
// ceiling. The run can raise it with max_targets.
func targetCeilingPolicy() Policy {
	return Policy{
		Name:        "target-ceiling",
		Description: "Denies runs targeting more hosts than the configured ceiling (default 200)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "scale"},
		Rego: `package shipshape

import rego.v1

default_ceiling := 200

deny contains violation if {
	limit := object.get(input.run, "max_targets", default_ceiling)
	limit > 0
	count(input.run.targets) > limit
	violation := {
		"message": sprintf("run targets %d hosts, ceiling is %d", [count(input.run.targets), limit]),
		"severity": "error",
	}
}`,
	}
}
