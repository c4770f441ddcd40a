package facts

import (
	"fmt"
	"sort"
	"sync"
)

// Definition describes one fact kind.
type Definition struct {
	// Kind is the registry key, conventionally "<module>.<noun>".
	Kind string

	// Command renders the remote probe for the argument string. An error
	// means the arguments are invalid for this kind.
	Command func(args string) (string, error)

	// Parse converts the probe's captured stdout into the typed value.
	Parse func(output []byte) (any, error)

	// Default, when non-nil, supplies the value used when the probe
	// exits non-zero instead of treating the exit as a fact error.
	Default func() any
}

// OSRelease is the parsed /etc/os-release content.
type OSRelease struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	VersionID  string `json:"version_id"`
	PrettyName string `json:"pretty_name"`
}

// DiskUsage is the usage of the filesystem holding one path.
type DiskUsage struct {
	Filesystem  string `json:"filesystem"`
	MountPoint  string `json:"mount_point"`
	TotalKB     int64  `json:"total_kb"`
	UsedKB      int64  `json:"used_kb"`
	AvailableKB int64  `json:"available_kb"`
	UsePercent  int    `json:"use_percent"`
}

// FileStat is the observed state of one remote path.
type FileStat struct {
	Exists bool   `json:"exists"`
	IsDir  bool   `json:"is_dir"`
	IsLink bool   `json:"is_link"`
	Mode   string `json:"mode"`
	UID    int    `json:"uid"`
	GID    int    `json:"gid"`
	User   string `json:"user"`
	Group  string `json:"group"`
	Size   int64  `json:"size"`
	Target string `json:"target,omitempty"`
}

// PkgVersion is a package installation probe result.
type PkgVersion struct {
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
}

// ServiceStatus is a systemd unit state probe result.
type ServiceStatus struct {
	Active  bool `json:"active"`
	Enabled bool `json:"enabled"`
}

// UserEntry is a passwd database probe result.
type UserEntry struct {
	Exists bool   `json:"exists"`
	UID    int    `json:"uid"`
	GID    int    `json:"gid"`
	Home   string `json:"home,omitempty"`
	Shell  string `json:"shell,omitempty"`
}

// Registry maps fact kinds to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty fact registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register adds a definition. Duplicate kinds are rejected.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Kind == "" {
		return fmt.Errorf("fact definition with empty kind")
	}
	if _, exists := r.defs[def.Kind]; exists {
		return fmt.Errorf("fact kind %s already registered", def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

// MustRegister adds a definition and panics on conflict. For catalog
// construction.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get retrieves a definition by kind.
func (r *Registry) Get(kind string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown fact kind %q", kind)
	}
	return def, nil
}

// Kinds returns the registered fact kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.defs))
	for kind := range r.defs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
