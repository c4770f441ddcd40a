package ops

import "sync"

// Handle is returned by every registration. Before execution it only
// knows its plan position; the engine records per-host outcomes into it
// as the run progresses, so after Execute the registering code can ask
// whether the operation changed anything.
type Handle struct {
	mu       sync.Mutex
	order    int
	name     string
	commands map[string][]Command
}

// NewHandle creates a handle for a registration. Called by the plan
// builder.
func NewHandle(order int, name string) *Handle {
	return &Handle{
		order:    order,
		name:     name,
		commands: make(map[string][]Command),
	}
}

// Order returns the registration's plan order index.
func (h *Handle) Order() int {
	return h.order
}

// Name returns the registration's display name.
func (h *Handle) Name() string {
	return h.name
}

// Record stores the realized commands for one host. Called by the
// execution engine after diffing.
func (h *Handle) Record(host string, commands []Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[host] = commands
}

// Commands returns the realized commands for one host. Empty before the
// host was diffed and for converged hosts.
func (h *Handle) Commands(host string) []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commands[host]
}

// Changed reports whether the operation generated commands for the host.
func (h *Handle) Changed(host string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commands[host]) > 0
}

// DidChange reports whether the operation generated commands for any host.
func (h *Handle) DidChange() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cmds := range h.commands {
		if len(cmds) > 0 {
			return true
		}
	}
	return false
}

// Hosts returns the hosts with recorded outcomes.
func (h *Handle) Hosts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	hosts := make([]string, 0, len(h.commands))
	for host := range h.commands {
		hosts = append(hosts, host)
	}
	return hosts
}
