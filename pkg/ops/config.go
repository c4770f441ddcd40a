package ops

import "time"

// Config carries the per-registration call settings from the registration
// protocol: display name, privilege escalation, error tolerance, timeout.
type Config struct {
	// DisplayName overrides the operation name in plans and reports.
	DisplayName string `json:"display_name,omitempty"`

	// Sudo escalates every command of this registration.
	Sudo bool `json:"sudo,omitempty"`

	// SudoUser escalates to this user instead of root. Implies Sudo.
	SudoUser string `json:"sudo_user,omitempty"`

	// IgnoreErrors keeps the host live when a command of this
	// registration fails: the failure is recorded but the host is not
	// excluded from later steps and does not count toward the fail
	// threshold.
	IgnoreErrors bool `json:"ignore_errors,omitempty"`

	// Timeout overrides the run-level per-command timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Option configures one registration.
type Option func(*Config)

// WithName sets the display name.
func WithName(name string) Option {
	return func(c *Config) {
		c.DisplayName = name
	}
}

// WithSudo escalates every command of the registration.
func WithSudo() Option {
	return func(c *Config) {
		c.Sudo = true
	}
}

// WithSudoUser escalates to the given user.
func WithSudoUser(user string) Option {
	return func(c *Config) {
		c.Sudo = true
		c.SudoUser = user
	}
}

// WithIgnoreErrors marks the registration tolerant of command failure.
func WithIgnoreErrors() Option {
	return func(c *Config) {
		c.IgnoreErrors = true
	}
}

// WithTimeout sets a per-command timeout for the registration.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// BuildConfig applies options to a zero Config.
func BuildConfig(opts ...Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
