// Package config holds the validated execution parameters of a run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "SHIPSHAPE_"

// RunConfig holds the execution parameters of one run. Values are fixed
// before the engine opens any connection.
type RunConfig struct {
	// Name labels the run in logs, reports, and history.
	Name string `json:"name,omitempty"`

	// Parallel bounds the number of hosts worked on concurrently. The
	// bound covers the connect phase as well as command execution.
	Parallel int `json:"parallel" validate:"min=1"`

	// FailPercent aborts the run when the percentage of failed hosts
	// exceeds it. The comparison is strict: 0 aborts on the first
	// failure, 100 never aborts.
	FailPercent int `json:"fail_percent" validate:"min=0,max=100"`

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration `json:"connect_timeout" validate:"min=0"`

	// CommandTimeout bounds each remote command. Zero means unlimited.
	CommandTimeout time.Duration `json:"command_timeout" validate:"min=0"`
}

// DefaultRunConfig returns the run parameters used when nothing else is
// configured.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Parallel:       10,
		FailPercent:    100,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 0,
	}
}

var validate = validator.New()

// Validate checks the config against its field constraints. The error
// message names every violated field.
func (c RunConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	violations := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		v := fmt.Sprintf("%s violates %s", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			v += "=" + fe.Param()
		}
		violations = append(violations, v)
	}
	return fmt.Errorf("invalid run config: %s", strings.Join(violations, ", "))
}

// FromEnv returns the default config with SHIPSHAPE_* environment
// overrides applied. Unparseable values are an error, not silently
// ignored.
func FromEnv() (RunConfig, error) {
	c := DefaultRunConfig()

	if v, ok := lookupEnv("RUN_NAME"); ok {
		c.Name = v
	}
	if v, ok := lookupEnv("PARALLEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%sPARALLEL: %w", EnvPrefix, err)
		}
		c.Parallel = n
	}
	if v, ok := lookupEnv("FAIL_PERCENT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%sFAIL_PERCENT: %w", EnvPrefix, err)
		}
		c.FailPercent = n
	}
	if v, ok := lookupEnv("CONNECT_TIMEOUT"); ok {
		d, err := parseTimeout(v)
		if err != nil {
			return c, fmt.Errorf("%sCONNECT_TIMEOUT: %w", EnvPrefix, err)
		}
		c.ConnectTimeout = d
	}
	if v, ok := lookupEnv("COMMAND_TIMEOUT"); ok {
		d, err := parseTimeout(v)
		if err != nil {
			return c, fmt.Errorf("%sCOMMAND_TIMEOUT: %w", EnvPrefix, err)
		}
		c.CommandTimeout = d
	}
	return c, nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// parseTimeout accepts Go duration strings and bare integers, which are
// read as seconds.
func parseTimeout(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative timeout %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %s", d)
	}
	return d, nil
}
