package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/wesleyorama2/pipestress/internal/script"
)

// MaxConcurrency bounds the number of workers per scenario.
const MaxConcurrency = 10000

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the configuration.
//
// Returns nil if valid, or a *ValidationErrors listing every problem.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.Target.Address == "" {
		errs.Add("target.address", "address is required")
	} else if _, port, err := net.SplitHostPort(c.Target.Address); err != nil || port == "" {
		errs.Add("target.address", fmt.Sprintf("%q is not a host:port address", c.Target.Address))
	}
	if c.Target.ServerName != "" && !c.Target.TLS {
		errs.Add("target.serverName", "serverName requires tls")
	}

	if c.BodySizes.Small <= 0 {
		errs.Add("bodySizes.small", "must be positive")
	}
	if c.BodySizes.Big <= 0 {
		errs.Add("bodySizes.big", "must be positive")
	} else if c.BodySizes.Big < c.BodySizes.Small {
		errs.Add("bodySizes.big", "must not be smaller than bodySizes.small")
	}

	if c.Timeouts.Dial < 0 {
		errs.Add("timeouts.dial", "must not be negative")
	}
	if c.Timeouts.Read < 0 {
		errs.Add("timeouts.read", "must not be negative")
	}
	if c.Timeouts.Write < 0 {
		errs.Add("timeouts.write", "must not be negative")
	}
	if c.Timeouts.HeadBody < 0 {
		errs.Add("timeouts.headBody", "must not be negative")
	}

	if c.Concurrency < 1 {
		errs.Add("concurrency", "must be at least 1")
	} else if c.Concurrency > MaxConcurrency {
		errs.Add("concurrency", fmt.Sprintf("cannot exceed %d", MaxConcurrency))
	}
	if c.Iterations < 1 {
		errs.Add("iterations", "must be at least 1")
	}
	if c.Rate < 0 {
		errs.Add("rate", "must not be negative")
	}

	switch script.ConnectionPolicy(c.Connection) {
	case "", script.ConnPersistent, script.ConnPerGroup:
	default:
		errs.Add("connection", fmt.Sprintf("unknown connection policy %q", c.Connection))
	}

	seen := make(map[string]bool, len(c.Scenarios))
	for i, name := range c.Scenarios {
		field := fmt.Sprintf("scenarios[%d]", i)
		if strings.TrimSpace(name) == "" {
			errs.Add(field, "scenario name cannot be empty")
			continue
		}
		if seen[name] {
			errs.Add(field, fmt.Sprintf("scenario %q is listed twice", name))
		}
		seen[name] = true
	}
	for i, path := range c.Scripts {
		if strings.TrimSpace(path) == "" {
			errs.Add(fmt.Sprintf("scripts[%d]", i), "script path cannot be empty")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
