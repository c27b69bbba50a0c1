// Package cliconf holds and validates the two executables' flag
// surfaces (spec §6.3). The flags themselves are parsed by cobra/pflag
// in cmd/puic-agent and cmd/puic-proxy, the CLI library the teacher
// registers commands with (cmd/commands.go). There is no persisted
// configuration file (spec §6.5): every setting comes from flags.
package cliconf

import (
	"fmt"
	"net"
	"strings"
)

const maxListeners = 256

// Agent is the puic-agent executable's parsed flags.
type Agent struct {
	Listen   []string // -l, repeatable
	Outbound string   // -o
	Forward  string   // -f
}

// Proxy is the puic-proxy executable's parsed flags.
type Proxy struct {
	Listen       []string // -l, repeatable
	Forward      string   // -f
	ProxyProtoV1 bool     // -u
}

// ValidateAgent mirrors the teacher's accumulate-then-join validation
// style (internal/conf/conf.go's validate/writeErr).
func ValidateAgent(a *Agent) error {
	var errs []error

	if len(a.Listen) == 0 {
		errs = append(errs, fmt.Errorf("at least one -l listen address is required"))
	}
	if len(a.Listen) > maxListeners {
		errs = append(errs, fmt.Errorf("at most %d -l listen addresses are allowed, got %d", maxListeners, len(a.Listen)))
	}
	for i, addr := range a.Listen {
		if err := validateAddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("-l[%d]: %w", i, err))
		}
	}
	if err := validateAddr(a.Outbound); err != nil {
		errs = append(errs, fmt.Errorf("-o: %w", err))
	}
	if err := validateAddr(a.Forward); err != nil {
		errs = append(errs, fmt.Errorf("-f: %w", err))
	}

	return writeErr(errs)
}

// ValidateProxy mirrors ValidateAgent for the proxy role's flags.
func ValidateProxy(p *Proxy) error {
	var errs []error

	if len(p.Listen) == 0 {
		errs = append(errs, fmt.Errorf("at least one -l listen address is required"))
	}
	if len(p.Listen) > maxListeners {
		errs = append(errs, fmt.Errorf("at most %d -l listen addresses are allowed, got %d", maxListeners, len(p.Listen)))
	}
	for i, addr := range p.Listen {
		if err := validateAddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("-l[%d]: %w", i, err))
		}
	}
	if err := validateAddr(p.Forward); err != nil {
		errs = append(errs, fmt.Errorf("-f: %w", err))
	}

	return writeErr(errs)
}

func validateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}

func writeErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("invalid flags:\n  - %s", strings.Join(msgs, "\n  - "))
}
