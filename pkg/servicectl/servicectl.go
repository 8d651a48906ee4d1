// Package servicectl wraps the OS service manager invocations the
// configurator needs (enable/disable/start/stop), treating systemctl as an
// external collaborator reached over a typed client rather than
// reimplemented.
package servicectl

import (
	"context"
	"os/exec"

	"github.com/fty-metrics/composite/pkg/util"
)

// ServiceController drives systemctl against a service instance name.
type ServiceController struct {
	binary string
}

// New returns a ServiceController that shells out to "systemctl". Pass a
// non-empty binary to override (tests use a stub script).
func New(binary string) *ServiceController {
	if binary == "" {
		binary = "systemctl"
	}
	return &ServiceController{binary: binary}
}

// ExitStatus is the outcome of one ServiceController call: the child
// process's exit code, or a negative value if the process never launched.
type ExitStatus int

const failedToLaunch ExitStatus = -1

func (c *ServiceController) run(ctx context.Context, args ...string) ExitStatus {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	err := cmd.Run()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return ExitStatus(exitErr.ExitCode())
	}
	util.WithField("cmd", c.binary).Errorf("failed to launch %v: %v", args, err)
	return failedToLaunch
}

// Enable enables the named service instance.
func (c *ServiceController) Enable(ctx context.Context, service string) ExitStatus {
	return c.run(ctx, "enable", service)
}

// Disable disables the named service instance.
func (c *ServiceController) Disable(ctx context.Context, service string) ExitStatus {
	return c.run(ctx, "disable", service)
}

// Start starts the named service instance.
func (c *ServiceController) Start(ctx context.Context, service string) ExitStatus {
	return c.run(ctx, "start", service)
}

// Stop stops the named service instance.
func (c *ServiceController) Stop(ctx context.Context, service string) ExitStatus {
	return c.run(ctx, "stop", service)
}
