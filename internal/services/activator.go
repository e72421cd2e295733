package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/constants"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
)

const (
	DefaultWaitTimeout  = 180 * time.Second
	DefaultPollInterval = 10 * time.Second
)

// WorkflowClient is the part of the GitHub API the activator uses
type WorkflowClient interface {
	DispatchWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error
	ListEnvironments(ctx context.Context, repo string) ([]string, error)
}

// WorkflowInputs are the inputs of the create-environment workflow
type WorkflowInputs struct {
	Environment  string
	Region       string
	DeployerVNet string
}

func (w WorkflowInputs) values() map[string]string {
	return map[string]string{
		"environment":   w.Environment,
		"region":        w.Region,
		"deployer_vnet": w.DeployerVNet,
	}
}

// Activator dispatches the environment workflow and waits for its result to show up
type Activator struct {
	github   WorkflowClient
	clock    clock.Clock
	workflow string
	ref      string
}

func NewActivator(github WorkflowClient, clk clock.Clock) *Activator {
	return &Activator{
		github:   github,
		clock:    clk,
		workflow: constants.CreateEnvironmentWorkflow,
		ref:      constants.DispatchRef,
	}
}

// Activate dispatches the create-environment workflow on main
func (a *Activator) Activate(ctx context.Context, repo string, inputs WorkflowInputs) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("workflow", a.workflow).
		Str("environment", inputs.Environment).
		Str("region", inputs.Region).
		Str("deployer_vnet", inputs.DeployerVNet).
		Msg("Dispatching workflow")

	if err := a.github.DispatchWorkflow(ctx, repo, a.workflow, a.ref, inputs.values()); err != nil {
		return err
	}
	return nil
}

// Wait polls the repository's environments until one starts with prefix. The first match
// in listing order wins. A failed listing counts as a poll without a match. Once the
// elapsed time reaches timeout it returns ErrTimeout.
func (a *Activator) Wait(ctx context.Context, repo, prefix string, timeout, interval time.Duration) (string, error) {
	logger := zerolog.Ctx(ctx)
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger.Info().
		Str("prefix", prefix).
		Dur("timeout", timeout).
		Msg("Waiting for environment")

	start := a.clock.Now()
	for attempt := 1; ; attempt++ {
		names, err := a.github.ListEnvironments(ctx, repo)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Failed to list environments")
		}
		for _, name := range names {
			if strings.HasPrefix(name, prefix) {
				logger.Info().Str("environment", name).Int("attempt", attempt).Msg("Environment found")
				return name, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-a.clock.After(interval):
		}

		elapsed := a.clock.Now().Sub(start)
		if elapsed >= timeout {
			return "", fmt.Errorf("%w: no environment with prefix %q after %s (%d polls)", sdaferrors.ErrTimeout, prefix, timeout, attempt)
		}
		logger.Info().Dur("elapsed", elapsed).Msg("Still waiting")
	}
}
