package setup

import (
	"github.com/sapautomation/sdaf-setup/internal/models"
	"github.com/sapautomation/sdaf-setup/internal/orchestrator"
)

// Build returns the setup pipeline for input.
//
// Federation needs the environment name. When the environment already exists its name is
// known up front and federation runs right after the identity step; otherwise it runs last,
// after the environment has been created and its secrets written. A federation failure
// fails the run in both orders.
func Build(deps Dependencies, input models.SetupInput, opts ...orchestrator.Option) *orchestrator.Pipeline {
	s := steps{deps: deps}

	githubApp := orchestrator.StepFunc(StepGitHubAppSetup, s.githubAppSetup)
	login := orchestrator.StepFunc(StepAzureLogin, s.azureLogin)
	identity := orchestrator.StepFunc(StepSPNCreation, s.identity)
	environment := orchestrator.StepFunc(StepEnvironmentCreation, s.environment)
	secrets := orchestrator.StepFunc(StepEnvironmentSecrets, s.environmentSecrets)
	federation := orchestrator.StepFunc(StepFederatedIdentity, s.federation)

	ordered := []orchestrator.Step{githubApp, login, identity, environment, secrets, federation}
	if input.ExistingEnvironment != "" {
		ordered = []orchestrator.Step{githubApp, login, identity, federation, environment, secrets}
	}

	return orchestrator.New(ordered, opts...)
}
