package di

import (
	"context"

	"github.com/juju/clock"
	"github.com/sapautomation/sdaf-setup/internal/services"
	"github.com/sapautomation/sdaf-setup/internal/setup"
)

// GitHubToken authenticates the GitHub client of a setup scope
type GitHubToken string

// GitHubAPIURL is the REST endpoint of the GitHub server being configured
type GitHubAPIURL string

// GitHubScope returns a child container for one run against a GitHub server. The token is
// only known once the command has resolved its input, so the GitHub client and everything
// built on it live here rather than in the root container.
func GitHubScope(container Container, token, serverURL string) (Container, error) {
	scope := container.Scope("github")

	providers := []any{
		func() GitHubToken { return GitHubToken(token) },
		func() GitHubAPIURL { return GitHubAPIURL(services.APIURL(serverURL)) },
		ProvideGitHubService,
		ProvidePublisher,
		ProvideActivator,
		ProvideSetupDependencies,
	}
	for _, provider := range providers {
		if err := scope.Provide(provider); err != nil {
			return nil, err
		}
	}

	return scope, nil
}

func ProvideGitHubService(ctx context.Context, token GitHubToken, apiURL GitHubAPIURL) *services.GitHubService {
	return services.NewGitHubService(ctx, string(token), string(apiURL))
}

func ProvidePublisher(github *services.GitHubService) *services.Publisher {
	return services.NewPublisher(github)
}

func ProvideActivator(github *services.GitHubService, clk clock.Clock) *services.Activator {
	return services.NewActivator(github, clk)
}

func ProvideSetupDependencies(
	azure *services.AzureService,
	github *services.GitHubService,
	publisher *services.Publisher,
	activator *services.Activator,
) setup.Dependencies {
	return setup.Dependencies{
		Azure:        azure,
		Publisher:    publisher,
		Activator:    activator,
		Environments: github,
	}
}
