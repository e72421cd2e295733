package commands

import (
	"cmp"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/config"
	"github.com/sapautomation/sdaf-setup/internal/di"
	"github.com/sapautomation/sdaf-setup/internal/services"
	"github.com/sapautomation/sdaf-setup/internal/utils"
	"github.com/sapautomation/sdaf-setup/internal/validate"
	"github.com/urfave/cli/v2"
)

func gitHubFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "repo",
			Aliases: []string{"r"},
			Usage:   "Repository in format 'owner/repo'; defaults to the saved repository",
			EnvVars: []string{"SDAF_REPOSITORY"},
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "GitHub server url; defaults to the saved server url",
			EnvVars: []string{"SDAF_SERVER_URL"},
		},
		&cli.StringFlag{
			Name:    "github-token",
			Usage:   "GitHub personal access token; defaults to the saved token",
			EnvVars: []string{"SDAF_GITHUB_TOKEN", "GITHUB_TOKEN"},
		},
	}
}

// EnvironmentsCommand returns the environments command for working with GitHub environments
func EnvironmentsCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "environments",
		Aliases: []string{"env"},
		Usage:   "List, create and wait for GitHub environments",
		Description: `Work with the GitHub environments of the automation repository outside a full setup run.

Examples:
  # List environments
  sdaf-setup environments list

  # Create an environment and wait until it exists
  sdaf-setup environments dispatch --environment DEV --region westeurope --vnet-name SAP01
  sdaf-setup environments wait --prefix DEV`,
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the repository's environments",
				Flags:  gitHubFlags(),
				Action: environmentsListAction,
			},
			{
				Name:  "dispatch",
				Usage: "Run the create-environment workflow",
				Flags: append(gitHubFlags(),
					&cli.StringFlag{
						Name:     "environment",
						Aliases:  []string{"e"},
						Usage:    "Environment code (e.g. DEV)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "region",
						Usage:    "Azure region of the deployer",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "vnet-name",
						Usage:    "Deployer virtual network name",
						Required: true,
					},
				),
				Action: environmentsDispatchAction,
			},
			{
				Name:  "wait",
				Usage: "Wait until an environment whose name starts with --prefix exists",
				Flags: append(gitHubFlags(),
					&cli.StringFlag{
						Name:     "prefix",
						Aliases:  []string{"p"},
						Usage:    "Environment name prefix, usually the environment code",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait",
						Value: services.DefaultWaitTimeout,
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Delay between listings",
						Value: services.DefaultPollInterval,
					},
				),
				Action: environmentsWaitAction,
			},
		},
	}
}

// gitHubTarget resolves repo, server and token from flags, falling back to the store
func gitHubTarget(c *cli.Context) (container di.Container, repo string, err error) {
	store, err := openStore(c)
	if err != nil {
		return nil, "", err
	}
	stored := utils.MergeValues(store.Configuration(), store.Credentials())

	repo = cmp.Or(c.String("repo"), stored[config.KeyRepositoryName])
	serverURL := cmp.Or(c.String("server-url"), stored[config.KeyServerURL])
	token := cmp.Or(c.String("github-token"), stored[config.KeyGitHubToken])

	if err := validate.RepoName(repo); err != nil {
		return nil, "", err
	}
	if err := validate.Token(token); err != nil {
		return nil, "", fmt.Errorf("invalid github token: %w", err)
	}

	root, err := containerFrom(c)
	if err != nil {
		return nil, "", err
	}
	scope, err := di.GitHubScope(root, token, serverURL)
	if err != nil {
		return nil, "", err
	}
	return scope, repo, nil
}

func environmentsListAction(c *cli.Context) error {
	container, repo, err := gitHubTarget(c)
	if err != nil {
		return err
	}
	github := di.MustGet[*services.GitHubService](container)

	names, err := github.ListEnvironments(c.Context, repo)
	if err != nil {
		return err
	}
	RenderEnvironments(c.App.Writer, names)
	return nil
}

func environmentsDispatchAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)

	inputs := services.WorkflowInputs{
		Environment:  c.String("environment"),
		Region:       c.String("region"),
		DeployerVNet: c.String("vnet-name"),
	}
	if err := validate.EnvironmentCode(inputs.Environment); err != nil {
		return err
	}
	if err := validate.Region(inputs.Region); err != nil {
		return err
	}
	if err := validate.VNetName(inputs.DeployerVNet); err != nil {
		return err
	}

	container, repo, err := gitHubTarget(c)
	if err != nil {
		return err
	}
	activator := di.MustGet[*services.Activator](container)

	if err := activator.Activate(c.Context, repo, inputs); err != nil {
		return err
	}
	logger.Info().Str("repository", repo).Msg("Workflow dispatched")
	return nil
}

func environmentsWaitAction(c *cli.Context) error {
	container, repo, err := gitHubTarget(c)
	if err != nil {
		return err
	}
	activator := di.MustGet[*services.Activator](container)

	name, err := activator.Wait(c.Context, repo, c.String("prefix"), c.Duration("timeout"), c.Duration("interval"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, name)
	return nil
}
