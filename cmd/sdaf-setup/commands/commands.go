// Package commands implements the sdaf-setup command line.
package commands

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/di"
	"github.com/urfave/cli/v2"
)

const containerKey = "container"

// NewApp returns the CLI. Extra options are passed to the dependency container, which is
// how tests replace the az runner.
func NewApp(logger *zerolog.Logger, opts ...di.Option) *cli.App {
	return &cli.App{
		Name:  "sdaf-setup",
		Usage: "Set up GitHub and Azure for SAP deployment automation",
		Description: `Prepares a repository created from the SAP deployment automation template.

This tool provides commands for:
  - Creating the Azure identity the deployment workflows run as
  - Creating GitHub environments and writing their variables and secrets
  - Federating GitHub Actions tokens with Entra ID
  - Diagnosing an existing service principal`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "Directory of the saved configuration (default ~/.sap_deployment_automation)",
				EnvVars: []string{"SDAF_CONFIG_DIR"},
			},
		},
		Before: func(c *cli.Context) error {
			options := append([]di.Option{di.WithConfigDir(c.String("config-dir"))}, opts...)
			container, err := di.New(c.Context, options...)
			if err != nil {
				return err
			}
			if c.App.Metadata == nil {
				c.App.Metadata = map[string]interface{}{}
			}
			c.App.Metadata[containerKey] = container
			return nil
		},
		Commands: []*cli.Command{
			SetupCommand(logger),
			ConfigCommand(logger),
			DiagnoseCommand(logger),
			AppURLCommand(logger),
			EnvironmentsCommand(logger),
		},
	}
}

func containerFrom(c *cli.Context) (di.Container, error) {
	container, ok := c.App.Metadata[containerKey].(di.Container)
	if !ok {
		return nil, errors.New("dependency container not initialized")
	}
	return container, nil
}
