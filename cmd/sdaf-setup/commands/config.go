package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/config"
	"github.com/sapautomation/sdaf-setup/internal/di"
	"github.com/urfave/cli/v2"
)

// ConfigCommand returns the config command for inspecting and editing saved values
func ConfigCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect and edit the saved configuration and credentials",
		Description: `Values entered during setup are saved so that a later run only asks for what changed.

Non-secret settings live in config.json and credentials in credentials.json (mode 0600),
both in the configuration directory.`,
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print saved values (credentials are masked)",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reveal",
						Usage: "Print credentials in clear text",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "table or json",
						Value: "table",
					},
				},
				Action: configShowAction,
			},
			{
				Name:      "set",
				Usage:     "Save a single value",
				ArgsUsage: "KEY VALUE",
				Action:    configSetAction,
			},
			{
				Name:   "clear-credentials",
				Usage:  "Blank every saved credential",
				Action: configClearAction,
			},
			{
				Name:   "path",
				Usage:  "Print the configuration directory",
				Action: configPathAction,
			},
		},
	}
}

func openStore(c *cli.Context) (config.Store, error) {
	container, err := containerFrom(c)
	if err != nil {
		return nil, err
	}
	store, err := di.Get[config.Store](container)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration: %w", err)
	}
	return store, nil
}

func configShowAction(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}

	reveal := c.Bool("reveal")
	if c.String("output") == "json" {
		credentials := store.Credentials()
		if !reveal {
			for k, v := range credentials {
				credentials[k] = Mask(v)
			}
		}
		return RenderJSON(c.App.Writer, map[string]map[string]string{
			"configuration": store.Configuration(),
			"credentials":   credentials,
		})
	}

	fmt.Fprintln(c.App.Writer, "Configuration:")
	RenderValues(c.App.Writer, store.Configuration(), reveal)
	fmt.Fprintln(c.App.Writer, "\nCredentials:")
	RenderValues(c.App.Writer, store.Credentials(), reveal)
	return nil
}

func configSetAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)

	if c.NArg() != 2 {
		return fmt.Errorf("expected KEY VALUE, got %d argument(s)", c.NArg())
	}
	key, value := c.Args().Get(0), c.Args().Get(1)

	store, err := openStore(c)
	if err != nil {
		return err
	}

	switch {
	case config.IsCredentialKey(key):
		err = store.UpdateCredentials(map[string]string{key: value})
	case isConfigurationKey(key):
		err = store.UpdateConfiguration(map[string]string{key: value})
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	if err != nil {
		return err
	}

	logger.Info().Str("key", key).Msg("Value saved")
	return nil
}

func configClearAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)

	store, err := openStore(c)
	if err != nil {
		return err
	}
	if err := store.ClearCredentials(); err != nil {
		return err
	}

	logger.Info().Msg("Credentials cleared")
	return nil
}

func configPathAction(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	if fileStore, ok := store.(*config.FileStore); ok {
		fmt.Fprintln(c.App.Writer, fileStore.Dir())
		return nil
	}
	return fmt.Errorf("configuration is not stored on disk")
}
