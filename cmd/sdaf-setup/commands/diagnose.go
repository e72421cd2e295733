package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/config"
	"github.com/sapautomation/sdaf-setup/internal/constants"
	"github.com/sapautomation/sdaf-setup/internal/di"
	"github.com/sapautomation/sdaf-setup/internal/services"
	"github.com/sapautomation/sdaf-setup/internal/validate"
	"github.com/urfave/cli/v2"
)

// DiagnoseCommand returns the diagnose command for checking an existing service principal
func DiagnoseCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "diagnose",
		Usage: "Check the roles and federated credentials of a service principal",
		Description: `Look up a service principal, list its role assignments on the subscription and
report which of the roles the deployment needs are missing. With --issuer the GitHub Actions
OIDC discovery document is fetched as well.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "app-id",
				Usage:   "Application (client) id; defaults to the saved azure_client_id",
				EnvVars: []string{"SDAF_APP_ID"},
			},
			&cli.StringFlag{
				Name:    "subscription-id",
				Usage:   "Subscription to inspect; defaults to the saved value, then the az session",
				EnvVars: []string{"SDAF_SUBSCRIPTION_ID", "ARM_SUBSCRIPTION_ID"},
			},
			&cli.BoolFlag{
				Name:  "issuer",
				Usage: "Also verify the GitHub Actions OIDC issuer",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "table or json",
				Value: "table",
			},
		},
		Action: diagnoseAction,
	}
}

func diagnoseAction(c *cli.Context) error {
	ctx := c.Context
	logger := zerolog.Ctx(ctx)

	container, err := containerFrom(c)
	if err != nil {
		return err
	}
	store, err := di.Get[config.Store](container)
	if err != nil {
		return fmt.Errorf("failed to open configuration: %w", err)
	}
	azure, err := di.Get[*services.AzureService](container)
	if err != nil {
		return err
	}

	appID := c.String("app-id")
	if appID == "" {
		appID = store.Credentials()[config.KeyAzureClientID]
	}
	if err := validate.UUID("app id", appID); err != nil {
		return err
	}

	subscriptionID := c.String("subscription-id")
	if subscriptionID == "" {
		subscriptionID = store.Configuration()[config.KeySubscriptionID]
	}
	if subscriptionID == "" {
		account, err := azure.CheckLogin(ctx)
		if err != nil {
			return err
		}
		subscriptionID = account.ID
	}

	diagnosis, err := azure.DiagnosePrincipal(ctx, appID, subscriptionID)
	if err != nil {
		return err
	}

	var issuer *services.IssuerInfo
	if c.Bool("issuer") {
		issuer, err = services.NewIssuerChecker(constants.GitHubTokenIssuer).Check(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("OIDC issuer check failed")
		}
	}

	if c.String("output") == "json" {
		return RenderJSON(c.App.Writer, map[string]any{
			"principal": diagnosis,
			"healthy":   diagnosis.Healthy(),
			"issuer":    issuer,
		})
	}

	RenderDiagnosis(c.App.Writer, diagnosis)
	if issuer != nil {
		fmt.Fprintf(c.App.Writer, "✓ issuer %s publishes keys at %s\n", issuer.Issuer, issuer.JWKSURL)
		if !issuer.SupportsClaim("sub") {
			fmt.Fprintln(c.App.Writer, "✗ issuer does not advertise the sub claim used by federated credentials")
		}
	}
	if !diagnosis.Healthy() {
		return fmt.Errorf("service principal %s is missing %d role(s)", appID, len(diagnosis.MissingRoles))
	}
	return err
}
