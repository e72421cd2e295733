package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/config"
	"github.com/sapautomation/sdaf-setup/internal/constants"
	"github.com/sapautomation/sdaf-setup/internal/di"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"github.com/sapautomation/sdaf-setup/internal/models"
	"github.com/sapautomation/sdaf-setup/internal/orchestrator"
	"github.com/sapautomation/sdaf-setup/internal/policy"
	"github.com/sapautomation/sdaf-setup/internal/services"
	"github.com/sapautomation/sdaf-setup/internal/setup"
	"github.com/sapautomation/sdaf-setup/internal/utils"
	"github.com/sapautomation/sdaf-setup/internal/validate"
	"github.com/urfave/cli/v2"
)

// flagKeys maps string flags onto the keys shared with the answers file and the store
var flagKeys = map[string]string{
	"server-url":           config.KeyServerURL,
	"repo":                 config.KeyRepositoryName,
	"github-token":         config.KeyGitHubToken,
	"github-app-id":        config.KeyGitHubAppID,
	"github-private-key":   config.KeyGitHubPrivateKey,
	"environment":          config.KeyEnvironment,
	"region":               config.KeyRegion,
	"vnet-name":            config.KeyVNetName,
	"subscription-id":      config.KeySubscriptionID,
	"tenant-id":            config.KeyTenantID,
	"identity-mode":        config.KeyIdentityMode,
	"spn-name":             config.KeySPNName,
	"resource-group":       config.KeyResourceGroup,
	"identity-name":        KeyIdentityName,
	"existing-app-id":      KeyExistingAppID,
	"client-secret":        config.KeyAzureClientSecret,
	"existing-environment": KeyExistingEnvironment,
	"s-username":           config.KeySUsername,
	"s-password":           config.KeySPassword,
}

// SetupCommand returns the setup command that runs the full pipeline
func SetupCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Configure Azure identities and GitHub environments for SAP deployment automation",
		Description: `Run the complete setup for a repository created from the SAP automation template.

The setup runs these steps in order and stops at the first failure:
  - github_app_setup:     store the GitHub App id and private key as repository secrets
  - azure_login:          verify (or start) the az CLI session and select the subscription
  - spn_creation:         create a service principal or a managed identity, or reuse an app
  - environment_creation: dispatch the create-environment workflow and wait for the environment
  - environment_secrets:  write the Azure identity into the environment's variables and secrets
  - federated_identity:   trust GitHub Actions tokens for the environment (service principals only)

Values are taken from flags, then the --answers file, then the saved configuration. Anything
still missing is prompted for when running in a terminal.

Examples:
  # Interactive
  sdaf-setup setup --repo contoso/sap-automation

  # Unattended with a managed identity
  sdaf-setup setup --answers answers.yaml --identity-mode managed_identity`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Repository in format 'owner/repo'",
				EnvVars: []string{"SDAF_REPOSITORY"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "GitHub server url (GitHub Enterprise Server is supported)",
				EnvVars: []string{"SDAF_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "github-token",
				Usage:   "GitHub personal access token with repo and workflow scope",
				EnvVars: []string{"SDAF_GITHUB_TOKEN", "GITHUB_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "github-app-id",
				Usage:   "GitHub App id stored as APPLICATION_ID",
				EnvVars: []string{"SDAF_GITHUB_APP_ID"},
			},
			&cli.StringFlag{
				Name:    "github-private-key",
				Usage:   "GitHub App private key, PEM text or a path to the .pem file",
				EnvVars: []string{"SDAF_GITHUB_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    "environment",
				Aliases: []string{"e"},
				Usage:   "Environment code, up to 5 letters or digits (e.g. DEV)",
				EnvVars: []string{"SDAF_ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "region",
				Usage:   "Azure region of the deployer (e.g. westeurope)",
				EnvVars: []string{"SDAF_REGION"},
			},
			&cli.StringFlag{
				Name:    "vnet-name",
				Usage:   "Deployer virtual network name, up to 7 letters or digits",
				EnvVars: []string{"SDAF_VNET_NAME"},
			},
			&cli.StringFlag{
				Name:    "subscription-id",
				Usage:   "Azure subscription id",
				EnvVars: []string{"SDAF_SUBSCRIPTION_ID", "ARM_SUBSCRIPTION_ID"},
			},
			&cli.StringFlag{
				Name:    "tenant-id",
				Usage:   "Azure tenant id (defaults to the tenant of the az session)",
				EnvVars: []string{"SDAF_TENANT_ID", "ARM_TENANT_ID"},
			},
			&cli.StringFlag{
				Name:    "identity-mode",
				Usage:   "service_principal or managed_identity",
				EnvVars: []string{"SDAF_IDENTITY_MODE"},
			},
			&cli.StringFlag{
				Name:    "spn-name",
				Usage:   "Display name of the service principal to create",
				EnvVars: []string{"SDAF_SPN_NAME"},
			},
			&cli.StringFlag{
				Name:  "resource-group",
				Usage: "Resource group of the managed identity (defaults to '{ENV}-INFRASTRUCTURE-RG')",
			},
			&cli.StringFlag{
				Name:  "identity-name",
				Usage: "Managed identity name (defaults to '{env}-github-identity')",
			},
			&cli.StringFlag{
				Name:  "existing-app-id",
				Usage: "Reuse this app registration instead of creating a service principal",
			},
			&cli.StringFlag{
				Name:    "client-secret",
				Usage:   "Client secret of --existing-app-id",
				EnvVars: []string{"SDAF_CLIENT_SECRET"},
			},
			&cli.BoolFlag{
				Name:  "rotate-secret",
				Usage: "Reset the client secret of --existing-app-id",
			},
			&cli.StringFlag{
				Name:  "existing-environment",
				Usage: "Use this GitHub environment instead of dispatching the create-environment workflow",
			},
			&cli.StringFlag{
				Name:    "s-username",
				Usage:   "SAP S-user name for software downloads",
				EnvVars: []string{"SDAF_S_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "s-password",
				Usage:   "SAP S-user password",
				EnvVars: []string{"SDAF_S_PASSWORD"},
			},
			&cli.BoolFlag{
				Name:  "login",
				Usage: "Run 'az login' when there is no active session",
			},
			&cli.DurationFlag{
				Name:  "wait-timeout",
				Usage: "How long to wait for the environment to appear",
				Value: services.DefaultWaitTimeout,
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Delay between environment listings",
				Value: services.DefaultPollInterval,
			},
			&cli.StringFlag{
				Name:    "answers",
				Aliases: []string{"a"},
				Usage:   "YAML file with setup values for unattended runs (disables prompts)",
				EnvVars: []string{"SDAF_ANSWERS"},
			},
			&cli.BoolFlag{
				Name:  "no-save",
				Usage: "Do not persist values and credentials",
			},
			&cli.BoolFlag{
				Name:  "verify-issuer",
				Usage: "Check the GitHub Actions OIDC issuer before federating",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Report format: table or json",
				Value: "table",
			},
		},
		Action: setupAction,
	}
}

// RunOptions are the non-string settings of a run
type RunOptions struct {
	RotateSecret bool
	AllowLogin   bool
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

func setupAction(c *cli.Context) error {
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

	answers, err := LoadAnswers(c.String("answers"))
	if err != nil {
		return err
	}

	flags := map[string]string{}
	for name, key := range flagKeys {
		flags[key] = c.String(name)
	}

	var prompter Prompter
	if c.String("answers") == "" {
		prompter = NewPrompter()
	}
	defer func() {
		if prompter != nil {
			_ = prompter.Close()
		}
	}()

	stored := utils.MergeValues(store.Configuration(), store.Credentials())
	collector := NewCollector(stored, answers, flags, prompter, os.Stderr)

	input, err := CollectInput(collector, RunOptions{
		RotateSecret: c.Bool("rotate-secret"),
		AllowLogin:   c.Bool("login"),
		WaitTimeout:  c.Duration("wait-timeout"),
		PollInterval: c.Duration("poll-interval"),
	})
	if err != nil {
		return err
	}
	if prompter != nil {
		// release the terminal before the pipeline prints progress
		_ = prompter.Close()
		prompter = nil
	}

	validator, err := di.Get[*policy.Validator](container)
	if err != nil {
		return fmt.Errorf("failed to load preflight policy: %w", err)
	}
	result, err := validator.Validate(ctx, input)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", sdaferrors.ErrPreflight, strings.Join(result.Violations, "; "))
	}

	if c.Bool("verify-issuer") && input.Mode == models.ModeServicePrincipal {
		info, err := services.NewIssuerChecker(constants.GitHubTokenIssuer).Check(ctx)
		if err != nil {
			return err
		}
		if !info.SupportsClaim("sub") {
			return fmt.Errorf("issuer %s does not advertise the sub claim", info.Issuer)
		}
		logger.Info().Str("issuer", info.Issuer).Msg("OIDC issuer verified")
	}

	scope, err := di.GitHubScope(container, input.GitHubToken, input.ServerURL)
	if err != nil {
		return err
	}
	github, err := di.Get[*services.GitHubService](scope)
	if err != nil {
		return fmt.Errorf("failed to initialize github client: %w", err)
	}
	repository, err := github.GetRepository(ctx, input.RepositoryName)
	if err != nil {
		return fmt.Errorf("%w: %w", sdaferrors.ErrPreflight, err)
	}
	logger.Info().Str("repository", repository.FullName).Msg("GitHub repository reachable")

	save := !c.Bool("no-save")
	if save {
		if err := persist(store, collector.Values()); err != nil {
			return err
		}
	}

	deps, err := di.Get[setup.Dependencies](scope)
	if err != nil {
		return fmt.Errorf("failed to initialize setup: %w", err)
	}

	out, progress := c.App.Writer, c.App.Writer
	asJSON := c.String("output") == "json"
	if asJSON {
		progress = c.App.ErrWriter
	}
	state := models.NewSetupState(input)
	pipeline := setup.Build(deps, input, orchestrator.WithObserver(ProgressObserver(progress)))

	report := <-pipeline.RunAsync(ctx, state)

	if save && state.Identity != nil {
		if err := store.UpdateCredentials(IdentityCredentials(state.Identity)); err != nil {
			logger.Warn().Err(err).Msg("Failed to save identity credentials")
		}
	}

	if asJSON {
		if err := RenderJSON(out, report); err != nil {
			return err
		}
	} else {
		RenderReport(out, report)
	}

	if failed := report.Failed(); failed != nil {
		return fmt.Errorf("setup failed at %s: %w", failed.Name, failed.Err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	return nil
}

// CollectInput resolves every setup value. Which fields are required depends on the
// identity mode and on whether an existing environment or app registration is reused.
func CollectInput(c *Collector, opts RunOptions) (models.SetupInput, error) {
	var (
		in  models.SetupInput
		err error
	)
	in.RotateSecret = opts.RotateSecret
	in.AllowLogin = opts.AllowLogin
	in.WaitTimeout = opts.WaitTimeout
	in.PollInterval = opts.PollInterval

	get := func(target *string, f Field) {
		if err != nil {
			return
		}
		*target, err = c.Get(f)
	}

	get(&in.ServerURL, Field{Key: config.KeyServerURL, Label: "GitHub server url", Required: true, Check: validate.ServerURL})
	get(&in.RepositoryName, Field{Key: config.KeyRepositoryName, Label: "Repository (owner/repo)", Required: true, Check: validate.RepoName})
	get(&in.GitHubToken, Field{Key: config.KeyGitHubToken, Label: "GitHub personal access token", Secret: true, Required: true, Check: validate.Token})
	get(&in.GitHubAppID, Field{Key: config.KeyGitHubAppID, Label: "GitHub App id", Ask: true, Check: validate.AppID})
	get(&in.GitHubPrivateKey, Field{Key: config.KeyGitHubPrivateKey, Label: "Path to the GitHub App private key", Required: in.GitHubAppID != ""})
	get(&in.ExistingEnvironment, Field{Key: KeyExistingEnvironment})
	get(&in.Environment, Field{Key: config.KeyEnvironment, Label: "Environment code (e.g. DEV)", Required: true, Check: validate.EnvironmentCode})

	creating := in.ExistingEnvironment == ""
	get(&in.Region, Field{Key: config.KeyRegion, Label: "Azure region", Required: creating, Check: validate.Region})
	get(&in.VNetName, Field{Key: config.KeyVNetName, Label: "Deployer virtual network name", Required: creating, Check: validate.VNetName})
	get(&in.SubscriptionID, Field{Key: config.KeySubscriptionID, Label: "Azure subscription id", Required: true, Check: validate.SubscriptionID})
	get(&in.TenantID, Field{Key: config.KeyTenantID, Check: validate.TenantID})

	var mode string
	get(&mode, Field{Key: config.KeyIdentityMode, Check: func(s string) error {
		_, err := models.ParseMode(s)
		return err
	}})
	if err != nil {
		return in, err
	}
	if in.Mode, err = models.ParseMode(mode); err != nil {
		return in, err
	}

	get(&in.ExistingAppID, Field{Key: KeyExistingAppID, Check: func(s string) error { return validate.UUID("app id", s) }})
	switch {
	case in.Mode == models.ModeManagedIdentity:
		get(&in.ResourceGroup, Field{Key: config.KeyResourceGroup})
		get(&in.IdentityName, Field{Key: KeyIdentityName})
	case in.ExistingAppID != "" && !in.RotateSecret:
		// a saved secret belongs to the saved app
		if !strings.EqualFold(c.Values()[config.KeyAzureClientID], in.ExistingAppID) {
			c.Forget(config.KeyAzureClientSecret)
		}
		get(&in.ClientSecret, Field{Key: config.KeyAzureClientSecret, Label: "Client secret of the existing app", Secret: true, Required: true})
	case in.ExistingAppID == "":
		get(&in.SPNName, Field{Key: config.KeySPNName, Label: "Service principal name", Required: true})
	}

	get(&in.SUsername, Field{Key: config.KeySUsername, Label: "SAP S-user name", Ask: true})
	get(&in.SPassword, Field{Key: config.KeySPassword, Label: "SAP S-user password", Secret: true, Required: in.SUsername != ""})
	if err != nil {
		return in, err
	}

	if in.GitHubPrivateKey, err = PrivateKey(in.GitHubPrivateKey); err != nil {
		return in, fmt.Errorf("invalid %s: %w", config.KeyGitHubPrivateKey, err)
	}
	return in, nil
}

// IdentityCredentials is what the store keeps about the provisioned identity
func IdentityCredentials(identity *models.IdentityRecord) map[string]string {
	return map[string]string{
		config.KeyAzureClientID:     identity.ClientID,
		config.KeyAzureObjectID:     identity.ObjectID,
		config.KeyAzureClientSecret: identity.Secret,
	}
}

func persist(store config.Store, values map[string]string) error {
	configuration, credentials := Split(values)
	if err := store.UpdateConfiguration(configuration); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	if err := store.UpdateCredentials(credentials); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}
