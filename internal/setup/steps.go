// Package setup assembles the SAP deployment setup pipeline from the Azure and GitHub services.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/constants"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"github.com/sapautomation/sdaf-setup/internal/models"
	"github.com/sapautomation/sdaf-setup/internal/orchestrator"
	"github.com/sapautomation/sdaf-setup/internal/services"
)

// Step names, in default execution order
const (
	StepGitHubAppSetup      = "github_app_setup"
	StepAzureLogin          = "azure_login"
	StepSPNCreation         = "spn_creation"
	StepEnvironmentCreation = "environment_creation"
	StepEnvironmentSecrets  = "environment_secrets"
	StepFederatedIdentity   = "federated_identity"
)

// AzureClient is the Azure side of the setup
type AzureClient interface {
	CheckLogin(ctx context.Context) (*services.Account, error)
	Login(ctx context.Context) error
	SetSubscription(ctx context.Context, subscriptionID string) error
	ProvisionServicePrincipal(ctx context.Context, subscriptionID, name string) (*models.IdentityRecord, error)
	ProvisionManagedIdentity(ctx context.Context, subscriptionID, resourceGroup, name, location string) (*models.IdentityRecord, *services.RoleResult, error)
	UseExistingPrincipal(ctx context.Context, subscriptionID, appID string, rotate bool) (*models.IdentityRecord, error)
	ConfigureFederation(ctx context.Context, appID, repo, environment string) error
}

// SecretPublisher writes secrets and variables to GitHub
type SecretPublisher interface {
	PublishRepositorySecrets(ctx context.Context, repo string, values map[string]string) (*services.PublishResult, error)
	PublishEnvironmentSecrets(ctx context.Context, repo, environment string, values map[string]string) (*services.PublishResult, error)
	PublishEnvironmentVariables(ctx context.Context, repo, environment string, values map[string]string) (*services.PublishResult, error)
}

// EnvironmentActivator creates the GitHub environment through a workflow
type EnvironmentActivator interface {
	Activate(ctx context.Context, repo string, inputs services.WorkflowInputs) error
	Wait(ctx context.Context, repo, prefix string, timeout, interval time.Duration) (string, error)
}

// EnvironmentLookup resolves an environment that already exists
type EnvironmentLookup interface {
	GetEnvironment(ctx context.Context, repo, environment string) (*services.GitHubEnvironment, error)
}

// Dependencies are the collaborators of the setup steps
type Dependencies struct {
	Azure        AzureClient
	Publisher    SecretPublisher
	Activator    EnvironmentActivator
	Environments EnvironmentLookup
}

type steps struct {
	deps Dependencies
}

func (s steps) githubAppSetup(ctx context.Context, state *models.SetupState) error {
	in := state.Input
	if in.GitHubAppID == "" {
		return orchestrator.Skip("no github app configured")
	}

	_, err := s.deps.Publisher.PublishRepositorySecrets(ctx, in.RepositoryName, map[string]string{
		constants.SecretApplicationID:         in.GitHubAppID,
		constants.SecretApplicationPrivateKey: in.GitHubPrivateKey,
	})
	return err
}

func (s steps) azureLogin(ctx context.Context, state *models.SetupState) error {
	logger := zerolog.Ctx(ctx)
	in := &state.Input

	account, err := s.deps.Azure.CheckLogin(ctx)
	if errors.Is(err, sdaferrors.ErrNotLoggedIn) {
		if !in.AllowLogin {
			return fmt.Errorf("%w: run 'az login' first or allow interactive login", err)
		}
		logger.Info().Msg("Not logged in to Azure, starting az login")
		if err := s.deps.Azure.Login(ctx); err != nil {
			return err
		}
		account, err = s.deps.Azure.CheckLogin(ctx)
	}
	if err != nil {
		return err
	}

	if in.SubscriptionID != "" && in.SubscriptionID != account.ID {
		if err := s.deps.Azure.SetSubscription(ctx, in.SubscriptionID); err != nil {
			return err
		}
		if account, err = s.deps.Azure.CheckLogin(ctx); err != nil {
			return err
		}
	}
	if in.SubscriptionID == "" {
		in.SubscriptionID = account.ID
	}
	if in.TenantID == "" {
		in.TenantID = account.TenantID
	}

	logger.Info().
		Str("account", account.Name).
		Str("subscription_id", in.SubscriptionID).
		Str("tenant_id", in.TenantID).
		Msg("Azure login verified")
	return nil
}

func (s steps) identity(ctx context.Context, state *models.SetupState) error {
	logger := zerolog.Ctx(ctx)
	in := state.Input

	switch {
	case in.ExistingAppID != "":
		record, err := s.deps.Azure.UseExistingPrincipal(ctx, in.SubscriptionID, in.ExistingAppID, in.RotateSecret)
		if err != nil {
			return err
		}
		if in.RotateSecret {
			state.RecordCreated("client secret rbac on app %s", record.ClientID)
		} else {
			record.Secret = in.ClientSecret
		}
		state.Identity = record

	case in.Mode == models.ModeManagedIdentity:
		name := in.ManagedIdentityName()
		resourceGroup := in.ManagedIdentityResourceGroup()
		record, roles, err := s.deps.Azure.ProvisionManagedIdentity(ctx, in.SubscriptionID, resourceGroup, name, in.Region)
		if err != nil {
			return err
		}
		if err := roles.Err(); err != nil {
			logger.Warn().Err(err).Msg("Some role assignments failed and must be granted manually")
		}
		state.RecordCreated("managed identity %s in resource group %s", name, resourceGroup)
		state.Identity = record

	case in.Mode == models.ModeServicePrincipal:
		if in.SPNName == "" {
			return fmt.Errorf("%w: service principal name", sdaferrors.ErrMissingField)
		}
		record, err := s.deps.Azure.ProvisionServicePrincipal(ctx, in.SubscriptionID, in.SPNName)
		if err != nil {
			return err
		}
		state.RecordCreated("service principal %s (app id %s)", in.SPNName, record.ClientID)
		state.Identity = record

	default:
		return fmt.Errorf("%w: %q", sdaferrors.ErrInvalidMode, in.Mode)
	}

	return nil
}

func (s steps) environment(ctx context.Context, state *models.SetupState) error {
	in := state.Input

	if in.ExistingEnvironment != "" {
		env, err := s.deps.Environments.GetEnvironment(ctx, in.RepositoryName, in.ExistingEnvironment)
		if err != nil {
			return err
		}
		state.EnvironmentName = env.Name
		return nil
	}

	if err := s.deps.Activator.Activate(ctx, in.RepositoryName, services.WorkflowInputs{
		Environment:  in.Environment,
		Region:       in.Region,
		DeployerVNet: in.VNetName,
	}); err != nil {
		return err
	}

	name, err := s.deps.Activator.Wait(ctx, in.RepositoryName, in.Environment, in.WaitTimeout, in.PollInterval)
	if err != nil {
		return fmt.Errorf("environment %s was not created: %w", in.Environment, err)
	}

	state.EnvironmentName = name
	state.RecordCreated("github environment %s", name)
	return nil
}

// EnvironmentValues splits what the deployment workflows read into variables and secrets
func EnvironmentValues(in models.SetupInput, identity *models.IdentityRecord) (variables, secrets map[string]string) {
	variables = map[string]string{
		constants.AzureSubscriptionID: in.SubscriptionID,
		constants.AzureTenantID:       in.TenantID,
		constants.UseMSI:              strconv.FormatBool(identity.Mode == models.ModeManagedIdentity),
		constants.SUsername:           in.SUsername,
		constants.AzureClientID:       identity.ClientID,
		constants.AzureObjectID:       identity.ObjectID,
	}
	secrets = map[string]string{
		constants.SPassword: in.SPassword,
	}
	if identity.Mode == models.ModeServicePrincipal {
		secrets[constants.AzureClientSecret] = identity.Secret
	}
	return variables, secrets
}

func (s steps) environmentSecrets(ctx context.Context, state *models.SetupState) error {
	if state.Identity == nil {
		return fmt.Errorf("%w: identity", sdaferrors.ErrMissingField)
	}
	if state.EnvironmentName == "" {
		return fmt.Errorf("%w: environment name", sdaferrors.ErrMissingField)
	}

	in := state.Input
	variables, secrets := EnvironmentValues(in, state.Identity)

	_, varErr := s.deps.Publisher.PublishEnvironmentVariables(ctx, in.RepositoryName, state.EnvironmentName, variables)
	if errors.Is(varErr, sdaferrors.ErrEnvironmentNotFound) {
		return varErr
	}
	_, secretErr := s.deps.Publisher.PublishEnvironmentSecrets(ctx, in.RepositoryName, state.EnvironmentName, secrets)

	return errors.Join(varErr, secretErr)
}

func (s steps) federation(ctx context.Context, state *models.SetupState) error {
	if state.Identity == nil {
		return fmt.Errorf("%w: identity", sdaferrors.ErrMissingField)
	}
	if !state.Identity.UsesFederation() {
		return orchestrator.Skip("managed identity is not federated through an app registration")
	}

	environment := state.EnvironmentName
	if environment == "" {
		environment = state.Input.ExistingEnvironment
	}
	if environment == "" {
		return fmt.Errorf("%w: environment name", sdaferrors.ErrMissingField)
	}

	if err := s.deps.Azure.ConfigureFederation(ctx, state.Identity.ClientID, state.Input.RepositoryName, environment); err != nil {
		return err
	}
	state.RecordCreated("federated credential %s on app %s", constants.FederatedCredentialName, state.Identity.ClientID)
	return nil
}
