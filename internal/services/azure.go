package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/azcli"
	"github.com/sapautomation/sdaf-setup/internal/constants"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"github.com/sapautomation/sdaf-setup/internal/models"
)

// credentialDisplayName labels client secrets created by a reset
const credentialDisplayName = "rbac"

// AzureService provisions identities and trust relationships through the Azure CLI
type AzureService struct {
	runner azcli.Runner
}

// Account is the subset of `az account show` the setup needs
type Account struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	User     struct {
		Name string `json:"name"`
	} `json:"user"`
}

// RoleResult reports best-effort role assignments
type RoleResult struct {
	Assigned []string
	Failed   map[string]error
	order    []string
}

// Err joins the failed assignments in the order they were attempted
func (r *RoleResult) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, role := range r.order {
		if err, ok := r.Failed[role]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

// FederatedCredential is the parameter document of `az ad app federated-credential create`
type FederatedCredential struct {
	Name        string   `json:"name"`
	Issuer      string   `json:"issuer"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Audiences   []string `json:"audiences"`
}

// Diagnosis summarizes the state of an existing service principal
type Diagnosis struct {
	AppID        string
	ObjectID     string
	DisplayName  string
	Roles        []string
	MissingRoles []string
	Federated    []string
}

// Healthy reports whether every required role is present
func (d *Diagnosis) Healthy() bool {
	return len(d.MissingRoles) == 0
}

type servicePrincipal struct {
	ID          string `json:"id"`
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
}

type roleAssignment struct {
	ID                 string `json:"id"`
	RoleDefinitionName string `json:"roleDefinitionName"`
	Scope              string `json:"scope"`
}

func NewAzureService(runner azcli.Runner) *AzureService {
	return &AzureService{runner: runner}
}

// SubscriptionScope returns the ARM scope of a subscription
func SubscriptionScope(subscriptionID string) string {
	return "/subscriptions/" + subscriptionID
}

// FederationSubject is the subject claim GitHub puts in tokens issued to jobs in an environment
func FederationSubject(repo, environment string) string {
	return fmt.Sprintf("repo:%s:environment:%s", repo, environment)
}

// CheckLogin returns the active account. Any failure other than a missing tool is ErrNotLoggedIn.
func (a *AzureService) CheckLogin(ctx context.Context) (*Account, error) {
	var account Account
	if err := azcli.RunJSON(ctx, a.runner, &account, "account", "show", "--output", "json"); err != nil {
		if errors.Is(err, sdaferrors.ErrToolNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", sdaferrors.ErrNotLoggedIn, err)
	}
	return &account, nil
}

// Login runs the interactive az login with the Graph scope
func (a *AzureService) Login(ctx context.Context) error {
	if _, err := a.runner.Run(ctx, "login", "--scope", constants.GraphLoginScope, "--output", "none"); err != nil {
		return fmt.Errorf("failed to log in to azure: %w", err)
	}
	return nil
}

// SetSubscription makes subscriptionID the default for later calls
func (a *AzureService) SetSubscription(ctx context.Context, subscriptionID string) error {
	if _, err := a.runner.Run(ctx, "account", "set", "--subscription", subscriptionID); err != nil {
		return fmt.Errorf("failed to set subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// ProvisionServicePrincipal creates an app registration with Contributor on the subscription,
// looks up its object id and grants User Access Administrator. Every call is fatal.
func (a *AzureService) ProvisionServicePrincipal(ctx context.Context, subscriptionID, name string) (*models.IdentityRecord, error) {
	logger := zerolog.Ctx(ctx)
	scope := SubscriptionScope(subscriptionID)

	logger.Info().
		Str("name", name).
		Str("scope", scope).
		Msg("Creating service principal")

	var created struct {
		AppID    string `json:"appId"`
		Password string `json:"password"`
		Tenant   string `json:"tenant"`
	}
	if err := azcli.RunJSON(ctx, a.runner, &created,
		"ad", "sp", "create-for-rbac",
		"--name", name,
		"--role", constants.ContributorRole,
		"--scopes", scope,
		"--only-show-errors",
		"--output", "json",
	); err != nil {
		return nil, fmt.Errorf("failed to create service principal %s: %w", name, err)
	}
	if created.AppID == "" {
		return nil, fmt.Errorf("failed to create service principal %s: output has no appId", name)
	}

	objectID, err := a.principalObjectID(ctx, created.AppID)
	if err != nil {
		return nil, err
	}

	if _, err := a.EnsureUserAccessAdministrator(ctx, created.AppID, subscriptionID); err != nil {
		return nil, err
	}

	logger.Info().
		Str("app_id", created.AppID).
		Str("object_id", objectID).
		Msg("Service principal ready")

	return &models.IdentityRecord{
		Mode:     models.ModeServicePrincipal,
		ClientID: created.AppID,
		Secret:   created.Password,
		ObjectID: objectID,
	}, nil
}

// UseExistingPrincipal reuses an app registration, optionally rotating its secret
func (a *AzureService) UseExistingPrincipal(ctx context.Context, subscriptionID, appID string, rotate bool) (*models.IdentityRecord, error) {
	logger := zerolog.Ctx(ctx)

	objectID, err := a.principalObjectID(ctx, appID)
	if err != nil {
		return nil, err
	}

	record := &models.IdentityRecord{
		Mode:     models.ModeServicePrincipal,
		ClientID: appID,
		ObjectID: objectID,
	}

	if rotate {
		secret, err := a.ResetSecret(ctx, appID)
		if err != nil {
			return nil, err
		}
		record.Secret = secret
		logger.Info().Str("app_id", appID).Msg("Rotated service principal secret")
	}

	if _, err := a.EnsureUserAccessAdministrator(ctx, appID, subscriptionID); err != nil {
		return nil, err
	}

	return record, nil
}

// EnsureUserAccessAdministrator assigns the role at subscription scope unless the list query
// shows it is already held. created reports whether an assignment was made.
func (a *AzureService) EnsureUserAccessAdministrator(ctx context.Context, appID, subscriptionID string) (created bool, err error) {
	logger := zerolog.Ctx(ctx)
	scope := SubscriptionScope(subscriptionID)
	role := constants.UserAccessAdministratorRole

	var assignments []roleAssignment
	if err := azcli.RunJSON(ctx, a.runner, &assignments,
		"role", "assignment", "list",
		"--assignee", appID,
		"--role", role,
		"--scope", scope,
		"--output", "json",
	); err != nil {
		return false, fmt.Errorf("failed to list role assignments for %s: %w", appID, err)
	}

	if len(assignments) > 0 {
		logger.Info().
			Str("app_id", appID).
			Str("role", role).
			Msg("Role already assigned")
		return false, nil
	}

	if _, err := a.runner.Run(ctx,
		"role", "assignment", "create",
		"--assignee", appID,
		"--role", role,
		"--scope", scope,
		"--only-show-errors",
		"--output", "none",
	); err != nil {
		return false, fmt.Errorf("failed to assign %s to %s: %w", role, appID, err)
	}

	logger.Info().
		Str("app_id", appID).
		Str("role", role).
		Msg("Assigned role")

	return true, nil
}

// ResetSecret creates a new client secret, trying the app registration first and the
// service principal second
func (a *AzureService) ResetSecret(ctx context.Context, appID string) (string, error) {
	logger := zerolog.Ctx(ctx)

	args := []string{"ad", "app", "credential", "reset", "--id", appID, "--display-name", credentialDisplayName, "--output", "json"}
	out, err := a.runner.Run(ctx, args...)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("app_id", appID).
			Msg("App credential reset failed, trying service principal credential reset")

		args = []string{"ad", "sp", "credential", "reset", "--id", appID, "--name", credentialDisplayName, "--output", "json"}
		out, err = a.runner.Run(ctx, args...)
		if err != nil {
			return "", fmt.Errorf("failed to reset credential for %s: %w", appID, err)
		}
	}

	secret, err := ParseCredentialReset(args, out)
	if err != nil {
		return "", fmt.Errorf("failed to reset credential for %s: %w", appID, err)
	}
	return secret, nil
}

// ProvisionManagedIdentity creates a user-assigned identity in resourceGroup, creating the group
// when absent, then assigns ManagedIdentityRoles one by one. Only the identity itself is fatal.
func (a *AzureService) ProvisionManagedIdentity(ctx context.Context, subscriptionID, resourceGroup, name, location string) (*models.IdentityRecord, *RoleResult, error) {
	logger := zerolog.Ctx(ctx)

	if err := a.ensureResourceGroup(ctx, subscriptionID, resourceGroup, location); err != nil {
		return nil, nil, err
	}

	var identity struct {
		ID          string `json:"id"`
		PrincipalID string `json:"principalId"`
		ClientID    string `json:"clientId"`
	}
	if err := azcli.RunJSON(ctx, a.runner, &identity,
		"identity", "create",
		"--name", name,
		"--resource-group", resourceGroup,
		"--location", location,
		"--subscription", subscriptionID,
		"--query", "{id:id, principalId:principalId, clientId:clientId}",
		"--output", "json",
	); err != nil {
		return nil, nil, fmt.Errorf("failed to create managed identity %s: %w", name, err)
	}
	if identity.PrincipalID == "" || identity.ClientID == "" {
		return nil, nil, fmt.Errorf("failed to create managed identity %s: output is missing principalId or clientId", name)
	}

	logger.Info().
		Str("name", name).
		Str("client_id", identity.ClientID).
		Str("principal_id", identity.PrincipalID).
		Msg("Managed identity created")

	roles := a.assignRoles(ctx, identity.PrincipalID, SubscriptionScope(subscriptionID), constants.ManagedIdentityRoles)

	return &models.IdentityRecord{
		Mode:       models.ModeManagedIdentity,
		ClientID:   identity.ClientID,
		ObjectID:   identity.PrincipalID,
		ResourceID: identity.ID,
	}, roles, nil
}

func (a *AzureService) ensureResourceGroup(ctx context.Context, subscriptionID, resourceGroup, location string) error {
	logger := zerolog.Ctx(ctx)

	exists, err := azcli.RunText(ctx, a.runner, "group", "exists", "--name", resourceGroup, "--subscription", subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to check resource group %s: %w", resourceGroup, err)
	}
	if exists == "true" {
		logger.Info().Str("resource_group", resourceGroup).Msg("Resource group already exists")
		return nil
	}

	if _, err := a.runner.Run(ctx,
		"group", "create",
		"--name", resourceGroup,
		"--location", location,
		"--subscription", subscriptionID,
		"--output", "none",
	); err != nil {
		return fmt.Errorf("failed to create resource group %s: %w", resourceGroup, err)
	}

	logger.Info().
		Str("resource_group", resourceGroup).
		Str("location", location).
		Msg("Resource group created")
	return nil
}

func (a *AzureService) assignRoles(ctx context.Context, principalID, scope string, roles []string) *RoleResult {
	logger := zerolog.Ctx(ctx)
	result := &RoleResult{Failed: map[string]error{}}

	for _, role := range roles {
		result.order = append(result.order, role)
		if _, err := a.runner.Run(ctx,
			"role", "assignment", "create",
			"--assignee-object-id", principalID,
			"--assignee-principal-type", "ServicePrincipal",
			"--role", role,
			"--scope", scope,
			"--query", "id",
			"--output", "tsv",
			"--only-show-errors",
		); err != nil {
			logger.Warn().
				Err(err).
				Str("role", role).
				Msg("Failed to assign role, assign it manually")
			result.Failed[role] = err
			continue
		}
		result.Assigned = append(result.Assigned, role)
	}

	return result
}

// ConfigureFederation adds the GitHubActions federated credential for repo and environment
func (a *AzureService) ConfigureFederation(ctx context.Context, appID, repo, environment string) error {
	logger := zerolog.Ctx(ctx)

	credential := FederatedCredential{
		Name:        constants.FederatedCredentialName,
		Issuer:      constants.GitHubTokenIssuer,
		Subject:     FederationSubject(repo, environment),
		Description: environment + "-deploy",
		Audiences:   []string{constants.AzureTokenAudience},
	}

	params, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("failed to marshal federated credential: %w", err)
	}

	if _, err := a.runner.Run(ctx,
		"ad", "app", "federated-credential", "create",
		"--id", appID,
		"--parameters", string(params),
		"--output", "none",
	); err != nil {
		return fmt.Errorf("failed to create federated credential for %s: %w", appID, err)
	}

	logger.Info().
		Str("app_id", appID).
		Str("subject", credential.Subject).
		Msg("Federated credential configured")
	return nil
}

// DiagnosePrincipal checks that an existing principal can be found and holds the required roles
func (a *AzureService) DiagnosePrincipal(ctx context.Context, appID, subscriptionID string) (*Diagnosis, error) {
	logger := zerolog.Ctx(ctx)

	var sp servicePrincipal
	if err := azcli.RunJSON(ctx, a.runner, &sp, "ad", "sp", "show", "--id", appID, "--output", "json"); err != nil {
		return nil, fmt.Errorf("failed to find service principal %s: %w", appID, err)
	}

	var assignments []roleAssignment
	if err := azcli.RunJSON(ctx, a.runner, &assignments,
		"role", "assignment", "list",
		"--assignee", appID,
		"--scope", SubscriptionScope(subscriptionID),
		"--output", "json",
	); err != nil {
		return nil, fmt.Errorf("failed to list role assignments for %s: %w", appID, err)
	}

	diagnosis := &Diagnosis{
		AppID:       appID,
		ObjectID:    sp.ID,
		DisplayName: sp.DisplayName,
	}

	held := map[string]bool{}
	for _, assignment := range assignments {
		diagnosis.Roles = append(diagnosis.Roles, assignment.RoleDefinitionName)
		held[assignment.RoleDefinitionName] = true
	}
	for _, role := range constants.RequiredServicePrincipalRoles {
		if !held[role] {
			diagnosis.MissingRoles = append(diagnosis.MissingRoles, role)
		}
	}

	var federated []FederatedCredential
	if err := azcli.RunJSON(ctx, a.runner, &federated, "ad", "app", "federated-credential", "list", "--id", appID, "--output", "json"); err != nil {
		logger.Warn().Err(err).Str("app_id", appID).Msg("Failed to list federated credentials")
	}
	for _, credential := range federated {
		diagnosis.Federated = append(diagnosis.Federated, credential.Subject)
	}

	return diagnosis, nil
}

func (a *AzureService) principalObjectID(ctx context.Context, appID string) (string, error) {
	var sp servicePrincipal
	if err := azcli.RunJSON(ctx, a.runner, &sp, "ad", "sp", "show", "--id", appID, "--output", "json"); err != nil {
		return "", fmt.Errorf("failed to look up service principal %s: %w", appID, err)
	}
	if sp.ID == "" {
		return "", fmt.Errorf("failed to look up service principal %s: output has no id", appID)
	}
	return sp.ID, nil
}
