package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sapautomation/sdaf-setup/internal/errors"
)

// Mode selects the kind of Azure identity the pipeline provisions
type Mode string

const (
	ModeServicePrincipal Mode = "service_principal"
	ModeManagedIdentity  Mode = "managed_identity"
)

// ParseMode accepts the mode names used in config files and flags
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spn", string(ModeServicePrincipal):
		return ModeServicePrincipal, nil
	case "msi", string(ModeManagedIdentity):
		return ModeManagedIdentity, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidMode, s)
	}
}

// IdentityRecord is the output of identity provisioning. It lives for one run and is never persisted.
type IdentityRecord struct {
	Mode       Mode
	ClientID   string // appId for a service principal, clientId for a managed identity
	Secret     string // empty for managed identities and for principals reused without rotation
	ObjectID   string // directory object id / principalId
	ResourceID string // ARM id of a managed identity
}

// UsesFederation reports whether the identity authenticates GitHub through an app federated credential
func (r *IdentityRecord) UsesFederation() bool {
	return r != nil && r.Mode == ModeServicePrincipal
}

// SetupInput is the fully resolved input of a setup run. It is built before the
// pipeline starts and nothing in the pipeline prompts for more.
type SetupInput struct {
	RepositoryName string
	ServerURL      string
	Environment    string
	VNetName       string
	Region         string
	SubscriptionID string
	TenantID       string

	Mode          Mode
	SPNName       string
	ResourceGroup string
	IdentityName  string
	ExistingAppID string
	ClientSecret  string
	RotateSecret  bool

	// ExistingEnvironment skips the workflow dispatch and uses the named GitHub environment
	ExistingEnvironment string
	AllowLogin          bool

	GitHubToken      string
	GitHubAppID      string
	GitHubPrivateKey string

	SUsername string
	SPassword string

	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// Owner returns the owner part of the repository name
func (in SetupInput) Owner() string {
	owner, _, _ := strings.Cut(in.RepositoryName, "/")
	return owner
}

// ManagedIdentityName defaults to {environment}-github-identity
func (in SetupInput) ManagedIdentityName() string {
	if in.IdentityName != "" {
		return in.IdentityName
	}
	return in.Environment + "-github-identity"
}

// ManagedIdentityResourceGroup defaults to {ENVIRONMENT}-INFRASTRUCTURE-RG
func (in SetupInput) ManagedIdentityResourceGroup() string {
	if in.ResourceGroup != "" {
		return in.ResourceGroup
	}
	return strings.ToUpper(in.Environment) + "-INFRASTRUCTURE-RG"
}

// SetupState is passed from step to step. Identity and EnvironmentName are produced by
// earlier steps and consumed by later ones.
type SetupState struct {
	Input           SetupInput
	Identity        *IdentityRecord
	EnvironmentName string

	mu      sync.Mutex
	created []string
}

// NewSetupState returns a state for the given input
func NewSetupState(input SetupInput) *SetupState {
	return &SetupState{Input: input}
}

// RecordCreated notes an external side effect. Nothing is rolled back on failure, so the
// list tells the operator what a partial run left behind.
func (s *SetupState) RecordCreated(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, fmt.Sprintf(format, args...))
}

// Created returns a copy of the recorded side effects
func (s *SetupState) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}
