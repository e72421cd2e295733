package constants

// OIDC federation between GitHub Actions and Entra ID
const (
	FederatedCredentialName = "GitHubActions"
	GitHubTokenIssuer       = "https://token.actions.githubusercontent.com"
	AzureTokenAudience      = "api://AzureADTokenExchange"

	// GraphLoginScope is passed to az login so directory calls succeed afterwards
	GraphLoginScope = "https://graph.microsoft.com//.default"
)
