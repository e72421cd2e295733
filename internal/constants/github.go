package constants

const (
	DefaultServerURL = "https://github.com"
	DefaultAPIURL    = "https://api.github.com"

	// CreateEnvironmentWorkflow is dispatched to materialize a deployment environment
	CreateEnvironmentWorkflow = "create-environment.yaml"
	DispatchRef               = "main"
)

// Repository secrets
const (
	SecretApplicationID         = "APPLICATION_ID"
	SecretApplicationPrivateKey = "APPLICATION_PRIVATE_KEY"
)

// Environment secrets and variables
const (
	AzureSubscriptionID = "AZURE_SUBSCRIPTION_ID"
	AzureTenantID       = "AZURE_TENANT_ID"
	AzureClientID       = "AZURE_CLIENT_ID"
	AzureClientSecret   = "AZURE_CLIENT_SECRET"
	AzureObjectID       = "AZURE_OBJECT_ID"
	UseMSI              = "USE_MSI"
	SUsername           = "S_USERNAME"
	SPassword           = "S_PASSWORD"
)

// Placeholders stored when the SAP S-user values were not provided
const (
	SUsernamePlaceholder = "Add SAP S Username here"
	SPasswordPlaceholder = "Add SAP S Password here"
)
