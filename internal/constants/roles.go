package constants

// Azure built-in role names
const (
	// ContributorRole is granted to a newly created service principal at subscription scope
	ContributorRole = "Contributor"

	// UserAccessAdministratorRole lets the principal assign roles to identities it provisions
	UserAccessAdministratorRole = "User Access Administrator"

	RBACAdministratorRole         = "Role Based Access Control Administrator"
	StorageBlobDataOwnerRole      = "Storage Blob Data Owner"
	KeyVaultAdministratorRole     = "Key Vault Administrator"
	AppConfigurationDataOwnerRole = "App Configuration Data Owner"
)

// ManagedIdentityRoles are assigned one by one to a user-assigned identity. A failed
// assignment is reported but does not fail provisioning.
var ManagedIdentityRoles = []string{
	ContributorRole,
	RBACAdministratorRole,
	StorageBlobDataOwnerRole,
	KeyVaultAdministratorRole,
	AppConfigurationDataOwnerRole,
}

// RequiredServicePrincipalRoles are checked by the diagnose command
var RequiredServicePrincipalRoles = []string{
	ContributorRole,
	UserAccessAdministratorRole,
}
