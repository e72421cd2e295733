// Package validate checks user supplied setup values before anything touches Azure or GitHub.
package validate

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const (
	maxEnvironmentLength = 5
	maxVNetLength        = 7
	minTokenLength       = 20
)

var (
	repoPattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	uuidPattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	alnumPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	digitPattern = regexp.MustCompile(`^[0-9]+$`)
	tokenPattern = regexp.MustCompile(`[A-Za-z0-9]`)
)

// Regions lists the Azure regions accepted for deployments
var Regions = []string{
	"eastus", "eastus2", "westus", "westus2", "westus3", "centralus",
	"northcentralus", "southcentralus", "northeurope", "westeurope", "uksouth",
	"ukwest", "eastasia", "southeastasia", "japaneast", "japanwest",
	"australiaeast", "australiasoutheast", "centralindia", "southindia",
	"westindia", "koreacentral", "koreasouth", "canadacentral", "canadaeast",
	"germanywestcentral", "francecentral", "uaenorth", "southafricanorth",
	"brazilsouth", "switzerlandnorth", "norwayeast",
}

// RepoName accepts owner/repo
func RepoName(s string) error {
	if s == "" {
		return fmt.Errorf("repository name is required")
	}
	if !repoPattern.MatchString(s) {
		return fmt.Errorf("repository must be in format 'owner/repo', got: %s", s)
	}
	return nil
}

// EnvironmentCode accepts 1 to 5 alphanumeric characters, e.g. DEV or MGMT
func EnvironmentCode(s string) error {
	return shortCode("environment", s, maxEnvironmentLength)
}

// VNetName accepts 1 to 7 alphanumeric characters, e.g. DEP01
func VNetName(s string) error {
	return shortCode("vnet name", s, maxVNetLength)
}

func shortCode(field, s string, maxLen int) error {
	if s == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(s) > maxLen {
		return fmt.Errorf("%s must be at most %d characters, got %d", field, maxLen, len(s))
	}
	if !alnumPattern.MatchString(s) {
		return fmt.Errorf("%s must be alphanumeric, got: %s", field, s)
	}
	return nil
}

// Region accepts one of Regions, ignoring case
func Region(s string) error {
	if s == "" {
		return fmt.Errorf("region is required")
	}
	if !slices.Contains(Regions, strings.ToLower(s)) {
		return fmt.Errorf("unsupported azure region: %s", s)
	}
	return nil
}

// UUID accepts the canonical 8-4-4-4-12 form used for subscription and tenant ids
func UUID(field, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !uuidPattern.MatchString(s) {
		return fmt.Errorf("%s must be a UUID, got: %s", field, s)
	}
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("%s must be a UUID: %w", field, err)
	}
	return nil
}

// SubscriptionID validates an Azure subscription id
func SubscriptionID(s string) error {
	return UUID("subscription id", s)
}

// TenantID validates an Entra tenant id
func TenantID(s string) error {
	return UUID("tenant id", s)
}

// AppID accepts a numeric GitHub App id
func AppID(s string) error {
	if !digitPattern.MatchString(s) {
		return fmt.Errorf("github app id must be numeric, got: %q", s)
	}
	return nil
}

// Token performs a shape check on a GitHub token
func Token(s string) error {
	if len(s) < minTokenLength {
		return fmt.Errorf("github token must be at least %d characters", minTokenLength)
	}
	if !tokenPattern.MatchString(s) {
		return fmt.Errorf("github token must contain alphanumeric characters")
	}
	return nil
}

// FileExists accepts a path to a regular file
func FileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// ServerURL accepts an absolute http(s) URL such as https://github.com
func ServerURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("server url must be an absolute http(s) url, got: %s", s)
	}
	return nil
}
