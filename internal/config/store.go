package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const (
	// DefaultDirName is created under the user's home directory
	DefaultDirName = ".sap_deployment_automation"

	ConfigurationFile = "config.json"
	CredentialsFile   = "credentials.json"
)

// Configuration keys
const (
	KeyServerURL      = "server_url"
	KeyRepositoryName = "repository_name"
	KeyEnvironment    = "environment"
	KeyVNetName       = "vnet_name"
	KeyRegion         = "region_map"
	KeySubscriptionID = "subscription_id"
	KeyTenantID       = "tenant_id"
	KeySPNName        = "spn_name"
	KeyResourceGroup  = "resource_group"
	KeyIdentityMode   = "identity_mode"
)

// Credential keys
const (
	KeyGitHubToken       = "github_token"
	KeyGitHubAppID       = "github_app_id"
	KeyGitHubAppName     = "github_app_name"
	KeyGitHubPrivateKey  = "github_private_key"
	KeyAzureClientID     = "azure_client_id"
	KeyAzureClientSecret = "azure_client_secret"
	KeyAzureObjectID     = "azure_object_id"
	KeySUsername         = "s_username"
	KeySPassword         = "s_password"
)

// DefaultConfiguration is used for keys missing from config.json
var DefaultConfiguration = map[string]string{
	KeyServerURL:      "https://github.com",
	KeyRepositoryName: "",
	KeyEnvironment:    "",
	KeyVNetName:       "",
	KeyRegion:         "",
	KeySubscriptionID: "",
	KeyTenantID:       "",
	KeySPNName:        "",
	KeyResourceGroup:  "",
	KeyIdentityMode:   "service_principal",
}

// CredentialKeys are the keys kept in credentials.json
var CredentialKeys = []string{
	KeyGitHubToken,
	KeyGitHubAppID,
	KeyGitHubAppName,
	KeyGitHubPrivateKey,
	KeyAzureClientID,
	KeyAzureClientSecret,
	KeyAzureObjectID,
	KeySUsername,
	KeySPassword,
}

// Store defines access to the persisted setup configuration and credentials
type Store interface {
	// Configuration returns a copy of the non-secret settings
	Configuration() map[string]string

	// Credentials returns a copy of the secret settings
	Credentials() map[string]string

	// UpdateConfiguration merges values into the configuration and saves it
	UpdateConfiguration(values map[string]string) error

	// UpdateCredentials merges values into the credentials and saves them
	UpdateCredentials(values map[string]string) error

	// ClearCredentials blanks every credential and saves
	ClearCredentials() error
}

// FileStore implements Store with two JSON documents in one directory
type FileStore struct {
	dir         string
	mu          sync.RWMutex
	config      map[string]string
	credentials map[string]string
}

// DefaultDir returns ~/.sap_deployment_automation
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// NewFileStore loads the store in dir. Missing files fall back to defaults.
func NewFileStore(dir string) (*FileStore, error) {
	defaultCredentials := map[string]string{}
	for _, k := range CredentialKeys {
		defaultCredentials[k] = ""
	}

	config, err := load(filepath.Join(dir, ConfigurationFile), DefaultConfiguration)
	if err != nil {
		return nil, err
	}
	credentials, err := load(filepath.Join(dir, CredentialsFile), defaultCredentials)
	if err != nil {
		return nil, err
	}

	return &FileStore{
		dir:         dir,
		config:      config,
		credentials: credentials,
	}, nil
}

// Dir returns the directory holding the store's files
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Configuration() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.config)
}

func (s *FileStore) Credentials() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.credentials)
}

func (s *FileStore) UpdateConfiguration(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.config)
	maps.Copy(next, values)
	if err := save(filepath.Join(s.dir, ConfigurationFile), next, 0o644); err != nil {
		return err
	}
	s.config = next
	return nil
}

func (s *FileStore) UpdateCredentials(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.credentials)
	maps.Copy(next, values)
	if err := save(filepath.Join(s.dir, CredentialsFile), next, 0o600); err != nil {
		return err
	}
	s.credentials = next
	return nil
}

func (s *FileStore) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.credentials))
	for k := range s.credentials {
		next[k] = ""
	}
	if err := save(filepath.Join(s.dir, CredentialsFile), next, 0o600); err != nil {
		return err
	}
	s.credentials = next
	return nil
}

// IsCredentialKey reports whether key belongs in credentials.json
func IsCredentialKey(key string) bool {
	return slices.Contains(CredentialKeys, key)
}

func load(path string, defaults map[string]string) (map[string]string, error) {
	values := maps.Clone(defaults)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	maps.Copy(values, stored)

	return values, nil
}

// save rewrites the whole document through a temp file in the same directory
func save(path string, values map[string]string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
