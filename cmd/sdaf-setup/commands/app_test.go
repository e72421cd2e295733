package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/azcli"
	"github.com/sapautomation/sdaf-setup/internal/config"
	"github.com/sapautomation/sdaf-setup/internal/di"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"github.com/sapautomation/sdaf-setup/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppCreationURL(t *testing.T) {
	got := AppCreationURL("https://github.com/", "contoso/sap-automation")

	want := "https://github.com/settings/apps/new?name=contoso-sap-on-azure" +
		"&description=Used%20to%20create%20environments,%20update%20and%20create%20secrets%20and%20variables%20for%20your%20SAP%20on%20Azure%20Setup" +
		"&callback=false&request_oauth_on_install=false&public=true" +
		"&actions=read&administration=write&contents=write&environments=write&issues=write" +
		"&secrets=write&actions_variables=write&workflows=write" +
		"&webhook_active=false&url=https://github.com/contoso/sap-automation"
	assert.Equal(t, want, got)
}

func TestInstallationURL(t *testing.T) {
	assert.Equal(t,
		"https://ghe.contoso.com/settings/apps/contoso-sap-on-azure/installations",
		InstallationURL("https://ghe.contoso.com", AppName("contoso/sap-automation")),
	)
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "short", want: "*****"},
		{in: "ghp_0123456789abcdefghij", want: "********ghij"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.in))
		})
	}
}

func TestRenderReport(t *testing.T) {
	report := &orchestrator.Report{
		RunID: "2Xj0f1example",
		Steps: []orchestrator.StepResult{
			{Name: "spn_creation", Status: orchestrator.StatusSuccess},
			{Name: "federated_identity", Status: orchestrator.StatusError, Detail: "Insufficient privileges"},
			{Name: "environment_creation", Status: orchestrator.StatusPending},
		},
		Created: []string{"service principal sdaf-dev-spn (app id app-1)"},
	}

	var out bytes.Buffer
	RenderReport(&out, report)

	assert.Contains(t, out.String(), "federated_identity")
	assert.Contains(t, out.String(), "Insufficient privileges")
	assert.Contains(t, out.String(), "Created before the failure (not rolled back):")
	assert.Contains(t, out.String(), "run id: 2Xj0f1example")
}

func TestProgressObserver(t *testing.T) {
	var out bytes.Buffer
	observe := ProgressObserver(&out)

	observe(orchestrator.StepResult{Name: "azure_login", Status: orchestrator.StatusPending})
	observe(orchestrator.StepResult{Name: "azure_login", Status: orchestrator.StatusRunning})
	observe(orchestrator.StepResult{Name: "azure_login", Status: orchestrator.StatusSuccess, Duration: 1500 * time.Millisecond})

	assert.Equal(t, "… azure_login\n✓ azure_login (1.5s)\n", out.String())
}

type unusedRunner struct{}

func (unusedRunner) Run(context.Context, ...string) ([]byte, error) {
	panic("az must not run in this test")
}

func runApp(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	logger := zerolog.Nop()

	var out bytes.Buffer
	app := NewApp(&logger, di.WithProviders(func() azcli.Runner { return unusedRunner{} }))
	app.Writer = &out
	app.ErrWriter = &out

	err := app.RunContext(logger.WithContext(context.Background()),
		append([]string{"sdaf-setup", "--config-dir", dir}, args...))
	return out.String(), err
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := runApp(t, dir, "config", "set", config.KeyRepositoryName, "contoso/sap-automation")
	require.NoError(t, err)
	_, err = runApp(t, dir, "config", "set", config.KeyGitHubToken, testToken)
	require.NoError(t, err)

	_, err = runApp(t, dir, "config", "set", "bogus", "x")
	assert.ErrorContains(t, err, `unknown key "bogus"`)

	out, err := runApp(t, dir, "config", "show", "--output", "json")
	require.NoError(t, err)

	var shown map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "contoso/sap-automation", shown["configuration"][config.KeyRepositoryName])
	assert.Equal(t, "********ghij", shown["credentials"][config.KeyGitHubToken])

	info, err := os.Stat(filepath.Join(dir, config.CredentialsFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = runApp(t, dir, "config", "clear-credentials")
	require.NoError(t, err)

	out, err = runApp(t, dir, "config", "show", "--output", "json", "--reveal")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "", shown["credentials"][config.KeyGitHubToken])
	assert.Equal(t, "contoso/sap-automation", shown["configuration"][config.KeyRepositoryName])

	out, err = runApp(t, dir, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, dir+"\n", out)
}

func TestAppURLCommand_UsesStoredRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := runApp(t, dir, "config", "set", config.KeyRepositoryName, "contoso/sap-automation")
	require.NoError(t, err)

	out, err := runApp(t, dir, "app-url")
	require.NoError(t, err)
	assert.Contains(t, out, AppCreationURL("https://github.com", "contoso/sap-automation"))
	assert.Contains(t, out, "https://github.com/settings/apps/contoso-sap-on-azure/installations")
}

func TestSetupCommand_PreflightRejectsBeforeAnyCall(t *testing.T) {
	dir := t.TempDir()
	answers := writeFile(t, "answers.yaml", `
repository_name: contoso/sap-automation
github_token: ghp_0123456789abcdefghij
environment: DEV
region_map: westeurope
vnet_name: SAP01
subscription_id: 12345678-1234-1234-1234-123456789012
identity_mode: managed_identity
existing_app_id: 11111111-2222-3333-4444-555555555555
`)

	_, err := runApp(t, dir, "setup", "--answers", answers, "--no-save")
	require.Error(t, err)
	assert.ErrorContains(t, err, "managed identity mode cannot reuse an existing app id")

	_, statErr := os.Stat(filepath.Join(dir, config.ConfigurationFile))
	assert.True(t, os.IsNotExist(statErr), "--no-save leaves the store untouched")
}

func TestSetupCommand_RepositoryPreflight(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "token rejected", status: http.StatusUnauthorized, body: `{"message":"Bad credentials"}`, wantErr: sdaferrors.ErrUnauthorized},
		{name: "repository missing", status: http.StatusNotFound, body: `{"message":"Not Found"}`, wantErr: sdaferrors.ErrRepositoryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu    sync.Mutex
				paths []string
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				paths = append(paths, r.Method+" "+r.URL.Path)
				mu.Unlock()
				http.Error(w, tt.body, tt.status)
			}))
			t.Cleanup(server.Close)

			dir := t.TempDir()
			answers := writeFile(t, "answers.yaml", `
server_url: `+server.URL+`
repository_name: contoso/sap-automation
github_token: ghp_0123456789abcdefghij
environment: DEV
region_map: westeurope
vnet_name: SAP01
subscription_id: 12345678-1234-1234-1234-123456789012
spn_name: sdaf-dev-spn
`)

			_, err := runApp(t, dir, "setup", "--answers", answers)
			require.Error(t, err)
			assert.ErrorIs(t, err, sdaferrors.ErrPreflight)
			assert.ErrorIs(t, err, tt.wantErr)
			mu.Lock()
			assert.Equal(t, []string{"GET /api/v3/repos/contoso/sap-automation"}, paths, "nothing runs after the failed check")
			mu.Unlock()

			_, statErr := os.Stat(filepath.Join(dir, config.ConfigurationFile))
			assert.True(t, os.IsNotExist(statErr), "a failed check saves nothing")
		})
	}
}
