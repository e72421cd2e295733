package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sapautomation/sdaf-setup/internal/constants"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/oauth2"
)

const environmentsPageSize = 100

type GitHubService struct {
	apiURL     string
	httpClient *http.Client
}

type GitHubPublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

type GitHubSecretRequest struct {
	EncryptedValue string `json:"encrypted_value"`
	KeyID          string `json:"key_id"`
}

type GitHubVariableRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type GitHubEnvironment struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

type GitHubRepository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

type GitHubDispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

type gitHubEnvironmentList struct {
	TotalCount   int                 `json:"total_count"`
	Environments []GitHubEnvironment `json:"environments"`
}

// APIURL derives the REST endpoint for a GitHub server url. GitHub Enterprise Server
// serves the API under /api/v3.
func APIURL(serverURL string) string {
	serverURL = strings.TrimRight(serverURL, "/")
	if serverURL == "" || serverURL == constants.DefaultServerURL {
		return constants.DefaultAPIURL
	}
	return serverURL + "/api/v3"
}

// NewGitHubService returns a client authenticating every request with token
func NewGitHubService(ctx context.Context, token, apiURL string) *GitHubService {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubService{
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: oauth2.NewClient(ctx, source),
	}
}

func (g *GitHubService) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return g.httpClient.Do(req)
}

func repoPath(repo string) string {
	owner, name, _ := strings.Cut(repo, "/")
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

func environmentPath(repo, environment string) string {
	return repoPath(repo) + "/environments/" + url.PathEscape(environment)
}

func readError(action string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("failed to %s: status %d, body: %s", action, resp.StatusCode, string(body))
}

// GetPublicKey fetches the repository's public key for encrypting secrets
func (g *GitHubService) GetPublicKey(ctx context.Context, repo string) (*GitHubPublicKey, error) {
	return g.getPublicKey(ctx, repoPath(repo)+"/actions/secrets/public-key")
}

// GetEnvironmentPublicKey fetches the environment's public key for encrypting secrets
func (g *GitHubService) GetEnvironmentPublicKey(ctx context.Context, repo, environment string) (*GitHubPublicKey, error) {
	return g.getPublicKey(ctx, environmentPath(repo, environment)+"/secrets/public-key")
}

func (g *GitHubService) getPublicKey(ctx context.Context, path string) (*GitHubPublicKey, error) {
	resp, err := g.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError("fetch public key", resp)
	}

	var publicKey GitHubPublicKey
	if err := json.NewDecoder(resp.Body).Decode(&publicKey); err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}

	return &publicKey, nil
}

// encryptSecret encrypts a secret value using libsodium sealed box
func encryptSecret(publicKeyBase64, secretValue string) (string, error) {
	publicKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode public key: %w", err)
	}

	if len(publicKeyBytes) != 32 {
		return "", fmt.Errorf("invalid public key length: expected 32, got %d", len(publicKeyBytes))
	}

	var publicKey [32]byte
	copy(publicKey[:], publicKeyBytes)

	encrypted, err := box.SealAnonymous(nil, []byte(secretValue), &publicKey, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func (g *GitHubService) putSecret(ctx context.Context, path string, publicKey *GitHubPublicKey, secretValue string) error {
	encryptedValue, err := encryptSecret(publicKey.Key, secretValue)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	resp, err := g.send(ctx, http.MethodPut, path, GitHubSecretRequest{
		EncryptedValue: encryptedValue,
		KeyID:          publicKey.KeyID,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return readError("create/update secret", resp)
	}

	return nil
}

// CreateOrUpdateSecret creates or updates a repository secret
func (g *GitHubService) CreateOrUpdateSecret(ctx context.Context, repo, secretName, secretValue string) error {
	publicKey, err := g.GetPublicKey(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to get public key: %w", err)
	}

	return g.putSecret(ctx, repoPath(repo)+"/actions/secrets/"+url.PathEscape(secretName), publicKey, secretValue)
}

// CreateOrUpdateEnvironmentSecret creates or updates a secret in a deployment environment
func (g *GitHubService) CreateOrUpdateEnvironmentSecret(ctx context.Context, repo, environment, secretName, secretValue string) error {
	publicKey, err := g.GetEnvironmentPublicKey(ctx, repo, environment)
	if err != nil {
		return fmt.Errorf("failed to get public key: %w", err)
	}

	return g.putSecret(ctx, environmentPath(repo, environment)+"/secrets/"+url.PathEscape(secretName), publicKey, secretValue)
}

// CreateOrUpdateEnvironmentVariable creates a variable, updating it when it already exists.
// GitHub rejects empty values.
func (g *GitHubService) CreateOrUpdateEnvironmentVariable(ctx context.Context, repo, environment, name, value string) error {
	if value == "" {
		return fmt.Errorf("failed to create variable %s: value must not be empty", name)
	}

	resp, err := g.send(ctx, http.MethodPost, environmentPath(repo, environment)+"/variables", GitHubVariableRequest{
		Name:  name,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to create variable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusConflict:
	default:
		return readError("create variable", resp)
	}

	updateResp, err := g.send(ctx, http.MethodPatch, environmentPath(repo, environment)+"/variables/"+url.PathEscape(name), GitHubVariableRequest{
		Name:  name,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to update variable: %w", err)
	}
	defer updateResp.Body.Close()

	if updateResp.StatusCode != http.StatusNoContent {
		return readError("update variable", updateResp)
	}

	return nil
}

// GetRepository checks that the token can reach repo
func (g *GitHubService) GetRepository(ctx context.Context, repo string) (*GitHubRepository, error) {
	resp, err := g.send(ctx, http.MethodGet, repoPath(repo), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %v", sdaferrors.ErrUnauthorized, readError("get repository", resp))
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", sdaferrors.ErrRepositoryNotFound, repo)
	default:
		return nil, readError("get repository", resp)
	}

	var repository GitHubRepository
	if err := json.NewDecoder(resp.Body).Decode(&repository); err != nil {
		return nil, fmt.Errorf("failed to decode repository: %w", err)
	}

	return &repository, nil
}

// GetEnvironment returns ErrEnvironmentNotFound when the environment does not exist
func (g *GitHubService) GetEnvironment(ctx context.Context, repo, environment string) (*GitHubEnvironment, error) {
	resp, err := g.send(ctx, http.MethodGet, environmentPath(repo, environment), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s in %s", sdaferrors.ErrEnvironmentNotFound, environment, repo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError("get environment", resp)
	}

	var env GitHubEnvironment
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	return &env, nil
}

// ListEnvironments returns environment names in the order GitHub lists them
func (g *GitHubService) ListEnvironments(ctx context.Context, repo string) ([]string, error) {
	var names []string
	for page := 1; ; page++ {
		path := fmt.Sprintf("%s/environments?per_page=%d&page=%d", repoPath(repo), environmentsPageSize, page)
		resp, err := g.send(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list environments: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := readError("list environments", resp)
			resp.Body.Close()
			return nil, err
		}

		var list gitHubEnvironmentList
		err = json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode environments: %w", err)
		}

		for _, env := range list.Environments {
			names = append(names, env.Name)
		}

		if len(list.Environments) < environmentsPageSize || len(names) >= list.TotalCount {
			return names, nil
		}
	}
}

// DispatchWorkflow triggers a workflow_dispatch event. GitHub answers 204 on success.
func (g *GitHubService) DispatchWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error {
	path := repoPath(repo) + "/actions/workflows/" + url.PathEscape(workflow) + "/dispatches"
	resp, err := g.send(ctx, http.MethodPost, path, GitHubDispatchRequest{
		Ref:    ref,
		Inputs: inputs,
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch workflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return readError("dispatch workflow "+workflow, resp)
	}

	return nil
}
