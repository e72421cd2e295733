package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

const testToken = "ghp_testtoken0123456789"

// fakeGitHub is an in-memory GitHub REST API covering the endpoints the setup uses
type fakeGitHub struct {
	t          *testing.T
	publicKey  *[32]byte
	privateKey *[32]byte

	mu           sync.Mutex
	environments []string
	secrets      map[string]string // path -> decrypted value
	variables    map[string]string // env/name -> value
	dispatches   []GitHubDispatchRequest
	rejectSecret string
	requests     []string
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	f := &fakeGitHub{
		t:          t,
		publicKey:  publicKey,
		privateKey: privateKey,
		secrets:    map[string]string{},
		variables:  map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.handleGetRepository)
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/secrets/public-key", f.handlePublicKey)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/actions/secrets/{name}", f.handlePutSecret)
	mux.HandleFunc("GET /repos/{owner}/{repo}/environments", f.handleListEnvironments)
	mux.HandleFunc("GET /repos/{owner}/{repo}/environments/{env}", f.handleGetEnvironment)
	mux.HandleFunc("GET /repos/{owner}/{repo}/environments/{env}/secrets/public-key", f.withEnvironment(f.handlePublicKey))
	mux.HandleFunc("PUT /repos/{owner}/{repo}/environments/{env}/secrets/{name}", f.withEnvironment(f.handlePutSecret))
	mux.HandleFunc("POST /repos/{owner}/{repo}/environments/{env}/variables", f.withEnvironment(f.handleCreateVariable))
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/environments/{env}/variables/{name}", f.withEnvironment(f.handleUpdateVariable))
	mux.HandleFunc("POST /repos/{owner}/{repo}/actions/workflows/{workflow}/dispatches", f.handleDispatch)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))

		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()

		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	return f, server
}

func (f *fakeGitHub) addEnvironment(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.environments = append(f.environments, name)
}

func (f *fakeGitHub) hasEnvironment(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range f.environments {
		if env == name {
			return true
		}
	}
	return false
}

func (f *fakeGitHub) withEnvironment(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !f.hasEnvironment(r.PathValue("env")) {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		next(w, r)
	}
}

func (f *fakeGitHub) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); !assert.NoError(f.t, err) {
		http.Error(w, `{"message":"Problems parsing JSON"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (f *fakeGitHub) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(GitHubPublicKey{
		KeyID: "key-1",
		Key:   base64.StdEncoding.EncodeToString(f.publicKey[:]),
	})
}

func (f *fakeGitHub) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == f.rejectSecret {
		http.Error(w, `{"message":"Validation Failed"}`, http.StatusUnprocessableEntity)
		return
	}

	var req GitHubSecretRequest
	if !f.decode(w, r, &req) {
		return
	}
	assert.Equal(f.t, "key-1", req.KeyID)

	encrypted, err := base64.StdEncoding.DecodeString(req.EncryptedValue)
	if !assert.NoError(f.t, err) {
		http.Error(w, `{"message":"bad encoding"}`, http.StatusBadRequest)
		return
	}
	plain, ok := box.OpenAnonymous(nil, encrypted, f.publicKey, f.privateKey)
	if !assert.True(f.t, ok, "secret must be a sealed box for the repository key") {
		http.Error(w, `{"message":"bad seal"}`, http.StatusBadRequest)
		return
	}

	key := name
	if env := r.PathValue("env"); env != "" {
		key = env + "/" + name
	}

	f.mu.Lock()
	_, existed := f.secrets[key]
	f.secrets[key] = string(plain)
	f.mu.Unlock()

	if existed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeGitHub) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if perPage == 0 {
		perPage = 30
	}
	if page == 0 {
		page = 1
	}

	list := gitHubEnvironmentList{TotalCount: len(f.environments), Environments: []GitHubEnvironment{}}
	for i := (page - 1) * perPage; i < len(f.environments) && i < page*perPage; i++ {
		list.Environments = append(list.Environments, GitHubEnvironment{ID: int64(i + 1), Name: f.environments[i]})
	}
	_ = json.NewEncoder(w).Encode(list)
}

func (f *fakeGitHub) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")
	if fullName != "contoso/sap" {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(GitHubRepository{ID: 7, FullName: fullName, DefaultBranch: "main", Private: true})
}

func (f *fakeGitHub) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("env")
	if !f.hasEnvironment(name) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(GitHubEnvironment{ID: 1, Name: name})
}

func (f *fakeGitHub) handleCreateVariable(w http.ResponseWriter, r *http.Request) {
	var req GitHubVariableRequest
	if !f.decode(w, r, &req) {
		return
	}
	if req.Value == "" {
		http.Error(w, `{"message":"value can't be blank"}`, http.StatusUnprocessableEntity)
		return
	}

	key := r.PathValue("env") + "/" + req.Name
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.variables[key]; ok {
		http.Error(w, `{"message":"Already exists"}`, http.StatusConflict)
		return
	}
	f.variables[key] = req.Value
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeGitHub) handleUpdateVariable(w http.ResponseWriter, r *http.Request) {
	var req GitHubVariableRequest
	if !f.decode(w, r, &req) {
		return
	}

	f.mu.Lock()
	f.variables[r.PathValue("env")+"/"+r.PathValue("name")] = req.Value
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeGitHub) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("workflow") != "create-environment.yaml" {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}

	var req GitHubDispatchRequest
	if !f.decode(w, r, &req) {
		return
	}

	f.mu.Lock()
	f.dispatches = append(f.dispatches, req)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func newTestGitHubService(server *httptest.Server) *GitHubService {
	return NewGitHubService(context.Background(), testToken, server.URL)
}

func TestAPIURL(t *testing.T) {
	assert.Equal(t, "https://api.github.com", APIURL("https://github.com"))
	assert.Equal(t, "https://api.github.com", APIURL("https://github.com/"))
	assert.Equal(t, "https://api.github.com", APIURL(""))
	assert.Equal(t, "https://ghe.contoso.com/api/v3", APIURL("https://ghe.contoso.com"))
}

func TestEncryptSecret(t *testing.T) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	encrypted, err := encryptSecret(base64.StdEncoding.EncodeToString(publicKey[:]), "super-secret")
	require.NoError(t, err)

	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	require.NoError(t, err)
	plain, ok := box.OpenAnonymous(nil, sealed, publicKey, privateKey)
	require.True(t, ok)
	assert.Equal(t, "super-secret", string(plain))

	_, err = encryptSecret("not base64!", "x")
	assert.Error(t, err)

	_, err = encryptSecret(base64.StdEncoding.EncodeToString([]byte("short")), "x")
	assert.ErrorContains(t, err, "invalid public key length")
}

func TestGitHubService_CreateOrUpdateSecret(t *testing.T) {
	fake, server := newFakeGitHub(t)
	service := newTestGitHubService(server)

	require.NoError(t, service.CreateOrUpdateSecret(context.Background(), "contoso/sap", "APPLICATION_ID", "123456"))
	require.NoError(t, service.CreateOrUpdateSecret(context.Background(), "contoso/sap", "APPLICATION_ID", "654321"))
	assert.Equal(t, "654321", fake.secrets["APPLICATION_ID"])

	fake.rejectSecret = "BAD"
	err := service.CreateOrUpdateSecret(context.Background(), "contoso/sap", "BAD", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Contains(t, err.Error(), "Validation Failed")
}

func TestGitHubService_EnvironmentSecretAndVariable(t *testing.T) {
	fake, server := newFakeGitHub(t)
	fake.addEnvironment("DEV-WEEU-SAP01-INFRASTRUCTURE")
	service := newTestGitHubService(server)
	ctx := context.Background()

	require.NoError(t, service.CreateOrUpdateEnvironmentSecret(ctx, "contoso/sap", "DEV-WEEU-SAP01-INFRASTRUCTURE", "AZURE_CLIENT_SECRET", "s3cret"))
	assert.Equal(t, "s3cret", fake.secrets["DEV-WEEU-SAP01-INFRASTRUCTURE/AZURE_CLIENT_SECRET"])

	require.NoError(t, service.CreateOrUpdateEnvironmentVariable(ctx, "contoso/sap", "DEV-WEEU-SAP01-INFRASTRUCTURE", "USE_MSI", "false"))
	require.NoError(t, service.CreateOrUpdateEnvironmentVariable(ctx, "contoso/sap", "DEV-WEEU-SAP01-INFRASTRUCTURE", "USE_MSI", "true"))
	assert.Equal(t, "true", fake.variables["DEV-WEEU-SAP01-INFRASTRUCTURE/USE_MSI"])
	assert.Contains(t, fake.requests, "PATCH /repos/contoso/sap/environments/DEV-WEEU-SAP01-INFRASTRUCTURE/variables/USE_MSI")

	err := service.CreateOrUpdateEnvironmentVariable(ctx, "contoso/sap", "DEV-WEEU-SAP01-INFRASTRUCTURE", "S_USERNAME", "")
	assert.Error(t, err)

	err = service.CreateOrUpdateEnvironmentSecret(ctx, "contoso/sap", "MISSING", "X", "y")
	assert.ErrorContains(t, err, "status 404")
}

func TestGitHubService_GetEnvironment(t *testing.T) {
	fake, server := newFakeGitHub(t)
	fake.addEnvironment("DEV")
	service := newTestGitHubService(server)

	env, err := service.GetEnvironment(context.Background(), "contoso/sap", "DEV")
	require.NoError(t, err)
	assert.Equal(t, "DEV", env.Name)

	_, err = service.GetEnvironment(context.Background(), "contoso/sap", "PRD")
	assert.ErrorIs(t, err, sdaferrors.ErrEnvironmentNotFound)
}

func TestGitHubService_GetRepository(t *testing.T) {
	_, server := newFakeGitHub(t)
	service := newTestGitHubService(server)

	repository, err := service.GetRepository(context.Background(), "contoso/sap")
	require.NoError(t, err)
	assert.Equal(t, "contoso/sap", repository.FullName)
	assert.Equal(t, "main", repository.DefaultBranch)

	_, err = service.GetRepository(context.Background(), "contoso/missing")
	assert.ErrorIs(t, err, sdaferrors.ErrRepositoryNotFound)
	assert.ErrorContains(t, err, "contoso/missing")
}

func TestGitHubService_GetRepository_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		want    string
	}{
		{name: "bad credentials", status: http.StatusUnauthorized, body: `{"message":"Bad credentials"}`, wantErr: sdaferrors.ErrUnauthorized, want: "Bad credentials"},
		{name: "not found", status: http.StatusNotFound, body: `{"message":"Not Found"}`, wantErr: sdaferrors.ErrRepositoryNotFound, want: "o/r"},
		{name: "server error", status: http.StatusBadGateway, body: `{"message":"upstream"}`, want: "status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/o/r", r.URL.Path)
				http.Error(w, tt.body, tt.status)
			}))
			t.Cleanup(server.Close)

			_, err := NewGitHubService(context.Background(), testToken, server.URL).GetRepository(context.Background(), "o/r")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestGitHubService_ListEnvironments(t *testing.T) {
	fake, server := newFakeGitHub(t)
	service := newTestGitHubService(server)

	names, err := service.ListEnvironments(context.Background(), "contoso/sap")
	require.NoError(t, err)
	assert.Empty(t, names)

	var want []string
	for i := 0; i < 130; i++ {
		name := fmt.Sprintf("ENV%03d", i)
		fake.addEnvironment(name)
		want = append(want, name)
	}

	names, err = service.ListEnvironments(context.Background(), "contoso/sap")
	require.NoError(t, err)
	assert.Equal(t, want, names, "paginated results keep GitHub's order")
}

func TestGitHubService_DispatchWorkflow(t *testing.T) {
	fake, server := newFakeGitHub(t)
	service := newTestGitHubService(server)

	inputs := map[string]string{"environment": "DEV", "region": "westeurope", "deployer_vnet": "DEP01"}
	require.NoError(t, service.DispatchWorkflow(context.Background(), "contoso/sap", "create-environment.yaml", "main", inputs))
	require.Len(t, fake.dispatches, 1)
	assert.Equal(t, "main", fake.dispatches[0].Ref)
	assert.Equal(t, inputs, fake.dispatches[0].Inputs)

	err := service.DispatchWorkflow(context.Background(), "contoso/sap", "missing.yaml", "main", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGitHubService_DispatchWorkflow_Requires204(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)

	err := NewGitHubService(context.Background(), testToken, server.URL).DispatchWorkflow(context.Background(), "o/r", "create-environment.yaml", "main", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 200")
	assert.Contains(t, err.Error(), `{"ok":true}`)
}
