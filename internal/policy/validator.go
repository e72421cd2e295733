package policy

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/sapautomation/sdaf-setup/internal/models"
)

//go:embed setup.rego
var policyContent string

// Validator evaluates cross-field rules on a resolved setup input before any external call
type Validator struct {
	allow      rego.PreparedEvalQuery
	violations rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

func NewValidator() (*Validator, error) {
	ctx := context.Background()

	data := map[string]interface{}{
		"modes": []interface{}{
			string(models.ModeServicePrincipal),
			string(models.ModeManagedIdentity),
		},
	}

	allow, err := prepare(ctx, "data.sdaf.setup.allow", data)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	violations, err := prepare(ctx, "data.sdaf.setup.violations", data)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	return &Validator{
		allow:      allow,
		violations: violations,
	}, nil
}

func prepare(ctx context.Context, query string, data map[string]interface{}) (rego.PreparedEvalQuery, error) {
	return rego.New(
		rego.Query(query),
		rego.Module("setup.rego", policyContent),
		rego.Store(inmem.NewFromObject(data)),
	).PrepareForEval(ctx)
}

// Input converts the setup input into the policy document. Secret values never enter
// the policy, only whether they are set.
func Input(in models.SetupInput) map[string]interface{} {
	return map[string]interface{}{
		"repository":             in.RepositoryName,
		"subscription_id":        in.SubscriptionID,
		"environment":            in.Environment,
		"vnet_name":              in.VNetName,
		"region":                 in.Region,
		"mode":                   string(in.Mode),
		"spn_name":               in.SPNName,
		"existing_app_id":        in.ExistingAppID,
		"existing_environment":   in.ExistingEnvironment,
		"rotate_secret":          in.RotateSecret,
		"github_app_id":          in.GitHubAppID,
		"github_token_set":       in.GitHubToken != "",
		"github_private_key_set": in.GitHubPrivateKey != "",
		"s_username_set":         in.SUsername != "",
		"s_password_set":         in.SPassword != "",
	}
}

func (v *Validator) Validate(ctx context.Context, in models.SetupInput) (*ValidationResult, error) {
	input := Input(in)

	results, err := v.allow.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned non-boolean result"},
		}, nil
	}

	result := &ValidationResult{
		Allowed: allowed,
	}

	if !allowed {
		violations, err := v.getViolations(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to get violations: %w", err)
		}
		result.Violations = violations
	}

	return result, nil
}

func (v *Validator) getViolations(ctx context.Context, input map[string]interface{}) ([]string, error) {
	results, err := v.violations.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}

	if len(results) == 0 {
		return []string{"unknown policy violation"}, nil
	}

	violationsInterface := results[0].Expressions[0].Value
	if violationsInterface == nil {
		return []string{"unknown policy violation"}, nil
	}

	var violations []string
	switch v := violationsInterface.(type) {
	case []interface{}:
		for _, violation := range v {
			if str, ok := violation.(string); ok {
				violations = append(violations, str)
			}
		}
	case map[string]interface{}:
		// Handle set type from Rego
		for violation := range v {
			violations = append(violations, violation)
		}
	}

	if len(violations) == 0 {
		return []string{"policy validation failed but no specific violations found"}, nil
	}

	sort.Strings(violations)
	return violations, nil
}
