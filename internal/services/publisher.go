package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/constants"
	"github.com/sapautomation/sdaf-setup/internal/utils"
)

// SecretStore is the part of the GitHub API the publisher writes to
type SecretStore interface {
	CreateOrUpdateSecret(ctx context.Context, repo, secretName, secretValue string) error
	CreateOrUpdateEnvironmentSecret(ctx context.Context, repo, environment, secretName, secretValue string) error
	CreateOrUpdateEnvironmentVariable(ctx context.Context, repo, environment, name, value string) error
	GetEnvironment(ctx context.Context, repo, environment string) (*GitHubEnvironment, error)
}

// DefaultPlaceholders are written instead of empty SAP S-user values so workflows find the key
var DefaultPlaceholders = map[string]string{
	constants.SUsername: constants.SUsernamePlaceholder,
	constants.SPassword: constants.SPasswordPlaceholder,
}

// PublishResult records the outcome of each key in a batch. A failed key does not stop
// the rest of the batch and successful keys are never rolled back.
type PublishResult struct {
	Scope     string
	Published []string
	Skipped   []string
	Failed    map[string]error
	order     []string
}

func newPublishResult(scope string) *PublishResult {
	return &PublishResult{Scope: scope, Failed: map[string]error{}}
}

// OK reports whether every attempted key was written
func (r *PublishResult) OK() bool {
	return len(r.Failed) == 0
}

// Err joins the per-key failures
func (r *PublishResult) Err() error {
	var errs []error
	for _, key := range r.order {
		if err, ok := r.Failed[key]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("failed to publish %d of %d values to %s: %w", len(errs), len(r.order), r.Scope, errors.Join(errs...))
}

// Publisher writes batches of secrets and variables to a repository or one of its environments
type Publisher struct {
	store        SecretStore
	placeholders map[string]string
}

func NewPublisher(store SecretStore) *Publisher {
	return &Publisher{
		store:        store,
		placeholders: DefaultPlaceholders,
	}
}

// PublishRepositorySecrets writes repository level secrets
func (p *Publisher) PublishRepositorySecrets(ctx context.Context, repo string, values map[string]string) (*PublishResult, error) {
	result := p.publish(ctx, "repository "+repo, values, func(key, value string) error {
		return p.store.CreateOrUpdateSecret(ctx, repo, key, value)
	})
	return result, result.Err()
}

// PublishEnvironmentSecrets writes environment secrets. A missing environment aborts the batch.
func (p *Publisher) PublishEnvironmentSecrets(ctx context.Context, repo, environment string, values map[string]string) (*PublishResult, error) {
	if _, err := p.store.GetEnvironment(ctx, repo, environment); err != nil {
		return newPublishResult("environment " + environment), fmt.Errorf("failed to resolve environment %s: %w", environment, err)
	}

	result := p.publish(ctx, "environment "+environment, values, func(key, value string) error {
		return p.store.CreateOrUpdateEnvironmentSecret(ctx, repo, environment, key, value)
	})
	return result, result.Err()
}

// PublishEnvironmentVariables writes environment variables. A missing environment aborts the batch.
func (p *Publisher) PublishEnvironmentVariables(ctx context.Context, repo, environment string, values map[string]string) (*PublishResult, error) {
	if _, err := p.store.GetEnvironment(ctx, repo, environment); err != nil {
		return newPublishResult("environment " + environment), fmt.Errorf("failed to resolve environment %s: %w", environment, err)
	}

	result := p.publish(ctx, "environment "+environment, values, func(key, value string) error {
		return p.store.CreateOrUpdateEnvironmentVariable(ctx, repo, environment, key, value)
	})
	return result, result.Err()
}

// publish walks values in key order. Empty values take their placeholder or are skipped.
func (p *Publisher) publish(ctx context.Context, scope string, values map[string]string, write func(key, value string) error) *PublishResult {
	logger := zerolog.Ctx(ctx)
	result := newPublishResult(scope)

	for _, kv := range utils.Sorted(values) {
		value := kv.Value
		if value == "" {
			placeholder, ok := p.placeholders[kv.Key]
			if !ok {
				logger.Info().
					Str("scope", scope).
					Str("key", kv.Key).
					Msg("Skipping empty value")
				result.Skipped = append(result.Skipped, kv.Key)
				continue
			}
			value = placeholder
		}

		result.order = append(result.order, kv.Key)
		if err := write(kv.Key, value); err != nil {
			logger.Error().
				Err(err).
				Str("scope", scope).
				Str("key", kv.Key).
				Msg("Failed to publish value")
			result.Failed[kv.Key] = err
			continue
		}

		logger.Info().
			Str("scope", scope).
			Str("key", kv.Key).
			Msg("Published value")
		result.Published = append(result.Published, kv.Key)
	}

	return result
}
