// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// It simplifies container setup and provides type-safe dependency retrieval with generics.
package di

import (
	"context"

	"github.com/sapautomation/sdaf-setup/internal/policy"
	"github.com/sapautomation/sdaf-setup/internal/services"
	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet returns an instance constructed via dependency injection or panics.
// This is a convenience function for retrieving a dependency from the container
// when you're certain it exists. If the dependency cannot be resolved, it will panic.
//
// Example:
//
//	store := MustGet[config.Store](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// Get is MustGet for dependencies whose construction may legitimately fail, such as the
// az runner when the CLI is not installed.
func Get[T any](container Container) (want T, err error) {
	err = container.Invoke(func(got T) {
		want = got
	})
	return want, err
}

// New creates a new dependency injection container. The context is registered so that
// providers can log through zerolog.Ctx. Constructors run lazily on first use, so a
// command that never touches Azure never looks for the az binary.
//
// Example:
//
//	container, err := New(ctx,
//	    WithConfigDir("/tmp/sdaf"),
//	    WithProviders(
//	        func() azcli.Runner { return fakeRunner },
//	    ),
//	)
func New(ctx context.Context, opts ...Option) (Container, error) {
	// Build options
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Create dig container
	container := dig.New()
	if err := container.Provide(func() context.Context { return ctx }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() ConfigDir { return o.configDir }); err != nil {
		return nil, err
	}

	// Register all provided constructors
	for _, provider := range core {
		if o.replaced(provider) {
			continue
		}
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	// Register all provided constructors
	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideConfigStore,
	ProvideRunner,
	ProvideClock,
	services.NewAzureService,
	policy.NewValidator,
}
