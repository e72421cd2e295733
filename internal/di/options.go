package di

import (
	"reflect"
)

// ConfigDir is the directory holding configuration.json and credentials.json.
// Empty means the user default.
type ConfigDir string

// Option is a function that configures the dependency injection container.
type Option func(*options)

func WithConfigDir(dir string) Option {
	return func(opts *options) {
		opts.configDir = ConfigDir(dir)
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// A provider whose result types match a core provider replaces it, which is how tests
// swap in a fake az runner or a test clock.
//
// Example:
//
//	WithProviders(
//	    func() azcli.Runner { return runner },
//	    func() clock.Clock { return testclock.NewClock(start) },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	configDir ConfigDir
	providers []any
}

// replaced reports whether a custom provider produces the same types as core
func (o options) replaced(core any) bool {
	want := results(core)
	for _, provider := range o.providers {
		got := results(provider)
		if len(got) == 0 {
			continue
		}
		for t := range got {
			if _, ok := want[t]; ok {
				return true
			}
		}
	}
	return false
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func results(fn any) map[reflect.Type]struct{} {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return nil
	}
	out := map[reflect.Type]struct{}{}
	for i := 0; i < t.NumOut(); i++ {
		if t.Out(i) == errorType {
			continue
		}
		out[t.Out(i)] = struct{}{}
	}
	return out
}
