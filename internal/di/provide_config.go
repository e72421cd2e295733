package di

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/config"
)

// ProvideConfigStore opens the persistent store in dir, or in ~/.sap_deployment_automation
// when dir is empty
func ProvideConfigStore(ctx context.Context, dir ConfigDir) (config.Store, error) {
	logger := zerolog.Ctx(ctx)

	path := string(dir)
	if path == "" {
		var err error
		if path, err = config.DefaultDir(); err != nil {
			return nil, err
		}
	}

	store, err := config.NewFileStore(path)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("dir", path).Msg("Configuration store opened")
	return store, nil
}
