//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"
)

func InitializeApplication(ctx context.Context, cfg Config, logging LoggingConfig) (*Application, func(), error) {
	wire.Build(AppSet)
	return nil, nil, nil
}
