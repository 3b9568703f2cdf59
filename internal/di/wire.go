//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/app"
)

func InitializeApp() (*app.App, error) {
	panic(wire.Build(
		ConfigSet,
		ObservabilitySet,
		StorageSet,
		RepositorySet,
		EventSet,
		ServiceSet,
		HTTPSet,
		AppSet,
	))
}
