// Package di wires the application together with google/wire.
package di

import (
	"time"

	"github.com/google/wire"
	"go.uber.org/zap"

	"nodebase/application/ports"
	"nodebase/application/services"
	"nodebase/domain/events"
	"nodebase/domain/schema"
	"nodebase/infrastructure/config"
	"nodebase/infrastructure/persistence/sqlite"
	"nodebase/interfaces/rpc"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     ports.NodeStore
	Registry  *schema.Registry
	Ops       *services.NodeOperations
	RPCServer *rpc.Server
}

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideStore,
	ProvideSchemaRegistry,
	ProvidePublisher,
	ProvideNodeOperations,
	ProvideRPCServer,
	wire.Struct(new(Container), "*"),
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideStore opens the SQLite-backed node store
func ProvideStore(cfg *config.Config, logger *zap.Logger) (ports.NodeStore, func(), error) {
	store, err := sqlite.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error("store close failed", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideSchemaRegistry creates the schema registry over the node store
func ProvideSchemaRegistry(store ports.NodeStore, logger *zap.Logger) *schema.Registry {
	return schema.NewRegistry(store, logger)
}

// ProvidePublisher creates the change publisher. Without a registered UI
// callback changes are discarded.
func ProvidePublisher(logger *zap.Logger) events.Publisher {
	return events.NopPublisher{}
}

// ProvideNodeOperations creates the business-rule layer
func ProvideNodeOperations(
	store ports.NodeStore,
	registry *schema.Registry,
	publisher events.Publisher,
	logger *zap.Logger,
) *services.NodeOperations {
	return services.NewNodeOperations(store, registry, publisher, logger)
}

// ProvideRPCServer creates the JSON-RPC dispatcher
func ProvideRPCServer(ops *services.NodeOperations, cfg *config.Config, logger *zap.Logger) *rpc.Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return rpc.NewServer(ops, logger, timeout)
}
