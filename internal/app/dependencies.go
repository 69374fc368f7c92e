package app

import (
	"log/slog"

	"github.com/nfrund/brokerlink/internal/config"
	"github.com/nfrund/brokerlink/internal/pubsub"
	"github.com/nfrund/brokerlink/internal/registry"
	"github.com/nfrund/brokerlink/internal/topics"
)

// Dependencies holds the core services commands and bridges are built from.
type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *registry.Registry
	Bus      *pubsub.WatermillBridge
	Catalog  *topics.Catalog
}
