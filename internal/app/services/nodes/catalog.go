package nodes

import (
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/flowmesh/flowmesh/pkg/logger"
)

// CatalogDeps carries the external collaborators built-in handlers need.
// Nil entries disable the dependent behavior at invocation time (the
// handler reports a configuration error), never at registration time.
type CatalogDeps struct {
	Completer  Completer
	DB         *sqlx.DB
	HTTPClient *http.Client
	Log        *logger.Logger
}

// RegisterBuiltins populates the registry with the full built-in catalog:
// triggers, AI, logic, data and integration nodes.
func RegisterBuiltins(r *Registry, deps CatalogDeps) {
	registerTriggers(r)
	registerAI(r, deps.Completer)
	registerLogic(r)
	registerData(r)
	registerIntegrations(r, deps.HTTPClient, deps.DB, deps.Log)
}
