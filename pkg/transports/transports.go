// Package transports provides engine connectors: ssh for fleet hosts,
// local for the control host, and a router that picks between them.
package transports

import (
	"context"

	"github.com/shipshape-io/shipshape/pkg/engine"
	"github.com/shipshape-io/shipshape/pkg/inventory"
)

// LocalHost is the reserved inventory host name for the control host.
// Hosts with this name connect through the local connector; everything
// else goes through the remote one.
const LocalHost = "@local"

// Router dispatches Connect calls between a local and a remote
// connector by host name.
type Router struct {
	// Local handles the reserved "@local" host. Nil routes everything
	// to Remote.
	Local engine.Connector

	// Remote handles every other host.
	Remote engine.Connector
}

// Connect routes to the connector responsible for the host.
func (r *Router) Connect(ctx context.Context, host *inventory.Host) (engine.Session, error) {
	if host.Name == LocalHost && r.Local != nil {
		return r.Local.Connect(ctx, host)
	}
	return r.Remote.Connect(ctx, host)
}
