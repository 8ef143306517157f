// Package bootstrap loads the clients a peer represents from start-up.
package bootstrap

import (
	"sort"

	"github.com/morezero/peer-services/pkg/caps"
)

// ClientDeclaration is one client the peer represents from start-up.
// Tokens are taken verbatim; Declaration is encoded and appended to them.
type ClientDeclaration struct {
	ClientID       string            `json:"clientId"`
	Tokens         []string          `json:"tokens,omitempty"`
	Declaration    *caps.Declaration `json:"declaration,omitempty"`
	TargetServices []string          `json:"targetServices,omitempty"`
}

// AllTokens returns Tokens followed by the encoded Declaration.
func (c ClientDeclaration) AllTokens() []string {
	out := append([]string(nil), c.Tokens...)
	if c.Declaration != nil {
		out = append(out, caps.Encode(*c.Declaration)...)
	}
	return out
}

// StatusDeclaration is a status advertised once the peer is online.
type StatusDeclaration struct {
	Capability string `json:"capability"`
	Service    string `json:"service"`
	Body       string `json:"body"`
}

// BootstrapConfig is the root bootstrap configuration.
type BootstrapConfig struct {
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Description string              `json:"description,omitempty"`
	Clients     []ClientDeclaration `json:"clients"`
	Statuses    []StatusDeclaration `json:"statuses,omitempty"`
}

// ResolvedBootstrap provides ordered, de-duplicated access to a bootstrap config.
type ResolvedBootstrap struct {
	name     string
	version  string
	clients  map[string]ClientDeclaration
	statuses []StatusDeclaration
}

// Get returns the declaration for clientID.
func (rb *ResolvedBootstrap) Get(clientID string) (ClientDeclaration, bool) {
	c, ok := rb.clients[clientID]
	return c, ok
}

// Clients returns every declaration ordered by client id.
func (rb *ResolvedBootstrap) Clients() []ClientDeclaration {
	ids := make([]string, 0, len(rb.clients))
	for id := range rb.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ClientDeclaration, 0, len(ids))
	for _, id := range ids {
		out = append(out, rb.clients[id])
	}
	return out
}

// Statuses returns the statuses to advertise, in file order.
func (rb *ResolvedBootstrap) Statuses() []StatusDeclaration {
	return append([]StatusDeclaration(nil), rb.statuses...)
}

// Name returns the bootstrap config name.
func (rb *ResolvedBootstrap) Name() string {
	return rb.name
}

// Version returns the bootstrap config version.
func (rb *ResolvedBootstrap) Version() string {
	return rb.version
}
