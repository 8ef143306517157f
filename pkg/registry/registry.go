// Package registry owns the exchanges of one session: it matches inbound
// stanzas to exchanges, creates outbound exchanges and tears everything
// down when the transport disconnects.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/peer-services/pkg/events"
	"github.com/morezero/peer-services/pkg/exchange"
	"github.com/morezero/peer-services/pkg/porter"
	"github.com/morezero/peer-services/pkg/stanza"
)

const logPrefix = "registry:registry"

// Transport is the stanza transport the registry drives.
type Transport interface {
	LocalAddress() string
	Send(ctx context.Context, st *stanza.Node) error
	BeginIQ(ctx context.Context, st *stanza.Node) (porter.ResponseWaiter, error)
	RegisterHandler(h porter.Handler) porter.HandlerID
	UnregisterHandler(id porter.HandlerID)
	OnClosed(fn func())
}

// PeerDirectory answers whether a peer can be reached.
type PeerDirectory interface {
	IsOnline(address string) bool
}

// Config holds registry configuration.
type Config struct {
	Policy PolicyKind
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{Policy: PolicyKeyed}
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Transport Transport
	Directory PeerDirectory
	Publisher events.EventPublisher
	Config    Config
}

// Registry is the per-session set of active exchanges.
type Registry struct {
	transport Transport
	directory PeerDirectory
	publisher events.EventPublisher
	config    Config

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	policy    matchPolicy
	handlerID porter.HandlerID
	closed    bool
}

// NewRegistry creates a Registry, registers its inbound handler on the
// transport and closes itself when the transport closes.
func NewRegistry(params NewRegistryParams) *Registry {
	cfg := params.Config
	if cfg.Policy == "" {
		cfg.Policy = PolicyKeyed
	}

	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		transport: params.Transport,
		directory: params.Directory,
		publisher: pub,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
	r.policy = newPolicy(cfg.Policy, r)

	r.handlerID = r.transport.RegisterHandler(r.handleStanza)
	r.transport.OnClosed(r.Close)

	slog.Info(fmt.Sprintf("%s - Registry ready for %s with %s matching", logPrefix, r.transport.LocalAddress(), cfg.Policy))
	return r
}

// Policy returns the active matching policy.
func (r *Registry) Policy() PolicyKind {
	return r.config.Policy
}

// EnumerateExchanges returns a snapshot of the active exchanges.
func (r *Registry) EnumerateExchanges() []*exchange.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy.all()
}

// Get returns the active exchange with the given id. An id shared by
// exchanges with different peers or directions is ambiguous; use Lookup.
func (r *Registry) Get(id string) (*exchange.Exchange, error) {
	return r.Lookup(exchange.Key{ID: id})
}

// Lookup returns the active exchange matching key. An empty Peer or a zero
// Direction matches any. When several exchanges match a partial key the
// result is INVALID_ARGUMENT; under the unkeyed policy a fully specified
// key may still repeat, and the oldest match is returned.
func (r *Registry) Lookup(key exchange.Key) (*exchange.Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, exchange.NewError(exchange.CodeClosed, "registry is closed")
	}

	var found *exchange.Exchange
	matches := 0
	for _, ex := range r.policy.all() {
		if ex.ID() != key.ID {
			continue
		}
		if key.Peer != "" && ex.Peer() != key.Peer {
			continue
		}
		if key.Direction != 0 && ex.Direction() != key.Direction {
			continue
		}
		matches++
		if found == nil {
			found = ex
		}
	}

	switch {
	case matches == 0:
		return nil, exchange.NewError(exchange.CodeNotFound, fmt.Sprintf("exchange %s not found", key.ID))
	case matches > 1 && (key.Peer == "" || key.Direction == 0):
		return nil, exchange.NewError(exchange.CodeInvalidArgument,
			fmt.Sprintf("exchange id %s matches %d exchanges; give peer and direction", key.ID, matches))
	}
	return found, nil
}

// Closed reports whether the registry has been torn down.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close closes every active exchange and clears the set. The registry is
// unusable afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	active := r.policy.all()
	r.policy.clear()
	r.mu.Unlock()

	r.transport.UnregisterHandler(r.handlerID)

	slog.Info(fmt.Sprintf("%s - Closing registry with %d active exchanges", logPrefix, len(active)))
	for _, ex := range active {
		ex.Close()
	}
	r.cancel()
}

func (r *Registry) observe(n exchange.Notification) {
	ex := n.Exchange
	var event *events.Event

	switch n.Kind {
	case exchange.NotifyClosed:
		r.mu.Lock()
		r.policy.remove(ex)
		r.mu.Unlock()
		event = exchangeEvent(events.ExchangeClosed, ex)
	case exchange.NotifyReplied:
		event = exchangeEvent(events.ExchangeReplied, ex)
		event.Exchange.Attributes = n.Attributes
		event.Exchange.Body = n.Body
	case exchange.NotifyFailed:
		event = exchangeEvent(events.ExchangeFailed, ex)
		if n.Error != nil {
			event.Exchange.Error = &events.ExchangeError{
				Type:            int(n.Error.Type),
				TypeName:        n.Error.Type.String(),
				Condition:       n.Error.Condition,
				DomainCondition: n.Error.DomainCondition,
				Text:            n.Error.Text,
			}
		}
	default:
		return
	}

	r.publish(event)
}

func (r *Registry) publish(event *events.Event) {
	if err := r.publisher.Publish(r.ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to publish %s event: %v", logPrefix, event.Type, err))
	}
}

func exchangeEvent(t events.Type, ex *exchange.Exchange) *events.Event {
	p := ex.Payload()
	e := events.New(t)
	e.Exchange = &events.ExchangeEvent{
		ID:        ex.ID(),
		Direction: ex.Direction().String(),
		Peer:      ex.Peer(),
		Target:    p.TargetService,
		Initiator: p.InitiatorService,
	}
	return e
}
