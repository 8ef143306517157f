package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/peer-services/pkg/events"
	"github.com/morezero/peer-services/pkg/exchange"
	"github.com/morezero/peer-services/pkg/stanza"
)

// CreateExchange validates desc and registers a new outbound exchange.
// The exchange is not sent until Submit is called.
func (r *Registry) CreateExchange(_ context.Context, desc RequestDescriptor) (*exchange.Exchange, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}
	if r.directory == nil || !r.directory.IsOnline(desc.Peer) {
		return nil, exchange.NewError(exchange.CodePeerUnavailable, fmt.Sprintf("%s is not online", desc.Peer))
	}

	id := stanza.NewID()
	req, err := exchange.BuildRequest(r.transport.LocalAddress(), desc.Peer, id, desc.payload())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, exchange.NewError(exchange.CodeClosed, "registry is closed")
	}
	ex := exchange.New(exchange.Params{
		ID:        id,
		Direction: exchange.Outbound,
		Peer:      desc.Peer,
		Request:   req,
		Outbox:    r.policy,
		Observer:  r.observe,
		Parent:    r.ctx,
	})
	r.policy.insert(ex)
	r.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Created outbound exchange %s to %s", logPrefix, id, desc.Peer))
	r.publishNew(ex)
	return ex, nil
}

// Request creates an outbound exchange and submits it.
func (r *Registry) Request(ctx context.Context, desc RequestDescriptor) (*exchange.Exchange, error) {
	ex, err := r.CreateExchange(ctx, desc)
	if err != nil {
		return nil, err
	}
	if err := ex.Submit(ctx); err != nil {
		return nil, err
	}
	return ex, nil
}

// CreateOrGetExchange matches an inbound request stanza. Under the keyed
// policy a repeat of a known (peer, id) returns the existing exchange;
// otherwise a new inbound exchange is registered and announced.
func (r *Registry) CreateOrGetExchange(st *stanza.Node) (*exchange.Exchange, bool, error) {
	if !stanza.IsMessageRequest(st) {
		return nil, false, exchange.NewError(exchange.CodeInvalidArgument, "not a message request")
	}
	peer := stanza.From(st)
	if peer == "" {
		return nil, false, exchange.NewError(exchange.CodeInvalidArgument, "request has no sender")
	}
	id := stanza.ID(st)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, exchange.NewError(exchange.CodeClosed, "registry is closed")
	}
	if ex := r.policy.existing(peer, exchange.Inbound, id); ex != nil {
		r.mu.Unlock()
		return ex, false, nil
	}
	ex := exchange.New(exchange.Params{
		ID:        id,
		Direction: exchange.Inbound,
		Peer:      peer,
		Request:   st,
		Outbox:    r.policy,
		Observer:  r.observe,
		Parent:    r.ctx,
	})
	r.policy.insert(ex)
	r.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - New inbound exchange %s from %s", logPrefix, id, peer))
	r.publishNew(ex)
	return ex, true, nil
}

func (r *Registry) publishNew(ex *exchange.Exchange) {
	event := exchangeEvent(events.ExchangeNew, ex)
	p := ex.Payload()
	event.Exchange.Attributes = p.Attributes
	event.Exchange.Body = p.Body
	r.publish(event)
}

func validateDescriptor(desc RequestDescriptor) error {
	if len(desc.Extra) > 0 {
		return exchange.NewError(exchange.CodeInvalidArgument,
			fmt.Sprintf("unknown properties: %s", strings.Join(desc.extraNames(), ", ")))
	}
	if desc.Peer == "" {
		return exchange.NewError(exchange.CodeInvalidArgument, "peer must be set")
	}
	if desc.TargetService == "" {
		return exchange.NewError(exchange.CodeInvalidArgument, "targetService must be set")
	}
	if err := stanza.ValidateServiceName(desc.TargetService); err != nil {
		return exchange.NewError(exchange.CodeInvalidArgument, fmt.Sprintf("invalid targetService: %v", err))
	}
	if desc.InitiatorService == "" {
		return exchange.NewError(exchange.CodeInvalidArgument, "initiatorService must be set")
	}
	if err := stanza.ValidateServiceName(desc.InitiatorService); err != nil {
		return exchange.NewError(exchange.CodeInvalidArgument, fmt.Sprintf("invalid initiatorService: %v", err))
	}
	if !desc.RequestType.Valid() {
		return exchange.NewError(exchange.CodeInvalidArgument, "requestType must be 1 (get) or 2 (set)")
	}
	return nil
}

func (r *Registry) handleStanza(st *stanza.Node) bool {
	if stanza.IsMessageRequest(st) {
		_, _, err := r.CreateOrGetExchange(st)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - Not taking request %s: %v", logPrefix, stanza.ID(st), err))
			return false
		}
		return true
	}

	if !stanza.IsIQ(st) || !r.policy.routesResponses() {
		return false
	}
	switch stanza.TypeOf(st) {
	case stanza.IQResult, stanza.IQError:
	default:
		return false
	}

	r.mu.Lock()
	ex := r.policy.existing(stanza.From(st), exchange.Outbound, stanza.ID(st))
	r.mu.Unlock()
	if ex == nil {
		return false
	}

	if err := ex.HandleResponse(st); err != nil {
		slog.Debug(fmt.Sprintf("%s - Response for %s ignored: %v", logPrefix, ex.ID(), err))
	}
	return true
}
