package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/peer-services/pkg/exchange"
	"github.com/morezero/peer-services/pkg/stanza"
)

const policyLogPrefix = "registry:policy"

// PolicyKind selects how inbound stanzas are matched to exchanges.
type PolicyKind string

const (
	// PolicyKeyed correlates by (peer, direction, stanza id) and routes
	// responses itself.
	PolicyKeyed PolicyKind = "keyed"
	// PolicyUnkeyed creates an exchange for every inbound request and
	// relies on the transport's send-with-response for replies.
	PolicyUnkeyed PolicyKind = "unkeyed"
)

// ParsePolicy maps a configuration string onto a PolicyKind.
func ParsePolicy(s string) (PolicyKind, error) {
	switch PolicyKind(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyKeyed, "":
		return PolicyKeyed, nil
	case PolicyUnkeyed:
		return PolicyUnkeyed, nil
	}
	return "", fmt.Errorf("unknown match policy %q (want keyed or unkeyed)", s)
}

// matchPolicy stores the active exchanges and decides how outbound
// requests travel. Callers hold Registry.mu around the storage methods.
type matchPolicy interface {
	exchange.Outbox
	existing(peer string, dir exchange.Direction, id string) *exchange.Exchange
	insert(ex *exchange.Exchange)
	remove(ex *exchange.Exchange)
	all() []*exchange.Exchange
	clear()
	routesResponses() bool
}

func newPolicy(kind PolicyKind, r *Registry) matchPolicy {
	if kind == PolicyUnkeyed {
		return &unkeyedPolicy{r: r}
	}
	return &keyedPolicy{r: r, active: make(map[exchange.Key]*exchange.Exchange)}
}

// ordered keeps exchanges in insertion order for enumeration.
type ordered struct {
	list []*exchange.Exchange
}

func (o *ordered) append(ex *exchange.Exchange) {
	o.list = append(o.list, ex)
}

func (o *ordered) drop(ex *exchange.Exchange) bool {
	for i, cur := range o.list {
		if cur == ex {
			o.list = append(o.list[:i], o.list[i+1:]...)
			return true
		}
	}
	return false
}

func (o *ordered) snapshot() []*exchange.Exchange {
	out := make([]*exchange.Exchange, len(o.list))
	copy(out, o.list)
	return out
}

type keyedPolicy struct {
	r      *Registry
	active map[exchange.Key]*exchange.Exchange
	ordered
}

func (p *keyedPolicy) existing(peer string, dir exchange.Direction, id string) *exchange.Exchange {
	return p.active[exchange.Key{Peer: peer, Direction: dir, ID: id}]
}

func (p *keyedPolicy) insert(ex *exchange.Exchange) {
	key := ex.Key()
	if _, dup := p.active[key]; dup {
		panic(fmt.Sprintf("%s - exchange %s/%s/%s inserted twice", policyLogPrefix, key.Peer, key.Direction, key.ID))
	}
	p.active[key] = ex
	p.append(ex)
}

func (p *keyedPolicy) remove(ex *exchange.Exchange) {
	key := ex.Key()
	if p.active[key] == ex {
		delete(p.active, key)
	}
	p.drop(ex)
}

func (p *keyedPolicy) all() []*exchange.Exchange { return p.snapshot() }

func (p *keyedPolicy) clear() {
	p.active = make(map[exchange.Key]*exchange.Exchange)
	p.list = nil
}

func (p *keyedPolicy) routesResponses() bool { return true }

// SendRequest sends fire-and-forget; the response comes back through the
// registry's inbound handler.
func (p *keyedPolicy) SendRequest(ctx context.Context, _ *exchange.Exchange, request *stanza.Node) error {
	return p.r.transport.Send(ctx, request)
}

func (p *keyedPolicy) SendResponse(ctx context.Context, response *stanza.Node) error {
	return p.r.transport.Send(ctx, response)
}

type unkeyedPolicy struct {
	r *Registry
	ordered
}

func (p *unkeyedPolicy) existing(string, exchange.Direction, string) *exchange.Exchange { return nil }

func (p *unkeyedPolicy) insert(ex *exchange.Exchange) { p.append(ex) }

func (p *unkeyedPolicy) remove(ex *exchange.Exchange) { p.drop(ex) }

func (p *unkeyedPolicy) all() []*exchange.Exchange { return p.snapshot() }

func (p *unkeyedPolicy) clear() { p.list = nil }

func (p *unkeyedPolicy) routesResponses() bool { return false }

// SendRequest sends synchronously, so a transport failure reaches Submit,
// then waits for the response in the background, bound to the exchange's
// context so closing the exchange abandons the wait.
func (p *unkeyedPolicy) SendRequest(ctx context.Context, ex *exchange.Exchange, request *stanza.Node) error {
	wait, err := p.r.transport.BeginIQ(ctx, request)
	if err != nil {
		return err
	}
	go func() {
		reply, err := wait(ex.Context())
		if err != nil {
			if ex.Context().Err() != nil {
				return
			}
			slog.Warn(fmt.Sprintf("%s - Request %s to %s failed: %v", policyLogPrefix, ex.ID(), ex.Peer(), err))
			ex.Close()
			return
		}
		if err := ex.HandleResponse(reply); err != nil {
			slog.Debug(fmt.Sprintf("%s - Response for %s ignored: %v", policyLogPrefix, ex.ID(), err))
		}
	}()
	return nil
}

func (p *unkeyedPolicy) SendResponse(ctx context.Context, response *stanza.Node) error {
	return p.r.transport.Send(ctx, response)
}
