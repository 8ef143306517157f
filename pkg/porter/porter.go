// Package porter moves stanzas between peers over COMMS. Each peer address
// owns an inbox subject; stanzas are published there as XML.
package porter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"
	"go.uber.org/multierr"

	"github.com/morezero/peer-services/pkg/commsutil"
	"github.com/morezero/peer-services/pkg/stanza"
)

const logPrefix = "porter:porter"

// ErrClosed is returned once the porter has been closed.
var ErrClosed = errors.New("porter is closed")

// Handler inspects an inbound stanza and reports whether it consumed it.
type Handler func(st *stanza.Node) bool

// HandlerID identifies a registered handler.
type HandlerID uint64

type registration struct {
	id      HandlerID
	handler Handler
}

// Porter is the COMMS-backed stanza transport for one local address.
type Porter struct {
	nc    *comms.Conn
	local string

	mu       sync.Mutex
	handlers []registration
	nextID   HandlerID
	pending  map[string]chan *stanza.Node
	onClosed []func()
	subs     []*comms.Subscription
	closed   bool
}

// New creates a Porter for local. Call Start to begin receiving.
func New(nc *comms.Conn, local string) *Porter {
	return &Porter{
		nc:      nc,
		local:   local,
		pending: make(map[string]chan *stanza.Node),
	}
}

// Start subscribes to the local inbox and arranges for a closed COMMS
// connection to close the porter.
func (p *Porter) Start() error {
	p.nc.SetClosedHandler(func(_ *comms.Conn) {
		slog.Info(fmt.Sprintf("%s - COMMS connection closed, closing porter for %s", logPrefix, p.local))
		_ = p.Close()
	})

	subject := commsutil.BuildPeerSubject(p.local)
	sub, err := p.nc.Subscribe(subject, func(msg *comms.Msg) {
		p.receive(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Receiving stanzas for %s on %s", logPrefix, p.local, subject))
	return nil
}

// LocalAddress returns the address stanzas are sent from.
func (p *Porter) LocalAddress() string {
	return p.local
}

// Send delivers st to the inbox of its "to" address.
func (p *Porter) Send(ctx context.Context, st *stanza.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	to := stanza.To(st)
	if to == "" {
		return fmt.Errorf("%s - stanza has no recipient", logPrefix)
	}
	if stanza.From(st) == "" {
		st.SetAttr("from", p.local)
	}

	if err := p.nc.Publish(commsutil.BuildPeerSubject(to), st.Bytes()); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", logPrefix, to, err)
	}
	return nil
}

// ResponseWaiter blocks until the response to an iq started with BeginIQ
// arrives, ctx is done or the porter closes.
type ResponseWaiter func(ctx context.Context) (*stanza.Node, error)

// BeginIQ registers st for a correlated response and sends it. A send
// failure is returned here; on success the caller must call the returned
// waiter exactly once.
func (p *Porter) BeginIQ(ctx context.Context, st *stanza.Node) (ResponseWaiter, error) {
	id := stanza.ID(st)
	if id == "" {
		id = stanza.NewID()
		st.SetAttr("id", id)
	}

	ch := make(chan *stanza.Node, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.Send(ctx, st); err != nil {
		p.forget(id, ch)
		return nil, err
	}

	return func(ctx context.Context) (*stanza.Node, error) {
		defer p.forget(id, ch)
		select {
		case reply, ok := <-ch:
			if !ok {
				return nil, ErrClosed
			}
			return reply, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil
}

// SendIQ sends an iq and waits for the result or error carrying the same
// id. The wait ends early when ctx is done or the porter closes.
func (p *Porter) SendIQ(ctx context.Context, st *stanza.Node) (*stanza.Node, error) {
	wait, err := p.BeginIQ(ctx, st)
	if err != nil {
		return nil, err
	}
	return wait(ctx)
}

func (p *Porter) forget(id string, ch chan *stanza.Node) {
	p.mu.Lock()
	if p.pending[id] == ch {
		delete(p.pending, id)
	}
	p.mu.Unlock()
}

// RegisterHandler adds h to the end of the handler chain.
func (p *Porter) RegisterHandler(h Handler) HandlerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.handlers = append(p.handlers, registration{id: p.nextID, handler: h})
	return p.nextID
}

// UnregisterHandler removes a handler. Unknown ids are ignored.
func (p *Porter) UnregisterHandler(id HandlerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.handlers {
		if r.id == id {
			p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
			return
		}
	}
}

// OnClosed registers fn to run once when the porter closes. If it is
// already closed fn runs immediately.
func (p *Porter) OnClosed(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.onClosed = append(p.onClosed, fn)
	p.mu.Unlock()
}

// Publish sends st on a notification subject.
func (p *Porter) Publish(_ context.Context, subject string, st *stanza.Node) error {
	if err := p.nc.Publish(subject, st.Bytes()); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", logPrefix, subject, err)
	}
	return nil
}

// Subscribe delivers every parsable stanza published on subject to fn.
// Stanzas this porter published itself are skipped.
func (p *Porter) Subscribe(subject string, fn func(st *stanza.Node)) error {
	sub, err := p.nc.Subscribe(subject, func(msg *comms.Msg) {
		st, err := stanza.Parse(msg.Data)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - Dropping unparsable payload on %s: %v", logPrefix, msg.Subject, err))
			return
		}
		if stanza.From(st) == p.local {
			return
		}
		fn(st)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return nil
}

// Flush waits until everything published so far reached the server.
func (p *Porter) Flush() error {
	return p.nc.Flush()
}

// Close unsubscribes, aborts pending iq waits and runs the closed
// callbacks. Later calls return nil.
func (p *Porter) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	callbacks := p.onClosed
	p.onClosed = nil
	p.mu.Unlock()

	var err error
	for _, sub := range subs {
		if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, comms.ErrConnectionClosed) {
			err = multierr.Append(err, uerr)
		}
	}

	for _, fn := range callbacks {
		fn()
	}
	return err
}

func (p *Porter) receive(data []byte) {
	st, err := stanza.Parse(data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - Dropping unparsable stanza: %v", logPrefix, err))
		return
	}

	if stanza.IsIQ(st) {
		switch stanza.TypeOf(st) {
		case stanza.IQResult, stanza.IQError:
			p.mu.Lock()
			ch, ok := p.pending[stanza.ID(st)]
			if ok {
				delete(p.pending, stanza.ID(st))
			}
			p.mu.Unlock()
			if ok {
				ch <- st
				return
			}
		}
	}

	p.mu.Lock()
	handlers := make([]registration, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, r := range handlers {
		if r.handler(st) {
			return
		}
	}

	// Unhandled requests are answered so the sender does not wait forever.
	if stanza.IsIQ(st) {
		switch stanza.TypeOf(st) {
		case stanza.IQGet, stanza.IQSet:
			reply := stanza.BuildErrorReply(st, stanza.StanzaError{
				Type:      stanza.ErrorTypeCancel,
				Condition: "service-unavailable",
			})
			if err := p.Send(context.Background(), reply); err != nil {
				slog.Warn(fmt.Sprintf("%s - Failed to reject unhandled iq %s: %v", logPrefix, stanza.ID(st), err))
			}
		}
	}
}
