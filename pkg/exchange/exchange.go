package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/peer-services/pkg/stanza"
)

const logPrefix = "exchange:exchange"

// Message attributes stamped with the service names.
const (
	AttrFromService = "from-service"
	AttrToService   = "to-service"
)

// Exchange is one request/reply interaction with a peer. All methods are
// safe for concurrent use; notifications are delivered outside the lock.
type Exchange struct {
	mu sync.Mutex

	id        string
	direction Direction
	peer      string
	request   *stanza.Node
	payload   Payload
	createdAt time.Time

	state    State
	notified bool

	ctx    context.Context
	cancel context.CancelFunc

	outbox   Outbox
	observer Observer
}

// Params holds parameters for New.
type Params struct {
	ID        string
	Direction Direction
	Peer      string
	// Request is the iq get/set stanza. For outbound exchanges build it with
	// BuildRequest; for inbound ones it is the stanza that was received.
	Request  *stanza.Node
	Outbox   Outbox
	Observer Observer
	// Parent bounds the lifetime of the pending outbound operation.
	Parent context.Context
}

// New creates an exchange in the Created state.
func New(p Params) *Exchange {
	parent := p.Parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	return &Exchange{
		id:        p.ID,
		direction: p.Direction,
		peer:      p.Peer,
		request:   p.Request,
		payload:   PayloadFromRequest(p.Request),
		createdAt: time.Now().UTC(),
		state:     StateCreated,
		ctx:       ctx,
		cancel:    cancel,
		outbox:    p.Outbox,
		observer:  p.Observer,
	}
}

// BuildRequest builds the iq stanza for an outbound request from local to
// peer. The body must be a message payload or empty.
func BuildRequest(local, peer, id string, p Payload) (*stanza.Node, error) {
	msg, err := stanza.BuildMessage(p.Attributes, p.Body)
	if err != nil {
		return nil, NewError(CodeInvalidArgument, err.Error())
	}
	msg.SetAttr(AttrFromService, p.InitiatorService)
	msg.SetAttr(AttrToService, p.TargetService)

	typ := p.RequestType
	if !typ.Valid() {
		typ = RequestGet
	}
	return stanza.NewIQ(typ.IQType(), id, local, peer, msg), nil
}

// PayloadFromRequest extracts the payload carried by an iq request.
func PayloadFromRequest(st *stanza.Node) Payload {
	if st == nil {
		return Payload{}
	}

	p := Payload{RequestType: RequestGet}
	if stanza.TypeOf(st) == stanza.IQSet {
		p.RequestType = RequestSet
	}

	msg := stanza.MessageChild(st)
	if msg == nil {
		msg = stanza.EmptyMessage()
	}
	p.Attributes = msg.PlainAttrs()
	p.TargetService = p.Attributes[AttrToService]
	p.InitiatorService = p.Attributes[AttrFromService]
	p.Body = msg.String()
	return p
}

// ID returns the correlation id (the request stanza id).
func (e *Exchange) ID() string { return e.id }

// Direction returns which side this process is on.
func (e *Exchange) Direction() Direction { return e.direction }

// Peer returns the remote peer address.
func (e *Exchange) Peer() string { return e.peer }

// Key returns the keyed-policy identity of the exchange.
func (e *Exchange) Key() Key {
	return Key{Peer: e.peer, Direction: e.direction, ID: e.id}
}

// Payload returns a copy of the request payload.
func (e *Exchange) Payload() Payload {
	p := e.payload
	p.Attributes = copyAttrs(e.payload.Attributes)
	return p
}

// Context is cancelled when the exchange closes.
func (e *Exchange) Context() context.Context { return e.ctx }

// State returns the current state.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Info returns a snapshot of the exchange.
func (e *Exchange) Info() Info {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	return Info{
		ID:               e.id,
		Direction:        e.direction.String(),
		Peer:             e.peer,
		State:            state.String(),
		TargetService:    e.payload.TargetService,
		InitiatorService: e.payload.InitiatorService,
		RequestType:      e.payload.RequestType,
		Attributes:       copyAttrs(e.payload.Attributes),
		Body:             e.payload.Body,
		CreatedAt:        e.createdAt,
	}
}

// Submit sends the outbound request. It may be called once.
func (e *Exchange) Submit(ctx context.Context) error {
	e.mu.Lock()
	if e.direction != Outbound {
		e.mu.Unlock()
		return NewError(CodeWrongSide, "Submit may not be called on the receiving side")
	}
	switch e.state {
	case StateCreated:
	case StateClosed:
		e.mu.Unlock()
		return NewError(CodeClosed, "exchange is closed")
	default:
		e.mu.Unlock()
		return NewError(CodeAlreadySubmitted, "Submit has already been called")
	}
	e.state = StateSubmitted
	e.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Submitting %s to %s", logPrefix, e.id, e.peer))

	if err := e.outbox.SendRequest(ctx, e, e.request.Clone()); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to send request %s to %s: %v", logPrefix, e.id, e.peer, err))
		e.Close()
		return &Error{Code: CodeSendFailed, Message: err.Error()}
	}
	return nil
}

// Reply answers an inbound request with a message payload. Invalid
// attribute names or a malformed body leave the state untouched.
func (e *Exchange) Reply(ctx context.Context, attributes map[string]string, body string) error {
	if err := e.checkAnswerable(); err != nil {
		return err
	}

	msg, err := stanza.BuildMessage(attributes, body)
	if err != nil {
		return NewError(CodeInvalidArgument, err.Error())
	}
	msg.SetAttr(AttrToService, e.payload.InitiatorService)
	msg.SetAttr(AttrFromService, e.payload.TargetService)

	return e.answer(ctx, StateReplied, stanza.BuildResult(e.request, msg))
}

// Fail answers an inbound request with an error. The domain error name
// must be empty or one of stanza.DomainErrors.
func (e *Exchange) Fail(ctx context.Context, errorType stanza.ErrorType, stanzaErrorName, domainErrorName, text string) error {
	if err := e.checkAnswerable(); err != nil {
		return err
	}
	serr := stanza.StanzaError{
		Type:            errorType,
		Condition:       stanzaErrorName,
		DomainCondition: domainErrorName,
		Text:            text,
	}
	if err := serr.Validate(); err != nil {
		return NewError(CodeInvalidArgument, err.Error())
	}
	return e.answer(ctx, StateFailed, stanza.BuildErrorReply(e.request, serr))
}

func (e *Exchange) checkAnswerable() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.direction != Inbound {
		return NewError(CodeWrongSide, "Reply and Fail may not be called on the request side")
	}
	switch e.state {
	case StateReplied, StateFailed:
		return NewError(CodeAlreadyReplied, "Fail or Reply has already been called")
	case StateClosed:
		return NewError(CodeClosed, "exchange is closed")
	}
	return nil
}

func (e *Exchange) answer(ctx context.Context, next State, reply *stanza.Node) error {
	e.mu.Lock()
	if e.state == StateReplied || e.state == StateFailed {
		e.mu.Unlock()
		return NewError(CodeAlreadyReplied, "Fail or Reply has already been called")
	}
	if e.state == StateClosed {
		e.mu.Unlock()
		return NewError(CodeClosed, "exchange is closed")
	}
	e.state = next
	e.mu.Unlock()

	if err := e.outbox.SendResponse(ctx, reply); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to answer %s from %s: %v", logPrefix, e.id, e.peer, err))
		e.Close()
		return &Error{Code: CodeSendFailed, Message: err.Error()}
	}
	return nil
}

// HandleResponse applies a result or error stanza received for an
// outbound exchange. At most one replied/failed notification is emitted.
func (e *Exchange) HandleResponse(st *stanza.Node) error {
	e.mu.Lock()
	if e.direction != Outbound {
		e.mu.Unlock()
		return NewError(CodeWrongSide, "responses are only accepted on the request side")
	}
	if e.state == StateClosed {
		e.mu.Unlock()
		return NewError(CodeClosed, "exchange is closed")
	}
	if e.notified {
		code := CodeAlreadyReplied
		if e.state == StateFailed {
			code = CodeAlreadyFailed
		}
		e.mu.Unlock()
		return NewError(code, "a response has already been received")
	}

	n := Notification{Exchange: e}
	if serr, isErr := stanza.ExtractError(st); isErr {
		e.state = StateFailed
		n.Kind = NotifyFailed
		n.Error = &serr
	} else {
		msg := stanza.MessageChild(st)
		if msg == nil {
			msg = stanza.EmptyMessage()
		}
		e.state = StateReplied
		n.Kind = NotifyReplied
		n.Attributes = msg.PlainAttrs()
		n.Body = msg.String()
	}
	e.notified = true
	e.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Exchange %s with %s %s", logPrefix, e.id, e.peer, n.Kind))
	e.notify(n)
	return nil
}

// Close tears the exchange down and cancels any pending operation. It is
// idempotent and never emits replied or failed.
func (e *Exchange) Close() {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.state = StateClosed
	e.mu.Unlock()

	e.cancel()
	e.notify(Notification{Kind: NotifyClosed, Exchange: e})
}

func (e *Exchange) notify(n Notification) {
	if e.observer != nil {
		e.observer(n)
	}
}

func copyAttrs(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
