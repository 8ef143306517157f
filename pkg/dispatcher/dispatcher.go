package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/peer-services/pkg/caps"
	"github.com/morezero/peer-services/pkg/directory"
	"github.com/morezero/peer-services/pkg/exchange"
	"github.com/morezero/peer-services/pkg/registry"
	"github.com/morezero/peer-services/pkg/session"
	"github.com/morezero/peer-services/pkg/stanza"
	"github.com/morezero/peer-services/pkg/status"
)

const logPrefix = "dispatcher:dispatch"

// Error codes produced by the dispatcher itself.
const (
	CodeMethodNotFound = "METHOD_NOT_FOUND"
	CodeInvalidRequest = "INVALID_REQUEST"
)

// Host is the local peer the dispatcher drives. *session.Session
// implements it.
type Host interface {
	LocalAddress() string
	Registry() *registry.Registry
	Store() *status.Store
	Directory() *directory.Directory
	RepresentClient(ctx context.Context, clientID string, tokens []string, targetServices ...string) (caps.Announcement, error)
	AdvertiseStatus(ctx context.Context, capability, serviceName, body string) error
	Health(ctx context.Context) *session.HealthOutput
}

var _ Host = (*session.Session)(nil)

// Dispatcher routes host API requests to the session.
type Dispatcher struct {
	host Host
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(host Host) *Dispatcher {
	return &Dispatcher{host: host}
}

// Dispatch routes a request to the matching handler and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *HostRequest) *HostResponse {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	switch req.Method {
	case "createExchange":
		return d.handleCreateExchange(ctx, req)
	case "submit":
		return d.handleSubmit(ctx, req)
	case "reply":
		return d.handleReply(ctx, req)
	case "fail":
		return d.handleFail(ctx, req)
	case "close":
		return d.handleClose(req)
	case "getExchange":
		return d.handleGetExchange(req)
	case "listExchanges":
		return d.handleListExchanges(req)
	case "representClient":
		return d.handleRepresentClient(ctx, req)
	case "advertiseStatus":
		return d.handleAdvertiseStatus(ctx, req)
	case "discoveredStatuses":
		return okResponse(req.ID, d.host.Store().DiscoveredStatuses())
	case "discoveredServices":
		return okResponse(req.ID, d.host.Store().DiscoveredServices())
	case "listPeers":
		return okResponse(req.ID, d.host.Directory().List())
	case "health":
		return okResponse(req.ID, d.host.Health(ctx))
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), false)
	}
}

func (d *Dispatcher) handleCreateExchange(ctx context.Context, req *HostRequest) *HostResponse {
	var input CreateExchangeParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, exchange.CodeInvalidArgument, "Failed to parse createExchange params", false)
	}
	if len(input.Request) == 0 {
		return errorResponse(req.ID, exchange.CodeInvalidArgument, "request must be set", false)
	}
	var desc registry.RequestDescriptor
	if err := json.Unmarshal(input.Request, &desc); err != nil {
		return errorResponse(req.ID, exchange.CodeInvalidArgument, "Failed to parse request descriptor", false)
	}

	reg := d.host.Registry()
	var (
		ex  *exchange.Exchange
		err error
	)
	if input.Submit {
		ex, err = reg.Request(ctx, desc)
	} else {
		ex, err = reg.CreateExchange(ctx, desc)
	}
	if err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	return okResponse(req.ID, ex.Info())
}

func (d *Dispatcher) handleSubmit(ctx context.Context, req *HostRequest) *HostResponse {
	ex, resp := d.lookup(req)
	if resp != nil {
		return resp
	}
	if err := ex.Submit(ctx); err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	return okResponse(req.ID, ex.Info())
}

func (d *Dispatcher) handleReply(ctx context.Context, req *HostRequest) *HostResponse {
	var input ReplyParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, exchange.CodeInvalidArgument, "Failed to parse reply params", false)
	}
	ex, err := d.host.Registry().Lookup(exchange.Key{Peer: input.Peer, ID: input.ID})
	if err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	if err := ex.Reply(ctx, input.Attributes, input.Body); err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	return okResponse(req.ID, ex.Info())
}

func (d *Dispatcher) handleFail(ctx context.Context, req *HostRequest) *HostResponse {
	var input FailParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, exchange.CodeInvalidArgument, "Failed to parse fail params", false)
	}
	ex, err := d.host.Registry().Lookup(exchange.Key{Peer: input.Peer, ID: input.ID})
	if err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	if err := ex.Fail(ctx, stanza.ErrorType(input.ErrorType), input.StanzaError, input.DomainError, input.Text); err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	return okResponse(req.ID, ex.Info())
}

func (d *Dispatcher) handleClose(req *HostRequest) *HostResponse {
	ex, resp := d.lookup(req)
	if resp != nil {
		return resp
	}
	ex.Close()
	return okResponse(req.ID, ex.Info())
}

func (d *Dispatcher) handleGetExchange(req *HostRequest) *HostResponse {
	ex, resp := d.lookup(req)
	if resp != nil {
		return resp
	}
	return okResponse(req.ID, ex.Info())
}

func (d *Dispatcher) handleListExchanges(req *HostRequest) *HostResponse {
	all := d.host.Registry().EnumerateExchanges()
	out := make([]exchange.Info, 0, len(all))
	for _, ex := range all {
		out = append(out, ex.Info())
	}
	return okResponse(req.ID, out)
}

func (d *Dispatcher) handleRepresentClient(ctx context.Context, req *HostRequest) *HostResponse {
	var input RepresentClientParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, exchange.CodeInvalidArgument, "Failed to parse representClient params", false)
	}
	if input.ClientID == "" && req.Ctx != nil {
		input.ClientID = req.Ctx.ClientID
	}
	a, err := d.host.RepresentClient(ctx, input.ClientID, input.Tokens, input.TargetServices...)
	if err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	return okResponse(req.ID, a)
}

func (d *Dispatcher) handleAdvertiseStatus(ctx context.Context, req *HostRequest) *HostResponse {
	var input AdvertiseStatusParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, exchange.CodeInvalidArgument, "Failed to parse advertiseStatus params", false)
	}
	if err := d.host.AdvertiseStatus(ctx, input.Capability, input.Service, input.Body); err != nil {
		return exchangeErrorToResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]bool{"advertised": true})
}

// lookup resolves the exchange named by ExchangeParams.
func (d *Dispatcher) lookup(req *HostRequest) (*exchange.Exchange, *HostResponse) {
	var input ExchangeParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return nil, errorResponse(req.ID, exchange.CodeInvalidArgument, fmt.Sprintf("Failed to parse %s params", req.Method), false)
	}
	dir, ok := exchange.ParseDirection(input.Direction)
	if !ok {
		return nil, errorResponse(req.ID, exchange.CodeInvalidArgument, fmt.Sprintf("Unknown direction %q", input.Direction), false)
	}
	ex, err := d.host.Registry().Lookup(exchange.Key{Peer: input.Peer, Direction: dir, ID: input.ID})
	if err != nil {
		return nil, exchangeErrorToResponse(req.ID, err)
	}
	return ex, nil
}

// --- helpers ---

func okResponse(id string, result interface{}) *HostResponse {
	return &HostResponse{ID: id, Ok: true, Result: result}
}

func errorResponse(id, code, message string, retryable bool) *HostResponse {
	return &HostResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func exchangeErrorToResponse(id string, err error) *HostResponse {
	var exErr *exchange.Error
	if errors.As(err, &exErr) {
		return &HostResponse{
			ID: id,
			Ok: false,
			Error: &ErrorDetail{
				Code:      exErr.Code,
				Message:   exErr.Message,
				Details:   exErr.Details,
				Retryable: exErr.Retryable(),
			},
		}
	}
	return errorResponse(id, exchange.CodeInternal, err.Error(), true)
}
