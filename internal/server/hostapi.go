package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/peer-services/pkg/commsutil"
	"github.com/morezero/peer-services/pkg/dispatcher"
)

// handleHostMessage decodes one host API request and dispatches it under
// a per-request deadline.
func handleHostMessage(ctx context.Context, disp *dispatcher.Dispatcher, requestTimeout time.Duration, data []byte) *dispatcher.HostResponse {
	var req dispatcher.HostRequest
	if err := commsutil.DecodePayload(data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		return &dispatcher.HostResponse{
			Ok: false,
			Error: &dispatcher.ErrorDetail{
				Code:    dispatcher.CodeInvalidRequest,
				Message: "Failed to decode request",
			},
		}
	}

	reqCtx, cancel := requestContext(ctx, &req, requestTimeout)
	defer cancel()
	return disp.Dispatch(reqCtx, &req)
}

// requestContext bounds a request by requestTimeout, or by the caller's
// deadline when that is shorter.
func requestContext(ctx context.Context, req *dispatcher.HostRequest, requestTimeout time.Duration) (context.Context, context.CancelFunc) {
	timeout := requestTimeout
	if req.Ctx != nil {
		ms := req.Ctx.DeadlineMs
		if ms <= 0 {
			ms = req.Ctx.TimeoutMs
		}
		if ms > 0 && time.Duration(ms)*time.Millisecond < timeout {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return context.WithTimeout(ctx, timeout)
}
