package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/peer-services/pkg/stanza"
)

type fakeOutbox struct {
	mu        sync.Mutex
	requests  []*stanza.Node
	responses []*stanza.Node
	sendErr   error
}

func (o *fakeOutbox) SendRequest(_ context.Context, _ *Exchange, st *stanza.Node) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendErr != nil {
		return o.sendErr
	}
	o.requests = append(o.requests, st)
	return nil
}

func (o *fakeOutbox) SendResponse(_ context.Context, st *stanza.Node) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendErr != nil {
		return o.sendErr
	}
	o.responses = append(o.responses, st)
	return nil
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) observe(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NotificationKind
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

func newOutbound(t *testing.T, ob *fakeOutbox, rec *recorder) *Exchange {
	t.Helper()
	req, err := BuildRequest("local@host", "peer@host", "id-1", Payload{
		TargetService:    "com.example.Target",
		InitiatorService: "com.example.Initiator",
		RequestType:      RequestSet,
		Attributes:       map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	return New(Params{ID: "id-1", Direction: Outbound, Peer: "peer@host", Request: req, Outbox: ob, Observer: rec.observe})
}

func newInbound(t *testing.T, ob *fakeOutbox, rec *recorder) *Exchange {
	t.Helper()
	msg := stanza.EmptyMessage().
		SetAttr(AttrFromService, "com.example.Remote").
		SetAttr(AttrToService, "com.example.Local")
	req := stanza.NewIQ(stanza.IQGet, "in-1", "peer@host", "local@host", msg)
	return New(Params{ID: "in-1", Direction: Inbound, Peer: "peer@host", Request: req, Outbox: ob, Observer: rec.observe})
}

func TestBuildRequest_StampsServices(t *testing.T) {
	req, err := BuildRequest("a", "b", "x", Payload{
		TargetService:    "t.svc",
		InitiatorService: "i.svc",
		RequestType:      RequestSet,
		Attributes:       map[string]string{AttrToService: "ignored", "extra": "1"},
		Body:             `<message xmlns="urn:ytstenut:message"><data/></message>`,
	})
	require.NoError(t, err)

	assert.Equal(t, stanza.IQSet, stanza.TypeOf(req))
	msg := stanza.MessageChild(req)
	require.NotNil(t, msg)
	assert.Equal(t, "t.svc", msg.Attr(AttrToService))
	assert.Equal(t, "i.svc", msg.Attr(AttrFromService))
	assert.Equal(t, "1", msg.Attr("extra"))
	assert.NotNil(t, msg.Child(stanza.NSMessage, "data"))
}

func TestBuildRequest_RejectsBadBody(t *testing.T) {
	_, err := BuildRequest("a", "b", "x", Payload{Body: `<note xmlns="urn:other"/>`})
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestSubmit_OnceOnly(t *testing.T) {
	ob, rec := &fakeOutbox{}, &recorder{}
	ex := newOutbound(t, ob, rec)

	require.NoError(t, ex.Submit(context.Background()))
	assert.Equal(t, StateSubmitted, ex.State())

	err := ex.Submit(context.Background())
	assert.Equal(t, CodeAlreadySubmitted, CodeOf(err))
	assert.Len(t, ob.requests, 1)
}

func TestSubmit_WrongSide(t *testing.T) {
	ex := newInbound(t, &fakeOutbox{}, &recorder{})
	assert.Equal(t, CodeWrongSide, CodeOf(ex.Submit(context.Background())))
}

func TestSubmit_SendFailureClosesExchange(t *testing.T) {
	ob, rec := &fakeOutbox{sendErr: errors.New("boom")}, &recorder{}
	ex := newOutbound(t, ob, rec)

	err := ex.Submit(context.Background())
	assert.Equal(t, CodeSendFailed, CodeOf(err))
	assert.Equal(t, StateClosed, ex.State())
	assert.Equal(t, []NotificationKind{NotifyClosed}, rec.kinds())
}

func TestHandleResponse_ResultNotifiesOnce(t *testing.T) {
	ob, rec := &fakeOutbox{}, &recorder{}
	ex := newOutbound(t, ob, rec)
	require.NoError(t, ex.Submit(context.Background()))

	reply := stanza.BuildResult(ob.requests[0], stanza.EmptyMessage().SetAttr("answer", "42"))
	require.NoError(t, ex.HandleResponse(reply))
	assert.Equal(t, StateReplied, ex.State())

	err := ex.HandleResponse(reply)
	assert.Equal(t, CodeAlreadyReplied, CodeOf(err))

	require.Len(t, rec.notes, 1)
	assert.Equal(t, NotifyReplied, rec.notes[0].Kind)
	assert.Equal(t, "42", rec.notes[0].Attributes["answer"])
}

func TestHandleResponse_ErrorNotifiesFailed(t *testing.T) {
	ob, rec := &fakeOutbox{}, &recorder{}
	ex := newOutbound(t, ob, rec)
	require.NoError(t, ex.Submit(context.Background()))

	reply := stanza.BuildErrorReply(ob.requests[0], stanza.StanzaError{
		Type: stanza.ErrorTypeAuth, Condition: "not-authorized", DomainCondition: stanza.DomainForbidden, Text: "no",
	})
	require.NoError(t, ex.HandleResponse(reply))
	assert.Equal(t, StateFailed, ex.State())

	err := ex.HandleResponse(reply)
	assert.Equal(t, CodeAlreadyFailed, CodeOf(err))

	require.Len(t, rec.notes, 1)
	require.NotNil(t, rec.notes[0].Error)
	assert.Equal(t, stanza.ErrorTypeAuth, rec.notes[0].Error.Type)
	assert.Equal(t, "not-authorized", rec.notes[0].Error.Condition)
	assert.Equal(t, stanza.DomainForbidden, rec.notes[0].Error.DomainCondition)
}

func TestHandleResponse_AfterCloseIsDropped(t *testing.T) {
	ob, rec := &fakeOutbox{}, &recorder{}
	ex := newOutbound(t, ob, rec)
	require.NoError(t, ex.Submit(context.Background()))
	ex.Close()

	err := ex.HandleResponse(stanza.BuildResult(ob.requests[0], nil))
	assert.Equal(t, CodeClosed, CodeOf(err))
	assert.Equal(t, []NotificationKind{NotifyClosed}, rec.kinds())
}

func TestReply_SwapsServices(t *testing.T) {
	ob, rec := &fakeOutbox{}, &recorder{}
	ex := newInbound(t, ob, rec)

	require.NoError(t, ex.Reply(context.Background(), map[string]string{"status": "ok"}, ""))
	assert.Equal(t, StateReplied, ex.State())

	require.Len(t, ob.responses, 1)
	res := ob.responses[0]
	assert.Equal(t, stanza.IQResult, stanza.TypeOf(res))
	assert.Equal(t, "in-1", stanza.ID(res))
	assert.Equal(t, "peer@host", stanza.To(res))

	msg := stanza.MessageChild(res)
	require.NotNil(t, msg)
	assert.Equal(t, "com.example.Remote", msg.Attr(AttrToService))
	assert.Equal(t, "com.example.Local", msg.Attr(AttrFromService))
	assert.Equal(t, "ok", msg.Attr("status"))
	assert.Empty(t, rec.notes)
}

func TestReply_Errors(t *testing.T) {
	t.Run("request side", func(t *testing.T) {
		ex := newOutbound(t, &fakeOutbox{}, &recorder{})
		assert.Equal(t, CodeWrongSide, CodeOf(ex.Reply(context.Background(), nil, "")))
	})

	t.Run("bad body leaves state untouched", func(t *testing.T) {
		ex := newInbound(t, &fakeOutbox{}, &recorder{})
		err := ex.Reply(context.Background(), nil, "<not-closed")
		assert.Equal(t, CodeInvalidArgument, CodeOf(err))
		assert.Equal(t, StateCreated, ex.State())
	})

	t.Run("second answer", func(t *testing.T) {
		ex := newInbound(t, &fakeOutbox{}, &recorder{})
		require.NoError(t, ex.Reply(context.Background(), nil, ""))
		assert.Equal(t, CodeAlreadyReplied, CodeOf(ex.Reply(context.Background(), nil, "")))
		assert.Equal(t, CodeAlreadyReplied, CodeOf(ex.Fail(context.Background(), stanza.ErrorTypeCancel, "x", "", "")))
	})
}

func TestFail(t *testing.T) {
	ob := &fakeOutbox{}
	ex := newInbound(t, ob, &recorder{})

	err := ex.Fail(context.Background(), stanza.ErrorType(9), "bad-request", "", "")
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
	assert.Equal(t, StateCreated, ex.State())

	require.NoError(t, ex.Fail(context.Background(), stanza.ErrorTypeModify, "bad-request", stanza.DomainItemNotFound, "gone"))
	assert.Equal(t, StateFailed, ex.State())

	require.Len(t, ob.responses, 1)
	serr, ok := stanza.ExtractError(ob.responses[0])
	require.True(t, ok)
	assert.Equal(t, stanza.ErrorTypeModify, serr.Type)
	assert.Equal(t, "gone", serr.Text)

	assert.Equal(t, CodeAlreadyReplied, CodeOf(ex.Reply(context.Background(), nil, "")))
}

func TestAnswer_RejectsUnwritableContent(t *testing.T) {
	ctx := context.Background()
	reply := func(attrs map[string]string, body string) func(*Exchange) error {
		return func(ex *Exchange) error { return ex.Reply(ctx, attrs, body) }
	}
	fail := func(typ stanza.ErrorType, cond, domain string) func(*Exchange) error {
		return func(ex *Exchange) error { return ex.Fail(ctx, typ, cond, domain, "x") }
	}

	tests := []struct {
		name   string
		answer func(*Exchange) error
	}{
		{"attribute with space", reply(map[string]string{"bad key": "v"}, "")},
		{"attribute with markup", reply(map[string]string{"a<b": "v"}, "")},
		{"attribute starting with digit", reply(map[string]string{"1st": "v"}, "")},
		{"xmlns attribute", reply(map[string]string{"xmlns": "urn:other"}, "")},
		{"prefixed xmlns attribute", reply(map[string]string{"xmlns:p": "urn:other"}, "")},
		{"content after body", reply(nil, `<message xmlns="urn:ytstenut:message"/><oops`)},
		{"stanza error with markup", fail(stanza.ErrorTypeCancel, "not valid<", stanza.DomainForbidden)},
		{"prefixed stanza error", fail(stanza.ErrorTypeCancel, "p:bad", "")},
		{"unknown domain error", fail(stanza.ErrorTypeModify, "bad-request", "gone-fishing")},
		{"domain error with markup", fail(stanza.ErrorTypeModify, "bad-request", "forbidden<")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob, rec := &fakeOutbox{}, &recorder{}
			ex := newInbound(t, ob, rec)

			err := tt.answer(ex)
			assert.Equal(t, CodeInvalidArgument, CodeOf(err), "exchange:exchange_test - err = %v", err)
			assert.Equal(t, StateCreated, ex.State(), "exchange:exchange_test - state must not change")
			assert.Empty(t, ob.responses)
			assert.Empty(t, rec.notes)

			require.NoError(t, ex.Reply(ctx, nil, ""), "exchange:exchange_test - exchange stays answerable")
		})
	}
}

func TestAnswer_StanzasParse(t *testing.T) {
	ctx := context.Background()

	ob := &fakeOutbox{}
	ex := newInbound(t, ob, &recorder{})
	require.NoError(t, ex.Reply(ctx, map[string]string{"x-y.z_1": `"<&>`}, ""))
	parsed, err := stanza.ParseString(ob.responses[0].String())
	require.NoError(t, err, "exchange:exchange_test - reply must be well-formed")
	assert.Equal(t, `"<&>`, stanza.MessageChild(parsed).Attr("x-y.z_1"))

	ob = &fakeOutbox{}
	ex = newInbound(t, ob, &recorder{})
	require.NoError(t, ex.Fail(ctx, stanza.ErrorTypeAuth, "not-authorized", stanza.DomainForbidden, "<no>"))
	parsed, err = stanza.ParseString(ob.responses[0].String())
	require.NoError(t, err, "exchange:exchange_test - error reply must be well-formed")
	serr, ok := stanza.ExtractError(parsed)
	require.True(t, ok)
	assert.Equal(t, "not-authorized", serr.Condition)
	assert.Equal(t, stanza.DomainForbidden, serr.DomainCondition)
	assert.Equal(t, "<no>", serr.Text)
}

func TestClose_IdempotentAndCancels(t *testing.T) {
	rec := &recorder{}
	ex := newOutbound(t, &fakeOutbox{}, rec)

	ex.Close()
	ex.Close()

	assert.Equal(t, StateClosed, ex.State())
	assert.Error(t, ex.Context().Err())
	assert.Equal(t, []NotificationKind{NotifyClosed}, rec.kinds())
	assert.Equal(t, CodeClosed, CodeOf(ex.Submit(context.Background())))
}

func TestPayloadFromRequest(t *testing.T) {
	msg := stanza.EmptyMessage().SetAttr(AttrToService, "a.b").SetAttr(AttrFromService, "c.d")
	p := PayloadFromRequest(stanza.NewIQ(stanza.IQSet, "1", "x", "y", msg))

	assert.Equal(t, RequestSet, p.RequestType)
	assert.Equal(t, "a.b", p.TargetService)
	assert.Equal(t, "c.d", p.InitiatorService)
	assert.Equal(t, msg.String(), p.Body)
}

func TestErrorIs(t *testing.T) {
	err := error(NewError(CodeNotFound, "missing"))
	assert.True(t, errors.Is(err, &Error{Code: CodeNotFound}))
	assert.False(t, errors.Is(err, &Error{Code: CodeClosed}))
	assert.False(t, NewError(CodeNotFound, "").Retryable())
	assert.True(t, NewError(CodeSendFailed, "").Retryable())
}
