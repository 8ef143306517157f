package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/morezero/peer-services/pkg/events"
	"github.com/morezero/peer-services/pkg/porter"
	"github.com/morezero/peer-services/pkg/stanza"
)

// fakeTransport records sent stanzas and lets tests inject inbound ones.
type fakeTransport struct {
	mu       sync.Mutex
	local    string
	sent     []*stanza.Node
	handlers map[porter.HandlerID]porter.Handler
	nextID   porter.HandlerID
	onClosed []func()
	sendErr  error

	// iqReplies receives the reply for each BeginIQ wait.
	iqReplies chan *stanza.Node
	iqStarted chan *stanza.Node
}

func newFakeTransport(local string) *fakeTransport {
	return &fakeTransport{
		local:     local,
		handlers:  make(map[porter.HandlerID]porter.Handler),
		iqReplies: make(chan *stanza.Node, 8),
		iqStarted: make(chan *stanza.Node, 8),
	}
}

func (f *fakeTransport) LocalAddress() string { return f.local }

func (f *fakeTransport) Send(_ context.Context, st *stanza.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, st)
	return nil
}

func (f *fakeTransport) BeginIQ(ctx context.Context, st *stanza.Node) (porter.ResponseWaiter, error) {
	if err := f.Send(ctx, st); err != nil {
		return nil, err
	}
	f.iqStarted <- st
	return func(ctx context.Context) (*stanza.Node, error) {
		select {
		case reply := <-f.iqReplies:
			if reply == nil {
				return nil, errors.New("transport failure")
			}
			return reply, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil
}

func (f *fakeTransport) RegisterHandler(h porter.Handler) porter.HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.handlers[f.nextID] = h
	return f.nextID
}

func (f *fakeTransport) UnregisterHandler(id porter.HandlerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
}

func (f *fakeTransport) OnClosed(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClosed = append(f.onClosed, fn)
}

// deliver hands st to the registered handlers and reports whether one took it.
func (f *fakeTransport) deliver(st *stanza.Node) bool {
	f.mu.Lock()
	var hs []porter.Handler
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		if h(st) {
			return true
		}
	}
	return false
}

func (f *fakeTransport) disconnect() {
	f.mu.Lock()
	fns := f.onClosed
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeTransport) lastSent() *stanza.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type onlineSet map[string]bool

func (o onlineSet) IsOnline(address string) bool { return o[address] }

func newTestRegistry(t *testing.T, policy PolicyKind) (*Registry, *fakeTransport, *events.Recorder) {
	t.Helper()
	tr := newFakeTransport("local@example.com")
	rec := events.NewRecorder(100)
	r := NewRegistry(NewRegistryParams{
		Transport: tr,
		Directory: onlineSet{"peer@example.com": true},
		Publisher: rec,
		Config:    Config{Policy: policy},
	})
	return r, tr, rec
}

func inboundRequest(id string) *stanza.Node {
	msg := stanza.EmptyMessage().
		SetAttr("from-service", "com.example.Remote").
		SetAttr("to-service", "com.example.Local")
	return stanza.NewIQ(stanza.IQGet, id, "peer@example.com", "local@example.com", msg)
}

func validDescriptor() RequestDescriptor {
	return RequestDescriptor{
		Peer:             "peer@example.com",
		TargetService:    "com.example.Remote",
		InitiatorService: "com.example.Local",
		RequestType:      1,
	}
}
