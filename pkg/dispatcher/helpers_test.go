package dispatcher

import (
	"context"
	"sync"
	"testing"

	"github.com/morezero/peer-services/pkg/caps"
	"github.com/morezero/peer-services/pkg/directory"
	"github.com/morezero/peer-services/pkg/porter"
	"github.com/morezero/peer-services/pkg/registry"
	"github.com/morezero/peer-services/pkg/session"
	"github.com/morezero/peer-services/pkg/stanza"
	"github.com/morezero/peer-services/pkg/status"
)

const (
	localAddr = "local@example.com"
	peerAddr  = "peer@example.com"
)

// fakeTransport records sent stanzas and lets tests inject inbound ones.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []*stanza.Node
	handlers []porter.Handler
}

func (f *fakeTransport) LocalAddress() string { return localAddr }

func (f *fakeTransport) Send(_ context.Context, st *stanza.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, st)
	return nil
}

func (f *fakeTransport) BeginIQ(ctx context.Context, st *stanza.Node) (porter.ResponseWaiter, error) {
	if err := f.Send(ctx, st); err != nil {
		return nil, err
	}
	return func(ctx context.Context) (*stanza.Node, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil
}

func (f *fakeTransport) RegisterHandler(h porter.Handler) porter.HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
	return porter.HandlerID(len(f.handlers))
}

func (f *fakeTransport) UnregisterHandler(porter.HandlerID) {}

func (f *fakeTransport) OnClosed(func()) {}

func (f *fakeTransport) deliver(st *stanza.Node) bool {
	f.mu.Lock()
	hs := append([]porter.Handler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		if h(st) {
			return true
		}
	}
	return false
}

func (f *fakeTransport) lastSent() *stanza.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type published struct {
	subject string
	stanza  *stanza.Node
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []published
}

func (n *fakeNotifier) LocalAddress() string { return localAddr }

func (n *fakeNotifier) Publish(_ context.Context, subject string, st *stanza.Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, published{subject: subject, stanza: st})
	return nil
}

// fakeHost is a session built from in-memory parts.
type fakeHost struct {
	transport *fakeTransport
	notifier  *fakeNotifier
	reg       *registry.Registry
	store     *status.Store
	dir       *directory.Directory
	announcer *caps.Announcer
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{
		transport: &fakeTransport{},
		notifier:  &fakeNotifier{},
		dir:       directory.New(nil),
		announcer: caps.NewAnnouncer(),
	}
	h.dir.Update(context.Background(), directory.Peer{Address: peerAddr, ProtocolVersion: "1.0.0"})
	h.reg = registry.NewRegistry(registry.NewRegistryParams{
		Transport: h.transport,
		Directory: h.dir,
	})
	h.store = status.NewStore(status.Params{Notifier: h.notifier})
	t.Cleanup(h.reg.Close)
	return h
}

func (h *fakeHost) LocalAddress() string            { return localAddr }
func (h *fakeHost) Registry() *registry.Registry    { return h.reg }
func (h *fakeHost) Store() *status.Store            { return h.store }
func (h *fakeHost) Directory() *directory.Directory { return h.dir }

func (h *fakeHost) RepresentClient(_ context.Context, clientID string, tokens []string, targetServices ...string) (caps.Announcement, error) {
	return h.announcer.RepresentClient(clientID, tokens, targetServices...), nil
}

func (h *fakeHost) AdvertiseStatus(ctx context.Context, capability, serviceName, body string) error {
	return h.store.AdvertiseStatus(ctx, capability, serviceName, body)
}

func (h *fakeHost) Health(context.Context) *session.HealthOutput {
	return &session.HealthOutput{Status: "healthy", Address: localAddr}
}

func inboundRequest(id string) *stanza.Node {
	msg := stanza.EmptyMessage().
		SetAttr("from-service", "com.example.Remote").
		SetAttr("to-service", "com.example.Local")
	return stanza.NewIQ(stanza.IQGet, id, peerAddr, localAddr, msg)
}
