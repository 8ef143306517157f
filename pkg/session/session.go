// Package session wires one local peer together: the stanza porter, the
// peer directory, the exchange registry, the status store and the
// capability announcer. It publishes this peer's presence and consumes
// everybody else's.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"
	"go.uber.org/multierr"

	"github.com/morezero/peer-services/pkg/caps"
	"github.com/morezero/peer-services/pkg/commsutil"
	"github.com/morezero/peer-services/pkg/directory"
	"github.com/morezero/peer-services/pkg/events"
	"github.com/morezero/peer-services/pkg/exchange"
	"github.com/morezero/peer-services/pkg/porter"
	"github.com/morezero/peer-services/pkg/registry"
	"github.com/morezero/peer-services/pkg/semver"
	"github.com/morezero/peer-services/pkg/stanza"
	"github.com/morezero/peer-services/pkg/status"
)

const logPrefix = "session:session"

// ErrClosed is returned by operations on a closed session.
var ErrClosed = exchange.NewError(exchange.CodeClosed, "session is closed")

// Params holds parameters for New.
type Params struct {
	Conn         *comms.Conn
	LocalAddress string
	Policy       registry.PolicyKind

	// ProtocolVersion is announced in presence. PeerVersionConstraint
	// limits which peers are admitted; empty derives "^major" from
	// ProtocolVersion.
	ProtocolVersion       string
	PeerVersionConstraint string

	// PresenceInterval re-publishes presence periodically. Zero disables it.
	PresenceInterval time.Duration

	Publisher events.EventPublisher
	// Mirror persists the peer directory. May be nil.
	Mirror directory.Mirror
	// MirrorCheck pings the mirror for Health. May be nil.
	MirrorCheck func(ctx context.Context) error
}

// Session is one local peer on the bus.
type Session struct {
	nc          *comms.Conn
	mirrorCheck func(ctx context.Context) error

	porter    *porter.Porter
	directory *directory.Directory
	registry  *registry.Registry
	store     *status.Store
	announcer *caps.Announcer
	gate      *semver.Gate

	local    string
	version  string
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds a session. Nothing is sent or received until Start.
func New(p Params) (*Session, error) {
	if p.Conn == nil {
		return nil, fmt.Errorf("%s - a COMMS connection is required", logPrefix)
	}
	if p.LocalAddress == "" {
		return nil, fmt.Errorf("%s - local address is required", logPrefix)
	}

	gate, err := semver.NewGate(semver.NewGateParams{
		Constraint: p.PeerVersionConstraint,
		Local:      p.ProtocolVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	pub := p.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	s := &Session{
		nc:          p.Conn,
		mirrorCheck: p.MirrorCheck,
		porter:      porter.New(p.Conn, p.LocalAddress),
		directory:   directory.New(p.Mirror),
		announcer:   caps.NewAnnouncer(),
		gate:        gate,
		local:       p.LocalAddress,
		version:     p.ProtocolVersion,
		interval:    p.PresenceInterval,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.registry = registry.NewRegistry(registry.NewRegistryParams{
		Transport: s.porter,
		Directory: s.directory,
		Publisher: pub,
		Config:    registry.Config{Policy: p.Policy},
	})
	s.store = status.NewStore(status.Params{
		Notifier:   s.porter,
		Publisher:  pub,
		Interested: s.announcer.Interested,
	})
	return s, nil
}

// Start begins receiving stanzas, subscribes to presence and status
// topics and announces this peer.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.porter.Start(); err != nil {
		return fmt.Errorf("%s - start porter: %w", logPrefix, err)
	}
	if err := s.porter.Subscribe(commsutil.SubjectPresenceAll, s.handlePresence); err != nil {
		return fmt.Errorf("%s - subscribe presence: %w", logPrefix, err)
	}
	if err := s.porter.Subscribe(commsutil.SubjectStatusAll, s.handleStatus); err != nil {
		return fmt.Errorf("%s - subscribe status: %w", logPrefix, err)
	}
	if err := s.porter.Flush(); err != nil {
		return fmt.Errorf("%s - flush subscriptions: %w", logPrefix, err)
	}
	if err := s.PublishPresence(ctx); err != nil {
		return err
	}

	if s.interval > 0 {
		s.wg.Add(1)
		go s.presenceLoop()
	}

	slog.Info(fmt.Sprintf("%s - Session %s started (protocol %s, accepting %q)", logPrefix, s.local, s.version, s.gate.Constraint()))
	return nil
}

// LocalAddress returns this peer's address.
func (s *Session) LocalAddress() string { return s.local }

// Registry returns the session's exchange registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Store returns the session's status store.
func (s *Session) Store() *status.Store { return s.store }

// Directory returns the session's peer directory.
func (s *Session) Directory() *directory.Directory { return s.directory }

// Announcer returns the session's capability announcer.
func (s *Session) Announcer() *caps.Announcer { return s.announcer }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RepresentClient records a local client's declaration and re-announces
// presence so peers see the new feature set.
func (s *Session) RepresentClient(ctx context.Context, clientID string, tokens []string, targetServices ...string) (caps.Announcement, error) {
	if s.Closed() {
		return caps.Announcement{}, ErrClosed
	}
	if clientID == "" {
		return caps.Announcement{}, exchange.NewError(exchange.CodeInvalidArgument, "client id is required")
	}
	for _, svc := range targetServices {
		if err := stanza.ValidateServiceName(svc); err != nil {
			return caps.Announcement{}, exchange.NewError(exchange.CodeInvalidArgument, fmt.Sprintf("target service %q: %v", svc, err))
		}
	}

	a := s.announcer.RepresentClient(clientID, tokens, targetServices...)
	if s.isStarted() {
		if err := s.PublishPresence(ctx); err != nil {
			return a, err
		}
	}
	return a, nil
}

// AdvertiseStatus publishes a local service's status for capability.
func (s *Session) AdvertiseStatus(ctx context.Context, capability, serviceName, body string) error {
	if s.Closed() {
		return ErrClosed
	}
	return s.store.AdvertiseStatus(ctx, capability, serviceName, body)
}

// PublishPresence announces the current feature set and services.
func (s *Session) PublishPresence(ctx context.Context) error {
	p := BuildPresence(s.local, s.version, s.announcer.Current())
	if err := s.porter.Publish(ctx, commsutil.BuildPresenceSubject(s.local), p); err != nil {
		return fmt.Errorf("%s - publish presence: %w", logPrefix, err)
	}
	return nil
}

// Close withdraws this peer's presence, stops the presence loop and closes
// the porter, which in turn closes every exchange. Later calls return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	var err error
	if started {
		err = multierr.Append(err, s.porter.Publish(context.Background(), commsutil.BuildPresenceSubject(s.local), BuildUnavailable(s.local)))
		if ferr := s.porter.Flush(); ferr != nil && !errors.Is(ferr, comms.ErrConnectionClosed) {
			err = multierr.Append(err, ferr)
		}
	}
	s.cancel()
	s.wg.Wait()
	err = multierr.Append(err, s.porter.Close())
	// The registry closes itself from the porter's closed callback; this
	// covers a porter that was never started.
	s.registry.Close()

	slog.Info(fmt.Sprintf("%s - Session %s closed", logPrefix, s.local))
	return err
}

func (s *Session) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

func (s *Session) presenceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.PublishPresence(s.ctx); err != nil {
				slog.Warn(fmt.Sprintf("%s - Periodic presence failed: %v", logPrefix, err))
			}
		}
	}
}

func (s *Session) handlePresence(st *stanza.Node) {
	p, ok := ParsePresence(st)
	if !ok || p.From == s.local {
		return
	}

	if !p.Available {
		s.forget(p.From)
		return
	}
	if !s.gate.Accepts(p.ProtocolVersion) {
		slog.Info(fmt.Sprintf("%s - Ignoring %s: protocol %q outside %q", logPrefix, p.From, p.ProtocolVersion, s.gate.Constraint()))
		s.forget(p.From)
		return
	}

	wasOnline := s.directory.IsOnline(p.From)
	s.directory.Update(s.ctx, directory.Peer{
		Address:         p.From,
		ProtocolVersion: p.ProtocolVersion,
		Features:        p.Features,
	})
	s.store.OnCapabilitiesChanged(p.From, p.Services)

	// A peer that just appeared has not seen us yet.
	if !wasOnline && s.isStarted() {
		if err := s.PublishPresence(s.ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - Presence reply to %s failed: %v", logPrefix, p.From, err))
		}
	}
}

func (s *Session) forget(peer string) {
	if s.directory.MarkOffline(s.ctx, peer) {
		s.store.ForgetPeer(peer)
	}
}

func (s *Session) handleStatus(st *stanza.Node) {
	if !s.store.HandleNotification(st) {
		slog.Debug(fmt.Sprintf("%s - Dropping non-status stanza from %s", logPrefix, stanza.From(st)))
	}
}
