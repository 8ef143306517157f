// Package status keeps the live view of what remote peers advertise: the
// statuses they publish per capability and the services they expose.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/peer-services/pkg/caps"
	"github.com/morezero/peer-services/pkg/commsutil"
	"github.com/morezero/peer-services/pkg/events"
	"github.com/morezero/peer-services/pkg/exchange"
	"github.com/morezero/peer-services/pkg/stanza"
)

const logPrefix = "status:store"

// Status element attributes.
const (
	ElementStatus   = "status"
	AttrFromService = "from-service"
	AttrCapability  = "capability"
)

// Notifier publishes stanzas on notification topics.
type Notifier interface {
	LocalAddress() string
	Publish(ctx context.Context, subject string, st *stanza.Node) error
}

// ServiceDetails is what is known about one discovered service.
type ServiceDetails struct {
	Type         string            `json:"type"`
	Names        map[string]string `json:"names"`
	Capabilities []string          `json:"capabilities"`
}

type statusKey struct {
	peer       string
	capability string
	service    string
}

// Params holds parameters for NewStore.
type Params struct {
	Notifier  Notifier
	Publisher events.EventPublisher
	// Interested filters inbound notifications by capability. Nil accepts all.
	Interested func(capability string) bool
}

// Store holds discovered statuses and services for one session.
type Store struct {
	notifier   Notifier
	publisher  events.EventPublisher
	interested func(string) bool

	mu       sync.Mutex
	statuses map[statusKey]string
	byPeer   map[string]map[statusKey]struct{}
	services map[string]map[string]caps.ServiceDescriptor
}

// NewStore creates an empty Store.
func NewStore(p Params) *Store {
	pub := p.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Store{
		notifier:   p.Notifier,
		publisher:  pub,
		interested: p.Interested,
		statuses:   make(map[statusKey]string),
		byPeer:     make(map[string]map[statusKey]struct{}),
		services:   make(map[string]map[string]caps.ServiceDescriptor),
	}
}

// AdvertiseStatus publishes the local status of serviceName for
// capability. An empty body withdraws the status. Local state is not
// touched.
func (s *Store) AdvertiseStatus(ctx context.Context, capability, serviceName, body string) error {
	if capability == "" {
		return exchange.NewError(exchange.CodeInvalidArgument, "capability must be set")
	}
	if serviceName == "" {
		return exchange.NewError(exchange.CodeInvalidArgument, "service name must be set")
	}

	el, err := parseStatusBody(body)
	if err != nil {
		return exchange.NewError(exchange.CodeInvalidArgument, err.Error())
	}
	el.SetAttr(AttrFromService, serviceName)
	el.SetAttr(AttrCapability, capability)

	msg := BuildNotification(s.notifier.LocalAddress(), capability, el)
	if err := s.notifier.Publish(ctx, commsutil.BuildStatusSubject(capability), msg); err != nil {
		return &exchange.Error{Code: exchange.CodeSendFailed, Message: err.Error()}
	}

	slog.Debug(fmt.Sprintf("%s - Advertised status of %s for %s", logPrefix, serviceName, capability))
	return nil
}

// HandleNotification applies a status notification stanza. It reports
// whether st was a status notification.
func (s *Store) HandleNotification(st *stanza.Node) bool {
	n, ok := ParseNotification(st)
	if !ok {
		return false
	}
	if s.interested != nil && !s.interested(n.Capability) {
		slog.Debug(fmt.Sprintf("%s - Ignoring status for %s, nobody is interested", logPrefix, n.Capability))
		return true
	}
	s.OnStatusNotification(n.Peer, n.Capability, n.Service, n.Status, n.Status != "")
	return true
}

// OnStatusNotification records a peer's status. present=false (or an
// empty body) removes it. A StatusChanged event is emitted only when the
// stored value changes.
func (s *Store) OnStatusNotification(peer, capability, serviceName, body string, present bool) bool {
	if body == "" {
		present = false
	}
	key := statusKey{peer: peer, capability: capability, service: serviceName}

	s.mu.Lock()
	old, had := s.statuses[key]
	changed := false
	switch {
	case present && (!had || old != body):
		s.statuses[key] = body
		if s.byPeer[peer] == nil {
			s.byPeer[peer] = make(map[statusKey]struct{})
		}
		s.byPeer[peer][key] = struct{}{}
		changed = true
	case !present && had:
		s.deleteStatusLocked(key)
		changed = true
	}
	s.mu.Unlock()

	if !changed {
		return false
	}

	value := ""
	if present {
		value = body
	}
	s.publishStatus(key, value)
	return true
}

// OnCapabilitiesChanged replaces what peer exposes with descriptors and
// emits ServiceRemoved/ServiceAdded for the differences.
func (s *Store) OnCapabilitiesChanged(peer string, descriptors []caps.ServiceDescriptor) {
	next := make(map[string]caps.ServiceDescriptor, len(descriptors))
	for _, d := range descriptors {
		if d.UID != "" {
			next[d.UID] = d
		}
	}

	s.mu.Lock()
	prev := s.services[peer]
	if len(next) == 0 {
		delete(s.services, peer)
	} else {
		s.services[peer] = next
	}
	s.mu.Unlock()

	// Unchanged names emit nothing; a name whose details changed is
	// reported as removed then added.
	var removed, added []caps.ServiceDescriptor
	for name, old := range prev {
		cur, ok := next[name]
		if !ok || !cur.Equal(old) {
			removed = append(removed, old)
		}
	}
	for name, cur := range next {
		old, ok := prev[name]
		if !ok || !cur.Equal(old) {
			added = append(added, cur)
		}
	}
	sortByUID(removed)
	sortByUID(added)

	for _, d := range removed {
		s.publishService(events.ServiceRemoved, peer, d, false)
	}
	for _, d := range added {
		s.publishService(events.ServiceAdded, peer, d, true)
	}
}

// ForgetPeer drops everything known about peer, emitting the matching
// removal events.
func (s *Store) ForgetPeer(peer string) {
	s.mu.Lock()
	var keys []statusKey
	for key := range s.byPeer[peer] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		s.deleteStatusLocked(key)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].capability != keys[j].capability {
			return keys[i].capability < keys[j].capability
		}
		return keys[i].service < keys[j].service
	})
	for _, key := range keys {
		s.publishStatus(key, "")
	}
	s.OnCapabilitiesChanged(peer, nil)
}

// DiscoveredStatuses returns peer -> capability -> service -> status.
func (s *Store) DiscoveredStatuses() map[string]map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]map[string]string)
	for key, value := range s.statuses {
		byCap := out[key.peer]
		if byCap == nil {
			byCap = make(map[string]map[string]string)
			out[key.peer] = byCap
		}
		bySvc := byCap[key.capability]
		if bySvc == nil {
			bySvc = make(map[string]string)
			byCap[key.capability] = bySvc
		}
		bySvc[key.service] = value
	}
	return out
}

// DiscoveredServices returns peer -> service -> details.
func (s *Store) DiscoveredServices() map[string]map[string]ServiceDetails {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]ServiceDetails, len(s.services))
	for peer, svcs := range s.services {
		m := make(map[string]ServiceDetails, len(svcs))
		for name, d := range svcs {
			m[name] = detailsOf(d)
		}
		out[peer] = m
	}
	return out
}

func (s *Store) deleteStatusLocked(key statusKey) {
	delete(s.statuses, key)
	if idx := s.byPeer[key.peer]; idx != nil {
		delete(idx, key)
		if len(idx) == 0 {
			delete(s.byPeer, key.peer)
		}
	}
}

func (s *Store) publishStatus(key statusKey, value string) {
	e := events.New(events.StatusChanged)
	e.Status = &events.StatusEvent{Peer: key.peer, Capability: key.capability, Service: key.service, Status: value}
	if err := s.publisher.Publish(context.Background(), e); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to publish status change: %v", logPrefix, err))
	}
}

func (s *Store) publishService(t events.Type, peer string, d caps.ServiceDescriptor, withDetails bool) {
	e := events.New(t)
	e.Service = &events.ServiceEvent{Peer: peer, Service: d.UID}
	if withDetails {
		details := detailsOf(d)
		e.Service.Type = details.Type
		e.Service.Names = details.Names
		e.Service.Capabilities = details.Capabilities
	}
	if err := s.publisher.Publish(context.Background(), e); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to publish %s: %v", logPrefix, t, err))
	}
}

func detailsOf(d caps.ServiceDescriptor) ServiceDetails {
	return ServiceDetails{
		Type:         d.Type,
		Names:        d.NameMap(),
		Capabilities: append([]string{}, d.Capabilities...),
	}
}

func sortByUID(ds []caps.ServiceDescriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].UID < ds[j].UID })
}
