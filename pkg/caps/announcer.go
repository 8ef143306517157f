package caps

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/peer-services/pkg/stanza"
)

const logPrefix = "caps:announcer"

// Announcement is the announcer's output after a client update.
type Announcement struct {
	// Delta is the feature set contributed by the client just represented.
	Delta []string `json:"delta"`
	// Features is the union across every recorded client.
	Features []string `json:"features"`
	// Services is the union of service descriptors, ordered by client id.
	Services []ServiceDescriptor `json:"services"`
}

type clientRecord struct {
	declaration Declaration
	features    FeatureSet
}

// Announcer keeps one record per local client and folds them into the
// feature set and service list announced for the connection.
type Announcer struct {
	mu      sync.Mutex
	clients map[string]clientRecord
}

// NewAnnouncer creates an empty Announcer.
func NewAnnouncer() *Announcer {
	return &Announcer{clients: make(map[string]clientRecord)}
}

// RepresentClient records what clientID declares. A declaration without a
// uid removes the client's record. targetServices are the services the
// client's channel filters accept requests for; each adds a service
// feature.
func (a *Announcer) RepresentClient(clientID string, tokens []string, targetServices ...string) Announcement {
	decl := Decode(tokens)

	features := decl.Features()
	for _, svc := range targetServices {
		if svc != "" {
			features.Add(stanza.ServiceFeaturePrefix + svc)
		}
	}

	a.mu.Lock()
	if decl.HasService() {
		a.clients[clientID] = clientRecord{declaration: decl, features: features}
		slog.Debug(fmt.Sprintf("%s - Client %s represents service %s", logPrefix, clientID, decl.UID))
	} else {
		delete(a.clients, clientID)
		slog.Debug(fmt.Sprintf("%s - Client %s withdrew its service", logPrefix, clientID))
	}
	out := a.foldLocked()
	a.mu.Unlock()

	out.Delta = features.Sorted()
	return out
}

// Current returns the union across all recorded clients.
func (a *Announcer) Current() Announcement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.foldLocked()
}

// Interested reports whether any recorded client asked for notifications
// about capability.
func (a *Announcer) Interested(capability string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.clients {
		if rec.features.Has(capability + NotifySuffix) {
			return true
		}
	}
	return false
}

// Clients returns the recorded client ids in order.
func (a *Announcer) Clients() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedClientsLocked()
}

func (a *Announcer) foldLocked() Announcement {
	union := NewFeatureSet()
	out := Announcement{Services: []ServiceDescriptor{}}
	for _, id := range a.sortedClientsLocked() {
		rec := a.clients[id]
		union.Union(rec.features)
		out.Services = append(out.Services, rec.declaration.Descriptor())
	}
	out.Features = union.Sorted()
	return out
}

func (a *Announcer) sortedClientsLocked() []string {
	ids := make([]string, 0, len(a.clients))
	for id := range a.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
