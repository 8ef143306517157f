// Package directory tracks which peers are reachable, fed by presence.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const logPrefix = "directory:directory"

// Peer is what is known about a remote peer.
type Peer struct {
	Address         string    `json:"address"`
	Online          bool      `json:"online"`
	ProtocolVersion string    `json:"protocolVersion,omitempty"`
	Features        []string  `json:"features,omitempty"`
	LastSeen        time.Time `json:"lastSeen"`
}

// Mirror persists directory changes. Errors are logged, never returned
// to the caller of the directory.
type Mirror interface {
	UpsertPeer(ctx context.Context, p Peer) error
	MarkOffline(ctx context.Context, address string) error
}

// Directory is an in-memory peer table safe for concurrent use.
type Directory struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	mirror Mirror
}

// New creates a Directory. mirror may be nil.
func New(mirror Mirror) *Directory {
	return &Directory{peers: make(map[string]Peer), mirror: mirror}
}

// Lookup returns the peer at address.
func (d *Directory) Lookup(address string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[address]
	if ok {
		p.Features = append([]string(nil), p.Features...)
	}
	return p, ok
}

// IsOnline reports whether address is known and online.
func (d *Directory) IsOnline(address string) bool {
	p, ok := d.Lookup(address)
	return ok && p.Online
}

// Update records an available peer.
func (d *Directory) Update(ctx context.Context, p Peer) {
	p.Online = true
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now().UTC()
	}
	p.Features = append([]string(nil), p.Features...)

	d.mu.Lock()
	_, known := d.peers[p.Address]
	d.peers[p.Address] = p
	d.mu.Unlock()

	if !known {
		slog.Info(fmt.Sprintf("%s - Peer %s is online", logPrefix, p.Address))
	}
	if d.mirror != nil {
		if err := d.mirror.UpsertPeer(ctx, p); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to mirror peer %s: %v", logPrefix, p.Address, err))
		}
	}
}

// MarkOffline records that address went away. It reports whether the
// peer was previously online.
func (d *Directory) MarkOffline(ctx context.Context, address string) bool {
	d.mu.Lock()
	p, ok := d.peers[address]
	wasOnline := ok && p.Online
	if ok {
		p.Online = false
		p.LastSeen = time.Now().UTC()
		d.peers[address] = p
	}
	d.mu.Unlock()

	if wasOnline {
		slog.Info(fmt.Sprintf("%s - Peer %s is offline", logPrefix, address))
		if d.mirror != nil {
			if err := d.mirror.MarkOffline(ctx, address); err != nil {
				slog.Warn(fmt.Sprintf("%s - Failed to mirror offline peer %s: %v", logPrefix, address, err))
			}
		}
	}
	return wasOnline
}

// List returns every known peer ordered by address.
func (d *Directory) List() []Peer {
	d.mu.RLock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		p.Features = append([]string(nil), p.Features...)
		out = append(out, p)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
