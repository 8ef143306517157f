package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/peer-services/pkg/directory"
)

const repoLogPrefix = "db:repository"

// ErrPeerNotFound is returned when no mirrored row exists for an address.
var ErrPeerNotFound = errors.New("peer not found")

// PeerRecord is a row of the peers table.
type PeerRecord struct {
	Address         string    `json:"address"`
	Online          bool      `json:"online"`
	ProtocolVersion string    `json:"protocolVersion"`
	Features        []string  `json:"features"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastSeen        time.Time `json:"lastSeen"`
}

// Peer converts the row to a directory entry.
func (p PeerRecord) Peer() directory.Peer {
	return directory.Peer{
		Address:         p.Address,
		Online:          p.Online,
		ProtocolVersion: p.ProtocolVersion,
		Features:        p.Features,
		LastSeen:        p.LastSeen,
	}
}

// Repository provides database access for the peer directory mirror.
// It implements directory.Mirror.
type Repository struct {
	pool *pgxpool.Pool
}

var _ directory.Mirror = (*Repository)(nil)

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertPeer records p as online with its latest features.
func (r *Repository) UpsertPeer(ctx context.Context, p directory.Peer) error {
	slog.Debug(fmt.Sprintf("%s - UpsertPeer address=%s", repoLogPrefix, p.Address))

	features := p.Features
	if features == nil {
		features = []string{}
	}
	lastSeen := p.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO peers (address, online, protocol_version, features, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (address) DO UPDATE
		 SET online = EXCLUDED.online,
		     protocol_version = EXCLUDED.protocol_version,
		     features = EXCLUDED.features,
		     last_seen = EXCLUDED.last_seen`,
		p.Address, p.Online, p.ProtocolVersion, features, lastSeen)
	if err != nil {
		return fmt.Errorf("%s - upsert peer %s: %w", repoLogPrefix, p.Address, err)
	}
	return nil
}

// MarkOffline flags address as offline. Unknown addresses are ignored.
func (r *Repository) MarkOffline(ctx context.Context, address string) error {
	slog.Debug(fmt.Sprintf("%s - MarkOffline address=%s", repoLogPrefix, address))

	_, err := r.pool.Exec(ctx,
		`UPDATE peers SET online = FALSE, last_seen = NOW() WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("%s - mark offline %s: %w", repoLogPrefix, address, err)
	}
	return nil
}

// MarkAllOffline flags every peer offline and returns how many rows changed.
// Run at start-up: rows left online by a previous process are stale.
func (r *Repository) MarkAllOffline(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE peers SET online = FALSE WHERE online`)
	if err != nil {
		return 0, fmt.Errorf("%s - mark all offline: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}

// GetPeer returns the mirrored row for address.
func (r *Repository) GetPeer(ctx context.Context, address string) (*PeerRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT address, online, protocol_version, features, first_seen, last_seen
		 FROM peers WHERE address = $1`, address)

	rec, err := scanPeer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPeerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s - get peer %s: %w", repoLogPrefix, address, err)
	}
	return rec, nil
}

// ListPeersParams filters ListPeers.
type ListPeersParams struct {
	OnlineOnly bool
	// Feature, when set, restricts to peers advertising it.
	Feature string
}

// ListPeers returns mirrored peers ordered by address.
func (r *Repository) ListPeers(ctx context.Context, params ListPeersParams) ([]PeerRecord, error) {
	query := `SELECT address, online, protocol_version, features, first_seen, last_seen
	          FROM peers
	          WHERE ($1 = FALSE OR online)
	            AND ($2 = '' OR $2 = ANY(features))
	          ORDER BY address`

	rows, err := r.pool.Query(ctx, query, params.OnlineOnly, params.Feature)
	if err != nil {
		return nil, fmt.Errorf("%s - list peers: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		rec, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - scan peer: %w", repoLogPrefix, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list peers: %w", repoLogPrefix, err)
	}
	return out, nil
}

func scanPeer(row pgx.Row) (*PeerRecord, error) {
	var rec PeerRecord
	if err := row.Scan(&rec.Address, &rec.Online, &rec.ProtocolVersion, &rec.Features, &rec.FirstSeen, &rec.LastSeen); err != nil {
		return nil, err
	}
	return &rec, nil
}
