// Package server orchestrates all components: COMMS client, optional DB mirror, session, dispatcher, HTTP health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/peer-services/internal/config"
	"github.com/morezero/peer-services/pkg/bootstrap"
	"github.com/morezero/peer-services/pkg/caps"
	"github.com/morezero/peer-services/pkg/commsutil"
	"github.com/morezero/peer-services/pkg/db"
	"github.com/morezero/peer-services/pkg/directory"
	"github.com/morezero/peer-services/pkg/dispatcher"
	"github.com/morezero/peer-services/pkg/events"
	"github.com/morezero/peer-services/pkg/registry"
	"github.com/morezero/peer-services/pkg/session"
)

const logPrefix = "server:server"

// recentEventLimit bounds the events kept for the home page.
const recentEventLimit = 50

// Server is the peer-services orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	host       dispatcher.Host
	recent     *events.Recorder
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})))

	slog.Info(fmt.Sprintf("%s - Starting peer-services as %s", logPrefix, cfg.LocalAddress))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg, recent: events.NewRecorder(recentEventLimit)}

	// Step 1: Load bootstrap config
	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", logPrefix, err)
	}
	if err := bootstrap.Validate(bootstrapCfg); err != nil {
		return fmt.Errorf("%s - invalid bootstrap config: %w", logPrefix, err)
	}
	resolved := bootstrap.CreateResolvedBootstrap(bootstrapCfg)

	policy, err := registry.ParsePolicy(cfg.MatchPolicy)
	if err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}

	hostSubject := cfg.HostAPISubject
	if hostSubject == "" {
		hostSubject = commsutil.SubjectHostAPI
	}
	eventSubject := cfg.HostEventSubject
	if eventSubject == "" {
		eventSubject = commsutil.SubjectHostEvents
	}

	// Step 2: Connect to COMMS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, cfg.COMMSURL))

	// Step 3: Optional peer directory mirror
	var mirror directory.Mirror
	var mirrorCheck func(context.Context) error
	if cfg.MirrorEnabled() {
		repo, err := s.openMirror(ctx)
		if err != nil {
			nc.Close()
			return err
		}
		mirror = repo
		mirrorCheck = s.pool.Ping
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set; peer directory is memory only", logPrefix))
	}

	// Step 4: Create and start the session
	publisher := events.NewFanoutPublisher(
		events.NewCommsPublisher(nc, &events.CommsPublisherOpts{EventSubject: eventSubject}),
		s.recent,
	)
	sess, err := session.New(session.Params{
		Conn:                  nc,
		LocalAddress:          cfg.LocalAddress,
		Policy:                policy,
		ProtocolVersion:       cfg.ProtocolVersion,
		PeerVersionConstraint: cfg.PeerVersionConstraint,
		PresenceInterval:      cfg.PresenceInterval,
		Publisher:             publisher,
		Mirror:                mirror,
		MirrorCheck:           mirrorCheck,
	})
	if err != nil {
		s.closeStores()
		return fmt.Errorf("%s - failed to create session: %w", logPrefix, err)
	}
	if err := sess.Start(ctx); err != nil {
		s.closeStores()
		return fmt.Errorf("%s - failed to start session: %w", logPrefix, err)
	}
	s.host = sess

	// Step 5: Represent bootstrap clients and advertise their statuses
	if err := applyBootstrap(ctx, sess, resolved); err != nil {
		sess.Close()
		s.closeStores()
		return err
	}

	// Step 6: Create dispatcher and subscribe
	disp := dispatcher.NewDispatcher(sess)
	requestTimeout := cfg.RequestTimeout
	sub, err := nc.Subscribe(hostSubject, func(msg *comms.Msg) {
		if err := commsutil.RespondPayload(msg, handleHostMessage(ctx, disp, requestTimeout, msg.Data)); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to respond: %v", logPrefix, err))
		}
	})
	if err != nil {
		sess.Close()
		s.closeStores()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, hostSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, hostSubject))

	// Step 7: Start HTTP health server
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - peer-services is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	sub.Unsubscribe()
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.HealthCheckTimeout)
	s.httpServer.Shutdown(shutdownCtx)
	shutdownCancel()
	if err := sess.Close(); err != nil {
		slog.Warn(fmt.Sprintf("%s - session close: %v", logPrefix, err))
	}
	s.closeStores()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// openMirror connects to the database, runs migrations when enabled and
// resets every mirrored peer to offline.
func (s *Server) openMirror(ctx context.Context) (*db.Repository, error) {
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(db.ResolveMigrationPath(s.cfg.MigrationPath))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}

	repo := db.NewRepository(pool)
	n, err := repo.MarkAllOffline(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to reset peer directory: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Peer directory mirror ready (%d stale peers marked offline)", logPrefix, n))
	return repo, nil
}

// closeStores drains the COMMS connection and closes the pool.
func (s *Server) closeStores() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// bootstrapHost is the part of the session applyBootstrap drives.
type bootstrapHost interface {
	RepresentClient(ctx context.Context, clientID string, tokens []string, targetServices ...string) (caps.Announcement, error)
	AdvertiseStatus(ctx context.Context, capability, serviceName, body string) error
}

// applyBootstrap represents every bootstrap client, then advertises the
// bootstrap statuses.
func applyBootstrap(ctx context.Context, host bootstrapHost, rb *bootstrap.ResolvedBootstrap) error {
	for _, c := range rb.Clients() {
		ann, err := host.RepresentClient(ctx, c.ClientID, c.AllTokens(), c.TargetServices...)
		if err != nil {
			return fmt.Errorf("%s - failed to represent client %s: %w", logPrefix, c.ClientID, err)
		}
		slog.Info(fmt.Sprintf("%s - Representing %s (%d features, %d services)", logPrefix, c.ClientID, len(ann.Features), len(ann.Services)))
	}
	for _, st := range rb.Statuses() {
		if err := host.AdvertiseStatus(ctx, st.Capability, st.Service, st.Body); err != nil {
			return fmt.Errorf("%s - failed to advertise status %s for %s: %w", logPrefix, st.Capability, st.Service, err)
		}
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
