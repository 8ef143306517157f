// Package main is the entrypoint for peer-services.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/peer-services/internal/config"
	"github.com/morezero/peer-services/internal/server"
	"github.com/morezero/peer-services/pkg/bootstrap"
	"github.com/morezero/peer-services/pkg/db"
)

const usage = `Usage: peer-services [command]
       peer-services serve                   Start the peer (COMMS, HTTP, host API).
       peer-services migrate up              Run database migrations.
       peer-services migrate status          Show migration status.
       peer-services clear                   Truncate the peer directory mirror; schema is preserved.
       peer-services peers [--online] [feat] List mirrored peers, optionally online only or with a feature.
       peer-services check-bootstrap [file]  Validate a bootstrap file and print the clients it declares.

Commands:
  serve            (default) Start the peer.
  migrate up       Run database migrations only.
  migrate status   Show which migrations exist and whether the schema is present.
  clear            Truncate the peer directory mirror.
  peers            List peers from the mirror.
  check-bootstrap  Validate bootstrap JSON (BOOTSTRAP_FILE when no file is given).

Environment: LOCAL_ADDRESS (serve), COMMS_URL, DATABASE_URL (migrate, clear, peers; optional for serve),
MIGRATION_PATH, BOOTSTRAP_FILE, MATCH_POLICY (keyed or unkeyed), HTTP_PORT. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("peer-services migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("peer-services migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(os.Stdout); err != nil {
				log.Fatalf("peer-services migrate status: %v", err)
			}
		default:
			log.Fatalf("peer-services migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("peer-services clear: %v", err)
		}
		return
	case "peers":
		if err := runPeers(os.Stdout, parsePeersArgs(args[1:])); err != nil {
			log.Fatalf("peer-services peers: %v", err)
		}
		return
	case "check-bootstrap":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		if err := runCheckBootstrap(os.Stdout, file); err != nil {
			log.Fatalf("peer-services check-bootstrap: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("peer-services: %v", err)
	}
}

// withPool loads config, requires DATABASE_URL and runs fn against a pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus(w io.Writer) error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		present, err := db.SchemaPresent(ctx, pool)
		if err != nil {
			return fmt.Errorf("check schema: %w", err)
		}
		fmt.Fprintf(w, "Migrations in %s: %d\n", cfg.MigrationPath, len(migrations))
		for _, m := range migrations {
			fmt.Fprintf(w, "  %s\n", m.Name)
		}
		if present {
			fmt.Fprintln(w, "Schema: present")
		} else {
			fmt.Fprintln(w, "Schema: missing (run: peer-services migrate up)")
		}
		return nil
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearPeers(ctx, pool); err != nil {
			return fmt.Errorf("clear peers: %w", err)
		}
		return nil
	})
}

func parsePeersArgs(args []string) db.ListPeersParams {
	var p db.ListPeersParams
	for _, a := range args {
		if a == "--online" {
			p.OnlineOnly = true
			continue
		}
		p.Feature = a
	}
	return p
}

func runPeers(w io.Writer, params db.ListPeersParams) error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		peers, err := db.NewRepository(pool).ListPeers(ctx, params)
		if err != nil {
			return err
		}
		return printPeers(w, peers)
	})
}

func printPeers(w io.Writer, peers []db.PeerRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tONLINE\tPROTOCOL\tFEATURES\tLAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n", p.Address, p.Online, p.ProtocolVersion, len(p.Features), p.LastSeen.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

// runCheckBootstrap reports parse and validation errors for an explicit
// file instead of falling back to the default config.
func runCheckBootstrap(w io.Writer, file string) error {
	if file == "" {
		file = os.Getenv("BOOTSTRAP_FILE")
	}
	if file == "" {
		return fmt.Errorf("no bootstrap file given and BOOTSTRAP_FILE is not set")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	var cfg bootstrap.BootstrapConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	if err := bootstrap.Validate(&cfg); err != nil {
		return err
	}
	rb := bootstrap.CreateResolvedBootstrap(&cfg)
	fmt.Fprintf(w, "%s %s: %d clients, %d statuses\n", rb.Name(), rb.Version(), len(rb.Clients()), len(rb.Statuses()))
	for _, c := range rb.Clients() {
		fmt.Fprintf(w, "  %s: %s\n", c.ClientID, strings.Join(c.AllTokens(), " "))
	}
	return nil
}
