package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/morezero/peer-services/pkg/stanza"
)

const logPrefix = "bootstrap:loader"

// LoadBootstrapConfig loads bootstrap config from file paths or environment.
// It tries paths in order: first any paths passed in, then BOOTSTRAP_FILE env, then defaults.
func LoadBootstrapConfig(paths ...string) (*BootstrapConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("BOOTSTRAP_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/bootstrap.json", "bootstrap.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg BootstrapConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse bootstrap file %s: %v", logPrefix, p, err))
			continue
		}
		if err := Validate(&cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Invalid bootstrap file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded bootstrap config from %s (%d clients)", logPrefix, p, len(cfg.Clients)))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default bootstrap config", logPrefix))
	return GetDefaultBootstrapConfig(), nil
}

// GetDefaultBootstrapConfig returns the fallback configuration: no clients.
func GetDefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Name:        "peer-services-bootstrap",
		Version:     "1.0.0",
		Description: "No clients are represented until a host declares them",
		Clients:     []ClientDeclaration{},
	}
}

// Validate checks client ids are present and unique, and that target and
// status service names are well formed. All problems are reported together.
func Validate(cfg *BootstrapConfig) error {
	var errs error
	seen := make(map[string]bool, len(cfg.Clients))
	for i, c := range cfg.Clients {
		id := strings.TrimSpace(c.ClientID)
		switch {
		case id == "":
			errs = multierr.Append(errs, fmt.Errorf("clients[%d]: clientId is required", i))
		case seen[id]:
			errs = multierr.Append(errs, fmt.Errorf("clients[%d]: duplicate clientId %q", i, id))
		}
		seen[id] = true
		for _, svc := range c.TargetServices {
			if err := stanza.ValidateServiceName(svc); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("clients[%d]: target service %q: %w", i, svc, err))
			}
		}
	}
	for i, s := range cfg.Statuses {
		if s.Capability == "" {
			errs = multierr.Append(errs, fmt.Errorf("statuses[%d]: capability is required", i))
		}
		if err := stanza.ValidateServiceName(s.Service); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("statuses[%d]: service %q: %w", i, s.Service, err))
		}
	}
	if errs != nil {
		return errors.Join(errors.New("invalid bootstrap config"), errs)
	}
	return nil
}

// CreateResolvedBootstrap builds a ResolvedBootstrap. A later declaration
// for the same client replaces an earlier one.
func CreateResolvedBootstrap(cfg *BootstrapConfig) *ResolvedBootstrap {
	clients := make(map[string]ClientDeclaration, len(cfg.Clients))
	for _, c := range cfg.Clients {
		c.ClientID = strings.TrimSpace(c.ClientID)
		if c.ClientID == "" {
			continue
		}
		c.Tokens = append([]string(nil), c.Tokens...)
		c.TargetServices = append([]string(nil), c.TargetServices...)
		clients[c.ClientID] = c
	}

	return &ResolvedBootstrap{
		name:     cfg.Name,
		version:  cfg.Version,
		clients:  clients,
		statuses: append([]StatusDeclaration(nil), cfg.Statuses...),
	}
}

// MergeBootstrapConfigs merges an override config into a base config.
// Clients are replaced by id; statuses are appended.
func MergeBootstrapConfigs(base, override *BootstrapConfig) *BootstrapConfig {
	merged := *base
	merged.Clients = nil

	index := make(map[string]int)
	for _, c := range append(append([]ClientDeclaration(nil), base.Clients...), override.Clients...) {
		if i, ok := index[c.ClientID]; ok {
			merged.Clients[i] = c
			continue
		}
		index[c.ClientID] = len(merged.Clients)
		merged.Clients = append(merged.Clients, c)
	}
	merged.Statuses = append(append([]StatusDeclaration(nil), base.Statuses...), override.Statuses...)

	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	return &merged
}
