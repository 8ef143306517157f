package semver

import (
	"fmt"
	"log/slog"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// Gate accepts or rejects peer protocol versions.
type Gate struct {
	constraint   *masterminds.Constraints
	raw          string
	allowMissing bool
}

// NewGateParams holds parameters for NewGate.
type NewGateParams struct {
	// Constraint is a SemVer range such as "^1.0.0" or ">=1.2, <3". A bare
	// major ("2") means "^2.0.0". Empty derives the range from Local.
	Constraint string
	// Local is this process's protocol version.
	Local string
	// AllowMissing accepts peers that announce no version.
	AllowMissing bool
}

// NewGate builds a Gate.
func NewGate(params NewGateParams) (*Gate, error) {
	raw := strings.TrimSpace(params.Constraint)
	if raw == "" && params.Local != "" {
		derived, err := CompatibleRange(params.Local)
		if err != nil {
			return nil, err
		}
		raw = derived
	}
	if IsMajorOnly(raw) {
		raw = "^" + strings.TrimPrefix(raw, "v") + ".0.0"
	}

	g := &Gate{raw: raw, allowMissing: params.AllowMissing}
	if raw == "" {
		return g, nil
	}

	c, err := masterminds.NewConstraint(raw)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid constraint %q: %w", resolverLogPrefix, raw, err)
	}
	g.constraint = c
	return g, nil
}

// Constraint returns the effective constraint string ("" accepts all).
func (g *Gate) Constraint() string {
	return g.raw
}

// Accepts reports whether a peer announcing version may be talked to.
func (g *Gate) Accepts(version string) bool {
	if strings.TrimSpace(version) == "" {
		return g.allowMissing
	}
	if g.constraint == nil {
		return true
	}
	v, err := ParseVersion(version)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - Rejecting unparsable version %q: %v", resolverLogPrefix, version, err))
		return false
	}
	return g.constraint.Check(v)
}
