// Package semver decides whether a remote peer speaks a protocol version
// this process can talk to.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:parser"

var majorOnlyRegex = regexp.MustCompile(`^v?\d+$`)

// ParseVersion parses a protocol version. Short forms such as "1" or
// "1.2" and a leading "v" are accepted.
func ParseVersion(input string) (*masterminds.Version, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, fmt.Errorf("%s - empty version", logPrefix)
	}
	v, err := masterminds.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version %q: %w", logPrefix, raw, err)
	}
	return v, nil
}

// IsMajorOnly checks if s is a bare major version (e.g. "2" or "v2").
func IsMajorOnly(s string) bool {
	return majorOnlyRegex.MatchString(strings.TrimSpace(s))
}

// CompatibleRange returns the constraint matching every version with the
// same major as local (e.g. "1.4.2" gives "^1.0.0").
func CompatibleRange(local string) (string, error) {
	v, err := ParseVersion(local)
	if err != nil {
		return "", err
	}
	if v.Major() == 0 {
		return fmt.Sprintf("~0.%d.0", v.Minor()), nil
	}
	return fmt.Sprintf("^%d.0.0", v.Major()), nil
}
