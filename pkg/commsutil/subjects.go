package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectHostAPI      = "peerservices.host.v1"
	SubjectHostEvents   = "peerservices.events"
	SubjectPresenceAll  = "peerservices.presence.*"
	SubjectStatusAll    = "peerservices.status.>"
	subjectPeerTemplate = "peerservices.peer.%s.stanza"
)

var subjectReplacer = strings.NewReplacer(
	".", "_",
	" ", "_",
	"*", "_",
	">", "_",
	"\t", "_",
)

// SanitizeToken maps an arbitrary address or name onto a single COMMS subject token.
func SanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}

// BuildPeerSubject builds the stanza inbox subject owned by a peer address.
func BuildPeerSubject(address string) string {
	return fmt.Sprintf(subjectPeerTemplate, SanitizeToken(address))
}

// BuildPresenceSubject builds the subject a peer publishes its presence on.
func BuildPresenceSubject(address string) string {
	return fmt.Sprintf("peerservices.presence.%s", SanitizeToken(address))
}

// BuildStatusSubject builds the notification topic derived from a capability.
// Capabilities are URIs, so every separator collapses into one token.
func BuildStatusSubject(capability string) string {
	return fmt.Sprintf("peerservices.status.%s", SanitizeToken(capability))
}

// BuildEventSubject builds a granular host event subject, e.g.
// peerservices.events.exchange.new.
func BuildEventSubject(base, eventType string) string {
	if base == "" {
		base = SubjectHostEvents
	}
	return fmt.Sprintf("%s.%s", base, eventType)
}
