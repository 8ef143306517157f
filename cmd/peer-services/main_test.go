package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/morezero/peer-services/pkg/db"
)

const mainTestPrefix = "cmd/peer-services:main_test"

func TestUsage_NonEmpty(t *testing.T) {
	if len(usage) == 0 {
		t.Fatalf("%s - usage string is empty", mainTestPrefix)
	}
}

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "clear", "peers", "check-bootstrap", "DATABASE_URL", "LOCAL_ADDRESS"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestParsePeersArgs(t *testing.T) {
	p := parsePeersArgs([]string{"--online", "urn:ytstenut:capabilities#org.example.forecast"})
	if !p.OnlineOnly {
		t.Errorf("%s - OnlineOnly = false, want true", mainTestPrefix)
	}
	if p.Feature != "urn:ytstenut:capabilities#org.example.forecast" {
		t.Errorf("%s - Feature = %q", mainTestPrefix, p.Feature)
	}
	if p := parsePeersArgs(nil); p.OnlineOnly || p.Feature != "" {
		t.Errorf("%s - empty args gave %+v", mainTestPrefix, p)
	}
}

func TestPrintPeers(t *testing.T) {
	var buf bytes.Buffer
	err := printPeers(&buf, []db.PeerRecord{
		{Address: "alice@example.com", Online: true, ProtocolVersion: "1.0.0", Features: []string{"a", "b"}, LastSeen: time.Unix(0, 0)},
	})
	if err != nil {
		t.Fatalf("%s - printPeers: %v", mainTestPrefix, err)
	}
	out := buf.String()
	for _, want := range []string{"ADDRESS", "alice@example.com", "true", "1.0.0", "1970-01-01T00:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("%s - output missing %q:\n%s", mainTestPrefix, want, out)
		}
	}
}

func TestRunCheckBootstrap(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.json")
	if err := os.WriteFile(valid, []byte(`{
		"name": "test",
		"version": "1.0.0",
		"clients": [{"clientId": "weather", "declaration": {"uid": "com.example.Weather", "type": "application", "caps": ["org.example.forecast"]}}]
	}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runCheckBootstrap(&buf, valid); err != nil {
		t.Fatalf("%s - valid bootstrap: %v", mainTestPrefix, err)
	}
	if !strings.Contains(buf.String(), "1 clients") || !strings.Contains(buf.String(), "uid/com.example.Weather") {
		t.Errorf("%s - unexpected output:\n%s", mainTestPrefix, buf.String())
	}

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"clients": [{"clientId": ""}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runCheckBootstrap(&buf, invalid); err == nil {
		t.Errorf("%s - expected validation error", mainTestPrefix)
	}

	if err := runCheckBootstrap(&buf, filepath.Join(dir, "missing.json")); err == nil {
		t.Errorf("%s - expected error for missing file", mainTestPrefix)
	}
}
