package domain

import (
	"strings"
	"testing"
	"time"
)

func validStatic() Settings {
	return Settings{
		MountPath:       "/mnt/lfs",
		DataPath:        "/var/lib/litefs",
		DatabaseName:    "db.sqlite3",
		LeaderElection:  ElectionStatic,
		ProxyAddr:       ":20202",
		Enabled:         true,
		PrimaryHostname: "node1",
	}
}

func TestNewSettingsAcceptsValidStatic(t *testing.T) {
	s, err := NewSettings(validStatic())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Forwarding.Scheme != "http" {
		t.Error("forwarding defaults must be applied")
	}
}

func TestPathValidation(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"/mnt/lfs", true},
		{"/", true},
		{"/a/b/c", true},
		{"relative/path", false},
		{"./here", false},
		{"", false},
		{"/mnt/../etc", false},
		{"../mnt", false},
		{"/mnt/lfs/..", false},
		{"/mnt/..hidden", true},
		{"/mnt/with..dots/x", true},
	}
	for _, tc := range cases {
		s := validStatic()
		s.MountPath = tc.path
		_, err := NewSettings(s)
		if tc.ok && err != nil {
			t.Errorf("path %q should be accepted: %v", tc.path, err)
		}
		if !tc.ok && !IsConfigError(err) {
			t.Errorf("path %q should be rejected with a config error, got: %v", tc.path, err)
		}
	}
}

func TestDatabaseNameRequired(t *testing.T) {
	for _, name := range []string{"", "   ", "\t"} {
		s := validStatic()
		s.DatabaseName = name
		if _, err := NewSettings(s); !IsConfigError(err) {
			t.Errorf("database name %q must be rejected, got: %v", name, err)
		}
	}
}

func TestStaticModeRequiresPrimaryHostname(t *testing.T) {
	s := validStatic()
	s.PrimaryHostname = ""
	if _, err := NewSettings(s); !IsConfigError(err) {
		t.Fatalf("expected config error, got: %v", err)
	}
}

func TestStaticModeIgnoresMalformedRaftFields(t *testing.T) {
	s := validStatic()
	s.SelfAddr = ""
	s.Peers = nil
	if _, err := NewSettings(s); err != nil {
		t.Fatalf("raft fields must be ignored in static mode: %v", err)
	}
}

func TestRaftModeRequiresSelfAddrAndPeers(t *testing.T) {
	s := validStatic()
	s.LeaderElection = ElectionRaft
	s.PrimaryHostname = ""

	if _, err := NewSettings(s); !IsConfigError(err) {
		t.Fatal("missing self_addr must be rejected")
	}

	s.SelfAddr = "node1:7000"
	if _, err := NewSettings(s); !IsConfigError(err) {
		t.Fatal("missing peers must be rejected")
	}

	s.Peers = []string{"node1:7000", "node2:7000"}
	if _, err := NewSettings(s); err != nil {
		t.Fatalf("valid raft settings rejected: %v", err)
	}
}

func TestInvalidElectionMode(t *testing.T) {
	s := validStatic()
	s.LeaderElection = "consul"
	if _, err := NewSettings(s); !IsConfigError(err) {
		t.Fatalf("expected config error, got: %v", err)
	}
}

func TestParseSettingsRejectsUnknownKeys(t *testing.T) {
	raw := map[string]interface{}{
		"mount_path":       "/mnt/lfs",
		"data_path":        "/var/lib/litefs",
		"database_name":    "db.sqlite3",
		"leader_election":  "static",
		"proxy_addr":       ":20202",
		"enabled":          true,
		"primary_hostname": "node1",
		"retention_policy": "7d",
	}
	_, err := ParseSettings(raw)
	if !IsConfigError(err) {
		t.Fatalf("expected config error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "retention_policy") {
		t.Errorf("error must name the unknown key: %v", err)
	}
}

func TestParseSettingsValid(t *testing.T) {
	raw := map[string]interface{}{
		"mount_path":      "/mnt/lfs",
		"data_path":       "/var/lib/litefs",
		"database_name":   "db.sqlite3",
		"leader_election": "raft",
		"proxy_addr":      ":20202",
		"enabled":         true,
		"self_addr":       "node1:7000",
		"peers":           []interface{}{"node1:7000", "node2:7000", "node3:7000"},
	}
	s, err := ParseSettings(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Peers) != 3 {
		t.Errorf("peers not parsed: %v", s.Peers)
	}
}

func TestForwardingBackoff(t *testing.T) {
	f := ForwardingSettings{
		RetryBackoffBase: 100 * time.Millisecond,
		MaxBackoff:       time.Second,
	}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tc := range cases {
		if got := f.Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestForwardingValidation(t *testing.T) {
	f := DefaultForwardingSettings()
	f.RetryCount = -1
	if err := f.Validate(); !IsConfigError(err) {
		t.Fatal("negative retry count must be rejected")
	}

	f = DefaultForwardingSettings()
	f.Scheme = "ftp"
	if err := f.Validate(); !IsConfigError(err) {
		t.Fatal("non-http scheme must be rejected")
	}

	f = DefaultForwardingSettings()
	f.CircuitBreakerThreshold = 0
	if err := f.Validate(); err != nil {
		t.Fatalf("threshold zero disables the breaker and is valid: %v", err)
	}
}

func TestMaxAttempts(t *testing.T) {
	f := ForwardingSettings{RetryCount: 3}
	if f.MaxAttempts() != 4 {
		t.Errorf("expected 4 attempts, got %d", f.MaxAttempts())
	}
	f.RetryCount = 0
	if f.MaxAttempts() != 1 {
		t.Errorf("retry_count=0 must mean a single attempt, got %d", f.MaxAttempts())
	}
}
