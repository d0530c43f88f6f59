package domain

import (
	"fmt"
	"sort"
	"strings"
)

type ElectionMode string

const (
	ElectionStatic ElectionMode = "static"
	ElectionRaft   ElectionMode = "raft"
)

type ProxySettings struct {
	TargetAddr string `yaml:"target_addr"`
	Debug      bool   `yaml:"debug"`
}

// Settings is the process-wide cluster configuration. Construct through
// NewSettings or ParseSettings; instances that passed validation are never
// mutated afterwards.
type Settings struct {
	MountPath       string             `yaml:"mount_path"`
	DataPath        string             `yaml:"data_path"`
	DatabaseName    string             `yaml:"database_name"`
	LeaderElection  ElectionMode       `yaml:"leader_election"`
	ProxyAddr       string             `yaml:"proxy_addr"`
	Enabled         bool               `yaml:"enabled"`
	PrimaryHostname string             `yaml:"primary_hostname"`
	SelfAddr        string             `yaml:"self_addr"`
	Peers           []string           `yaml:"peers"`
	Forwarding      ForwardingSettings `yaml:"forwarding"`
	Proxy           ProxySettings      `yaml:"proxy"`
}

// NewSettings validates s and returns it with forwarding defaults applied.
func NewSettings(s Settings) (Settings, error) {
	if err := validatePath("mount_path", s.MountPath); err != nil {
		return Settings{}, err
	}
	if err := validatePath("data_path", s.DataPath); err != nil {
		return Settings{}, err
	}
	if strings.TrimSpace(s.DatabaseName) == "" {
		return Settings{}, NewConfigError("database_name", "cannot be empty")
	}
	switch s.LeaderElection {
	case ElectionStatic:
		if s.PrimaryHostname == "" {
			return Settings{}, NewConfigError("primary_hostname", "required when leader_election is 'static'")
		}
		// Raft fields are ignored in static mode even if malformed.
	case ElectionRaft:
		if s.SelfAddr == "" {
			return Settings{}, NewConfigError("self_addr", "required when leader_election is 'raft'")
		}
		if len(s.Peers) == 0 {
			return Settings{}, NewConfigError("peers", "required when leader_election is 'raft'")
		}
		for _, p := range s.Peers {
			if strings.TrimSpace(p) == "" {
				return Settings{}, NewConfigError("peers", "contains an empty entry")
			}
		}
	default:
		return Settings{}, NewConfigError("leader_election", "must be 'static' or 'raft', got: %q", s.LeaderElection)
	}

	s.Forwarding = s.Forwarding.WithDefaults()
	if err := s.Forwarding.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func validatePath(field, value string) error {
	if value == "" {
		return NewConfigError(field, "cannot be empty")
	}
	for _, part := range strings.Split(value, "/") {
		if part == ".." {
			return NewConfigError(field, "contains path traversal, got: %s", value)
		}
	}
	if !strings.HasPrefix(value, "/") {
		return NewConfigError(field, "must be an absolute path, got: %s", value)
	}
	return nil
}

var recognizedKeys = map[string]struct{}{
	"mount_path":       {},
	"data_path":        {},
	"database_name":    {},
	"leader_election":  {},
	"proxy_addr":       {},
	"enabled":          {},
	"primary_hostname": {},
	"self_addr":        {},
	"peers":            {},
	"forwarding":       {},
	"proxy":            {},
}

// ParseSettings builds Settings from a generic key/value map, rejecting
// unknown keys before any field-level validation runs.
func ParseSettings(raw map[string]interface{}) (Settings, error) {
	var unknown []string
	for k := range raw {
		if _, ok := recognizedKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Settings{}, NewConfigError("settings", "unknown keys: %s", strings.Join(unknown, ", "))
	}

	var s Settings
	var err error
	if s.MountPath, err = stringKey(raw, "mount_path"); err != nil {
		return Settings{}, err
	}
	if s.DataPath, err = stringKey(raw, "data_path"); err != nil {
		return Settings{}, err
	}
	if s.DatabaseName, err = stringKey(raw, "database_name"); err != nil {
		return Settings{}, err
	}
	mode, err := stringKey(raw, "leader_election")
	if err != nil {
		return Settings{}, err
	}
	s.LeaderElection = ElectionMode(mode)
	if s.ProxyAddr, err = stringKey(raw, "proxy_addr"); err != nil {
		return Settings{}, err
	}
	if v, ok := raw["enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return Settings{}, NewConfigError("enabled", "must be a boolean, got: %T", v)
		}
		s.Enabled = b
	}
	if s.PrimaryHostname, err = stringKey(raw, "primary_hostname"); err != nil {
		return Settings{}, err
	}
	if s.SelfAddr, err = stringKey(raw, "self_addr"); err != nil {
		return Settings{}, err
	}
	if v, ok := raw["peers"]; ok {
		peers, err := stringSlice("peers", v)
		if err != nil {
			return Settings{}, err
		}
		s.Peers = peers
	}
	if v, ok := raw["forwarding"]; ok {
		fs, ok := v.(ForwardingSettings)
		if !ok {
			return Settings{}, NewConfigError("forwarding", "must be forwarding settings, got: %T", v)
		}
		s.Forwarding = fs
	}
	if v, ok := raw["proxy"]; ok {
		ps, ok := v.(ProxySettings)
		if !ok {
			return Settings{}, NewConfigError("proxy", "must be proxy settings, got: %T", v)
		}
		s.Proxy = ps
	}
	return NewSettings(s)
}

func stringKey(raw map[string]interface{}, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", NewConfigError(key, "must be a string, got: %T", v)
	}
	return str, nil
}

func stringSlice(key string, v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			str, ok := item.(string)
			if !ok {
				return nil, NewConfigError(key, "must be a list of strings, got element: %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, NewConfigError(key, fmt.Sprintf("must be a list of strings, got: %T", v))
	}
}
