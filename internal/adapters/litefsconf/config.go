// Package litefsconf emits the replication daemon's YAML configuration
// from validated settings and parses it back. Generate and Parse round-trip:
// parsing generated output yields an equivalent settings object.
package litefsconf

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/eleven-am/ferry/internal/domain"
)

type fuseSection struct {
	Dir string `yaml:"dir"`
}

type dataSection struct {
	Dir string `yaml:"dir"`
}

type proxySection struct {
	Addr   string `yaml:"addr"`
	Target string `yaml:"target,omitempty"`
	DB     string `yaml:"db"`
	Debug  bool   `yaml:"debug,omitempty"`
}

type raftSection struct {
	SelfAddr string   `yaml:"self-addr"`
	Peers    []string `yaml:"peers"`
}

type leaseSection struct {
	Type     string       `yaml:"type"`
	Hostname string       `yaml:"hostname,omitempty"`
	Raft     *raftSection `yaml:"raft,omitempty"`
}

type fileConfig struct {
	FUSE       fuseSection               `yaml:"fuse"`
	Data       dataSection               `yaml:"data"`
	Proxy      proxySection              `yaml:"proxy"`
	Lease      leaseSection              `yaml:"lease"`
	Enabled    bool                      `yaml:"enabled"`
	Forwarding domain.ForwardingSettings `yaml:"forwarding"`
}

// Generate renders the daemon configuration for validated settings.
func Generate(s domain.Settings) ([]byte, error) {
	cfg := fileConfig{
		FUSE: fuseSection{Dir: s.MountPath},
		Data: dataSection{Dir: s.DataPath},
		Proxy: proxySection{
			Addr:   s.ProxyAddr,
			Target: s.Proxy.TargetAddr,
			DB:     s.DatabaseName,
			Debug:  s.Proxy.Debug,
		},
		Lease:      leaseSection{Type: string(s.LeaderElection)},
		Enabled:    s.Enabled,
		Forwarding: s.Forwarding,
	}
	switch s.LeaderElection {
	case domain.ElectionStatic:
		cfg.Lease.Hostname = s.PrimaryHostname
	case domain.ElectionRaft:
		cfg.Lease.Raft = &raftSection{SelfAddr: s.SelfAddr, Peers: s.Peers}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode daemon config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode daemon config: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse reads a daemon configuration document back into validated
// settings. Unknown keys are rejected.
func Parse(data []byte) (domain.Settings, error) {
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return domain.Settings{}, domain.NewConfigError("daemon_config", "cannot parse: %v", err)
	}

	s := domain.Settings{
		MountPath:       cfg.FUSE.Dir,
		DataPath:        cfg.Data.Dir,
		DatabaseName:    cfg.Proxy.DB,
		LeaderElection:  domain.ElectionMode(cfg.Lease.Type),
		ProxyAddr:       cfg.Proxy.Addr,
		Enabled:         cfg.Enabled,
		PrimaryHostname: cfg.Lease.Hostname,
		Proxy: domain.ProxySettings{
			TargetAddr: cfg.Proxy.Target,
			Debug:      cfg.Proxy.Debug,
		},
		Forwarding: cfg.Forwarding,
	}
	if cfg.Lease.Raft != nil {
		s.SelfAddr = cfg.Lease.Raft.SelfAddr
		s.Peers = cfg.Lease.Raft.Peers
	}
	// Generate writes unset exclusion lists as "[]", which decodes to an
	// empty slice; map those back to nil so the round trip is exact.
	for _, list := range []*[]string{&s.Forwarding.ExcludedExact, &s.Forwarding.ExcludedGlob, &s.Forwarding.ExcludedRegex} {
		if len(*list) == 0 {
			*list = nil
		}
	}
	return domain.NewSettings(s)
}
