package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a named deployment profile: thresholds, quorum shape and tuning
// for one environment (e.g. staging, production, incident-lockdown).
type Profile struct {
	Name    string `yaml:"name" json:"name"`
	Code    string `yaml:"code" json:"code"`
	Gates   Gates  `yaml:"gates" json:"gates"`
	Quorum  Quorum `yaml:"quorum" json:"quorum"`
	Tuning  Tuning `yaml:"tuning" json:"tuning"`
	Comment string `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// Gates holds per-profile pipeline thresholds.
type Gates struct {
	AlignmentThreshold float64       `yaml:"alignment_threshold" json:"alignment_threshold"`
	TransferThreshold  float64       `yaml:"transfer_threshold" json:"transfer_threshold"`
	PresenceInterval   time.Duration `yaml:"-" json:"presence_interval"`
}

// UnmarshalYAML accepts presence_interval as a Go duration string ("1h").
func (g *Gates) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AlignmentThreshold float64 `yaml:"alignment_threshold"`
		TransferThreshold  float64 `yaml:"transfer_threshold"`
		PresenceInterval   string  `yaml:"presence_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	g.AlignmentThreshold = raw.AlignmentThreshold
	g.TransferThreshold = raw.TransferThreshold
	if raw.PresenceInterval != "" {
		d, err := time.ParseDuration(raw.PresenceInterval)
		if err != nil {
			return fmt.Errorf("parse presence_interval: %w", err)
		}
		g.PresenceInterval = d
	}
	return nil
}

// Quorum holds the approval quorum shape and the stakeholder roster.
type Quorum struct {
	RequiredApprovals int      `yaml:"required_approvals" json:"required_approvals"`
	TotalApprovers    int      `yaml:"total_approvers" json:"total_approvers"`
	Approvers         []string `yaml:"approvers" json:"approvers"`
	Stakeholders      []string `yaml:"stakeholders" json:"stakeholders"`
}

// LoadProfile loads profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// Apply overlays the profile's non-zero values onto the config.
func (p *Profile) Apply(cfg *Config) {
	if p.Gates.AlignmentThreshold > 0 {
		cfg.AlignmentThreshold = p.Gates.AlignmentThreshold
	}
	if p.Gates.TransferThreshold > 0 {
		cfg.TransferThreshold = p.Gates.TransferThreshold
	}
	if p.Gates.PresenceInterval > 0 {
		cfg.PresenceInterval = p.Gates.PresenceInterval
	}
	if p.Quorum.RequiredApprovals > 0 {
		cfg.RequiredApprovals = p.Quorum.RequiredApprovals
	}
	if len(p.Quorum.Approvers) > 0 {
		cfg.Approvers = append([]string(nil), p.Quorum.Approvers...)
	}
	if len(p.Quorum.Stakeholders) > 0 {
		cfg.Stakeholders = append([]string(nil), p.Quorum.Stakeholders...)
	}
	if p.Tuning != (Tuning{}) {
		cfg.Tuning = p.Tuning
	}
}
