package liveview

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
)

// Severity grades a derived alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is derived from a reconciled snapshot on every evaluation. Alerts
// are a pure function of current state and are never persisted.
type Alert struct {
	Field     string   `json:"field"`
	Severity  Severity `json:"severity"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Message   string   `json:"message"`
}

// Rule declares warning and critical thresholds for one numeric field. A
// value strictly above a threshold triggers the corresponding severity;
// critical takes precedence over warning.
type Rule struct {
	Field    string   `yaml:"field"`
	Warning  *float64 `yaml:"warning,omitempty"`
	Critical *float64 `yaml:"critical,omitempty"`
}

// RuleSet holds global rules plus per-agent overrides. An agent with an
// override entry uses only its own rules, mirroring how monitoring
// configuration rows with a null agent id act as the global default.
type RuleSet struct {
	Global   []Rule            `yaml:"global"`
	PerAgent map[string][]Rule `yaml:"agents,omitempty"`
}

// DefaultRules returns the built-in threshold bands.
func DefaultRules() RuleSet {
	f := func(v float64) *float64 { return &v }
	return RuleSet{
		Global: []Rule{
			{Field: domain.FieldLatencyMS, Warning: f(1000), Critical: f(3000)},
			{Field: domain.FieldCPUUsagePercent, Warning: f(80), Critical: f(95)},
			{Field: domain.FieldMemoryUsageMB, Warning: f(1024), Critical: f(4096)},
			{Field: domain.FieldCostPerRequest, Warning: f(0.05), Critical: f(0.25)},
		},
	}
}

// LoadRules reads a rule set from a YAML file. An empty path returns the
// defaults.
func LoadRules(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read alert rules: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse alert rules: %w", err)
	}
	for _, rule := range rs.allRules() {
		if rule.Field == "" {
			return RuleSet{}, fmt.Errorf("alert rule without a field")
		}
		if rule.Warning == nil && rule.Critical == nil {
			return RuleSet{}, fmt.Errorf("alert rule for %s has no thresholds", rule.Field)
		}
	}
	return rs, nil
}

func (rs RuleSet) allRules() []Rule {
	all := append([]Rule(nil), rs.Global...)
	for _, rules := range rs.PerAgent {
		all = append(all, rules...)
	}
	return all
}

// Evaluate derives the alerts for one agent snapshot.
func (rs RuleSet) Evaluate(agentID string, snap filter.Snapshot) []Alert {
	rules := rs.Global
	if override, ok := rs.PerAgent[agentID]; ok {
		rules = override
	}
	var alerts []Alert
	for _, rule := range rules {
		v, ok := snap.MetricValue(rule.Field)
		if !ok {
			continue
		}
		switch {
		case rule.Critical != nil && v > *rule.Critical:
			alerts = append(alerts, Alert{
				Field:     rule.Field,
				Severity:  SeverityCritical,
				Value:     v,
				Threshold: *rule.Critical,
				Message:   fmt.Sprintf("%s %.2f exceeds critical threshold %.2f", rule.Field, v, *rule.Critical),
			})
		case rule.Warning != nil && v > *rule.Warning:
			alerts = append(alerts, Alert{
				Field:     rule.Field,
				Severity:  SeverityWarning,
				Value:     v,
				Threshold: *rule.Warning,
				Message:   fmt.Sprintf("%s %.2f exceeds warning threshold %.2f", rule.Field, v, *rule.Warning),
			})
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Field < alerts[j].Field })
	return alerts
}
