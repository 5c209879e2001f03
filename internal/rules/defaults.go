package rules

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fleetworks/klaxon/internal/alerts"
)

type defaultsFile struct {
	Rules []defaultRule `yaml:"rules"`
}

type defaultRule struct {
	RuleID      string     `yaml:"rule_id"`
	SourceType  string     `yaml:"source_type"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Priority    int        `yaml:"priority"`
	IsActive    *bool      `yaml:"is_active"`
	Conditions  Conditions `yaml:"conditions"`
}

// LoadDefaults bulk-loads rule definitions from a YAML file of the form
// {rules: [...]}. Entries whose rule_id already exists are preserved
// unchanged; malformed entries are skipped silently. Returns the number of
// rules inserted. The active-rule cache is invalidated even when individual
// inserts fail.
func (s *Store) LoadDefaults(ctx context.Context, path string) (int, error) {
	defer s.cache.invalidate()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read default rules: %w", err)
	}

	var file defaultsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse default rules: %w", err)
	}

	inserted := 0
	for _, entry := range file.Rules {
		rule := Rule{
			RuleID:      entry.RuleID,
			SourceType:  alerts.SourceType(entry.SourceType),
			Name:        entry.Name,
			Description: entry.Description,
			Conditions:  entry.Conditions,
			Priority:    entry.Priority,
			IsActive:    true,
		}
		if entry.IsActive != nil {
			rule.IsActive = *entry.IsActive
		}
		if rule.Priority == 0 {
			rule.Priority = 1
		}
		if validateRule(rule) != nil {
			continue
		}

		if _, err := s.Get(ctx, rule.RuleID); err == nil {
			continue
		} else if !IsNotFound(err) {
			return inserted, err
		}

		if _, err := s.Create(ctx, rule); err != nil {
			// Lost a create race or transient store failure; keep loading.
			continue
		}
		inserted++
	}

	return inserted, nil
}
