package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trialcore/internal/core"
	"trialcore/pkg/domain"
)

// constraintConfig is the YAML shape of the -constraints file.
//
//	resource_capacity: true
//	temporal:
//	  - predecessor: site_activation
//	    dependent: patient_enrollment
//	budget:
//	  total: 250000
//	  cost_per_event: 120
//	  floor: 0.25
type constraintConfig struct {
	ResourceCapacity bool                 `yaml:"resource_capacity"`
	Temporal         []temporalRuleConfig `yaml:"temporal"`
	Budget           *budgetConfig        `yaml:"budget"`
}

type temporalRuleConfig struct {
	Predecessor string `yaml:"predecessor"`
	Dependent   string `yaml:"dependent"`
}

type budgetConfig struct {
	Total        float64 `yaml:"total"`
	CostPerEvent float64 `yaml:"cost_per_event"`
	Floor        float64 `yaml:"floor"`
}

func loadConstraints(path string) (*domain.ConstraintSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg constraintConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse constraint config: %w", err)
	}

	set := domain.NewConstraintSet()
	if cfg.ResourceCapacity {
		set.Register(core.NewResourceCapacity())
	}
	for _, rule := range cfg.Temporal {
		c, err := core.NewTemporalPrecedence(domain.EventType(rule.Predecessor), domain.EventType(rule.Dependent))
		if err != nil {
			return nil, err
		}
		set.Register(c)
	}
	if cfg.Budget != nil {
		c, err := core.NewBudgetThrottling(cfg.Budget.Total, cfg.Budget.CostPerEvent, core.LinearResponseCurve(cfg.Budget.Floor))
		if err != nil {
			return nil, err
		}
		set.Register(c)
	}
	if set.Len() == 0 {
		return nil, nil
	}
	return set, nil
}
