package sched

import (
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// PolicyConfig mirrors a scheduler's policy.yaml.
type PolicyConfig struct {
	Workers               int    `yaml:"workers"`                 // 1 (by default)
	Priorities            int    `yaml:"priorities"`               // 3 (by default)
	QueueCapacity         int    `yaml:"queue_capacity"`           // 0 (unbounded, by default)
	Discard               string `yaml:"discard"`                  // "oldest" (by default)
	StarvationThresholdMS int64  `yaml:"starvation_threshold_ms"` // 100 (by default)
	PromotionStep         int    `yaml:"promotion_step"`           // 1 (by default)
}

// defaultPolicyConfig mirrors DefaultPolicy in YAML-friendly form.
func defaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Workers:               1,
		Priorities:            3,
		QueueCapacity:         0,
		Discard:               "oldest",
		StarvationThresholdMS: 100,
		PromotionStep:         1,
	}
}

// LoadPolicy reads YAML and overrides defaults; an empty path returns
// defaults only. A missing or unparseable file also falls back to
// defaults rather than failing.
func LoadPolicy(path string) Policy {
	cfg := defaultPolicyConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}

	// sanity clamps
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Priorities <= 0 {
		cfg.Priorities = 3
	}
	if cfg.QueueCapacity < 0 {
		cfg.QueueCapacity = 0
	}
	if cfg.StarvationThresholdMS < 0 {
		cfg.StarvationThresholdMS = 100
	}
	if cfg.PromotionStep <= 0 {
		cfg.PromotionStep = 1
	}

	discard := DiscardOldest
	if cfg.Discard == "newest" {
		discard = DiscardNewest
	}

	return Policy{
		Workers:             cfg.Workers,
		Priorities:          cfg.Priorities,
		QueueCapacity:       cfg.QueueCapacity,
		Discard:             discard,
		StarvationThreshold: time.Duration(cfg.StarvationThresholdMS) * time.Millisecond,
		PromotionStep:       cfg.PromotionStep,
	}
}
