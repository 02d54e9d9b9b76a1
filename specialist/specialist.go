// Package specialist maps task tiers to model-serving endpoints and
// enforces per-endpoint admission control. Specialists are static, loaded
// at process start, and shared read-only across all pipelines; the
// admission counters are the only mutable state.
package specialist

import "fmt"

// Tier is a capability class of model endpoint. Task types resolve to a
// tier; the tier resolves to a concrete specialist.
type Tier string

const (
	TierRouting     Tier = "routing"
	TierQuick       Tier = "quick"
	TierToolCalling Tier = "tool_calling"
	TierReasoning   Tier = "reasoning"
	TierCoding      Tier = "coding"
)

// Valid reports whether the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierRouting, TierQuick, TierToolCalling, TierReasoning, TierCoding:
		return true
	}
	return false
}

// Specialist describes one model-serving endpoint: which model it runs,
// where it listens, what tier it serves, and how many concurrent calls it
// admits.
type Specialist struct {
	Name          string `yaml:"name"`
	Model         string `yaml:"model"`
	Endpoint      string `yaml:"endpoint"`
	Tier          Tier   `yaml:"tier"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// Validate checks the specialist definition for loadability.
func (s Specialist) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrBadDefinition)
	}
	if s.Model == "" || s.Endpoint == "" {
		return fmt.Errorf("%w: %s needs model and endpoint", ErrBadDefinition, s.Name)
	}
	if !s.Tier.Valid() {
		return fmt.Errorf("%w: %s has unknown tier %q", ErrBadDefinition, s.Name, s.Tier)
	}
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: %s needs max_concurrent > 0", ErrBadDefinition, s.Name)
	}
	return nil
}
