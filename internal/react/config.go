package react

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can write "5m" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Config bounds the reactor. Budgets exist so one broad event, say a large
// material delivery, cannot reactivate every held execution at once.
type Config struct {
	// MaxConsideredPerTick caps how many due holds one tick examines.
	MaxConsideredPerTick int `yaml:"max_considered_per_tick"`
	// MaxReactivationsPerMinute caps actual reactivations across both the
	// event path and the periodic backstop.
	MaxReactivationsPerMinute int `yaml:"max_reactivations_per_minute"`
	// Backoff is the review ladder applied to a hold that stays held. The
	// last rung repeats.
	Backoff []Duration `yaml:"backoff"`
}

// DefaultConfig returns the compiled-in budgets.
func DefaultConfig() Config {
	return Config{
		MaxConsideredPerTick:      16,
		MaxReactivationsPerMinute: 4,
		Backoff: []Duration{
			Duration(1 * time.Minute),
			Duration(5 * time.Minute),
			Duration(15 * time.Minute),
			Duration(60 * time.Minute),
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. Unknown fields are
// rejected to catch typos.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read reactor config: %w", err)
	}

	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse reactor config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid reactor config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxConsideredPerTick < 1 {
		return fmt.Errorf("max_considered_per_tick must be positive, got %d", c.MaxConsideredPerTick)
	}
	if c.MaxReactivationsPerMinute < 1 {
		return fmt.Errorf("max_reactivations_per_minute must be positive, got %d", c.MaxReactivationsPerMinute)
	}
	if len(c.Backoff) == 0 {
		return fmt.Errorf("backoff ladder must have at least one rung")
	}
	for i, d := range c.Backoff {
		if d <= 0 {
			return fmt.Errorf("backoff rung %d must be positive", i)
		}
		if i > 0 && d < c.Backoff[i-1] {
			return fmt.Errorf("backoff ladder must be nondecreasing at rung %d", i)
		}
	}
	return nil
}
