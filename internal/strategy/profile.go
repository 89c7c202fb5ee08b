package strategy

import (
	"fmt"
	"os"

	"klinesim/internal/market"

	"gopkg.in/yaml.v3"
)

// Profile is one strategy binding as declared in a YAML profile file.
type Profile struct {
	Strategy string         `yaml:"strategy"`
	Pair     string         `yaml:"pair"`
	Interval string         `yaml:"interval"`
	Params   map[string]any `yaml:"params"`
}

type profileFile struct {
	Strategies []Profile `yaml:"strategies"`
}

// LoadProfiles reads strategy bindings from a YAML file.
func LoadProfiles(path string) ([]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Strategies) == 0 {
		return nil, fmt.Errorf("%s declares no strategies", path)
	}
	return file.Strategies, nil
}

// Build instantiates the strategy a profile names.
func Build(p Profile) (Strategy, error) {
	pair, err := market.ParsePair(p.Pair)
	if err != nil {
		return nil, err
	}
	interval, err := market.ParseInterval(p.Interval)
	if err != nil {
		return nil, err
	}
	switch p.Strategy {
	case "sma_cross":
		return NewSMACross(SMACrossConfig{
			Pair:     pair,
			Interval: interval,
			Fast:     intParam(p.Params, "fast"),
			Slow:     intParam(p.Params, "slow"),
			Volume:   floatParam(p.Params, "volume"),
		})
	default:
		return nil, fmt.Errorf("unknown strategy %q", p.Strategy)
	}
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
