package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SetKey updates one dotted key (for example "poll.max_polls") in cfg. The
// value is parsed as YAML so numbers, booleans, durations and lists work.
func SetKey(cfg *Config, key, value string) error {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) == 0 || parts[0] == "" {
		return fmt.Errorf("empty config key")
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}

	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	node := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		node = next
	}
	last := parts[len(parts)-1]
	if _, ok := node[last]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	node[last] = parsed

	raw, err = yaml.Marshal(tree)
	if err != nil {
		return err
	}
	var out Config
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	*cfg = out
	return nil
}

// Masked returns a copy of cfg safe to print: secrets keep only their last 20%.
func Masked(cfg Config) Config {
	cfg.Storage.AccessKey = mask(cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = mask(cfg.Storage.SecretKey)
	cfg.Queue.Password = mask(cfg.Queue.Password)
	return cfg
}

func mask(v string) string {
	n := len(v)
	hidden := int(0.8 * float64(n))
	return strings.Repeat("*", hidden) + v[hidden:]
}
