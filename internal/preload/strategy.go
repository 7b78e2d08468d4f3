package preload

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Strategy controls how one content type is preloaded. MaxSize (bytes) and
// MaxItems bound what a scheduler fetches per session; zero means no limit.
type Strategy struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	Priority            Priority `yaml:"priority" json:"priority"`
	PreloadDependencies bool     `yaml:"preload_dependencies" json:"preload_dependencies"`
	Prefetch            bool     `yaml:"prefetch" json:"prefetch"`
	MaxSize             int64    `yaml:"max_size" json:"max_size"`
	MaxItems            int      `yaml:"max_items" json:"max_items"`
}

// Strategies maps each content type to its strategy.
type Strategies map[ContentType]Strategy

const mb = 1024 * 1024

// DefaultStrategies returns the built-in strategy table.
func DefaultStrategies() Strategies {
	return Strategies{
		Course: {Enabled: true, Priority: High, PreloadDependencies: true, Prefetch: true, MaxSize: 50 * mb, MaxItems: 10},
		Lesson: {Enabled: true, Priority: High, PreloadDependencies: true, Prefetch: true, MaxSize: 20 * mb, MaxItems: 20},
		Quiz:   {Enabled: true, Priority: Normal, Prefetch: true, MaxSize: 10 * mb, MaxItems: 15},
		Image:  {Enabled: true, Priority: Low, MaxSize: 10 * mb, MaxItems: 50},
		API:    {Enabled: true, Priority: Normal, Prefetch: true, MaxSize: 5 * mb, MaxItems: 30},
		Page:   {Enabled: true, Priority: Normal, Prefetch: true, MaxSize: 5 * mb, MaxItems: 20},
	}
}

// Clone returns an independent copy.
func (s Strategies) Clone() Strategies {
	c := make(Strategies, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// ParseStrategies overlays YAML onto the defaults. Only the fields present
// in the document change, so a file may retune a single knob:
//
//	image:
//	  enabled: false
//	course:
//	  max_items: 5
func ParseStrategies(data []byte) (Strategies, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse strategies: %w", err)
	}

	out := DefaultStrategies()
	for name, node := range doc {
		typ := ContentType(name)
		if !typ.Valid() {
			return nil, fmt.Errorf("unknown content type %q in strategies", name)
		}
		st := out[typ]
		if err := node.Decode(&st); err != nil {
			return nil, fmt.Errorf("decode %s strategy: %w", name, err)
		}
		if st.Priority.Weight() == 0 {
			return nil, fmt.Errorf("%s strategy: invalid priority %q", name, st.Priority)
		}
		if st.MaxSize < 0 || st.MaxItems < 0 {
			return nil, fmt.Errorf("%s strategy: budgets must not be negative", name)
		}
		out[typ] = st
	}
	return out, nil
}

// LoadStrategies reads a YAML strategy file. An empty path yields the
// defaults.
func LoadStrategies(path string) (Strategies, error) {
	if path == "" {
		return DefaultStrategies(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies: %w", err)
	}
	return ParseStrategies(data)
}
