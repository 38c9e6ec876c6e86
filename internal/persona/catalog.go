// Package persona holds the fixed catalog of reply styles and the sampler
// that picks a subset of them for each generation.
package persona

import (
	_ "embed"
	"fmt"
	"math/rand/v2"

	"gopkg.in/yaml.v3"
)

//go:embed styles.yaml
var stylesYAML []byte

// Persona is one reply style. Immutable once loaded.
type Persona struct {
	Code        string   `yaml:"code" json:"code"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	Description string   `yaml:"description" json:"description"`
	Kaomoji     []string `yaml:"kaomoji" json:"kaomoji"`
}

// Sampler returns k distinct indices in [0, n).
type Sampler interface {
	Sample(n, k int) []int
}

// RandomSampler draws uniformly without replacement.
type RandomSampler struct{}

func (RandomSampler) Sample(n, k int) []int {
	return rand.Perm(n)[:k]
}

type Catalog struct {
	personas []Persona
	byCode   map[string]Persona
	sampler  Sampler
}

// Load parses the embedded catalog.
func Load(sampler Sampler) (*Catalog, error) {
	return Parse(stylesYAML, sampler)
}

// Parse builds a catalog from YAML. A nil sampler means RandomSampler.
func Parse(data []byte, sampler Sampler) (*Catalog, error) {
	var personas []Persona
	if err := yaml.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("persona catalog is empty")
	}

	byCode := make(map[string]Persona, len(personas))
	for i, p := range personas {
		if p.Code == "" || p.Description == "" {
			return nil, fmt.Errorf("persona %d: code and description are required", i)
		}
		if _, dup := byCode[p.Code]; dup {
			return nil, fmt.Errorf("duplicate persona code %s", p.Code)
		}
		byCode[p.Code] = p
	}

	if sampler == nil {
		sampler = RandomSampler{}
	}
	return &Catalog{personas: personas, byCode: byCode, sampler: sampler}, nil
}

// All returns a copy of the catalog in file order.
func (c *Catalog) All() []Persona {
	out := make([]Persona, len(c.personas))
	copy(out, c.personas)
	return out
}

func (c *Catalog) Lookup(code string) (Persona, bool) {
	p, ok := c.byCode[code]
	return p, ok
}

// Pick returns k distinct personas.
func (c *Catalog) Pick(k int) ([]Persona, error) {
	if k <= 0 || k > len(c.personas) {
		return nil, fmt.Errorf("cannot pick %d of %d personas", k, len(c.personas))
	}
	idx := c.sampler.Sample(len(c.personas), k)
	if len(idx) != k {
		return nil, fmt.Errorf("sampler returned %d indices, want %d", len(idx), k)
	}

	seen := make(map[int]bool, k)
	out := make([]Persona, 0, k)
	for _, i := range idx {
		if i < 0 || i >= len(c.personas) || seen[i] {
			return nil, fmt.Errorf("sampler returned invalid index set %v", idx)
		}
		seen[i] = true
		out = append(out, c.personas[i])
	}
	return out, nil
}
