// Package recipe resolves image recipes: which event classes make up a
// named image, and which boundaries split a metric into bin images.
//
// Recipes are YAML:
//
//	images:
//	  ev1: [128, 129]
//	  ev2: ["150-155"]
//	metrics:
//	  MemFree: [1e6, 1e7, 1e8]
//
// Image and metric entries keep their file order.
package recipe

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/assocminer/pkg/errs"
	"github.com/orneryd/assocminer/pkg/imgbin"
	"github.com/orneryd/assocminer/pkg/source"
)

// Image is an event-class recipe: the image holds the occurrences of every
// listed event.
type Image struct {
	Name   string
	Events []uint64
}

// Metric is a metric recipe: one image per bin.
type Metric struct {
	Name   string
	Bounds []float64
}

// Recipe is a resolved recipe file.
type Recipe struct {
	Images  []Image
	Metrics []Metric
}

type document struct {
	Images  yaml.Node `yaml:"images"`
	Metrics yaml.Node `yaml:"metrics"`
}

// Load reads and parses the recipe file at path.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML recipe.
func Parse(data []byte) (*Recipe, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing recipe: %w", err)
	}

	r := &Recipe{}
	seen := make(map[string]struct{})
	claim := func(name string, line int) error {
		if name == "" {
			return errs.Order("recipe", "line %d: empty name", line)
		}
		if _, dup := seen[name]; dup {
			return errs.Order("recipe", "line %d: duplicate name %q", line, name)
		}
		seen[name] = struct{}{}
		return nil
	}

	err := eachEntry(&doc.Images, func(name string, line int, values []*yaml.Node) error {
		if err := claim(name, line); err != nil {
			return err
		}
		img := Image{Name: name}
		for _, v := range values {
			lo, hi, err := source.ParseRange(v.Value)
			if err != nil {
				return fmt.Errorf("recipe line %d: %w", v.Line, err)
			}
			for id := lo; ; id++ {
				img.Events = append(img.Events, id)
				if id == hi {
					break
				}
			}
		}
		slices.Sort(img.Events)
		img.Events = slices.Compact(img.Events)
		r.Images = append(r.Images, img)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachEntry(&doc.Metrics, func(name string, line int, values []*yaml.Node) error {
		if err := claim(name, line); err != nil {
			return err
		}
		m := Metric{Name: name}
		for _, v := range values {
			var f float64
			if err := v.Decode(&f); err != nil {
				return fmt.Errorf("recipe line %d: %w", v.Line, err)
			}
			m.Bounds = append(m.Bounds, f)
		}
		// Reject malformed boundaries now rather than during extraction.
		if _, err := m.Bin(0); err != nil {
			return fmt.Errorf("recipe line %d: %w", line, err)
		}
		r.Metrics = append(r.Metrics, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// eachEntry walks a "name: [values]" mapping in document order. A scalar
// value is treated as a one-element list.
func eachEntry(n *yaml.Node, fn func(name string, line int, values []*yaml.Node) error) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("recipe line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		var values []*yaml.Node
		switch v.Kind {
		case yaml.SequenceNode:
			values = v.Content
		case yaml.ScalarNode:
			values = []*yaml.Node{v}
		default:
			return fmt.Errorf("recipe line %d: %q: expected a list", v.Line, k.Value)
		}
		if err := fn(k.Value, k.Line, values); err != nil {
			return err
		}
	}
	return nil
}

// Bin builds the bin set of m. capacity bounds the boundary count; 0 means
// unlimited.
func (m Metric) Bin(capacity int) (*imgbin.Bin, error) {
	b := imgbin.New(m.Name, capacity)
	for _, v := range m.Bounds {
		if err := b.AddBoundary(v); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ImageNames returns the names of the event-class images in order.
func (r *Recipe) ImageNames() []string {
	names := make([]string, len(r.Images))
	for i, img := range r.Images {
		names[i] = img.Name
	}
	return names
}

// Metric returns the metric recipe called name.
func (r *Recipe) Metric(name string) (Metric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// LoadTargets reads a target list. The file is either a YAML sequence of
// names or one name per line, with "#" comments.
func LoadTargets(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}
	return ParseTargets(data)
}

// ParseTargets parses a target list, see LoadTargets.
func ParseTargets(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}
	return out, nil
}
