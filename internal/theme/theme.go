// Package theme holds the reading theme presets. The built-in presets are embedded; an optional
// YAML file can redefine them or add new ones.
package theme

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

// DefaultName is the theme used when none is configured.
const DefaultName = "light"

//go:embed themes.yaml
var builtin []byte

type themesFile struct {
	Themes []domain.Theme `yaml:"themes"`
}

// Registry is an ordered set of named themes.
type Registry struct {
	order  []string
	themes map[string]domain.Theme
}

// Load reads the built-in presets and, when overridePath is not empty, merges the themes it
// defines over them. Every theme must carry valid hex colours.
func Load(overridePath string) (*Registry, error) {
	r := &Registry{themes: make(map[string]domain.Theme)}
	if err := r.merge(builtin); err != nil {
		return nil, fmt.Errorf("built-in themes: %w", err)
	}
	if overridePath == "" {
		return r, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("read themes file: %w", err)
	}
	if err := r.merge(data); err != nil {
		return nil, fmt.Errorf("themes file %s: %w", overridePath, err)
	}
	return r, nil
}

func (r *Registry) merge(data []byte) error {
	var f themesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse themes: %w", err)
	}
	v := validation.New()
	for _, t := range f.Themes {
		t.Name = strings.ToLower(strings.TrimSpace(t.Name))
		if t.Name == "" {
			return domainerrors.Validation("theme without a name")
		}
		if err := v.Validate(t); err != nil {
			return fmt.Errorf("theme %s: %w", t.Name, err)
		}
		if _, exists := r.themes[t.Name]; !exists {
			r.order = append(r.order, t.Name)
		}
		r.themes[t.Name] = t
	}
	return nil
}

// Get returns the named theme.
func (r *Registry) Get(name string) (domain.Theme, bool) {
	t, ok := r.themes[strings.ToLower(name)]
	return t, ok
}

// Names lists theme names in definition order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// All lists every theme in definition order.
func (r *Registry) All() []domain.Theme {
	out := make([]domain.Theme, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.themes[name])
	}
	return out
}

// DisplayOptions builds validated display options from loose settings. An empty theme name
// selects DefaultName.
func (r *Registry) DisplayOptions(fontSize int, fontFamily, textAlign, themeName string) (domain.DisplayOptions, error) {
	if themeName == "" {
		themeName = DefaultName
	}
	t, ok := r.Get(themeName)
	if !ok {
		return domain.DisplayOptions{}, domainerrors.Validationf("unknown theme %q (have %s)", themeName, strings.Join(r.order, ", "))
	}
	opts := domain.DisplayOptions{
		FontSize:   fontSize,
		FontFamily: domain.FontFamily(fontFamily),
		TextAlign:  domain.TextAlign(textAlign),
		Theme:      t,
	}
	if err := validation.New().Validate(opts); err != nil {
		return domain.DisplayOptions{}, err
	}
	return opts, nil
}
