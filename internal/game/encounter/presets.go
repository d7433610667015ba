package encounter

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a reusable effect definition the narrator can apply without
// retyping its fields, loaded from YAML content files.
type Preset struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Note string `yaml:"note"`
	// Kind is "standard" or "death_save"; empty means standard.
	Kind string `yaml:"kind"`
	// SaveAbility is empty when the effect owes no save.
	SaveAbility string `yaml:"save_ability"`
	// DefaultTiming is the trigger timing suggested for new targets.
	DefaultTiming string `yaml:"default_timing"`
	HPDelta       int    `yaml:"hp_delta"`
}

// EffectKind returns the tagged kind for effects created from this preset.
func (p *Preset) EffectKind() EffectKind {
	if p.Kind == string(KindDeathSave) {
		return KindDeathSave
	}
	return KindStandard
}

// PresetRegistry holds all known Presets keyed by ID.
type PresetRegistry struct {
	presets map[string]*Preset
}

// NewPresetRegistry creates an empty PresetRegistry.
func NewPresetRegistry() *PresetRegistry {
	return &PresetRegistry{presets: make(map[string]*Preset)}
}

// Register adds p to the registry, overwriting any existing entry with the
// same ID.
// Precondition: p must not be nil and p.ID must not be empty.
func (r *PresetRegistry) Register(p *Preset) {
	r.presets[p.ID] = p
}

// Get returns the Preset for id, or (nil, false) if not found.
func (r *PresetRegistry) Get(id string) (*Preset, bool) {
	p, ok := r.presets[id]
	return p, ok
}

// All returns a snapshot slice of all registered Presets.
func (r *PresetRegistry) All() []*Preset {
	out := make([]*Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	return out
}

// LoadPresets reads every *.yaml file in dir, parses each as a Preset, and
// returns a populated PresetRegistry.
// Precondition: dir must be a readable directory.
// Postcondition: Returns a non-nil registry, or an error if any file fails to
// parse or declares invalid fields.
func LoadPresets(dir string) (*PresetRegistry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading preset dir %q: %w", dir, err)
	}
	reg := NewPresetRegistry()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		var p Preset
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		if err := validatePreset(&p); err != nil {
			return nil, fmt.Errorf("preset %q: %w", path, err)
		}
		reg.Register(&p)
	}
	return reg, nil
}

func validatePreset(p *Preset) error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Kind != "" && p.Kind != string(KindStandard) && p.Kind != string(KindDeathSave) {
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	if p.SaveAbility != "" && !ValidSaveAbility(SaveAbility(p.SaveAbility)) {
		return fmt.Errorf("unknown save ability %q", p.SaveAbility)
	}
	if p.DefaultTiming != "" && !ValidTiming(TriggerTiming(p.DefaultTiming)) {
		return fmt.Errorf("unknown trigger timing %q", p.DefaultTiming)
	}
	return nil
}
