package encounter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePreset(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "poisoned.yaml", `
id: poisoned
name: Poisoned
note: Save at end of turn.
save_ability: con
default_timing: end_of_turn
`)
	writePreset(t, dir, "death_saves.yaml", `
id: death_saves
name: Death Saves
kind: death_save
default_timing: start_of_turn
`)
	writePreset(t, dir, "notes.txt", "ignored, not yaml")

	reg, err := LoadPresets(dir)
	require.NoError(t, err)
	assert.Len(t, reg.All(), 2)

	p, ok := reg.Get("poisoned")
	require.True(t, ok)
	assert.Equal(t, "Poisoned", p.Name)
	assert.Equal(t, "con", p.SaveAbility)
	assert.Equal(t, KindStandard, p.EffectKind())

	d, ok := reg.Get("death_saves")
	require.True(t, ok)
	assert.Equal(t, KindDeathSave, d.EffectKind())
}

func TestLoadPresets_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "bad.yaml", `
id: bad
name: Bad
duration: end_of_round
`)
	_, err := LoadPresets(dir)
	assert.Error(t, err)
}

func TestLoadPresets_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"missing id":   "name: X\n",
		"missing name": "id: x\n",
		"bad kind":     "id: x\nname: X\nkind: cursed\n",
		"bad save":     "id: x\nname: X\nsave_ability: luck\n",
		"bad timing":   "id: x\nname: X\ndefault_timing: whenever\n",
	}
	for label, body := range cases {
		dir := t.TempDir()
		writePreset(t, dir, "p.yaml", body)
		_, err := LoadPresets(dir)
		assert.Error(t, err, label)
	}
}

func TestLoadPresets_MissingDir(t *testing.T) {
	_, err := LoadPresets(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
