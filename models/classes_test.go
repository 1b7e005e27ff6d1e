package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

func TestSeaSnailClasses(t *testing.T) {
	require.NoError(t, SeaSnailClasses.Validate())
	assert.Len(t, SeaSnailClasses.Classes, 31)
	assert.Len(t, AllClassSets, 1)

	mgr := NewClassManager(&SeaSnailClasses)

	tests := []struct {
		label   string
		species string
		ok      bool
	}{
		{"Class 0", "Oc_Anh_Vu", true},
		{"Class 4", "Oc_Ca_na", true},
		{"Class 17", "Oc_Len", true},
		{"Class 30", "Oc_Xa_Cu", true},
		{"Class 31", "", false},
		{"Class -1", "", false},
		{"Class 05", "", false},
		{"class 1", "", false},
		{"Oc_Len", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			species, ok := mgr.Species(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.species, species)
		})
	}
}

func TestSpeciesMatchesDecoderLabels(t *testing.T) {
	mgr := NewClassManager(&SeaSnailClasses)
	for i, c := range SeaSnailClasses.Classes {
		species, ok := mgr.Species(postprocess.ClassLabel(i))
		require.True(t, ok)
		assert.Equal(t, c.Name, species)
	}
}

func TestClassManager_Lookup(t *testing.T) {
	legacy := &OutputClassSet{Style: "legacy", Classes: []OutputClass{{0, "snail"}, {1, "shell"}}}
	mgr := NewClassManager(&SeaSnailClasses, legacy)
	assert.Equal(t, SeaSnailSet, mgr.Primary().Style, "The first set is primary")

	name, err := mgr.GetName("legacy", 1)
	require.NoError(t, err)
	assert.Equal(t, "shell", name)

	idx, err := mgr.GetIndex(SeaSnailSet, "Oc_Mo")
	require.NoError(t, err)
	assert.Equal(t, 20, idx)

	_, err = mgr.GetName("voc", 0)
	assert.Error(t, err)
	_, err = mgr.GetName("legacy", 2)
	assert.Error(t, err)
	_, err = mgr.GetIndex("legacy", "Oc_Mo")
	assert.Error(t, err)
}

func TestLoadClassSet(t *testing.T) {
	dir := t.TempDir()

	t.Run("Valid file", func(t *testing.T) {
		path := filepath.Join(dir, "classes.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`name: custom
classes:
  - index: 0
    name: Oc_Huong
  - index: 1
    name: Oc_Giac
`), 0o600))

		set, err := LoadClassSet(path)
		require.NoError(t, err)
		assert.Equal(t, "custom", set.Style)
		assert.Len(t, set.Classes, 2)

		species, ok := NewClassManager(set).Species("Class 1")
		assert.True(t, ok)
		assert.Equal(t, "Oc_Giac", species)
	})

	t.Run("Gap in indices", func(t *testing.T) {
		path := filepath.Join(dir, "gap.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: gap\nclasses:\n  - index: 1\n    name: a\n"), 0o600))
		_, err := LoadClassSet(path)
		assert.Error(t, err)
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))
		_, err := LoadClassSet(path)
		assert.Error(t, err)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadClassSet(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	m, err := NewModel(model.Config{Name: model.ModelNameYOLOv8, InputSize: 640, NumClasses: 31})
	require.NoError(t, err)
	assert.Equal(t, 8400, m.Options().NumBoxes)

	_, err = NewModel(model.Config{Name: "rfdetr", InputSize: 640, NumClasses: 31})
	assert.Error(t, err)

	mgr, err := NewClassManagerFor(m.Options(), SeaSnailSet, "")
	require.NoError(t, err)
	assert.Len(t, mgr.Primary().Classes, 31)

	_, err = NewClassManagerFor(model.Config{NumClasses: 80}, SeaSnailSet, "")
	assert.Error(t, err, "A set smaller than the model's class count is rejected")

	_, err = NewClassManagerFor(model.Config{NumClasses: 2}, SeaSnailSet, "")
	assert.Error(t, err, "A set larger than the model's class count is rejected")

	_, err = NewClassManagerFor(m.Options(), "unknown", "")
	assert.Error(t, err)
}

func TestClassSet_ReturnsCopy(t *testing.T) {
	set, err := ClassSet(SeaSnailSet)
	require.NoError(t, err)
	set.Classes[0].Name = "changed"
	assert.Equal(t, "Oc_Anh_Vu", SeaSnailClasses.Classes[0].Name)
}
