package models

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int `json:"index" yaml:"index"`
	// The species identifier or human-readable label.
	Name string `json:"name" yaml:"name"`
}

// OutputClassSet ties a set name to its full list of labels.
type OutputClassSet struct {
	// Class set identifier.
	Style string `json:"name" yaml:"name"`
	// Classes that are supported and mappable, indexed by class index.
	Classes []OutputClass `json:"classes" yaml:"classes"`
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
	}
}

// Validate checks that the set is non-empty and indexed 0..n-1 in order.
func (s *OutputClassSet) Validate() error {
	if s.Style == "" {
		return errors.New("class set has no name")
	}
	if len(s.Classes) == 0 {
		return errors.Errorf("class set %q is empty", s.Style)
	}
	for i, c := range s.Classes {
		if c.Index != i {
			return errors.Errorf("class set %q: entry %d has index %d", s.Style, i, c.Index)
		}
		if c.Name == "" {
			return errors.Errorf("class set %q: class %d has no name", s.Style, i)
		}
	}
	return nil
}

// ClassManager holds all registered class sets and resolves decoder labels against the
// primary one.
type ClassManager struct {
	sets    map[string]*OutputClassSet
	primary string
}

// NewClassManager initializes and registers the given sets. The first set is primary.
func NewClassManager(allSets ...*OutputClassSet) *ClassManager {
	mgr := &ClassManager{sets: make(map[string]*OutputClassSet)}
	for _, set := range allSets {
		set.BuildNameIndexMap()
		mgr.sets[set.Style] = set
		if mgr.primary == "" {
			mgr.primary = set.Style
		}
	}
	return mgr
}

// Primary returns the set used by Species.
func (m *ClassManager) Primary() *OutputClassSet {
	return m.sets[m.primary]
}

// GetName returns the class name for a given set and index.
func (m *ClassManager) GetName(style string, idx int) (string, error) {
	set, ok := m.sets[style]
	if !ok {
		return "", fmt.Errorf("style %q not registered", style)
	}
	if idx < 0 || idx >= len(set.Classes) {
		return "", fmt.Errorf("index %d out of range for style %q", idx, style)
	}
	return set.Classes[idx].Name, nil
}

// GetIndex returns the class index for a given set and name.
func (m *ClassManager) GetIndex(style string, name string) (int, error) {
	set, ok := m.sets[style]
	if !ok {
		return -1, fmt.Errorf("style %q not registered", style)
	}
	idx, ok := set.nameToIdx[name]
	if !ok {
		return -1, fmt.Errorf("name %q not found in style %q", name, style)
	}
	return idx, nil
}

// Species maps a synthetic decoder label ("Class <i>") to the species id of the primary set.
//
// Arguments:
//   - label: The label attached by the decoder.
//
// Returns:
//   - string: The species id.
//   - bool: False when the label is malformed or the index is not in the set.
func (m *ClassManager) Species(label string) (string, bool) {
	idx, ok := ParseClassLabel(label)
	if !ok {
		return "", false
	}
	name, err := m.GetName(m.primary, idx)
	if err != nil {
		return "", false
	}
	return name, true
}

// ParseClassLabel extracts the index from a synthetic "Class <i>" label.
func ParseClassLabel(label string) (int, bool) {
	rest, ok := strings.CutPrefix(label, "Class ")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 || postprocess.ClassLabel(idx) != label {
		return 0, false
	}
	return idx, true
}

// LoadClassSet reads a class set from a YAML file of the form:
//
//	name: sea-snails
//	classes:
//	  - index: 0
//	    name: Oc_Anh_Vu
//
// Arguments:
//   - path: Path to the YAML file.
//
// Returns:
//   - *OutputClassSet: The validated set.
//   - error: Non-nil if the file cannot be read, parsed or validated.
func LoadClassSet(path string) (*OutputClassSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read class set %s", path)
	}

	var set OutputClassSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrapf(err, "failed to parse class set %s", path)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	set.BuildNameIndexMap()
	return &set, nil
}

// ClassSet returns a copy of a built-in set by name.
func ClassSet(name string) (*OutputClassSet, error) {
	for _, set := range AllClassSets {
		if set.Style == name {
			s := OutputClassSet{Style: set.Style, Classes: append([]OutputClass(nil), set.Classes...)}
			s.BuildNameIndexMap()
			return &s, nil
		}
	}
	return nil, errors.Errorf("unknown class set %q", name)
}

// SeaSnailSet is the name of the sea-snail species set.
const SeaSnailSet = "sea-snails"

// SeaSnailClasses maps the 31 classes of the sea-snail detector to species ids.
var SeaSnailClasses = OutputClassSet{
	Style: SeaSnailSet,
	Classes: []OutputClass{
		{0, "Oc_Anh_Vu"},
		{1, "Oc_Ban_Tay"},
		{2, "Oc_Be_Hong"},
		{3, "Oc_Bun_Rang_Cua"},
		{4, "Oc_Ca_na"},
		{5, "Oc_Coi_Da_Tran"},
		{6, "Oc_Coi_Than"},
		{7, "Oc_Do"},
		{8, "Oc_Gai_Trang"},
		{9, "Oc_Gai_Xuong_Rong"},
		{10, "Oc_Giac"},
		{11, "Oc_Giay"},
		{12, "Oc_Hoang_Hau"},
		{13, "Oc_Huong"},
		{14, "Oc_Khe"},
		{15, "Oc_Kim_Khoi_Do"},
		{16, "Oc_Kim_Khoi_Vang"},
		{17, "Oc_Len"},
		{18, "Oc_Mat_Trang"},
		{19, "Oc_Mat_Troi"},
		{20, "Oc_Mo"},
		{21, "Oc_Mong_Tay"},
		{22, "Oc_Muc"},
		{23, "Oc_Muong"},
		{24, "Oc_Ngoi_But"},
		{25, "Oc_Su_Van_Ho"},
		{26, "Oc_Toi"},
		{27, "Oc_Trung"},
		{28, "Oc_Tu_Va_Lotor"},
		{29, "Oc_Voi_Voi"},
		{30, "Oc_Xa_Cu"},
	},
}

// AllClassSets collects every built-in OutputClassSet in one place.
var AllClassSets = []OutputClassSet{
	SeaSnailClasses,
}
