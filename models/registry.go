// Package models - registry for models and their class sets.
package models

import (
	"fmt"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/yolo11"
)

// NewModel creates a new detection model instance based on the specified model name.
//
// This factory function serves as the primary entry point for model creation, routing
// requests to the appropriate model-specific constructor. Every model it returns has
// had its configuration validated.
//
// Arguments:
//   - cfg: Configuration parameters specifying the model name, location and shapes.
//
// Returns:
//   - model.Model: A fully configured model instance implementing the Model interface.
//   - error: An error if the model name is unsupported or the configuration is invalid.
//
// Example:
//
// ```go
//
//	detectionModel, err := NewModel(model.Config{
//	    Name:       model.ModelNameYOLO11,
//	    Path:       "/models/snails.onnx",
//	    InputSize:  640,
//	    NumClasses: 31,
//	})
//	if err != nil {
//	    log.Fatalf("Failed to create detection model: %v", err)
//	}
//
// ```
func NewModel(cfg model.Config) (model.Model, error) {
	switch cfg.Name {
	case model.ModelNameYOLO11, model.ModelNameYOLOv8, "":
		m, err := yolo11.NewModel(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model name: %s", cfg.Name)
	}
}

// NewClassManagerFor builds the class manager for a model: the set loaded from mappingFile
// when given, otherwise the built-in set called setName. The set must have exactly one entry
// per class the model emits.
func NewClassManagerFor(cfg model.Config, setName, mappingFile string) (*ClassManager, error) {
	var (
		set *OutputClassSet
		err error
	)
	if mappingFile != "" {
		set, err = LoadClassSet(mappingFile)
	} else {
		set, err = ClassSet(setName)
	}
	if err != nil {
		return nil, err
	}

	if len(set.Classes) != cfg.NumClasses {
		return nil, fmt.Errorf("class set %q has %d classes, model emits %d", set.Style, len(set.Classes), cfg.NumClasses)
	}
	return NewClassManager(set), nil
}
