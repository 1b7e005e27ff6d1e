// Package pipeline - Assembles the detection pipeline from configuration.
package pipeline

import (
	stderrors "errors"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/config"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/detector"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/history"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/engines"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
)

// Pipeline is a ready detector together with the resources it owns.
type Pipeline struct {
	Config   *config.Config
	Model    model.Model
	Classes  *models.ClassManager
	Pool     *inference.Pool
	History  *history.Store
	Detector *detector.Detector
}

// Close releases the engine pool and the history store.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Pool != nil {
		errs = append(errs, p.Pool.Close())
	}
	if p.History != nil {
		errs = append(errs, p.History.Close())
	}
	return stderrors.Join(errs...)
}

// Builder assembles a Pipeline step by step. The first failing step stops the rest.
type Builder struct {
	cfg     *config.Config
	model   model.Model
	classes *models.ClassManager
	pool    *inference.Pool
	store   *history.Store
	logger  *log.Entry
	err     error
}

// NewBuilder creates a builder for cfg.
//
// Returns:
//   - *Builder: The pipeline builder.
func NewBuilder(cfg *config.Config) *Builder {
	b := &Builder{cfg: cfg, logger: log.NewEntry(log.StandardLogger())}
	if cfg == nil {
		b.err = errors.New("configuration is required")
	}
	return b
}

// HasError checks if the builder has errors.
func (b *Builder) HasError() bool {
	return b.err != nil
}

// WithLogger sets the logger handed to the detector.
func (b *Builder) WithLogger(logger *log.Entry) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithModel creates the detection model from the model section.
func (b *Builder) WithModel() *Builder {
	if b.HasError() {
		return b
	}
	m, err := models.NewModel(b.cfg.Model)
	if err != nil {
		b.err = err
		return b
	}
	b.model = m
	return b
}

// WithClasses loads the label mapping for the model.
func (b *Builder) WithClasses() *Builder {
	if b.HasError() {
		return b
	}
	if b.model == nil {
		b.err = errors.New("model not configured")
		return b
	}
	classes, err := models.NewClassManagerFor(b.model.Options(), b.cfg.Classes.Set, b.cfg.Classes.MappingFile)
	if err != nil {
		b.err = err
		return b
	}
	b.classes = classes
	return b
}

// WithEngines builds the engine pool from the engine section.
func (b *Builder) WithEngines() *Builder {
	return b.WithFactory(func(int) (inference.Engine, error) {
		return engines.New(b.cfg.Engine, b.model.Options())
	})
}

// WithFactory builds the engine pool with a custom engine factory.
func (b *Builder) WithFactory(factory inference.Factory) *Builder {
	if b.HasError() {
		return b
	}
	if b.model == nil {
		b.err = errors.New("model not configured")
		return b
	}
	if err := b.cfg.Engine.Validate(); err != nil {
		b.err = err
		return b
	}
	pool, err := inference.NewPool(b.cfg.Engine.PoolSize, factory)
	if err != nil {
		b.err = err
		return b
	}
	if t := b.cfg.Engine.AcquireTimeout; t > 0 {
		pool.SetAcquireTimeout(t)
	}
	b.pool = pool
	return b
}

// WithHistory opens the history store when it is enabled.
func (b *Builder) WithHistory() *Builder {
	if b.HasError() || !b.cfg.History.Enabled {
		return b
	}
	store, err := history.New(b.cfg.History.Path)
	if err != nil {
		b.err = err
		return b
	}
	b.store = store
	return b
}

// Build builds the pipeline. On error every resource opened so far is released.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: The error if any.
func (b *Builder) Build() (*Pipeline, error) {
	p := &Pipeline{Config: b.cfg, Model: b.model, Classes: b.classes, Pool: b.pool, History: b.store}

	if !b.HasError() {
		switch {
		case b.model == nil:
			b.err = errors.New("model not configured")
		case b.pool == nil:
			b.err = errors.New("engines not configured")
		}
	}
	if b.HasError() {
		_ = p.Close()
		return nil, b.err
	}

	d, err := detector.New(b.model, b.pool, b.classes, detector.Options{
		AcceptThreshold: b.cfg.Detection.AcceptThreshold,
		Logger:          b.logger,
	})
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.Detector = d

	b.logger.WithFields(log.Fields{
		"model":   b.cfg.Model.Name,
		"engine":  b.cfg.Engine.Type,
		"backend": b.cfg.Engine.Provider.Backend,
		"pool":    b.pool.Size(),
		"history": b.store != nil,
	}).Info("pipeline ready")

	return p, nil
}

// New builds the full pipeline described by cfg.
func New(cfg *config.Config) (*Pipeline, error) {
	return NewBuilder(cfg).WithModel().WithClasses().WithEngines().WithHistory().Build()
}
