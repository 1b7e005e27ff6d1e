package benchmark

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
)

// ErrInvalidScenario is returned for scenarios that cannot run.
var ErrInvalidScenario = errors.New("invalid benchmark scenario")

// Resolution is the size the source images are resized to before encoding.
type Resolution struct {
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Name   string `json:"name" yaml:"name"`
}

// NewResolution names a resolution after its dimensions.
func NewResolution(width, height int) Resolution {
	return Resolution{Width: width, Height: height, Name: fmt.Sprintf("%dx%d", width, height)}
}

// CommonResolutions are typical phone camera and gallery sizes.
var CommonResolutions = []Resolution{
	NewResolution(640, 480),
	NewResolution(1280, 720),
	NewResolution(1920, 1080),
	NewResolution(3024, 4032),
}

// Scenario defines one benchmark configuration.
type Scenario struct {
	Name       string             `json:"name" yaml:"name"`
	Resolution Resolution         `json:"resolution" yaml:"resolution"`
	Format     images.ImageFormat `json:"format" yaml:"format"`
	Iterations int                `json:"iterations" yaml:"iterations"`
	WarmupRuns int                `json:"warmup_runs" yaml:"warmup_runs"`
	// Concurrency is the number of concurrent callers, usually the engine pool size.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// Validate checks that the scenario can run.
func (sc Scenario) Validate() error {
	if sc.Iterations <= 0 {
		return errors.Wrapf(ErrInvalidScenario, "%s: iterations must be positive", sc.Name)
	}
	if sc.Concurrency <= 0 {
		return errors.Wrapf(ErrInvalidScenario, "%s: concurrency must be positive", sc.Name)
	}
	if sc.WarmupRuns < 0 {
		return errors.Wrapf(ErrInvalidScenario, "%s: warmup runs must not be negative", sc.Name)
	}
	if _, err := imagingFormat(sc.Format); err != nil {
		return err
	}
	return nil
}

// imagingFormat maps a format to its encoder. WebP has no encoder in the image stack.
func imagingFormat(f images.ImageFormat) (imaging.Format, error) {
	switch f {
	case images.FormatJPEG, "":
		return imaging.JPEG, nil
	case images.FormatPNG:
		return imaging.PNG, nil
	default:
		return 0, errors.Wrapf(ErrInvalidScenario, "cannot encode format %q", f)
	}
}

// ScenarioBuilder builds scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder starts a JPEG scenario at the source resolution.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:        name,
			Format:      images.FormatJPEG,
			Iterations:  100,
			WarmupRuns:  10,
			Concurrency: 1,
		},
	}
}

// WithResolution sets the resize target.
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = NewResolution(width, height)
	return sb
}

// WithFormat sets the upload encoding.
func (sb *ScenarioBuilder) WithFormat(format images.ImageFormat) *ScenarioBuilder {
	sb.scenario.Format = format
	return sb
}

// WithIterations sets the number of measured runs.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of unmeasured runs.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithConcurrency sets the number of concurrent callers.
func (sb *ScenarioBuilder) WithConcurrency(n int) *ScenarioBuilder {
	sb.scenario.Concurrency = n
	return sb
}

// Build returns the scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// QuickScenarios covers each common resolution once as JPEG.
func QuickScenarios(concurrency int) []Scenario {
	out := make([]Scenario, 0, len(CommonResolutions))
	for _, r := range CommonResolutions {
		out = append(out, NewScenarioBuilder("jpeg_"+r.Name).
			WithResolution(r.Width, r.Height).
			WithIterations(20).
			WithWarmupRuns(3).
			WithConcurrency(concurrency).
			Build())
	}
	return out
}

// ComprehensiveScenarios crosses the common resolutions with both encodable formats.
func ComprehensiveScenarios(concurrency int) []Scenario {
	var out []Scenario
	for _, r := range CommonResolutions {
		for _, f := range []images.ImageFormat{images.FormatJPEG, images.FormatPNG} {
			out = append(out, NewScenarioBuilder(fmt.Sprintf("%s_%s", f, r.Name)).
				WithResolution(r.Width, r.Height).
				WithFormat(f).
				WithConcurrency(concurrency).
				Build())
		}
	}
	return out
}

// ParseScenarios reads a YAML list of scenarios. Missing fields take the builder defaults.
func ParseScenarios(data []byte) ([]Scenario, error) {
	var raw []yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse scenarios")
	}

	out := make([]Scenario, 0, len(raw))
	for i := range raw {
		sc := NewScenarioBuilder(fmt.Sprintf("scenario_%d", i)).Build()
		if err := raw[i].Decode(&sc); err != nil {
			return nil, errors.Wrapf(err, "scenario %d", i)
		}
		if sc.Resolution.Name == "" && sc.Resolution.Width > 0 {
			sc.Resolution = NewResolution(sc.Resolution.Width, sc.Resolution.Height)
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}
