package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/wind-grid-service/internal/gridtools"
	"github.com/i474232898/wind-grid-service/internal/weather"
)

const (
	SubsetTool     = "tool"
	SubsetDownload = "download"
)

// ModelFile is the layout of USER_MODELS_FILE.
type ModelFile struct {
	Models []ModelDefinition `yaml:"models" validate:"dive"`
}

// ModelDefinition describes one user-defined model source.
//
//	models:
//	  - name: nam
//	    cadence: {every: 6h}
//	    longitude: "-180-180"
//	    subset: download
//	    acquire:
//	      url: "https://example.org/nam/{{.Date}}/{{.Hour}}.grib2"
type ModelDefinition struct {
	Name      string            `yaml:"name" validate:"required"`
	Cadence   weather.Cadence   `yaml:"cadence"`
	Longitude string            `yaml:"longitude" validate:"omitempty,oneof=0-360 -180-180"`
	Reproject *weather.GridSpec `yaml:"reproject"`
	Subset    string            `yaml:"subset" validate:"omitempty,oneof=tool download"`
	Acquire   AcquireDefinition `yaml:"acquire"`
}

// AcquireDefinition holds exactly one of a URL template or an argv template.
type AcquireDefinition struct {
	URL     string   `yaml:"url"`
	Command []string `yaml:"command"`
}

// acquireData is the template context for URL and command templates.
type acquireData struct {
	Date    string
	Hour    string
	Cycle   time.Time
	BBox    weather.BBox
	HasBBox bool
	Dest    string
}

var validate = validator.New()

// modelNamePattern keeps a model name usable as the leading token of an
// artifact file name: no path separators and no "-" field separator.
var modelNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// UserDefinedAdapter runs a model described in YAML.
type UserDefinedAdapter struct {
	def        ModelDefinition
	model      weather.Model
	convention weather.LonConvention
	url        *template.Template
	command    []*template.Template
	httpCfg    HTTPClientConfig
	circuit    *gobreaker.CircuitBreaker
}

// LoadUserModels reads model definitions from path. An empty path yields no
// adapters.
func LoadUserModels(path string, httpCfg HTTPClientConfig) ([]*UserDefinedAdapter, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	return ParseUserModels(raw, httpCfg)
}

// ParseUserModels decodes and validates a YAML model file.
func ParseUserModels(raw []byte, httpCfg HTTPClientConfig) ([]*UserDefinedAdapter, error) {
	var file ModelFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decoding model file: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid model file: %w", err)
	}

	seen := make(map[weather.Model]bool, len(file.Models))
	adapters := make([]*UserDefinedAdapter, 0, len(file.Models))
	for _, def := range file.Models {
		a, err := NewUserDefinedAdapter(def, httpCfg)
		if err != nil {
			return nil, err
		}
		if seen[a.model] {
			return nil, fmt.Errorf("model %q defined twice", a.model)
		}
		seen[a.model] = true
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func NewUserDefinedAdapter(def ModelDefinition, httpCfg HTTPClientConfig) (*UserDefinedAdapter, error) {
	model := weather.ParseModel(def.Name)
	switch model {
	case "":
		return nil, errors.New("model definition without a name")
	case weather.ModelHRRR, weather.ModelECMWF, weather.ModelGFS:
		return nil, fmt.Errorf("model %q: name is reserved for a built-in model", model)
	}
	if !modelNamePattern.MatchString(string(model)) {
		return nil, fmt.Errorf("model %q: name may only contain letters, digits and underscores", model)
	}
	if err := def.Cadence.Validate(); err != nil {
		return nil, fmt.Errorf("model %q: %w", model, err)
	}
	if def.Reproject != nil && (def.Reproject.Lon == "" || def.Reproject.Lat == "") {
		return nil, fmt.Errorf("model %q: reproject needs lon and lat", model)
	}

	a := &UserDefinedAdapter{
		def:     def,
		model:   model,
		httpCfg: httpCfg,
		circuit: newCircuitBreaker(string(model)),
	}
	if def.Longitude == weather.Lon360.String() {
		a.convention = weather.Lon360
	}

	hasURL, hasCmd := def.Acquire.URL != "", len(def.Acquire.Command) > 0
	if hasURL == hasCmd {
		return nil, fmt.Errorf("model %q: acquire needs exactly one of url or command", model)
	}
	var err error
	if hasURL {
		if a.url, err = template.New(string(model)).Option("missingkey=error").Parse(def.Acquire.URL); err != nil {
			return nil, fmt.Errorf("model %q: url template: %w", model, err)
		}
	}
	for i, arg := range def.Acquire.Command {
		t, err := template.New(fmt.Sprintf("%s-%d", model, i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("model %q: command argument %d: %w", model, i, err)
		}
		a.command = append(a.command, t)
	}
	return a, nil
}

var _ weather.Adapter = (*UserDefinedAdapter)(nil)

func (a *UserDefinedAdapter) Model() weather.Model { return a.model }

func (a *UserDefinedAdapter) ResolveCycle(requested, now time.Time) (time.Time, error) {
	return a.def.Cadence.Resolve(requested, now)
}

func (a *UserDefinedAdapter) Convention() weather.LonConvention { return a.convention }

// Stages shares raw and reprojected artifacts across boxes unless the
// source crops at download time.
func (a *UserDefinedAdapter) Stages(box *weather.BBox) []weather.StageSpec {
	global := a.def.Subset != SubsetDownload
	stages := []weather.StageSpec{{Stage: weather.StageRaw, Global: global}}
	if a.def.Reproject != nil {
		grid := *a.def.Reproject
		stages = append(stages, weather.StageSpec{Stage: weather.StageReprojected, Global: global, Grid: &grid})
	}
	if box != nil && global {
		stages = append(stages, weather.StageSpec{Stage: weather.StageSubset})
	}
	return append(stages, weather.StageSpec{Stage: weather.StageConverted})
}

func (a *UserDefinedAdapter) Acquire(ctx context.Context, req weather.AcquireRequest) error {
	data := acquireData{
		Date:  req.Cycle.UTC().Format("20060102"),
		Hour:  fmt.Sprintf("%02d", req.Cycle.UTC().Hour()),
		Cycle: req.Cycle.UTC(),
		Dest:  req.Dest,
	}
	if req.BBox != nil {
		data.BBox, data.HasBBox = *req.BBox, true
	}

	if a.url != nil {
		rawURL, err := render(a.url, data)
		if err != nil {
			return err
		}
		return downloadFile(ctx, a.httpCfg, a.circuit, rawURL, req.Dest)
	}

	argv := make([]string, len(a.command))
	for i, t := range a.command {
		arg, err := render(t, data)
		if err != nil {
			return err
		}
		argv[i] = arg
	}
	return gridtools.Run(ctx, nil, argv[0], argv[1:]...)
}

func render(t *template.Template, data acquireData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
