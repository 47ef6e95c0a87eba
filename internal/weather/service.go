package weather

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/i474232898/wind-grid-service/internal/observability"
)

// MsgModelNotSupported is the message returned for unknown models.
const MsgModelNotSupported = "Model is not supported."

// DefaultFormats maps output format names to content types.
var DefaultFormats = map[string]string{
	"json": "application/json",
}

var validate = validator.New()

// timestampLayouts are tried in order; values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
}

// ServiceConfig bundles the Service collaborators.
type ServiceConfig struct {
	Store        ArtifactStore
	Tools        GridTools
	Adapters     []Adapter
	Formats      map[string]string
	StageTimeout time.Duration
	Metrics      *observability.Registry
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Service is the single entry point used by the HTTP layer and the scheduler.
type Service struct {
	store       ArtifactStore
	tools       GridTools
	adapters    map[Model]Adapter
	formats     map[string]string
	now         func() time.Time
	coordinator *Coordinator
}

// NewService creates a new Service.
func NewService(cfg ServiceConfig) *Service {
	formats := cfg.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	adapters := make(map[Model]Adapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		m := ParseModel(string(a.Model()))
		if _, dup := adapters[m]; dup {
			log.Printf("INFO: model %s registered twice; keeping the last definition", m)
		}
		adapters[m] = a
	}

	runner := NewStageRunner(cfg.Store, cfg.StageTimeout, cfg.Metrics)
	return &Service{
		store:       cfg.Store,
		tools:       cfg.Tools,
		adapters:    adapters,
		formats:     formats,
		now:         now,
		coordinator: NewCoordinator(cfg.Store, runner, cfg.Metrics),
	}
}

// Models returns the supported model names in sorted order.
func (s *Service) Models() []string {
	out := make([]string, 0, len(s.adapters))
	for m := range s.adapters {
		out = append(out, string(m))
	}
	sort.Strings(out)
	return out
}

// Formats returns a copy of the format table.
func (s *Service) Formats() map[string]string {
	out := make(map[string]string, len(s.formats))
	for k, v := range s.formats {
		out[k] = v
	}
	return out
}

// Fetch resolves, builds if needed, and reads the converted artifact for the
// given model, format, ISO timestamp and optional ulx/uly/lrx/lry box.
func (s *Service) Fetch(ctx context.Context, model, format, isoTimestamp string, bbox *[4]float64) (string, []byte, error) {
	ts, err := ParseTimestamp(isoTimestamp)
	if err != nil {
		return "", nil, err
	}
	req := Request{Model: ParseModel(model), Format: strings.ToLower(format), Timestamp: ts}
	if bbox != nil {
		req.BBox = BBoxFromSlice(*bbox)
	}

	res, err := s.Retrieve(ctx, req)
	if err != nil {
		return "", nil, err
	}

	body, err := os.ReadFile(res.Path)
	if err != nil {
		return "", nil, fmt.Errorf("reading artifact %s: %w", res.Path, err)
	}
	return res.ContentType, body, nil
}

// Retrieve runs the pipeline for req and returns the final artifact.
func (s *Service) Retrieve(ctx context.Context, req Request) (Result, error) {
	plan, err := s.Plan(req)
	if err != nil {
		return Result{}, err
	}

	log.Printf("DEBUG: retrieving %s", plan.Key)
	path, err := s.coordinator.Build(ctx, plan)
	if err != nil {
		return Result{}, err
	}
	return Result{Key: plan.Key, ContentType: s.formats[strings.ToLower(req.Format)], Path: path}, nil
}

// Plan validates req and returns the stage plan without running it.
func (s *Service) Plan(req Request) (Plan, error) {
	adapter, err := s.check(req)
	if err != nil {
		return Plan{}, err
	}

	cycle, err := adapter.ResolveCycle(req.Timestamp, s.now())
	if err != nil {
		return Plan{}, &Error{Kind: ErrInvalidRequest, Model: adapter.Model(), Err: err}
	}

	box, err := req.BBox.Normalize(adapter.Convention())
	if err != nil {
		return Plan{}, err
	}

	key := NewArtifactKey(ParseModel(string(adapter.Model())), cycle, box)
	return s.buildPlan(adapter, key, box)
}

// check validates req and resolves its adapter.
func (s *Service) check(req Request) (Adapter, error) {
	adapter, ok := s.adapters[ParseModel(string(req.Model))]
	if !ok {
		return nil, &Error{Kind: ErrInvalidRequest, Model: req.Model, Msg: MsgModelNotSupported}
	}
	if _, ok := s.formats[strings.ToLower(req.Format)]; !ok {
		return nil, &Error{Kind: ErrInvalidRequest, Model: req.Model, Msg: fmt.Sprintf("format %q is not supported", req.Format)}
	}
	if err := validate.Struct(req); err != nil {
		return nil, &Error{Kind: ErrInvalidRequest, Model: req.Model, Err: err}
	}
	return adapter, nil
}

func (s *Service) buildPlan(adapter Adapter, key ArtifactKey, box *BBox) (Plan, error) {
	specs := adapter.Stages(box)
	if len(specs) == 0 || specs[len(specs)-1].Stage != StageConverted {
		return Plan{}, fmt.Errorf("%s: stage list must end with %s", key.Model, StageConverted)
	}

	cycle := key.Cycle
	plan := Plan{Key: key, Steps: make([]Step, 0, len(specs))}
	for i, spec := range specs {
		stageKey := key
		if spec.Global {
			stageKey = key.Global()
		}
		step := Step{Stage: spec.Stage, Target: s.store.Path(stageKey.FileName(spec.Stage))}

		switch spec.Stage {
		case StageRaw:
			if i != 0 {
				return Plan{}, fmt.Errorf("%s: %s must be the first stage", key.Model, StageRaw)
			}
			acquireBox := box
			if spec.Global {
				acquireBox = nil
			}
			step.Run = func(ctx context.Context, _, out string) error {
				return adapter.Acquire(ctx, AcquireRequest{Cycle: cycle, BBox: acquireBox, Dest: out})
			}
		case StageReprojected:
			if spec.Grid == nil {
				return Plan{}, fmt.Errorf("%s: reprojection stage needs a target grid", key.Model)
			}
			grid := *spec.Grid
			step.Run = func(ctx context.Context, in, out string) error {
				return s.tools.Reproject(ctx, in, out, grid)
			}
		case StageSubset:
			if box == nil {
				return Plan{}, fmt.Errorf("%s: subset stage requires a bbox", key.Model)
			}
			sub := *box
			step.Run = func(ctx context.Context, in, out string) error {
				return s.tools.Subset(ctx, in, out, sub)
			}
		case StageConverted:
			step.Run = s.convert
		default:
			return Plan{}, fmt.Errorf("%s: unknown stage %q", key.Model, spec.Stage)
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// convert redirects the converter's standard output into the artifact file.
func (s *Service) convert(ctx context.Context, in, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := s.tools.Convert(ctx, in, f); err != nil {
		f.Close()
		return err
	}
	return closeSynced(f)
}

func closeSynced(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParseTimestamp parses an ISO-8601 civil timestamp; values without an
// explicit zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, invalidf("invalid timestamp %q; use ISO-8601 such as 2024-03-05T19:00:00", s)
}
