package weather

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/wind-grid-service/internal/observability"
	"github.com/i474232898/wind-grid-service/internal/store"
)

// callLog records collaborator invocations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeAdapter struct {
	model   Model
	cadence Cadence
	conv    LonConvention
	stages  func(box *BBox) []StageSpec
	log     *callLog

	// gate, when set, blocks Acquire until it is closed.
	gate chan struct{}

	mu       sync.Mutex
	err      error
	partial  bool
	lastReq  AcquireRequest
	acquires atomic.Int32
}

func (a *fakeAdapter) Model() Model { return a.model }

func (a *fakeAdapter) ResolveCycle(requested, now time.Time) (time.Time, error) {
	return a.cadence.Resolve(requested, now)
}

func (a *fakeAdapter) Convention() LonConvention { return a.conv }

func (a *fakeAdapter) Stages(box *BBox) []StageSpec { return a.stages(box) }

func (a *fakeAdapter) Acquire(ctx context.Context, req AcquireRequest) error {
	a.acquires.Add(1)
	a.log.add(string(StageRaw))

	a.mu.Lock()
	a.lastReq = req
	err, partial := a.err, a.partial
	a.mu.Unlock()

	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if partial {
		_ = os.WriteFile(req.Dest, []byte("half a grib"), 0o644)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(req.Dest, []byte("GRIB raw"), 0o644)
}

func (a *fakeAdapter) setErr(err error, partial bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err, a.partial = err, partial
}

func (a *fakeAdapter) last() AcquireRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastReq
}

type fakeTools struct {
	log       *callLog
	emptyJSON bool
	subsets   []BBox
	mu        sync.Mutex
}

func (t *fakeTools) Reproject(_ context.Context, in, out string, _ GridSpec) error {
	t.log.add(string(StageReprojected))
	return copyWith(in, out, " reprojected")
}

func (t *fakeTools) Subset(_ context.Context, in, out string, box BBox) error {
	t.log.add(string(StageSubset))
	t.mu.Lock()
	t.subsets = append(t.subsets, box)
	t.mu.Unlock()
	return copyWith(in, out, " subset")
}

func (t *fakeTools) Convert(_ context.Context, in string, out io.Writer) error {
	t.log.add(string(StageConverted))
	if t.emptyJSON {
		return nil
	}
	if _, err := os.Stat(in); err != nil {
		return err
	}
	_, err := io.WriteString(out, `[{"header":{},"data":[1,2]}]`)
	return err
}

func copyWith(in, out, suffix string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty input")
	}
	return os.WriteFile(out, append(data, suffix...), 0o644)
}

// hrrrLike mirrors the HRRR stage layout.
func hrrrLike(log *callLog) *fakeAdapter {
	return &fakeAdapter{
		model:   ModelHRRR,
		cadence: HourlyCadence,
		conv:    Lon180,
		log:     log,
		stages: func(box *BBox) []StageSpec {
			stages := []StageSpec{
				{Stage: StageRaw, Global: true},
				{Stage: StageReprojected, Global: true, Grid: &GridSpec{Lon: "-134:730:0.1", Lat: "21:310:0.1", Winds: "earth"}},
			}
			if box != nil {
				stages = append(stages, StageSpec{Stage: StageSubset})
			}
			return append(stages, StageSpec{Stage: StageConverted})
		},
	}
}

// gfsLike mirrors the GFS stage layout: server side subset, no transform.
func gfsLike(log *callLog) *fakeAdapter {
	return &fakeAdapter{
		model:   ModelGFS,
		cadence: SixHourlyCadence,
		conv:    Lon180,
		log:     log,
		stages: func(*BBox) []StageSpec {
			return []StageSpec{{Stage: StageRaw}, {Stage: StageConverted}}
		},
	}
}

// ecmwfLike mirrors the ECMWF stage layout.
func ecmwfLike(log *callLog) *fakeAdapter {
	return &fakeAdapter{
		model:   ModelECMWF,
		cadence: DailyCadence,
		conv:    Lon360,
		log:     log,
		stages: func(box *BBox) []StageSpec {
			stages := []StageSpec{{Stage: StageRaw, Global: true}}
			if box != nil {
				stages = append(stages, StageSpec{Stage: StageSubset})
			}
			return append(stages, StageSpec{Stage: StageConverted})
		},
	}
}

var testNow = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

type harness struct {
	dir     string
	store   *store.FileStore
	tools   *fakeTools
	metrics *observability.Registry
	service *Service
}

func newHarness(t *testing.T, timeout time.Duration, adapters ...Adapter) *harness {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir, true)
	require.NoError(t, err)

	var log *callLog
	for _, a := range adapters {
		if fa, ok := a.(*fakeAdapter); ok {
			log = fa.log
		}
	}
	if log == nil {
		log = &callLog{}
	}
	h := &harness{dir: dir, store: fs, tools: &fakeTools{log: log}, metrics: observability.NewRegistry()}
	h.service = NewService(ServiceConfig{
		Store:        fs,
		Tools:        h.tools,
		Adapters:     adapters,
		StageTimeout: timeout,
		Metrics:      h.metrics,
		Now:          func() time.Time { return testNow },
	})
	return h
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	names, err := h.store.List()
	require.NoError(t, err)
	return names
}
