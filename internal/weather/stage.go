package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/wind-grid-service/internal/observability"
)

// DefaultStageTimeout bounds every external invocation when no timeout is
// configured.
const DefaultStageTimeout = 5 * time.Minute

// StageFunc runs one collaborator. in is the previous stage's artifact (empty
// for the first stage); out is a temporary path the collaborator must write.
type StageFunc func(ctx context.Context, in, out string) error

// Step is one executable stage of a Plan.
type Step struct {
	Stage  Stage
	Target string
	Run    StageFunc
}

// StageRunner executes single stages with memoization on the target path.
type StageRunner struct {
	store   ArtifactStore
	timeout time.Duration
	metrics *observability.Registry

	// group collapses concurrent builds of the same target file, which
	// happens when requests with different bboxes share a global stage.
	group singleflight.Group
}

// NewStageRunner creates a StageRunner. A non-positive timeout selects
// DefaultStageTimeout.
func NewStageRunner(store ArtifactStore, timeout time.Duration, metrics *observability.Registry) *StageRunner {
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	return &StageRunner{store: store, timeout: timeout, metrics: metrics}
}

// Run executes step with in as input and returns the published artifact path.
// An existing non-empty target is returned without invoking the collaborator.
func (r *StageRunner) Run(ctx context.Context, model Model, step Step, in string) (string, error) {
	labels := map[string]string{"model": string(model), "stage": string(step.Stage)}
	if r.store.Exists(step.Target) {
		r.metrics.Inc(observability.CounterStageCacheHit, labels)
		return step.Target, nil
	}

	ch := r.group.DoChan(step.Target, func() (interface{}, error) {
		if r.store.Exists(step.Target) {
			r.metrics.Inc(observability.CounterStageCacheHit, labels)
			return step.Target, nil
		}
		r.metrics.Inc(observability.CounterStageRuns, labels)
		if err := r.execute(ctx, model, step, in); err != nil {
			r.metrics.Inc(observability.CounterStageFailures, labels)
			return nil, err
		}
		return step.Target, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *StageRunner) execute(ctx context.Context, model Model, step Step, in string) (err error) {
	ctx, span := observability.StartSpan(ctx, "stage."+string(step.Stage),
		attribute.String("model", string(model)),
		attribute.String("target", step.Target),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	stageCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tmp := r.store.TempPath(step.Target)
	started := time.Now()
	log.Printf("INFO: %s %s stage started -> %s", model, step.Stage, step.Target)

	if runErr := step.Run(stageCtx, in, tmp); runErr != nil {
		r.store.Discard(tmp)
		err = stageError(stageCtx, model, step.Stage, runErr)
		log.Printf("ERROR: %s %s stage failed after %s: %v", model, step.Stage, time.Since(started).Round(time.Millisecond), err)
		return err
	}

	if fi, statErr := os.Stat(tmp); statErr != nil || fi.Size() == 0 {
		r.store.Discard(tmp)
		cause := errors.New("collaborator produced no output")
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			cause = statErr
		}
		return &Error{Kind: kindForStage(step.Stage), Model: model, Stage: step.Stage, Err: cause}
	}

	if pubErr := r.store.Publish(tmp, step.Target); pubErr != nil {
		r.store.Discard(tmp)
		return &Error{Kind: kindForStage(step.Stage), Model: model, Stage: step.Stage, Err: fmt.Errorf("publishing artifact: %w", pubErr)}
	}

	log.Printf("INFO: %s %s stage completed in %s", model, step.Stage, time.Since(started).Round(time.Millisecond))
	return nil
}
