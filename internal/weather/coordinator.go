package weather

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/i474232898/wind-grid-service/internal/observability"
)

// BuildState is the lifecycle of one in-flight artifact key.
type BuildState string

const (
	BuildPending   BuildState = "PENDING"
	BuildRunning   BuildState = "RUNNING"
	BuildCompleted BuildState = "COMPLETED"
	BuildFailed    BuildState = "FAILED"
)

func isAllowedTransition(from, to BuildState) bool {
	switch from {
	case BuildPending:
		return to == BuildRunning
	case BuildRunning:
		return to == BuildCompleted || to == BuildFailed
	default:
		return false
	}
}

// Plan is the ordered stage sequence that produces one artifact key.
type Plan struct {
	Key   ArtifactKey
	Steps []Step
}

// Final returns the path of the last stage's artifact.
func (p Plan) Final() string {
	if len(p.Steps) == 0 {
		return ""
	}
	return p.Steps[len(p.Steps)-1].Target
}

// build is the in-flight handle shared by every caller of the same key.
type build struct {
	state BuildState
	done  chan struct{}
	path  string
	err   error
}

func (b *build) transition(key string, to BuildState) error {
	if !isAllowedTransition(b.state, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", key, b.state, to)
	}
	b.state = to
	return nil
}

// Coordinator runs plans with at most one concurrent build per key.
type Coordinator struct {
	store   ArtifactStore
	runner  *StageRunner
	metrics *observability.Registry

	mu       sync.Mutex
	inflight map[string]*build
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store ArtifactStore, runner *StageRunner, metrics *observability.Registry) *Coordinator {
	return &Coordinator{
		store:    store,
		runner:   runner,
		metrics:  metrics,
		inflight: make(map[string]*build),
	}
}

// Build returns the final artifact path of plan, running its stages if the
// artifact does not exist yet. Callers arriving while the key is being built
// wait for that build and share its outcome. Cancelling ctx only stops the
// wait: the build keeps running so its artifacts land in the cache.
func (c *Coordinator) Build(ctx context.Context, plan Plan) (string, error) {
	final := plan.Final()
	if final == "" {
		return "", fmt.Errorf("plan for %s has no stages", plan.Key)
	}
	if c.store.Exists(final) {
		return final, nil
	}

	key := plan.Key.String()
	labels := map[string]string{"model": string(plan.Key.Model)}

	c.mu.Lock()
	b, running := c.inflight[key]
	if !running {
		b = &build{state: BuildPending, done: make(chan struct{})}
		if err := b.transition(key, BuildRunning); err != nil {
			c.mu.Unlock()
			return "", err
		}
		c.inflight[key] = b
	}
	c.mu.Unlock()

	if running {
		c.metrics.Inc(observability.CounterBuildJoins, labels)
		log.Printf("DEBUG: joining in-flight build for %s", key)
	} else {
		c.metrics.Inc(observability.CounterBuilds, labels)
		go c.execute(context.WithoutCancel(ctx), key, plan, b)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		return b.path, b.err
	}
}

// InFlight reports the number of keys currently being built.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Coordinator) execute(ctx context.Context, key string, plan Plan, b *build) {
	ctx, span := observability.StartSpan(ctx, "pipeline.build", attribute.String("key", key))
	defer span.End()

	path, err := c.runSteps(ctx, plan)

	c.mu.Lock()
	to := BuildCompleted
	if err != nil {
		to = BuildFailed
	}
	if terr := b.transition(key, to); terr != nil {
		log.Printf("ERROR: %v", terr)
	}
	b.path, b.err = path, err
	delete(c.inflight, key)
	c.mu.Unlock()
	close(b.done)

	if err != nil {
		span.RecordError(err)
		log.Printf("ERROR: build %s failed: %v", key, err)
		return
	}
	log.Printf("INFO: build %s completed: %s", key, path)
}

// runSteps executes the stages strictly in order, feeding each stage's
// published artifact to the next.
func (c *Coordinator) runSteps(ctx context.Context, plan Plan) (string, error) {
	var in string
	for _, step := range plan.Steps {
		out, err := c.runner.Run(ctx, plan.Key.Model, step, in)
		if err != nil {
			return "", err
		}
		in = out
	}
	return in, nil
}
