package weather

import (
	"context"
	"io"
	"time"
)

// StageSpec is one entry of an adapter's ordered stage list.
type StageSpec struct {
	Stage Stage
	// Global stages do not depend on the bbox and are shared by every
	// request for the same model cycle.
	Global bool
	// Grid is the reprojection target, required for StageReprojected.
	Grid *GridSpec
}

// AcquireRequest is handed to an adapter's acquisition step. BBox is already
// normalized to the adapter's convention and is nil for global requests.
type AcquireRequest struct {
	Cycle time.Time
	BBox  *BBox
	Dest  string
}

// Adapter abstracts a model source (HRRR, ECMWF, GFS or a user defined one).
type Adapter interface {
	Model() Model
	ResolveCycle(requested, now time.Time) (time.Time, error)
	Convention() LonConvention
	Stages(box *BBox) []StageSpec
	Acquire(ctx context.Context, req AcquireRequest) error
}

// GridTools are the external grid utilities used by the transform and
// conversion stages.
type GridTools interface {
	Reproject(ctx context.Context, in, out string, grid GridSpec) error
	Subset(ctx context.Context, in, out string, box BBox) error
	Convert(ctx context.Context, in string, out io.Writer) error
}

// ArtifactStore is the contract of the artifact directory.
type ArtifactStore interface {
	// Path resolves an artifact file name inside the store.
	Path(name string) string
	// Exists reports whether path holds a complete, non-empty artifact.
	Exists(path string) bool
	// TempPath returns a fresh temporary path next to final.
	TempPath(final string) string
	// Publish atomically moves tmp to final.
	Publish(tmp, final string) error
	// Discard removes a temporary file, ignoring missing files.
	Discard(tmp string)
}
