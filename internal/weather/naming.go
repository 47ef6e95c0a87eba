package weather

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// GlobalRegion is the region token used when no bbox is requested.
const GlobalRegion = "global"

// boundPrecision is the number of decimals kept in a bbox bound.
const boundPrecision = 4

// ArtifactKey is the canonical identity of a cached artifact family.
// It doubles as the cache key: equal keys always map to the same files.
type ArtifactKey struct {
	Model  Model     `json:"model"`
	Cycle  time.Time `json:"cycle"`
	Region string    `json:"region"`
}

// NewArtifactKey builds the key for a model cycle and an optional,
// already normalized bbox.
func NewArtifactKey(model Model, cycle time.Time, box *BBox) ArtifactKey {
	return ArtifactKey{Model: model, Cycle: cycle.UTC(), Region: RegionToken(box)}
}

// String renders the key as model|cycle|region.
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Model, k.Cycle.UTC().Format("2006-01-02T15:04:05"), k.Region)
}

// Global returns the key of the same model cycle without a bbox.
func (k ArtifactKey) Global() ArtifactKey {
	k.Region = GlobalRegion
	return k
}

// FileName is the flat file name holding the artifact of the given stage.
func (k ArtifactKey) FileName(stage Stage) string {
	ext := "grib2"
	if stage == StageConverted {
		ext = "json"
	}
	return fmt.Sprintf("%s-%s-%s.%s.%s", k.Model, k.Cycle.UTC().Format("200601021504"), k.Region, stage, ext)
}

// RegionToken encodes a bbox as ulx_uly_lrx_lry, or "global" for nil.
func RegionToken(box *BBox) string {
	if box == nil {
		return GlobalRegion
	}
	return strings.Join([]string{
		FormatBound(box.ULX),
		FormatBound(box.ULY),
		FormatBound(box.LRX),
		FormatBound(box.LRY),
	}, "_")
}

// FormatBound rounds v to a fixed number of decimals and prints the shortest
// form, so 45, 45.0 and 45.00001 all give "45".
func FormatBound(v float64) string {
	scale := math.Pow(10, boundPrecision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
