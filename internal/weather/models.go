package weather

import (
	"strings"
	"time"
)

// Model identifies a numerical weather model source.
type Model string

const (
	ModelHRRR  Model = "hrrr"
	ModelECMWF Model = "ecmwf"
	ModelGFS   Model = "gfs"
)

// ParseModel lower-cases and trims a user supplied model name.
func ParseModel(s string) Model {
	return Model(strings.ToLower(strings.TrimSpace(s)))
}

// Stage names one step of the retrieval pipeline. Every stage produces
// exactly one artifact file.
type Stage string

const (
	StageRaw         Stage = "raw"
	StageReprojected Stage = "reprojected"
	StageSubset      Stage = "subset"
	StageConverted   Stage = "converted"
)

// LonConvention is the longitude range a model's subset tool expects.
type LonConvention int

const (
	Lon180 LonConvention = iota // [-180, 180]
	Lon360                      // [0, 360)
)

func (c LonConvention) String() string {
	if c == Lon360 {
		return "0-360"
	}
	return "-180-180"
}

// BBox is a rectangle given by its upper-left and lower-right corners.
// A nil *BBox means the whole global grid.
type BBox struct {
	ULX float64 `json:"ulx" validate:"gte=-180,lte=180"`
	ULY float64 `json:"uly" validate:"gte=-90,lte=90,gtfield=LRY"`
	LRX float64 `json:"lrx" validate:"gte=-180,lte=180"`
	LRY float64 `json:"lry" validate:"gte=-90,lte=90"`
}

// BBoxFromSlice builds a BBox from ulx, uly, lrx, lry order.
func BBoxFromSlice(v [4]float64) *BBox {
	return &BBox{ULX: v[0], ULY: v[1], LRX: v[2], LRY: v[3]}
}

// GridSpec describes the target lat/lon grid of a reprojection stage in
// wgrib2 "lon0:nlon:dlon" / "lat0:nlat:dlat" notation.
type GridSpec struct {
	Lon   string `yaml:"lon"`
	Lat   string `yaml:"lat"`
	Winds string `yaml:"winds"` // "earth" or "grid"
}

// Request is a single retrieval request coming from a client.
type Request struct {
	Model     Model     `validate:"required"`
	Format    string    `validate:"required"`
	Timestamp time.Time `validate:"required"`
	BBox      *BBox     `validate:"omitempty"`
}

// Result points at the final converted artifact of a request.
type Result struct {
	Key         ArtifactKey `json:"key"`
	ContentType string      `json:"contentType"`
	Path        string      `json:"path"`
}
