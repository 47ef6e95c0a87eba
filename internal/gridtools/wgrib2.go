package gridtools

import (
	"context"
	"io"
	"strconv"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

// Tools implements weather.GridTools on top of wgrib2 and grib2json. The
// command fields are looked up in PATH on each invocation unless absolute.
type Tools struct {
	Wgrib2    string
	Grib2JSON string
	// FillValue is passed to grib2json as --fv.
	FillValue string
}

// New returns Tools with defaults applied for empty fields.
func New(wgrib2, grib2json, fillValue string) *Tools {
	t := &Tools{Wgrib2: wgrib2, Grib2JSON: grib2json, FillValue: fillValue}
	if t.Wgrib2 == "" {
		t.Wgrib2 = "wgrib2"
	}
	if t.Grib2JSON == "" {
		t.Grib2JSON = "grib2json"
	}
	if t.FillValue == "" {
		t.FillValue = "10.0"
	}
	return t
}

var _ weather.GridTools = (*Tools)(nil)

// Reproject regrids in onto a regular lat/lon grid:
//
//	wgrib2 IN -new_grid_winds earth -new_grid latlon LON LAT OUT
func (t *Tools) Reproject(ctx context.Context, in, out string, grid weather.GridSpec) error {
	winds := grid.Winds
	if winds == "" {
		winds = "earth"
	}
	return Run(ctx, nil, t.Wgrib2, in,
		"-new_grid_winds", winds,
		"-new_grid", "latlon", grid.Lon, grid.Lat,
		out,
	)
}

// Subset crops in to box:
//
//	wgrib2 IN -small_grib ULX:LRX LRY:ULY OUT
func (t *Tools) Subset(ctx context.Context, in, out string, box weather.BBox) error {
	return Run(ctx, nil, t.Wgrib2, in,
		"-small_grib",
		num(box.ULX)+":"+num(box.LRX),
		num(box.LRY)+":"+num(box.ULY),
		out,
	)
}

// Convert writes the JSON rendering of in to out:
//
//	grib2json --names --data --fv FILL IN
func (t *Tools) Convert(ctx context.Context, in string, out io.Writer) error {
	return Run(ctx, out, t.Grib2JSON, "--names", "--data", "--fv", t.FillValue, in)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
