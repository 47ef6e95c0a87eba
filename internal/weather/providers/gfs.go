package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

// DefaultGFSFilterURL is the NOMADS grib filter for the 0.25 degree GFS.
const DefaultGFSFilterURL = "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25.pl"

// GFSAdapter acquires 10 m winds from the NOMADS grib filter. The filter
// crops on the server, so a requested bbox is applied during acquisition and
// no local subset stage is needed.
type GFSAdapter struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewGFSAdapter(httpCfg HTTPClientConfig, baseURL string) *GFSAdapter {
	if baseURL == "" {
		baseURL = DefaultGFSFilterURL
	}
	return &GFSAdapter{
		baseURL: baseURL,
		httpCfg: httpCfg,
		circuit: newCircuitBreaker("gfs"),
	}
}

var _ weather.Adapter = (*GFSAdapter)(nil)

func (a *GFSAdapter) Model() weather.Model { return weather.ModelGFS }

func (a *GFSAdapter) ResolveCycle(requested, now time.Time) (time.Time, error) {
	return weather.SixHourlyCadence.Resolve(requested, now)
}

func (a *GFSAdapter) Convention() weather.LonConvention { return weather.Lon180 }

// Stages keeps the raw artifact bbox-scoped because it is already cropped.
func (a *GFSAdapter) Stages(_ *weather.BBox) []weather.StageSpec {
	return []weather.StageSpec{
		{Stage: weather.StageRaw},
		{Stage: weather.StageConverted},
	}
}

// FilterURL builds the filter query for a cycle and optional box.
func (a *GFSAdapter) FilterURL(cycle time.Time, box *weather.BBox) (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing gfs filter url: %w", err)
	}
	cycle = cycle.UTC()

	q := u.Query()
	q.Set("dir", fmt.Sprintf("/gfs.%s/%02d/atmos", cycle.Format("20060102"), cycle.Hour()))
	q.Set("file", fmt.Sprintf("gfs.t%02dz.pgrb2.0p25.f000", cycle.Hour()))
	q.Set("var_UGRD", "on")
	q.Set("var_VGRD", "on")
	q.Set("lev_10_m_above_ground", "on")
	if box != nil {
		q.Set("subregion", "")
		q.Set("leftlon", formatCoord(box.ULX))
		q.Set("rightlon", formatCoord(box.LRX))
		q.Set("toplat", formatCoord(box.ULY))
		q.Set("bottomlat", formatCoord(box.LRY))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *GFSAdapter) Acquire(ctx context.Context, req weather.AcquireRequest) error {
	fileURL, err := a.FilterURL(req.Cycle, req.BBox)
	if err != nil {
		return err
	}
	return downloadFile(ctx, a.httpCfg, a.circuit, fileURL, req.Dest)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
