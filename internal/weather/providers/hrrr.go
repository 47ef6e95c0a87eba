package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

// DefaultHRRRBaseURL is the NOAA HRRR archive on AWS open data.
const DefaultHRRRBaseURL = "https://noaa-hrrr-bdp-pds.s3.amazonaws.com"

// hrrrWindPattern selects the 10 m U and V wind records.
var hrrrWindPattern = regexp.MustCompile(`:[UV]GRD:10 m above ground:`)

// hrrrGrid is the lat/lon grid the Lambert conformal HRRR field is
// reprojected to before it can be subset.
var hrrrGrid = weather.GridSpec{Lon: "-134:730:0.1", Lat: "21:310:0.1", Winds: "earth"}

// HRRRAdapter acquires analysis (f00) 10 m winds from the HRRR archive by
// byte-range fetching only the matching records listed in the .idx inventory.
type HRRRAdapter struct {
	baseURL string
	match   *regexp.Regexp
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewHRRRAdapter(httpCfg HTTPClientConfig, baseURL string) *HRRRAdapter {
	if baseURL == "" {
		baseURL = DefaultHRRRBaseURL
	}
	return &HRRRAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		match:   hrrrWindPattern,
		httpCfg: httpCfg,
		circuit: newCircuitBreaker("hrrr"),
	}
}

var _ weather.Adapter = (*HRRRAdapter)(nil)

func (a *HRRRAdapter) Model() weather.Model { return weather.ModelHRRR }

func (a *HRRRAdapter) ResolveCycle(requested, now time.Time) (time.Time, error) {
	return weather.HourlyCadence.Resolve(requested, now)
}

func (a *HRRRAdapter) Convention() weather.LonConvention { return weather.Lon180 }

// Stages downloads and reprojects once per cycle; only subset and
// conversion depend on the bbox.
func (a *HRRRAdapter) Stages(box *weather.BBox) []weather.StageSpec {
	grid := hrrrGrid
	stages := []weather.StageSpec{
		{Stage: weather.StageRaw, Global: true},
		{Stage: weather.StageReprojected, Global: true, Grid: &grid},
	}
	if box != nil {
		stages = append(stages, weather.StageSpec{Stage: weather.StageSubset})
	}
	return append(stages, weather.StageSpec{Stage: weather.StageConverted})
}

// FileURL is the URL of the surface analysis file for a cycle.
func (a *HRRRAdapter) FileURL(cycle time.Time) string {
	cycle = cycle.UTC()
	return fmt.Sprintf("%s/hrrr.%s/conus/hrrr.t%02dz.wrfsfcf00.grib2", a.baseURL, cycle.Format("20060102"), cycle.Hour())
}

func (a *HRRRAdapter) Acquire(ctx context.Context, req weather.AcquireRequest) error {
	fileURL := a.FileURL(req.Cycle)

	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, getRequest(fileURL+".idx", nil))
	if err != nil {
		return fmt.Errorf("fetching hrrr inventory: %w", err)
	}
	items, err := parseInventory(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("parsing hrrr inventory: %w", err)
	}

	ranges := selectRanges(items, a.match)
	if len(ranges) == 0 {
		return fmt.Errorf("hrrr inventory for %s has no records matching %s", req.Cycle.Format(time.RFC3339), a.match)
	}

	out, err := os.Create(req.Dest)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		if err := a.fetchRange(ctx, fileURL, r, out); err != nil {
			out.Close()
			return fmt.Errorf("fetching hrrr records %s: %w", r.header(), err)
		}
	}
	return out.Close()
}

// fetchRange appends one record range to w. A 200 means the server ignored
// the Range header and is sending the whole file, so it is refused.
func (a *HRRRAdapter) fetchRange(ctx context.Context, fileURL string, r byteRange, w io.Writer) error {
	header := http.Header{"Range": []string{r.header()}}
	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, getRequest(fileURL, header))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: %d for a ranged request", errUnexpected, resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return nil
}
